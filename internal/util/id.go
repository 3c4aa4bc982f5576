package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a time-ordered UUID, optionally prefixed ("tmp-<uuid>").
func NewID(prefix string) string {
	id := uuid.Must(uuid.NewV7()).String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// ShortCode returns n random characters from [A-Z0-9].
func ShortCode(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	var b strings.Builder
	b.Grow(n)
	for _, v := range bytes {
		b.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
	return b.String()
}
