package util

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("tmp")
	if !strings.HasPrefix(id, "tmp-") {
		t.Fatalf("expected tmp- prefix, got %q", id)
	}
	parsed, err := uuid.Parse(strings.TrimPrefix(id, "tmp-"))
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected v7 uuid, got v%d", parsed.Version())
	}
	if NewID("") == NewID("") {
		t.Fatal("expected unique ids")
	}
}

func TestShortCode(t *testing.T) {
	code := ShortCode(6)
	if !regexp.MustCompile(`^[A-Z0-9]{6}$`).MatchString(code) {
		t.Fatalf("unexpected code %q", code)
	}
}
