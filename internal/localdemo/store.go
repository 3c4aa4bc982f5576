package localdemo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"canvas/api/internal/blob"
)

// Fixed blob keys, one per bucket.
const (
	KeyCanvases = "canvas-demo-canvases"
	KeyFeedback = "canvas-demo-feedback"
	KeyTheme    = "canvas-theme"
	KeyAuth     = "canvas-demo-auth"
)

// requiredLists are the canvas fields that must be JSON arrays for a stored
// collection to be accepted.
var requiredLists = []string{"members", "goals", "taskGroups", "inbox", "recommendations", "memories", "chat"}

// decodeCanvases validates the stored shape before decoding. ok is false
// when the value must be replaced by seed data.
func decodeCanvases(raw []byte) ([]Canvas, bool) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, false
	}
	for _, item := range items {
		for _, field := range requiredLists {
			if !isArray(item[field]) {
				return nil, false
			}
		}
		for _, name := range []string{"id", "name"} {
			var value string
			if err := json.Unmarshal(item[name], &value); err != nil || value == "" {
				return nil, false
			}
		}
	}

	var canvases []Canvas
	if err := json.Unmarshal(raw, &canvases); err != nil {
		return nil, false
	}
	return canvases, true
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// readBucket returns nil, nil when the key is absent.
func readBucket(ctx context.Context, blobs blob.Store, key string) ([]byte, error) {
	raw, err := blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, nil
}

func writeBucket(ctx context.Context, blobs blob.Store, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := blobs.Set(ctx, key, encoded); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

type buckets struct {
	canvases []Canvas
	feedback []FeedbackEntry
	theme    string
	authed   bool
}

// loadBuckets reads every bucket, falling back to defaults for missing or
// malformed values. Only backend failures are returned as errors.
func loadBuckets(ctx context.Context, blobs blob.Store, seed func() ([]Canvas, error), logger *slog.Logger) (buckets, error) {
	out := buckets{theme: "dark"}

	raw, err := readBucket(ctx, blobs, KeyCanvases)
	if err != nil {
		return buckets{}, err
	}
	canvases, ok := decodeCanvases(raw)
	if !ok {
		if raw != nil {
			logger.Warn("stored canvases are malformed, using seed data", "key", KeyCanvases)
		}
		if canvases, err = seed(); err != nil {
			return buckets{}, err
		}
	}
	out.canvases = canvases

	raw, err = readBucket(ctx, blobs, KeyFeedback)
	if err != nil {
		return buckets{}, err
	}
	out.feedback = []FeedbackEntry{}
	if raw != nil {
		var feedback []FeedbackEntry
		if err := json.Unmarshal(raw, &feedback); err != nil || feedback == nil {
			logger.Warn("stored feedback is malformed, starting empty", "key", KeyFeedback)
		} else {
			out.feedback = feedback
		}
	}

	raw, err = readBucket(ctx, blobs, KeyTheme)
	if err != nil {
		return buckets{}, err
	}
	var theme string
	if raw != nil && json.Unmarshal(raw, &theme) == nil && (theme == "dark" || theme == "light") {
		out.theme = theme
	}

	raw, err = readBucket(ctx, blobs, KeyAuth)
	if err != nil {
		return buckets{}, err
	}
	if raw != nil {
		_ = json.Unmarshal(raw, &out.authed)
	}
	return out, nil
}
