package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPostgresStoreRecordLifecycle(t *testing.T) {
	db := openTestDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := ApplyMigrations(ctx, db, testMigrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	raw, err := s.Insert(ctx, "canvases", Row{
		"owner_user_id": "u1",
		"name":          "Plan",
		"share_code":    "CV-PGTEST",
		"invite_link":   "https://canvas.demo/invite/PGTEST",
		"members":       []Member{{ID: "u1", Email: "a@b.c", Role: RoleEditor}},
	})
	if err != nil {
		t.Fatalf("insert canvas: %v", err)
	}
	var ws Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		t.Fatalf("decode canvas: %v", err)
	}
	if len(ws.Members) != 1 || ws.Members[0].Role != RoleEditor {
		t.Fatalf("expected jsonb members to round trip, got %+v", ws.Members)
	}

	_, err = s.Insert(ctx, "canvases", Row{
		"owner_user_id": "u2",
		"name":          "Dup",
		"share_code":    "CV-PGTEST",
		"invite_link":   "https://canvas.demo/invite/OTHER1",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate share code, got %v", err)
	}

	if _, err := s.Update(ctx, "canvases", ws.ID, Row{"status_label": StatusOnTrack}); err != nil {
		t.Fatalf("update canvas: %v", err)
	}
	rows, err := s.Select(ctx, "canvases", Query{Filter: Filter{"owner_user_id": "u1"}, Order: []Order{{Column: "created_at", Ascending: true}}})
	if err != nil {
		t.Fatalf("select canvases: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one canvas, got %d", len(rows))
	}

	if _, err := s.Select(ctx, "canvasas", Query{Limit: 1}); !errors.Is(err, ErrUndefinedTable) {
		t.Fatalf("expected ErrUndefinedTable, got %v", err)
	}

	if err := s.Delete(ctx, "canvases", ws.ID); err != nil {
		t.Fatalf("delete canvas: %v", err)
	}
	if err := s.Delete(ctx, "canvases", ws.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
