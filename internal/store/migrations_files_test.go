package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMigrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := listMigrations(testMigrationsDir, "up")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := listMigrations(testMigrationsDir, "down")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("expected matching up/down counts, got %d up and %d down", len(ups), len(downs))
	}

	seen := map[string]bool{}
	for i, up := range ups {
		if seen[up.version] {
			t.Fatalf("duplicate up migration for version %s", up.version)
		}
		seen[up.version] = true
		if downs[i].version != up.version {
			t.Fatalf("version %s has no down counterpart", up.version)
		}
	}
}

func TestCoreMigrationCreatesCanvasTables(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_canvas_core.up.sql"))
	if err != nil {
		t.Fatalf("read core migration: %v", err)
	}
	sqlText := string(contents)
	for _, table := range []string{"canvases", TableProfiles, TableGoals, TableTodos, TableMemories, TableAuthUsers} {
		if !strings.Contains(sqlText, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("expected core migration to create %s", table)
		}
	}
}
