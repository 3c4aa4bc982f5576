package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migrationFile struct {
	version   string
	name      string
	direction string
	path      string
}

// ApplyMigrations runs every pending *.up.sql file in version order, each
// inside its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	files, err := listMigrations(migrationsDir, "up")
	if err != nil {
		return err
	}

	for _, file := range files {
		if migrated, err := isMigrated(ctx, db, file.name); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := os.ReadFile(file.path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", file.name, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", file.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, file.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file.name, err)
		}
	}

	return nil
}

// RollbackMigrations reverts the newest `steps` applied migrations using their
// *.down.sql counterparts. steps <= 0 reverts everything.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) (int, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, err
	}

	downs, err := listMigrations(migrationsDir, "down")
	if err != nil {
		return 0, err
	}
	sort.Slice(downs, func(i, j int) bool { return downs[i].version > downs[j].version })

	reverted := 0
	for _, down := range downs {
		if steps > 0 && reverted >= steps {
			break
		}
		upName := strings.TrimSuffix(down.name, ".down.sql") + ".up.sql"
		migrated, err := isMigrated(ctx, db, upName)
		if err != nil {
			return reverted, err
		}
		if !migrated {
			continue
		}

		contents, err := os.ReadFile(down.path)
		if err != nil {
			return reverted, fmt.Errorf("read migration %s: %w", down.name, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return reverted, fmt.Errorf("begin rollback tx %s: %w", down.name, err)
		}
		if text := strings.TrimSpace(string(contents)); text != "" {
			if _, err := tx.ExecContext(ctx, text); err != nil {
				_ = tx.Rollback()
				return reverted, fmt.Errorf("execute rollback %s: %w", down.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, upName); err != nil {
			_ = tx.Rollback()
			return reverted, fmt.Errorf("unrecord migration %s: %w", upName, err)
		}
		if err := tx.Commit(); err != nil {
			return reverted, fmt.Errorf("commit rollback %s: %w", down.name, err)
		}
		reverted++
	}
	return reverted, nil
}

func listMigrations(migrationsDir, direction string) ([]migrationFile, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	files := make([]migrationFile, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		files = append(files, migrationFile{
			version:   match[1],
			name:      entry.Name(),
			direction: match[2],
			path:      filepath.Join(migrationsDir, entry.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
