package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore implements RecordStore over a Postgres database. Rows are
// returned through to_jsonb so callers decode them like any remote payload.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Select(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT to_jsonb(t.*) FROM %s AS t", ident(table))

	where, args := whereClause(q.Filter, 1)
	b.WriteString(where)

	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, order := range q.Order {
			direction := "DESC"
			if order.Ascending {
				direction = "ASC"
			}
			parts = append(parts, fmt.Sprintf("t.%s %s", ident(order.Column), direction))
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, classify(err))
	}
	defer rows.Close()

	items := make([]json.RawMessage, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, classify(err))
	}
	return items, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (json.RawMessage, error) {
	columns := sortedKeys(row)
	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, column := range columns {
		value, err := columnValue(row[column])
		if err != nil {
			return nil, fmt.Errorf("insert %s.%s: %w", table, column, err)
		}
		names = append(names, ident(column))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, value)
	}

	query := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t.*)",
		ident(table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if len(columns) == 0 {
		query = fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING to_jsonb(t.*)", ident(table))
	}

	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, classify(err))
	}
	return json.RawMessage(raw), nil
}

func (s *PostgresStore) Update(ctx context.Context, table, id string, patch Row) (json.RawMessage, error) {
	if len(patch) == 0 {
		items, err := s.Select(ctx, table, Query{Filter: Filter{"id": id}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
		}
		return items[0], nil
	}

	columns := sortedKeys(patch)
	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		value, err := columnValue(patch[column])
		if err != nil {
			return nil, fmt.Errorf("update %s.%s: %w", table, column, err)
		}
		sets = append(sets, fmt.Sprintf("%s=$%d", ident(column), i+1))
		args = append(args, value)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s AS t SET %s WHERE t.id=$%d RETURNING to_jsonb(t.*)",
		ident(table), strings.Join(sets, ", "), len(args))

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, classify(err))
	}
	return json.RawMessage(raw), nil
}

func (s *PostgresStore) Delete(ctx context.Context, table, id string) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=$1", ident(table)), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, classify(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteWhere(ctx context.Context, table string, filter Filter) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	where, args := whereClause(filter, 1)
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s AS t%s", ident(table), where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, classify(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return affected, nil
}

func whereClause(filter Filter, start int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := sortedKeys(filter)
	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if filter[key] == nil {
			parts = append(parts, fmt.Sprintf("t.%s IS NULL", ident(key)))
			continue
		}
		args = append(args, filter[key])
		parts = append(parts, fmt.Sprintf("t.%s=$%d", ident(key), start+len(args)-1))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// columnValue encodes composite values (slices, maps, structs) as JSON text
// so they land in jsonb columns.
func columnValue(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, int, int32, int64, float64, time.Time, *string, *time.Time, []byte:
		return value, nil
	}
	kind := reflect.TypeOf(value).Kind()
	if kind == reflect.Slice || kind == reflect.Map || kind == reflect.Struct || kind == reflect.Array {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode json column: %w", err)
		}
		return string(encoded), nil
	}
	return value, nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505", "23503", "23514", "23502":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "42P01":
		return fmt.Errorf("%w: %s", ErrUndefinedTable, pgErr.Message)
	default:
		return err
	}
}
