package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrConflict       = errors.New("constraint violation")
	ErrUndefinedTable = errors.New("undefined table")
)

// Row is a partial record keyed by column name.
type Row map[string]any

type Order struct {
	Column    string
	Ascending bool
}

// Query selects rows whose columns equal every Filter value.
type Query struct {
	Filter Filter
	Order  []Order
	Limit  int
}

type Filter map[string]any

// RecordStore is the generic table-oriented persistence boundary. Every
// returned record is a JSON object of the persisted row.
type RecordStore interface {
	Select(ctx context.Context, table string, q Query) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, row Row) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch Row) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
	DeleteWhere(ctx context.Context, table string, filter Filter) (int64, error)
}

func sortedKeys[V any](input map[string]V) []string {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
