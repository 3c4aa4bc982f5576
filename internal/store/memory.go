package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	OpSelect = "select"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// TableSpec describes a table held by MemoryStore.
type TableSpec struct {
	Name           string
	Unique         []string
	Defaults       Row
	TouchUpdatedAt bool
}

// DefaultTables mirrors db/migrations for the given workspace table name.
func DefaultTables(workspaceTable string) []TableSpec {
	return []TableSpec{
		{Name: TableAuthUsers, Unique: []string{"email"}},
		{Name: TableProfiles, Unique: []string{"user_id", "handle"}, Defaults: Row{"display_name": nil}},
		{
			Name:   workspaceTable,
			Unique: []string{"share_code", "invite_link"},
			Defaults: Row{
				"subtitle":        "",
				"avatar_initials": "",
				"status_label":    StatusAtRisk,
				"members":         []any{},
			},
			TouchUpdatedAt: true,
		},
		{Name: TableGoals, Defaults: Row{"summary": "", "horizon": HorizonThisQuarter}},
		{Name: TableTodos, Defaults: Row{"is_done": false}},
		{Name: TableMemories, Defaults: Row{"source_message_id": nil}},
	}
}

type memoryRecord struct {
	seq    int64
	values map[string]any
}

type memoryTable struct {
	spec    TableSpec
	records []*memoryRecord
}

type failureKey struct {
	table string
	op    string
}

// MemoryStore is an in-process RecordStore. It enforces unique columns and
// rejects unknown tables the way Postgres does.
type MemoryStore struct {
	mu       sync.Mutex
	tables   map[string]*memoryTable
	seq      int64
	now      func() time.Time
	failures map[failureKey]error
}

func NewMemoryStore(specs ...TableSpec) *MemoryStore {
	s := &MemoryStore{
		tables:   map[string]*memoryTable{},
		now:      func() time.Time { return time.Now().UTC() },
		failures: map[failureKey]error{},
	}
	for _, spec := range specs {
		s.tables[spec.Name] = &memoryTable{spec: spec}
	}
	return s
}

// SetClock overrides the timestamp source used for created_at/updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail makes every subsequent op on table return err until cleared with a
// nil err. An empty op matches every operation.
func (s *MemoryStore) Fail(table, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := failureKey{table: table, op: op}
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// Count returns the number of rows in table.
func (s *MemoryStore) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return 0
	}
	return len(t.records)
}

func (s *MemoryStore) Select(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table, OpSelect)
	if err != nil {
		return nil, err
	}
	filter, err := normalizeRow(Row(q.Filter))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	matched := make([]*memoryRecord, 0)
	for _, record := range t.records {
		if matches(record.values, filter) {
			matched = append(matched, record)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, order := range q.Order {
			cmp := compareValues(matched[i].values[order.Column], matched[j].values[order.Column])
			if cmp == 0 {
				continue
			}
			if order.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		if len(q.Order) > 0 && !q.Order[0].Ascending {
			return matched[i].seq > matched[j].seq
		}
		return matched[i].seq < matched[j].seq
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	items := make([]json.RawMessage, 0, len(matched))
	for _, record := range matched {
		raw, err := json.Marshal(record.values)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", table, err)
		}
		items = append(items, raw)
	}
	return items, nil
}

func (s *MemoryStore) Insert(ctx context.Context, table string, row Row) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table, OpInsert)
	if err != nil {
		return nil, err
	}
	values, err := normalizeRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	for column, value := range t.spec.Defaults {
		if _, ok := values[column]; ok {
			continue
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
		values[column] = normalized
	}
	if id, _ := values["id"].(string); id == "" {
		values["id"] = uuid.NewString()
	}
	now := s.now().Format(time.RFC3339Nano)
	if _, ok := values["created_at"]; !ok {
		values["created_at"] = now
	}
	if t.spec.TouchUpdatedAt {
		if _, ok := values["updated_at"]; !ok {
			values["updated_at"] = now
		}
	}
	if err := t.checkUnique(values, nil); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	s.seq++
	t.records = append(t.records, &memoryRecord{seq: s.seq, values: values})
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	return raw, nil
}

func (s *MemoryStore) Update(ctx context.Context, table, id string, patch Row) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table, OpUpdate)
	if err != nil {
		return nil, err
	}
	record := t.find(id)
	if record == nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	changes, err := normalizeRow(patch)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	delete(changes, "id")

	next := make(map[string]any, len(record.values)+len(changes))
	for column, value := range record.values {
		next[column] = value
	}
	for column, value := range changes {
		next[column] = value
	}
	if t.spec.TouchUpdatedAt {
		next["updated_at"] = s.now().Format(time.RFC3339Nano)
	}
	if err := t.checkUnique(next, record); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	record.values = next

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	return raw, nil
}

func (s *MemoryStore) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table, OpDelete)
	if err != nil {
		return err
	}
	for i, record := range t.records {
		if record.values["id"] == id {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
}

func (s *MemoryStore) DeleteWhere(ctx context.Context, table string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(table, OpDelete)
	if err != nil {
		return 0, err
	}
	normalized, err := normalizeRow(Row(filter))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	kept := t.records[:0]
	var removed int64
	for _, record := range t.records {
		if matches(record.values, normalized) {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	t.records = kept
	return removed, nil
}

func (s *MemoryStore) table(name, op string) (*memoryTable, error) {
	if err, ok := s.failures[failureKey{table: name, op: op}]; ok {
		return nil, err
	}
	if err, ok := s.failures[failureKey{table: name}]; ok {
		return nil, err
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, name, ErrUndefinedTable)
	}
	return t, nil
}

func (t *memoryTable) find(id string) *memoryRecord {
	for _, record := range t.records {
		if record.values["id"] == id {
			return record
		}
	}
	return nil
}

func (t *memoryTable) checkUnique(values map[string]any, self *memoryRecord) error {
	columns := append([]string{"id"}, t.spec.Unique...)
	for _, column := range columns {
		value, ok := values[column]
		if !ok || value == nil {
			continue
		}
		for _, record := range t.records {
			if record == self {
				continue
			}
			if reflect.DeepEqual(record.values[column], value) {
				return fmt.Errorf("%w: duplicate %s", ErrConflict, column)
			}
		}
	}
	return nil
}

func matches(values, filter map[string]any) bool {
	for column, want := range filter {
		if !reflect.DeepEqual(values[column], want) {
			return false
		}
	}
	return true
}

// normalizeRow round-trips values through JSON so stored rows hold the same
// shapes a decoded payload would.
func normalizeRow(row Row) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for column, value := range row {
		normalized, err := normalizeValue(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		out[column] = normalized
	}
	return out, nil
}

func normalizeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if t, ok := value.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func compareValues(a, b any) int {
	switch left := a.(type) {
	case string:
		right, _ := b.(string)
		lt, lerr := time.Parse(time.RFC3339Nano, left)
		rt, rerr := time.Parse(time.RFC3339Nano, right)
		if lerr == nil && rerr == nil {
			return lt.Compare(rt)
		}
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		}
		return 0
	case float64:
		right, _ := b.(float64)
		switch {
		case left < right:
			return -1
		case left > right:
			return 1
		}
		return 0
	case bool:
		right, _ := b.(bool)
		if left == right {
			return 0
		}
		if !left {
			return -1
		}
		return 1
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}
