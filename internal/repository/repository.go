// Package repository maps typed workspace entities onto the generic record
// store. It is the only caller of store.RecordStore outside startup.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"canvas/api/internal/store"
	"canvas/api/internal/util"
)

type Repository struct {
	records        store.RecordStore
	workspaceTable string
	shortCode      func() string
}

// New binds the repository to an already resolved workspace table name. See
// ResolveWorkspaceTable.
func New(records store.RecordStore, workspaceTable string) *Repository {
	return &Repository{
		records:        records,
		workspaceTable: workspaceTable,
		shortCode:      func() string { return util.ShortCode(6) },
	}
}

func (r *Repository) WorkspaceTable() string {
	return r.workspaceTable
}

// ResolveWorkspaceTable probes candidates in order with a one-row select and
// returns the first table that answers.
func ResolveWorkspaceTable(ctx context.Context, records store.RecordStore, candidates []string) (string, error) {
	resolution := &SchemaResolutionError{Candidates: candidates}
	for _, candidate := range candidates {
		_, err := records.Select(ctx, candidate, store.Query{Limit: 1})
		if err == nil {
			return candidate, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		resolution.Errs = append(resolution.Errs, err)
	}
	return "", resolution
}

func decodeOne[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

func decodeAll[T any](rows []json.RawMessage) ([]T, error) {
	items := make([]T, 0, len(rows))
	for _, raw := range rows {
		item, err := decodeOne[T](raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Repository) list(ctx context.Context, op, table string, filter store.Filter, ascending bool) ([]json.RawMessage, error) {
	rows, err := r.records.Select(ctx, table, store.Query{
		Filter: filter,
		Order:  []store.Order{{Column: "created_at", Ascending: ascending}},
	})
	if err != nil {
		return nil, remoteErr(op, table, err)
	}
	return rows, nil
}

func (r *Repository) insert(ctx context.Context, op, table string, row store.Row) (json.RawMessage, error) {
	raw, err := r.records.Insert(ctx, table, row)
	if err != nil {
		return nil, remoteErr(op, table, err)
	}
	return raw, nil
}

func (r *Repository) update(ctx context.Context, op, table, id string, patch store.Row) (json.RawMessage, error) {
	raw, err := r.records.Update(ctx, table, id, patch)
	if err != nil {
		return nil, remoteErr(op, table, err)
	}
	return raw, nil
}

// remove deletes by id. Deleting a row that is already gone succeeds.
func (r *Repository) remove(ctx context.Context, op, table, id string) error {
	err := r.records.Delete(ctx, table, id)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return remoteErr(op, table, err)
}
