package repository

import (
	"context"
	"fmt"
	"strings"

	"canvas/api/internal/store"
)

const DefaultGoalSummary = "Goal added from UI"

func (r *Repository) ListGoals(ctx context.Context, workspaceID string) ([]store.Goal, error) {
	rows, err := r.list(ctx, "list goals", store.TableGoals, store.Filter{"canvas_id": workspaceID}, true)
	if err != nil {
		return nil, err
	}
	items, err := decodeAll[store.Goal](rows)
	if err != nil {
		return nil, remoteErr("list goals", store.TableGoals, err)
	}
	return items, nil
}

// AddGoal inserts a this-quarter goal. An empty summary takes
// DefaultGoalSummary.
func (r *Repository) AddGoal(ctx context.Context, workspaceID, title, summary string) (store.Goal, error) {
	if strings.TrimSpace(title) == "" {
		return store.Goal{}, fmt.Errorf("%w: goal title is required", ErrInvalidInput)
	}
	if summary == "" {
		summary = DefaultGoalSummary
	}
	raw, err := r.insert(ctx, "add goal", store.TableGoals, store.Row{
		"canvas_id": workspaceID,
		"title":     title,
		"summary":   summary,
		"horizon":   store.HorizonThisQuarter,
	})
	if err != nil {
		return store.Goal{}, err
	}
	goal, err := decodeOne[store.Goal](raw)
	if err != nil {
		return store.Goal{}, remoteErr("add goal", store.TableGoals, err)
	}
	return goal, nil
}

func (r *Repository) RemoveGoal(ctx context.Context, goalID string) error {
	return r.remove(ctx, "remove goal", store.TableGoals, goalID)
}

func (r *Repository) ListTodos(ctx context.Context, workspaceID string) ([]store.Todo, error) {
	rows, err := r.list(ctx, "list todos", store.TableTodos, store.Filter{"canvas_id": workspaceID}, true)
	if err != nil {
		return nil, err
	}
	items, err := decodeAll[store.Todo](rows)
	if err != nil {
		return nil, remoteErr("list todos", store.TableTodos, err)
	}
	return items, nil
}

func (r *Repository) AddTodo(ctx context.Context, workspaceID, text string) (store.Todo, error) {
	if strings.TrimSpace(text) == "" {
		return store.Todo{}, fmt.Errorf("%w: todo text is required", ErrInvalidInput)
	}
	raw, err := r.insert(ctx, "add todo", store.TableTodos, store.Row{
		"canvas_id": workspaceID,
		"text":      text,
		"is_done":   false,
	})
	if err != nil {
		return store.Todo{}, err
	}
	todo, err := decodeOne[store.Todo](raw)
	if err != nil {
		return store.Todo{}, remoteErr("add todo", store.TableTodos, err)
	}
	return todo, nil
}

func (r *Repository) ToggleTodo(ctx context.Context, todoID string, done bool) (store.Todo, error) {
	raw, err := r.update(ctx, "toggle todo", store.TableTodos, todoID, store.Row{"is_done": done})
	if err != nil {
		return store.Todo{}, err
	}
	todo, err := decodeOne[store.Todo](raw)
	if err != nil {
		return store.Todo{}, remoteErr("toggle todo", store.TableTodos, err)
	}
	return todo, nil
}

func (r *Repository) RemoveTodo(ctx context.Context, todoID string) error {
	return r.remove(ctx, "remove todo", store.TableTodos, todoID)
}

// ListMemories returns memories newest first.
func (r *Repository) ListMemories(ctx context.Context, workspaceID string) ([]store.Memory, error) {
	rows, err := r.list(ctx, "list memories", store.TableMemories, store.Filter{"canvas_id": workspaceID}, false)
	if err != nil {
		return nil, err
	}
	items, err := decodeAll[store.Memory](rows)
	if err != nil {
		return nil, remoteErr("list memories", store.TableMemories, err)
	}
	return items, nil
}

// AddMemory inserts a memory. sourceMessageID may be empty.
func (r *Repository) AddMemory(ctx context.Context, workspaceID, kind, text, sourceMessageID string) (store.Memory, error) {
	if !store.ValidMemoryType(kind) {
		return store.Memory{}, fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, kind)
	}
	if strings.TrimSpace(text) == "" {
		return store.Memory{}, fmt.Errorf("%w: memory text is required", ErrInvalidInput)
	}
	var source any
	if sourceMessageID != "" {
		source = sourceMessageID
	}
	raw, err := r.insert(ctx, "add memory", store.TableMemories, store.Row{
		"canvas_id":         workspaceID,
		"type":              kind,
		"text":              text,
		"source_message_id": source,
	})
	if err != nil {
		return store.Memory{}, err
	}
	memory, err := decodeOne[store.Memory](raw)
	if err != nil {
		return store.Memory{}, remoteErr("add memory", store.TableMemories, err)
	}
	return memory, nil
}

func (r *Repository) RemoveMemory(ctx context.Context, memoryID string) error {
	return r.remove(ctx, "remove memory", store.TableMemories, memoryID)
}
