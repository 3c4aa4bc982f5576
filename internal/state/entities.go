package state

import (
	"context"
	"fmt"
	"strings"

	"canvas/api/internal/repository"
	"canvas/api/internal/store"
	"canvas/api/internal/util"
)

const (
	ActionAddGoal       = "add_goal"
	ActionRemoveGoal    = "remove_goal"
	ActionAddTodo       = "add_todo"
	ActionToggleTodo    = "toggle_todo"
	ActionRemoveTodo    = "remove_todo"
	ActionAddMemory     = "add_memory"
	ActionRemoveMemory  = "remove_memory"
	ActionCaptureMemory = "capture_memory"
)

// PlaceholderPrefix marks ids of records not yet confirmed remotely.
const PlaceholderPrefix = "tmp"

func placeholderID() string {
	return util.NewID(PlaceholderPrefix)
}

// IsPlaceholder reports whether id belongs to an unconfirmed record.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix+"-")
}

func (s *Store) AddGoal(ctx context.Context, workspaceID, title string) (store.Goal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Goal{}, ErrEmptyInput
	}
	placeholder := store.Goal{
		ID:          placeholderID(),
		WorkspaceID: workspaceID,
		Title:       title,
		Summary:     repository.DefaultGoalSummary,
		Horizon:     store.HorizonThisQuarter,
		CreatedAt:   s.now(),
	}
	return optimisticCreate(ctx, s, goalsCollection(workspaceID), ActionAddGoal, workspaceID, placeholder,
		func(ctx context.Context) (store.Goal, error) {
			return s.repo.AddGoal(ctx, workspaceID, title, repository.DefaultGoalSummary)
		})
}

func (s *Store) RemoveGoal(ctx context.Context, workspaceID, goalID string) error {
	return optimisticDelete(ctx, s, goalsCollection(workspaceID), ActionRemoveGoal, workspaceID, goalID,
		func(ctx context.Context) error {
			return s.repo.RemoveGoal(ctx, goalID)
		})
}

func (s *Store) AddTodo(ctx context.Context, workspaceID, text string) (store.Todo, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Todo{}, ErrEmptyInput
	}
	placeholder := store.Todo{
		ID:          placeholderID(),
		WorkspaceID: workspaceID,
		Text:        text,
		CreatedAt:   s.now(),
	}
	return optimisticCreate(ctx, s, todosCollection(workspaceID), ActionAddTodo, workspaceID, placeholder,
		func(ctx context.Context) (store.Todo, error) {
			return s.repo.AddTodo(ctx, workspaceID, text)
		})
}

// ToggleTodo flips the done flag of a todo.
func (s *Store) ToggleTodo(ctx context.Context, workspaceID, todoID string) (store.Todo, error) {
	var done bool
	return optimisticUpdate(ctx, s, todosCollection(workspaceID), ActionToggleTodo, workspaceID, todoID,
		func(t store.Todo) store.Todo {
			t.IsDone = !t.IsDone
			done = t.IsDone
			return t
		},
		func(ctx context.Context) (store.Todo, error) {
			return s.repo.ToggleTodo(ctx, todoID, done)
		})
}

func (s *Store) RemoveTodo(ctx context.Context, workspaceID, todoID string) error {
	return optimisticDelete(ctx, s, todosCollection(workspaceID), ActionRemoveTodo, workspaceID, todoID,
		func(ctx context.Context) error {
			return s.repo.RemoveTodo(ctx, todoID)
		})
}

// AddMemory stores text as a memory. sourceMessageID may be empty.
func (s *Store) AddMemory(ctx context.Context, workspaceID, kind, text, sourceMessageID string) (store.Memory, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Memory{}, ErrEmptyInput
	}
	if !store.ValidMemoryType(kind) {
		return store.Memory{}, fmt.Errorf("%w: unknown memory type %q", repository.ErrInvalidInput, kind)
	}
	placeholder := store.Memory{
		ID:          placeholderID(),
		WorkspaceID: workspaceID,
		Type:        kind,
		Text:        text,
		CreatedAt:   s.now(),
	}
	if sourceMessageID != "" {
		placeholder.SourceMessageID = &sourceMessageID
	}
	return optimisticCreate(ctx, s, memoriesCollection(workspaceID), ActionAddMemory, workspaceID, placeholder,
		func(ctx context.Context) (store.Memory, error) {
			return s.repo.AddMemory(ctx, workspaceID, kind, text, sourceMessageID)
		})
}

func (s *Store) RemoveMemory(ctx context.Context, workspaceID, memoryID string) error {
	return optimisticDelete(ctx, s, memoriesCollection(workspaceID), ActionRemoveMemory, workspaceID, memoryID,
		func(ctx context.Context) error {
			return s.repo.RemoveMemory(ctx, memoryID)
		})
}

// CaptureMemoryFromLastAssistant stores the latest assistant message of the
// workspace chat as a memory linked back to that message.
func (s *Store) CaptureMemoryFromLastAssistant(ctx context.Context, workspaceID, kind string) (store.Memory, error) {
	s.mu.Lock()
	var last *ChatMessage
	chat := s.state.Data.Chat[workspaceID]
	for i := len(chat) - 1; i >= 0; i-- {
		if chat[i].Role == RoleAssistant {
			msg := chat[i]
			last = &msg
			break
		}
	}
	s.mu.Unlock()

	if last == nil {
		return store.Memory{}, ErrNoAssistantMessage
	}
	return s.AddMemory(ctx, workspaceID, kind, last.Text, last.ID)
}
