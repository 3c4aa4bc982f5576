package state

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"canvas/api/internal/assistant"
	"canvas/api/internal/repository"
	"canvas/api/internal/store"
	"canvas/api/internal/util"
)

const (
	ActionLoadUserData      = "load_user_data"
	ActionLoadCanvasContent = "load_canvas_content"
)

// LoadUserData lists the signed-in user's workspaces, seeding the demo
// presets when there are none, and loads the active workspace's content.
// Calls are serialized so a concurrent bootstrap cannot seed twice.
func (s *Store) LoadUserData(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	user := s.state.Auth.User
	gen := s.generation
	var handle string
	if s.state.Auth.Profile != nil {
		handle = s.state.Auth.Profile.Handle
	}
	s.mu.Unlock()
	if user == nil {
		return nil
	}

	workspaces, err := s.repo.ListWorkspaces(ctx, user.ID)
	if err != nil {
		return s.fail(ActionLoadUserData, "", err)
	}

	if len(workspaces) == 0 {
		workspaces, err = s.seedPresets(ctx, user.ID, user.Email, handle)
		if err != nil {
			return s.fail(ActionLoadUserData, "", err)
		}
	}

	var active string
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	s.state.Data.Workspaces = workspaces
	s.bump(workspacesCollection().key)
	active = s.state.UI.ActiveWorkspaceID
	if active == GlobalWorkspace || !containsWorkspace(workspaces, active) {
		active = GlobalWorkspace
		if len(workspaces) > 0 {
			active = workspaces[0].ID
		}
		s.state.UI.ActiveWorkspaceID = active
	}
	s.publishLocked(Change{Action: ActionLoadUserData, WorkspaceID: active, Phase: PhaseChanged})

	if active == GlobalWorkspace {
		return nil
	}
	return s.LoadCanvasContent(ctx, active)
}

func (s *Store) seedPresets(ctx context.Context, userID, email, handle string) ([]store.Workspace, error) {
	presets, err := repository.DemoPresets()
	if err != nil {
		return nil, err
	}
	if handle == "" {
		handle = repository.BaseHandle(email)
	}
	members := []store.Member{{ID: util.NewID(""), Name: handle, Email: email, Role: store.RoleEditor}}

	created := make([]store.Workspace, 0, len(presets))
	for _, preset := range presets {
		ws, err := s.repo.SeedPreset(ctx, userID, preset, members)
		if err != nil {
			return nil, fmt.Errorf("seed preset %q: %w", preset.Name, err)
		}
		created = append(created, ws)
	}
	s.logger.Info("seeded demo workspaces", "user_id", userID, "count", len(created))
	return created, nil
}

func containsWorkspace(workspaces []store.Workspace, id string) bool {
	for _, ws := range workspaces {
		if ws.ID == id {
			return true
		}
	}
	return false
}

// LoadCanvasContent fetches goals, todos and memories of one workspace
// concurrently and seeds its chat with a greeting the first time. Only the
// signed-in user's own workspaces can be loaded.
func (s *Store) LoadCanvasContent(ctx context.Context, workspaceID string) error {
	s.mu.Lock()
	owned := s.ownsLocked(workspaceID)
	gen := s.generation
	s.mu.Unlock()
	if !owned {
		return ErrUnknownTarget
	}

	var (
		goals    []store.Goal
		todos    []store.Todo
		memories []store.Memory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		goals, err = s.repo.ListGoals(gctx, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		todos, err = s.repo.ListTodos(gctx, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		memories, err = s.repo.ListMemories(gctx, workspaceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return s.fail(ActionLoadCanvasContent, workspaceID, err)
	}

	s.mu.Lock()
	if s.generation != gen || !s.ownsLocked(workspaceID) {
		s.mu.Unlock()
		return nil
	}
	s.state.Data.Goals[workspaceID] = goals
	s.state.Data.Todos[workspaceID] = todos
	s.state.Data.Memories[workspaceID] = memories
	s.bump(goalsCollection(workspaceID).key)
	s.bump(todosCollection(workspaceID).key)
	s.bump(memoriesCollection(workspaceID).key)
	if _, ok := s.state.Data.Chat[workspaceID]; !ok {
		s.state.Data.Chat[workspaceID] = []ChatMessage{{
			ID:        util.NewID(""),
			Role:      RoleAssistant,
			Text:      assistant.Greeting,
			Timestamp: s.now(),
		}}
	}
	s.publishLocked(Change{Action: ActionLoadCanvasContent, WorkspaceID: workspaceID, Phase: PhaseChanged})
	return nil
}

// fail publishes a non-optimistic failure and returns err.
func (s *Store) fail(action, workspaceID string, err error) error {
	s.logger.Error("action failed", "action", action, "workspace_id", workspaceID, "error", err)
	s.update(Change{Action: action, WorkspaceID: workspaceID, Phase: PhaseFailed, Err: err}, func(*State) {})
	return err
}
