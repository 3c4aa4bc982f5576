package state

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"canvas/api/internal/repository"
	"canvas/api/internal/store"
	"canvas/api/internal/util"
)

const (
	ActionCreateWorkspace = "create_workspace"
	ActionUpdateWorkspace = "update_workspace"
	ActionDeleteWorkspace = "delete_workspace"
	ActionInviteMember    = "invite_member"
)

// NewWorkspaceSubtitle is the subtitle of workspaces created by the user.
const NewWorkspaceSubtitle = "New canvas. Define goals and execution plan."

// InitialsFor derives up to two avatar initials from the first two words
// of name.
func InitialsFor(name string) string {
	words := strings.Fields(name)
	if len(words) > 2 {
		words = words[:2]
	}
	var b strings.Builder
	for _, word := range words {
		b.WriteString(strings.ToUpper(string([]rune(word)[0])))
	}
	if b.Len() == 0 {
		return repository.DefaultWorkspaceInitials
	}
	return b.String()
}

// CreateWorkspace persists a new workspace before showing it, since its
// share code comes from the repository. The new workspace becomes active.
func (s *Store) CreateWorkspace(ctx context.Context, name string) (store.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Workspace{}, ErrEmptyInput
	}

	s.mu.Lock()
	user := s.state.Auth.User
	gen := s.generation
	handle := ""
	if s.state.Auth.Profile != nil {
		handle = s.state.Auth.Profile.Handle
	}
	s.mu.Unlock()
	if user == nil {
		return store.Workspace{}, ErrNotAuthenticated
	}
	if handle == "" {
		handle = repository.BaseHandle(user.Email)
	}

	subtitle := NewWorkspaceSubtitle
	initials := InitialsFor(name)
	status := store.StatusAtRisk
	ws, err := s.repo.CreateWorkspace(ctx, user.ID, repository.WorkspaceInput{
		Name:           &name,
		Subtitle:       &subtitle,
		AvatarInitials: &initials,
		StatusLabel:    &status,
		Members:        []store.Member{{ID: util.NewID(""), Name: handle, Email: user.Email, Role: store.RoleEditor}},
	})
	if err != nil {
		return store.Workspace{}, s.fail(ActionCreateWorkspace, "", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ws, nil
	}
	s.state.Data.Workspaces = append([]store.Workspace{ws}, s.state.Data.Workspaces...)
	s.bump(workspacesCollection().key)
	s.state.UI.ActiveWorkspaceID = ws.ID
	s.state.UI.ActiveTab = "focus"
	s.publishLocked(Change{Action: ActionCreateWorkspace, WorkspaceID: ws.ID, TargetID: ws.ID, Phase: PhaseCommitted})

	if err := s.LoadCanvasContent(ctx, ws.ID); err != nil {
		return ws, err
	}
	return ws, nil
}

// UpdateWorkspace applies patch optimistically.
func (s *Store) UpdateWorkspace(ctx context.Context, workspaceID string, patch repository.WorkspacePatch) (store.Workspace, error) {
	if err := patch.Validate(); err != nil {
		return store.Workspace{}, err
	}
	if patch.IsEmpty() {
		return store.Workspace{}, fmt.Errorf("%w: empty patch", repository.ErrInvalidInput)
	}
	return optimisticUpdate(ctx, s, workspacesCollection(), ActionUpdateWorkspace, workspaceID, workspaceID,
		patch.Apply,
		func(ctx context.Context) (store.Workspace, error) {
			return s.repo.UpdateWorkspace(ctx, workspaceID, patch)
		})
}

// DeleteWorkspace removes the workspace optimistically. When it was active
// the first remaining workspace becomes active. On success its cached goals,
// todos, memories and chat are dropped; the repository deletes the rows.
func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	col := workspacesCollection()

	s.mu.Lock()
	idx := indexOf(s.state.Data.Workspaces, col.id, workspaceID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownTarget
	}
	original := s.state.Data.Workspaces[idx]
	prevActive := s.state.UI.ActiveWorkspaceID
	p := begin(s, col, ActionDeleteWorkspace, workspaceID, workspaceID, func(items []store.Workspace) []store.Workspace {
		remaining := without(items, col.id, workspaceID)
		if prevActive == workspaceID {
			s.state.UI.ActiveWorkspaceID = GlobalWorkspace
			if len(remaining) > 0 {
				s.state.UI.ActiveWorkspaceID = remaining[0].ID
			}
		}
		return remaining
	})
	s.mu.Lock()
	nextActive := s.state.UI.ActiveWorkspaceID
	s.mu.Unlock()

	err := s.repo.DeleteWorkspace(ctx, workspaceID)
	p.settle()
	stale := p.stale()
	if err != nil {
		if !stale && s.state.UI.ActiveWorkspaceID == nextActive {
			s.state.UI.ActiveWorkspaceID = prevActive
		}
		return p.rollback(err, func(items []store.Workspace) []store.Workspace {
			if indexOf(items, col.id, workspaceID) >= 0 {
				return items
			}
			at := min(idx, len(items))
			out := make([]store.Workspace, 0, len(items)+1)
			out = append(out, items[:at]...)
			out = append(out, original)
			return append(out, items[at:]...)
		})
	}
	delete(s.state.Data.Goals, workspaceID)
	delete(s.state.Data.Todos, workspaceID)
	delete(s.state.Data.Memories, workspaceID)
	delete(s.state.Data.Chat, workspaceID)
	p.commit(nil)

	if !stale && nextActive != prevActive && nextActive != GlobalWorkspace {
		return s.LoadCanvasContent(ctx, nextActive)
	}
	return nil
}

// InviteMember adds a member by email through an optimistic workspace
// update, then tells the invite notifier.
func (s *Store) InviteMember(ctx context.Context, workspaceID, email, role string) (store.Member, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return store.Member{}, fmt.Errorf("%w: invalid email", repository.ErrInvalidInput)
	}
	email = strings.ToLower(addr.Address)

	s.mu.Lock()
	idx := indexOf(s.state.Data.Workspaces, func(ws store.Workspace) string { return ws.ID }, workspaceID)
	if idx < 0 {
		s.mu.Unlock()
		return store.Member{}, ErrUnknownTarget
	}
	current := s.state.Data.Workspaces[idx]
	var inviter string
	if s.state.Auth.User != nil {
		inviter = s.state.Auth.User.Email
	}
	s.mu.Unlock()

	for _, member := range current.Members {
		if strings.EqualFold(member.Email, email) {
			return store.Member{}, ErrAlreadyMember
		}
	}

	member := store.Member{
		ID:    util.NewID(""),
		Name:  repository.BaseHandle(email),
		Email: email,
		Role:  store.NormalizeRole(role),
	}
	members := append(append([]store.Member(nil), current.Members...), member)
	updated, err := s.UpdateWorkspace(ctx, workspaceID, repository.WorkspacePatch{Members: &members})
	if err != nil {
		return store.Member{}, err
	}

	if s.invites != nil {
		if err := s.invites.NotifyInvite(ctx, updated, member, inviter); err != nil {
			s.logger.Warn("invite notification failed", "workspace_id", workspaceID, "email", email, "error", err)
		}
	}
	return member, nil
}

// IsRollback reports whether err is a rolled back optimistic change.
func IsRollback(err error) bool {
	var rbErr *RollbackError
	return errors.As(err, &rbErr)
}
