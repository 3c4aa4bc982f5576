package state

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated   = errors.New("not signed in")
	ErrEmptyInput         = errors.New("input must not be empty")
	ErrUnknownTarget      = errors.New("target not found in local state")
	ErrNoAssistantMessage = errors.New("no assistant message to capture")
	ErrAlreadyMember      = errors.New("already a member of this workspace")
	ErrInvalidTheme       = errors.New("theme must be dark or light")
)

type Phase string

const (
	PhaseApplied    Phase = "applied"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled_back"
	PhaseChanged    Phase = "changed"
	PhaseFailed     Phase = "failed"
)

// Change describes one step of an action. Err is a *RollbackError for
// PhaseRolledBack.
type Change struct {
	Action      string
	WorkspaceID string
	TargetID    string
	Phase       Phase
	Err         error
}

// RollbackError is returned (and published) when a remote call fails and the
// optimistic change was discarded.
type RollbackError struct {
	Action      string
	WorkspaceID string
	TargetID    string
	Err         error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s rolled back: %v", e.Action, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AuthError is a sign-in, sign-up or profile failure; its message is shown
// in AuthState.Error.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
