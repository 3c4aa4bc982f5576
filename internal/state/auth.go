package state

import (
	"context"
	"errors"
	"strings"

	"canvas/api/internal/session"
)

const (
	ActionInitializeAuth = "initialize_auth"
	ActionSignIn         = "sign_in"
	ActionSignUp         = "sign_up"
	ActionLogout         = "logout"
	ActionSessionChanged = "session_changed"
	ActionSetHandle      = "set_handle"
	ActionResumeSession  = "resume_session"
)

// InitializeAuth restores the current session, subscribes to session
// changes and loads the user's data. Only the first call does anything.
func (s *Store) InitializeAuth(ctx context.Context) error {
	var err error
	s.authOnce.Do(func() {
		err = s.initializeAuth(ctx)
	})
	return err
}

func (s *Store) initializeAuth(ctx context.Context) error {
	s.update(Change{Action: ActionInitializeAuth, Phase: PhaseChanged}, func(st *State) {
		st.Auth.Loading = true
	})

	// Subscribe before reading the session so no change is missed in between.
	unsub := s.sessions.Subscribe(s.onSessionEvent)
	s.mu.Lock()
	s.unsub = unsub
	seq := s.sessionSeq
	s.mu.Unlock()

	sess, err := s.sessions.GetSession(ctx)
	if err != nil {
		s.logger.Warn("restore session failed", "error", err)
		sess = nil
	}

	s.mu.Lock()
	// An event delivered meanwhile is newer than what GetSession returned.
	superseded := s.sessionSeq != seq
	if !superseded {
		applySession(&s.state, sess)
	}
	s.state.Auth.Ready = true
	s.state.Auth.Loading = false
	s.publishLocked(Change{Action: ActionInitializeAuth, Phase: PhaseChanged})

	if superseded || sess == nil {
		return nil
	}
	return s.loadSignedIn(ctx, sess.User)
}

func (s *Store) onSessionEvent(event session.Event) {
	ctx := s.baseCtx
	s.logger.Debug("session event", "kind", event.Kind)

	if event.Kind == session.EventSignedOut || event.Session == nil {
		s.update(Change{Action: ActionSessionChanged, Phase: PhaseChanged}, func(st *State) {
			s.sessionSeq++
			applySession(st, nil)
			st.Auth.Profile = nil
			s.resetDataLocked()
			st.UI.ActiveWorkspaceID = GlobalWorkspace
			st.UI.ActiveTab = "focus"
			st.UI.MobileNav = NavFocus
			st.UI.SwitcherOpen = false
			st.UI.ChatOpen = false
			st.UI.ChatInput = ""
		})
		return
	}

	s.update(Change{Action: ActionSessionChanged, Phase: PhaseChanged}, func(st *State) {
		s.sessionSeq++
		s.adoptSessionLocked(event.Session)
	})
	if err := s.loadSignedIn(ctx, event.Session.User); err != nil {
		s.logger.Error("load user data after session change", "kind", event.Kind, "error", err)
	}
}

// loadSignedIn ensures the profile exists, then loads workspaces.
func (s *Store) loadSignedIn(ctx context.Context, user session.User) error {
	profile, err := s.repo.EnsureProfile(ctx, user.ID, user.Email)
	if err != nil {
		s.update(Change{Action: ActionInitializeAuth, Phase: PhaseFailed, Err: err}, func(st *State) {
			st.Auth.Error = err.Error()
		})
		return &AuthError{Op: "ensure_profile", Err: err}
	}
	s.mu.Lock()
	if current := s.state.Auth.User; current == nil || current.ID != user.ID {
		s.mu.Unlock()
		return nil
	}
	s.state.Auth.Profile = &profile
	s.publishLocked(Change{Action: ActionInitializeAuth, Phase: PhaseChanged})
	return s.LoadUserData(ctx)
}

// adoptSessionLocked applies sess and drops cached data when it belongs to
// another user than the one signed in. s.mu must be held.
func (s *Store) adoptSessionLocked(sess *session.Session) {
	if user := s.state.Auth.User; user != nil && (sess == nil || user.ID != sess.User.ID) {
		s.state.Auth.Profile = nil
		s.resetDataLocked()
		s.state.UI.ActiveWorkspaceID = GlobalWorkspace
	}
	applySession(&s.state, sess)
}

func applySession(st *State, sess *session.Session) {
	if sess == nil {
		st.Auth.User = nil
		st.Auth.Authenticated = false
		return
	}
	user := sess.User
	st.Auth.User = &user
	st.Auth.Authenticated = true
}

// SignIn authenticates with email and password. Profile and data loading
// follow from the resulting session event.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, ActionSignIn, func(ctx context.Context) (*session.Session, error) {
		return s.sessions.SignInWithPassword(ctx, email, password)
	})
}

// SignUp registers a new account and signs it in.
func (s *Store) SignUp(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, ActionSignUp, func(ctx context.Context) (*session.Session, error) {
		return s.sessions.SignUp(ctx, email, password)
	})
}

// Resume adopts the session behind a previously issued access token and
// loads its data before returning, so the caller can serve it right away.
// A rejected token leaves the state untouched.
func (s *Store) Resume(ctx context.Context, accessToken string) error {
	sess, err := s.sessions.Resume(ctx, accessToken)
	if err != nil {
		return &AuthError{Op: ActionResumeSession, Err: err}
	}
	err = s.authenticate(ctx, ActionResumeSession, func(context.Context) (*session.Session, error) {
		return sess, nil
	})
	if err != nil {
		return err
	}
	return s.loadSignedIn(ctx, sess.User)
}

func (s *Store) authenticate(ctx context.Context, action string, call func(context.Context) (*session.Session, error)) error {
	s.update(Change{Action: action, Phase: PhaseChanged}, func(st *State) {
		st.Auth.Loading = true
		st.Auth.Error = ""
	})

	sess, err := call(ctx)
	if err != nil {
		authErr := &AuthError{Op: action, Err: err}
		s.update(Change{Action: action, Phase: PhaseFailed, Err: authErr}, func(st *State) {
			st.Auth.Loading = false
			st.Auth.Error = err.Error()
		})
		return authErr
	}

	s.update(Change{Action: action, Phase: PhaseChanged}, func(st *State) {
		st.Auth.Loading = false
		s.adoptSessionLocked(sess)
	})
	return nil
}

// Logout ends the session. State is cleared by the sign-out event.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.sessions.SignOut(ctx); err != nil {
		return &AuthError{Op: ActionLogout, Err: err}
	}
	return nil
}

// SetHandle changes the signed-in user's handle. Failures, including a
// taken handle, are reported through AuthState.Error.
func (s *Store) SetHandle(ctx context.Context, handle string) error {
	s.mu.Lock()
	user := s.state.Auth.User
	s.mu.Unlock()

	handle = strings.TrimSpace(handle)
	if user == nil {
		return ErrNotAuthenticated
	}
	if handle == "" {
		return ErrEmptyInput
	}

	profile, err := s.repo.UpdateHandle(ctx, user.ID, handle)
	if err != nil {
		authErr := &AuthError{Op: ActionSetHandle, Err: err}
		s.update(Change{Action: ActionSetHandle, Phase: PhaseFailed, Err: authErr}, func(st *State) {
			st.Auth.Error = err.Error()
		})
		return authErr
	}
	s.update(Change{Action: ActionSetHandle, Phase: PhaseChanged}, func(st *State) {
		st.Auth.Profile = &profile
		st.Auth.Error = ""
	})
	return nil
}

// IsAuthError reports whether err came from an auth action.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
