package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/util"
)

type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the client-visible view of a signed-in session.
type Session struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token"`
	User        User      `json:"user"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Event is delivered to subscribers after the session changes. Session is
// nil for EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Manager holds the current session of one client and notifies subscribers
// asynchronously, in order, on a dedicated goroutine.
type Manager struct {
	accounts *authpw.Service
	sessions Store
	signer   *auth.Signer
	ttl      time.Duration

	mu        sync.Mutex
	current   *Session
	listeners map[int]func(Event)
	nextID    int

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewManager(accounts *authpw.Service, sessions Store, signer *auth.Signer, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	m := &Manager{
		accounts:  accounts,
		sessions:  sessions,
		signer:    signer,
		ttl:       ttl,
		listeners: map[int]func(Event){},
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.dispatch()
	return m
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case event := <-m.events:
			m.mu.Lock()
			listeners := make([]func(Event), 0, len(m.listeners))
			for _, fn := range m.listeners {
				listeners = append(listeners, fn)
			}
			m.mu.Unlock()
			for _, fn := range listeners {
				fn(event)
			}
		}
	}
}

func (m *Manager) emit(event Event) {
	select {
	case m.events <- event:
	case <-m.done:
	}
}

// Subscribe registers fn for session changes and returns its cancel func.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close stops event delivery. Pending events are dropped.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// GetSession returns the current session, or nil when signed out. A session
// whose server-side record expired is dropped and reported as signed out.
func (m *Manager) GetSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return nil, nil
	}

	if _, err := m.sessions.Lookup(ctx, current.ID); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		m.mu.Lock()
		if m.current != nil && m.current.ID == current.ID {
			m.current = nil
		}
		m.mu.Unlock()
		m.emit(Event{Kind: EventSignedOut})
		return nil, nil
	}
	copied := *current
	return &copied, nil
}

func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	user, err := m.accounts.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, User{ID: user.ID, Email: user.Email})
}

// SignUp creates the account and signs it in.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*Session, error) {
	user, err := m.accounts.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, User{ID: user.ID, Email: user.Email})
}

func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.mu.Unlock()
	if current == nil {
		return nil
	}

	if err := m.sessions.Revoke(ctx, current.ID); err != nil {
		slog.Warn("revoke session failed", "session_id", current.ID, "error", err)
	}
	m.emit(Event{Kind: EventSignedOut})
	return nil
}

// Resume adopts a session from a previously issued access token.
func (m *Manager) Resume(ctx context.Context, accessToken string) (*Session, error) {
	claims, err := m.signer.Parse(accessToken)
	if err != nil {
		return nil, err
	}
	record, err := m.sessions.Lookup(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if record.UserID != claims.Sub {
		return nil, auth.ErrInvalidToken
	}

	current := &Session{
		ID:          record.ID,
		AccessToken: accessToken,
		User:        User{ID: record.UserID, Email: record.Email},
		ExpiresAt:   time.Unix(claims.Exp, 0).UTC(),
	}
	m.mu.Lock()
	m.current = current
	m.mu.Unlock()
	m.emit(Event{Kind: EventSignedIn, Session: copySession(current)})
	return copySession(current), nil
}

// Refresh issues a new access token for the current session and extends the
// server-side record.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return nil, ErrSessionNotFound
	}

	record, err := m.sessions.Lookup(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := m.signer.Issue(record.UserID, record.Email, record.ID)
	if err != nil {
		return nil, err
	}
	record.ExpiresAt = time.Now().Add(m.ttl)
	if err := m.sessions.Save(ctx, record); err != nil {
		return nil, err
	}

	next := &Session{ID: record.ID, AccessToken: token, User: current.User, ExpiresAt: expiresAt}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	m.emit(Event{Kind: EventTokenRefreshed, Session: copySession(next)})
	return copySession(next), nil
}

func (m *Manager) start(ctx context.Context, user User) (*Session, error) {
	now := time.Now()
	record := Record{
		ID:        util.NewID("sess"),
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.sessions.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	token, expiresAt, err := m.signer.Issue(user.ID, user.Email, record.ID)
	if err != nil {
		return nil, err
	}

	current := &Session{ID: record.ID, AccessToken: token, User: user, ExpiresAt: expiresAt}
	m.mu.Lock()
	previous := m.current
	m.current = current
	m.mu.Unlock()
	if previous != nil && previous.ID != current.ID {
		if err := m.sessions.Revoke(ctx, previous.ID); err != nil {
			slog.Warn("revoke replaced session failed", "session_id", previous.ID, "error", err)
		}
	}

	m.emit(Event{Kind: EventSignedIn, Session: copySession(current)})
	return copySession(current), nil
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	copied := *s
	return &copied
}
