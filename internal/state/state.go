// Package state holds the client application state and mediates every
// mutation through optimistic apply, confirm and rollback.
package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"canvas/api/internal/blob"
	"canvas/api/internal/repository"
	"canvas/api/internal/session"
	"canvas/api/internal/store"
)

// GlobalWorkspace is the active id when no workspace is selected.
const GlobalWorkspace = "global"

const (
	ThemeDark  = "dark"
	ThemeLight = "light"
)

const (
	NavFocus    = "focus"
	NavCanvases = "canvases"
	NavProfile  = "profile"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type AuthState struct {
	Ready         bool           `json:"is_ready"`
	Loading       bool           `json:"is_loading"`
	Authenticated bool           `json:"is_authenticated"`
	User          *session.User  `json:"user"`
	Profile       *store.Profile `json:"profile"`
	Error         string         `json:"error"`
}

type UIState struct {
	Theme             string `json:"theme"`
	MobileNav         string `json:"mobile_nav"`
	ActiveWorkspaceID string `json:"active_workspace_id"`
	ActiveTab         string `json:"active_tab"`
	SwitcherOpen      bool   `json:"switcher_open"`
	ChatOpen          bool   `json:"chat_open"`
	ChatInput         string `json:"chat_input"`
	Toast             string `json:"toast"`
}

type DataState struct {
	Workspaces []store.Workspace         `json:"workspaces"`
	Goals      map[string][]store.Goal   `json:"goals"`
	Todos      map[string][]store.Todo   `json:"todos"`
	Memories   map[string][]store.Memory `json:"memories"`
	Chat       map[string][]ChatMessage  `json:"chat"`
}

type State struct {
	Auth AuthState `json:"auth"`
	UI   UIState   `json:"ui"`
	Data DataState `json:"data"`
}

func initialState() State {
	return State{
		UI: UIState{
			Theme:             ThemeDark,
			MobileNav:         NavFocus,
			ActiveWorkspaceID: GlobalWorkspace,
			ActiveTab:         "focus",
		},
		Data: emptyData(),
	}
}

func emptyData() DataState {
	return DataState{
		Workspaces: []store.Workspace{},
		Goals:      map[string][]store.Goal{},
		Todos:      map[string][]store.Todo{},
		Memories:   map[string][]store.Memory{},
		Chat:       map[string][]ChatMessage{},
	}
}

// Repository is the persistence the store drives.
type Repository interface {
	EnsureProfile(ctx context.Context, userID, emailHint string) (store.Profile, error)
	UpdateHandle(ctx context.Context, userID, handle string) (store.Profile, error)

	ListWorkspaces(ctx context.Context, ownerUserID string) ([]store.Workspace, error)
	CreateWorkspace(ctx context.Context, ownerUserID string, input repository.WorkspaceInput) (store.Workspace, error)
	UpdateWorkspace(ctx context.Context, workspaceID string, patch repository.WorkspacePatch) (store.Workspace, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error
	SeedPreset(ctx context.Context, ownerUserID string, preset repository.Preset, members []store.Member) (store.Workspace, error)

	ListGoals(ctx context.Context, workspaceID string) ([]store.Goal, error)
	AddGoal(ctx context.Context, workspaceID, title, summary string) (store.Goal, error)
	RemoveGoal(ctx context.Context, goalID string) error

	ListTodos(ctx context.Context, workspaceID string) ([]store.Todo, error)
	AddTodo(ctx context.Context, workspaceID, text string) (store.Todo, error)
	ToggleTodo(ctx context.Context, todoID string, done bool) (store.Todo, error)
	RemoveTodo(ctx context.Context, todoID string) error

	ListMemories(ctx context.Context, workspaceID string) ([]store.Memory, error)
	AddMemory(ctx context.Context, workspaceID, kind, text, sourceMessageID string) (store.Memory, error)
	RemoveMemory(ctx context.Context, memoryID string) error
}

// SessionProvider is the sign-in boundary. Subscribe delivers events
// asynchronously.
type SessionProvider interface {
	GetSession(ctx context.Context) (*session.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error)
	SignUp(ctx context.Context, email, password string) (*session.Session, error)
	SignOut(ctx context.Context) error
	Resume(ctx context.Context, accessToken string) (*session.Session, error)
	Subscribe(fn func(session.Event)) func()
}

// InviteNotifier is told about members added through InviteMember.
type InviteNotifier interface {
	NotifyInvite(ctx context.Context, ws store.Workspace, member store.Member, inviterEmail string) error
}

type Options struct {
	Repository Repository
	Sessions   SessionProvider
	// Blobs persists the theme preference. Defaults to an in-memory store.
	Blobs   blob.Store
	Invites InviteNotifier
	Logger  *slog.Logger
	Now     func() time.Time
	// BaseContext scopes work triggered by session events.
	BaseContext context.Context
}

// Listener observes every state change. It runs synchronously on the
// goroutine that made the change and must not dispatch actions itself.
type Listener func(State, Change)

// Store is the single application-state container.
type Store struct {
	repo     Repository
	sessions SessionProvider
	blobs    blob.Store
	invites  InviteNotifier
	logger   *slog.Logger
	now      func() time.Time
	baseCtx  context.Context

	mu       sync.Mutex
	state    State
	versions map[string]uint64
	// generation changes whenever Data is replaced wholesale, such as on
	// sign-out or a switch to another user.
	generation uint64
	// sessionSeq counts delivered session events.
	sessionSeq uint64

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int

	// Notifications are delivered in the order changes were made.
	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	published   uint64
	delivered   uint64

	queue    *sequencer
	loadMu   sync.Mutex
	authOnce sync.Once
	unsub    func()
}

func New(opts Options) *Store {
	s := &Store{
		repo:      opts.Repository,
		sessions:  opts.Sessions,
		blobs:     opts.Blobs,
		invites:   opts.Invites,
		logger:    opts.Logger,
		now:       opts.Now,
		baseCtx:   opts.BaseContext,
		state:     initialState(),
		versions:  map[string]uint64{},
		listeners: map[int]Listener{},
		queue:     newSequencer(),
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	s.deliverCond = sync.NewCond(&s.deliverMu)
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn and returns a func that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// Close detaches the store from session events.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// publishLocked hands change to the listeners and releases s.mu. Callers
// must hold s.mu.
func (s *Store) publishLocked(change Change) {
	snapshot := s.state.clone()
	s.deliverMu.Lock()
	s.published++
	ticket := s.published
	s.deliverMu.Unlock()
	s.mu.Unlock()

	s.deliverMu.Lock()
	for s.delivered != ticket-1 {
		s.deliverCond.Wait()
	}
	s.deliverMu.Unlock()

	for _, fn := range s.currentListeners() {
		fn(snapshot, change)
	}

	s.deliverMu.Lock()
	s.delivered = ticket
	s.deliverCond.Broadcast()
	s.deliverMu.Unlock()
}

// update runs fn under the state lock and publishes the resulting change.
func (s *Store) update(change Change, fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.publishLocked(change)
}

func (s *Store) currentListeners() []Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

// bump records that the collection changed and returns its new version.
func (s *Store) bump(key string) uint64 {
	s.versions[key]++
	return s.versions[key]
}

// resetDataLocked drops every cached collection. Changes still in flight
// settle without writing into the fresh data. s.mu must be held.
func (s *Store) resetDataLocked() {
	s.state.Data = emptyData()
	s.generation++
}

// ownsLocked reports whether workspaceID is among the signed-in user's
// workspaces. s.mu must be held.
func (s *Store) ownsLocked(workspaceID string) bool {
	return s.state.Auth.User != nil && containsWorkspace(s.state.Data.Workspaces, workspaceID)
}

func (st State) clone() State {
	out := st
	if st.Auth.User != nil {
		user := *st.Auth.User
		out.Auth.User = &user
	}
	if st.Auth.Profile != nil {
		profile := *st.Auth.Profile
		if profile.DisplayName != nil {
			name := *profile.DisplayName
			profile.DisplayName = &name
		}
		out.Auth.Profile = &profile
	}

	out.Data.Workspaces = make([]store.Workspace, len(st.Data.Workspaces))
	for i, ws := range st.Data.Workspaces {
		out.Data.Workspaces[i] = cloneWorkspace(ws)
	}
	out.Data.Goals = cloneMap(st.Data.Goals, func(g store.Goal) store.Goal { return g })
	out.Data.Todos = cloneMap(st.Data.Todos, func(t store.Todo) store.Todo { return t })
	out.Data.Memories = cloneMap(st.Data.Memories, cloneMemory)
	out.Data.Chat = cloneMap(st.Data.Chat, func(m ChatMessage) ChatMessage { return m })
	return out
}

func cloneWorkspace(ws store.Workspace) store.Workspace {
	if ws.Members != nil {
		ws.Members = append([]store.Member(nil), ws.Members...)
	}
	return ws
}

func cloneMemory(m store.Memory) store.Memory {
	if m.SourceMessageID != nil {
		id := *m.SourceMessageID
		m.SourceMessageID = &id
	}
	return m
}

func cloneMap[T any](in map[string][]T, cloneItem func(T) T) map[string][]T {
	out := make(map[string][]T, len(in))
	for key, items := range in {
		if items == nil {
			out[key] = nil
			continue
		}
		copied := make([]T, len(items))
		for i, item := range items {
			copied[i] = cloneItem(item)
		}
		out[key] = copied
	}
	return out
}
