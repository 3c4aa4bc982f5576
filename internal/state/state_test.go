package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"canvas/api/internal/assistant"
	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/blob"
	"canvas/api/internal/repository"
	"canvas/api/internal/session"
	"canvas/api/internal/store"
)

const testTable = "canvases"

// gatedRecords blocks inserts whose title or text has a registered gate
// until the test releases it with the error the call should return.
type gatedRecords struct {
	store.RecordStore

	mu    sync.Mutex
	gates map[string]chan error
}

func newGatedRecords(inner store.RecordStore) *gatedRecords {
	return &gatedRecords{RecordStore: inner, gates: map[string]chan error{}}
}

func (g *gatedRecords) hold(label string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan error, 1)
	g.gates[label] = ch
	return ch
}

// wait blocks on the gate registered for label, if any.
func (g *gatedRecords) wait(label string) error {
	g.mu.Lock()
	gate, ok := g.gates[label]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	return <-gate
}

func (g *gatedRecords) Insert(ctx context.Context, table string, row store.Row) (json.RawMessage, error) {
	label, _ := row["title"].(string)
	if label == "" {
		label, _ = row["text"].(string)
	}
	if err := g.wait(label); err != nil {
		return nil, err
	}
	return g.RecordStore.Insert(ctx, table, row)
}

// Update is gated under "update:<id>".
func (g *gatedRecords) Update(ctx context.Context, table, id string, patch store.Row) (json.RawMessage, error) {
	if err := g.wait("update:" + id); err != nil {
		return nil, err
	}
	return g.RecordStore.Update(ctx, table, id, patch)
}

// Delete is gated under "delete:<id>".
func (g *gatedRecords) Delete(ctx context.Context, table, id string) error {
	if err := g.wait("delete:" + id); err != nil {
		return err
	}
	return g.RecordStore.Delete(ctx, table, id)
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) listen(_ State, change Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recorder) phases(action string) []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Phase
	for _, change := range r.changes {
		if change.Action == action {
			out = append(out, change.Phase)
		}
	}
	return out
}

func (r *recorder) targets(action string, phase Phase) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, change := range r.changes {
		if change.Action == action && change.Phase == phase {
			out = append(out, change.TargetID)
		}
	}
	return out
}

type fixture struct {
	records *store.MemoryStore
	gated   *gatedRecords
	repo    *repository.Repository
	store   *Store
	events  *recorder
	user    session.User
	ws      store.Workspace
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a signed-in store with one loaded workspace.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	records := store.NewMemoryStore(store.DefaultTables(testTable)...)
	gated := newGatedRecords(records)
	repo := repository.New(gated, testTable)

	s := New(Options{Repository: repo, Logger: quietLogger()})
	user := session.User{ID: "user-1", Email: "alex@example.com"}
	profile, err := repo.EnsureProfile(ctx, user.ID, user.Email)
	require.NoError(t, err)
	s.state.Auth.User = &user
	s.state.Auth.Authenticated = true
	s.state.Auth.Profile = &profile

	name := "Launch"
	ws, err := repo.CreateWorkspace(ctx, user.ID, repository.WorkspaceInput{Name: &name})
	require.NoError(t, err)
	require.NoError(t, s.LoadUserData(ctx))

	events := &recorder{}
	s.Subscribe(events.listen)
	return &fixture{records: records, gated: gated, repo: repo, store: s, events: events, user: user, ws: ws}
}

func TestAddGoalRollbackRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.AddGoal(ctx, f.ws.ID, "Existing")
	require.NoError(t, err)

	before := f.store.Snapshot()
	f.records.Fail(store.TableGoals, store.OpInsert, errors.New("network down"))

	_, err = f.store.AddGoal(ctx, f.ws.ID, "Doomed")
	require.Error(t, err)

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, ActionAddGoal, rbErr.Action)
	assert.Equal(t, f.ws.ID, rbErr.WorkspaceID)

	var remote *repository.RemoteStoreError
	assert.ErrorAs(t, err, &remote)

	assert.Equal(t, before, f.store.Snapshot())
	assert.Equal(t, []Phase{PhaseApplied, PhaseCommitted, PhaseApplied, PhaseRolledBack}, f.events.phases(ActionAddGoal))
}

func TestAddGoalCommitReplacesPlaceholder(t *testing.T) {
	f := newFixture(t)

	var sawPlaceholder bool
	f.store.Subscribe(func(st State, change Change) {
		if change.Action == ActionAddGoal && change.Phase == PhaseApplied {
			goals := st.Data.Goals[f.ws.ID]
			sawPlaceholder = len(goals) == 1 && IsPlaceholder(goals[0].ID) && goals[0].Title == "Ship beta"
		}
	})

	goal, err := f.store.AddGoal(context.Background(), f.ws.ID, "  Ship beta ")
	require.NoError(t, err)
	assert.True(t, sawPlaceholder)
	assert.False(t, IsPlaceholder(goal.ID))

	goals := f.store.Snapshot().Data.Goals[f.ws.ID]
	require.Len(t, goals, 1)
	assert.Equal(t, goal, goals[0])
	assert.Equal(t, repository.DefaultGoalSummary, goals[0].Summary)
}

func TestAddGoalRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddGoal(context.Background(), f.ws.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.events.phases(ActionAddGoal))
}

func TestConfirmationsFollowDispatchOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gateA := f.gated.hold("A")
	gateB := f.gated.hold("B")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.store.AddGoal(ctx, f.ws.ID, "A")
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Goals[f.ws.ID]) == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		_, _ = f.store.AddGoal(ctx, f.ws.ID, "B")
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Goals[f.ws.ID]) == 2 }, time.Second, time.Millisecond)

	applied := f.events.targets(ActionAddGoal, PhaseApplied)
	require.Len(t, applied, 2)

	gateB <- nil
	require.Never(t, func() bool { return len(f.events.targets(ActionAddGoal, PhaseCommitted)) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	gateA <- nil
	wg.Wait()

	assert.Equal(t, applied, f.events.targets(ActionAddGoal, PhaseCommitted))
	goals := f.store.Snapshot().Data.Goals[f.ws.ID]
	require.Len(t, goals, 2)
	assert.Equal(t, "B", goals[0].Title)
	assert.Equal(t, "A", goals[1].Title)
	for _, goal := range goals {
		assert.False(t, IsPlaceholder(goal.ID))
	}
}

func TestRollbackKeepsOtherInFlightChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gateA := f.gated.hold("A")
	gateB := f.gated.hold("B")

	errs := make(chan error, 2)
	go func() {
		_, err := f.store.AddTodo(ctx, f.ws.ID, "A")
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Todos[f.ws.ID]) == 1 }, time.Second, time.Millisecond)
	go func() {
		_, err := f.store.AddTodo(ctx, f.ws.ID, "B")
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Todos[f.ws.ID]) == 2 }, time.Second, time.Millisecond)

	gateA <- errors.New("timeout")
	gateB <- nil

	var failures int
	for range 2 {
		if err := <-errs; err != nil {
			assert.True(t, IsRollback(err))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	todos := f.store.Snapshot().Data.Todos[f.ws.ID]
	require.Len(t, todos, 1)
	assert.Equal(t, "B", todos[0].Text)
	assert.False(t, IsPlaceholder(todos[0].ID))
}

func TestToggleTodoCommitAndRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	todo, err := f.store.AddTodo(ctx, f.ws.ID, "Write brief")
	require.NoError(t, err)

	toggled, err := f.store.ToggleTodo(ctx, f.ws.ID, todo.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsDone)
	assert.True(t, f.store.Snapshot().Data.Todos[f.ws.ID][0].IsDone)

	before := f.store.Snapshot()
	f.records.Fail(store.TableTodos, store.OpUpdate, errors.New("boom"))
	_, err = f.store.ToggleTodo(ctx, f.ws.ID, todo.ID)
	require.True(t, IsRollback(err))
	assert.Equal(t, before, f.store.Snapshot())

	_, err = f.store.ToggleTodo(ctx, f.ws.ID, "missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestRemoveRollbackRestoresPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.store.AddMemory(ctx, f.ws.ID, store.MemoryDecision, text, "")
		require.NoError(t, err)
	}
	before := f.store.Snapshot()
	middle := before.Data.Memories[f.ws.ID][1]

	f.records.Fail(store.TableMemories, store.OpDelete, errors.New("denied"))
	err := f.store.RemoveMemory(ctx, f.ws.ID, middle.ID)
	require.True(t, IsRollback(err))
	assert.Equal(t, before, f.store.Snapshot())

	f.records.Fail(store.TableMemories, store.OpDelete, nil)
	require.NoError(t, f.store.RemoveMemory(ctx, f.ws.ID, middle.ID))
	assert.Len(t, f.store.Snapshot().Data.Memories[f.ws.ID], 2)
	assert.Equal(t, 2, f.records.Count(store.TableMemories))
}

func TestLoadCanvasContentSeedsGreetingOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.LoadCanvasContent(ctx, f.ws.ID))
	require.NoError(t, f.store.LoadCanvasContent(ctx, f.ws.ID))

	chat := f.store.Snapshot().Data.Chat[f.ws.ID]
	require.Len(t, chat, 1)
	assert.Equal(t, RoleAssistant, chat[0].Role)
	assert.Equal(t, assistant.Greeting, chat[0].Text)
}

func TestLoadCanvasContentOrdersLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	f.records.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	_, err := f.repo.AddGoal(ctx, f.ws.ID, "G1", "")
	require.NoError(t, err)
	_, err = f.repo.AddGoal(ctx, f.ws.ID, "G2", "")
	require.NoError(t, err)
	_, err = f.repo.AddMemory(ctx, f.ws.ID, store.MemoryPrinciple, "M1", "")
	require.NoError(t, err)
	_, err = f.repo.AddMemory(ctx, f.ws.ID, store.MemoryPrinciple, "M2", "")
	require.NoError(t, err)

	require.NoError(t, f.store.LoadCanvasContent(ctx, f.ws.ID))
	data := f.store.Snapshot().Data
	require.Len(t, data.Goals[f.ws.ID], 2)
	assert.Equal(t, "G1", data.Goals[f.ws.ID][0].Title)
	assert.Equal(t, "G2", data.Goals[f.ws.ID][1].Title)
	require.Len(t, data.Memories[f.ws.ID], 2)
	assert.Equal(t, "M2", data.Memories[f.ws.ID][0].Text)
	assert.Equal(t, "M1", data.Memories[f.ws.ID][1].Text)
}

func TestLoadCanvasContentFailure(t *testing.T) {
	f := newFixture(t)
	f.records.Fail(store.TableTodos, store.OpSelect, errors.New("offline"))

	err := f.store.LoadCanvasContent(context.Background(), f.ws.ID)
	require.Error(t, err)
	assert.Equal(t, []Phase{PhaseFailed}, f.events.phases(ActionLoadCanvasContent))
}

func TestLoadUserDataSeedsPresetsForNewUser(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore(store.DefaultTables(testTable)...)
	repo := repository.New(records, testTable)
	s := New(Options{Repository: repo, Logger: quietLogger()})
	s.state.Auth.User = &session.User{ID: "user-2", Email: "sam@example.com"}

	require.NoError(t, s.LoadUserData(ctx))

	presets, err := repository.DemoPresets()
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Len(t, snap.Data.Workspaces, len(presets))
	assert.Equal(t, presets[0].Name, snap.Data.Workspaces[0].Name)
	assert.Equal(t, snap.Data.Workspaces[0].ID, snap.UI.ActiveWorkspaceID)
	require.Len(t, snap.Data.Workspaces[0].Members, 1)
	assert.Equal(t, "sam@example.com", snap.Data.Workspaces[0].Members[0].Email)
	assert.Equal(t, store.RoleEditor, snap.Data.Workspaces[0].Members[0].Role)
	assert.Len(t, snap.Data.Goals[snap.UI.ActiveWorkspaceID], len(presets[0].Goals))

	require.NoError(t, s.LoadUserData(ctx))
	assert.Equal(t, len(presets), records.Count(testTable))
}

func TestLoadUserDataWithoutUserIsNoop(t *testing.T) {
	records := store.NewMemoryStore(store.DefaultTables(testTable)...)
	s := New(Options{Repository: repository.New(records, testTable), Logger: quietLogger()})
	require.NoError(t, s.LoadUserData(context.Background()))
	assert.Empty(t, s.Snapshot().Data.Workspaces)
}

func TestCreateWorkspaceBecomesActive(t *testing.T) {
	f := newFixture(t)

	ws, err := f.store.CreateWorkspace(context.Background(), "product launch plan")
	require.NoError(t, err)
	assert.Equal(t, "PL", ws.AvatarInitials)
	assert.Equal(t, NewWorkspaceSubtitle, ws.Subtitle)

	snap := f.store.Snapshot()
	assert.Equal(t, ws.ID, snap.Data.Workspaces[0].ID)
	assert.Equal(t, ws.ID, snap.UI.ActiveWorkspaceID)
	require.Len(t, ws.Members, 1)
	assert.Equal(t, "alex", ws.Members[0].Name)
	assert.Len(t, snap.Data.Chat[ws.ID], 1)
}

func TestUpdateWorkspaceRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.store.Snapshot()

	f.records.Fail(testTable, store.OpUpdate, errors.New("conflict"))
	name := "Renamed"
	_, err := f.store.UpdateWorkspace(ctx, f.ws.ID, repository.WorkspacePatch{Name: &name})
	require.True(t, IsRollback(err))
	assert.Equal(t, before, f.store.Snapshot())

	f.records.Fail(testTable, store.OpUpdate, nil)
	updated, err := f.store.UpdateWorkspace(ctx, f.ws.ID, repository.WorkspacePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "Renamed", f.store.Snapshot().Data.Workspaces[0].Name)

	bad := "Unknown"
	_, err = f.store.UpdateWorkspace(ctx, f.ws.ID, repository.WorkspacePatch{StatusLabel: &bad})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestDeleteWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddGoal(ctx, f.ws.ID, "Goal")
	require.NoError(t, err)

	t.Run("rollback restores list and active workspace", func(t *testing.T) {
		before := f.store.Snapshot()
		f.records.Fail(testTable, store.OpDelete, errors.New("locked"))
		defer f.records.Fail(testTable, store.OpDelete, nil)

		err := f.store.DeleteWorkspace(ctx, f.ws.ID)
		require.True(t, IsRollback(err))
		assert.Equal(t, before, f.store.Snapshot())
	})

	t.Run("commit drops cached content", func(t *testing.T) {
		require.NoError(t, f.store.DeleteWorkspace(ctx, f.ws.ID))
		snap := f.store.Snapshot()
		assert.Empty(t, snap.Data.Workspaces)
		assert.Equal(t, GlobalWorkspace, snap.UI.ActiveWorkspaceID)
		assert.NotContains(t, snap.Data.Goals, f.ws.ID)
		assert.NotContains(t, snap.Data.Chat, f.ws.ID)
		assert.Equal(t, 0, f.records.Count(store.TableGoals))
	})
}

type inviteRecorder struct {
	invited []store.Member
}

func (r *inviteRecorder) NotifyInvite(_ context.Context, _ store.Workspace, member store.Member, _ string) error {
	r.invited = append(r.invited, member)
	return nil
}

func TestInviteMember(t *testing.T) {
	f := newFixture(t)
	invites := &inviteRecorder{}
	f.store.invites = invites
	ctx := context.Background()

	member, err := f.store.InviteMember(ctx, f.ws.ID, "Jordan <Jordan@Example.com>", "EDITOR")
	require.NoError(t, err)
	assert.Equal(t, "jordan@example.com", member.Email)
	assert.Equal(t, store.RoleEditor, member.Role)
	assert.Equal(t, []store.Member{member}, invites.invited)
	assert.Len(t, f.store.Snapshot().Data.Workspaces[0].Members, 1)

	_, err = f.store.InviteMember(ctx, f.ws.ID, "jordan@example.com", "viewer")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = f.store.InviteMember(ctx, f.ws.ID, "not-an-email", "viewer")
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestChatAndCaptureMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetChatInput("draft")

	_, err := f.store.CaptureMemoryFromLastAssistant(ctx, "other", store.MemoryDecision)
	assert.ErrorIs(t, err, ErrNoAssistantMessage)

	reply, err := f.store.SendChatMessage(f.ws.ID, "Draft a stakeholder update", assistant.ModeGoals)
	require.NoError(t, err)
	assert.Equal(t, assistant.Reply("Draft a stakeholder update", assistant.ModeGoals, assistant.Context{WorkspaceName: "Launch"}), reply.Text)

	snap := f.store.Snapshot()
	chat := snap.Data.Chat[f.ws.ID]
	require.Len(t, chat, 3)
	assert.Equal(t, RoleUser, chat[1].Role)
	assert.Empty(t, snap.UI.ChatInput)

	memory, err := f.store.CaptureMemoryFromLastAssistant(ctx, f.ws.ID, store.MemoryDecision)
	require.NoError(t, err)
	require.NotNil(t, memory.SourceMessageID)
	assert.Equal(t, reply.ID, *memory.SourceMessageID)
	assert.Equal(t, reply.Text, memory.Text)

	_, err = f.store.SendChatMessage(f.ws.ID, "  ", assistant.ModeFocus)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestThemePersistence(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemoryStore()

	s := New(Options{Blobs: blobs, Logger: quietLogger()})
	assert.Equal(t, ThemeDark, s.Snapshot().UI.Theme)
	require.NoError(t, s.ToggleTheme(ctx))
	assert.Equal(t, ThemeLight, s.Snapshot().UI.Theme)
	assert.ErrorIs(t, s.SetTheme(ctx, "sepia"), ErrInvalidTheme)

	restored := New(Options{Blobs: blobs, Logger: quietLogger()})
	require.NoError(t, restored.RestoreTheme(ctx))
	assert.Equal(t, ThemeLight, restored.Snapshot().UI.Theme)
}

func TestUISetters(t *testing.T) {
	s := New(Options{Logger: quietLogger()})
	s.SetActiveTab("goals")
	s.SetMobileNav(NavCanvases)
	s.SetSwitcherOpen(true)
	s.SetChatOpen(true)
	s.SetToast("Saved")

	ui := s.Snapshot().UI
	assert.Equal(t, "goals", ui.ActiveTab)
	assert.Equal(t, NavCanvases, ui.MobileNav)
	assert.True(t, ui.SwitcherOpen)
	assert.True(t, ui.ChatOpen)
	assert.Equal(t, "Saved", ui.Toast)

	require.NoError(t, s.SetActiveWorkspace(context.Background(), GlobalWorkspace))
	ui = s.Snapshot().UI
	assert.Equal(t, "focus", ui.ActiveTab)
	assert.False(t, ui.SwitcherOpen)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	f := newFixture(t)
	snap := f.store.Snapshot()
	snap.Data.Workspaces[0].Name = "mutated"
	snap.Auth.Profile.Handle = "mutated"
	snap.Data.Chat[f.ws.ID][0].Text = "mutated"

	fresh := f.store.Snapshot()
	assert.Equal(t, "Launch", fresh.Data.Workspaces[0].Name)
	assert.Equal(t, "alex", fresh.Auth.Profile.Handle)
	assert.Equal(t, assistant.Greeting, fresh.Data.Chat[f.ws.ID][0].Text)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore(store.DefaultTables(testTable)...)
	repo := repository.New(records, testTable)
	accounts := authpw.NewService(authpw.NewRecordUserStore(records)).WithCost(bcrypt.MinCost)
	manager := session.NewManager(accounts, session.NewMemoryStore(), auth.NewSigner("secret", time.Hour), time.Hour)
	t.Cleanup(manager.Close)

	s := New(Options{Repository: repo, Sessions: manager, Logger: quietLogger()})
	t.Cleanup(s.Close)
	require.NoError(t, s.InitializeAuth(ctx))
	require.NoError(t, s.InitializeAuth(ctx))

	snap := s.Snapshot()
	assert.True(t, snap.Auth.Ready)
	assert.False(t, snap.Auth.Authenticated)

	err := s.SignIn(ctx, "nobody@example.com", "password123")
	require.True(t, IsAuthError(err))
	assert.NotEmpty(t, s.Snapshot().Auth.Error)

	require.NoError(t, s.SignUp(ctx, "casey@example.com", "password123"))
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Auth.Profile != nil && len(snap.Data.Workspaces) == 3
	}, 2*time.Second, 5*time.Millisecond)
	snap = s.Snapshot()
	assert.Equal(t, "casey", snap.Auth.Profile.Handle)
	assert.Empty(t, snap.Auth.Error)

	require.NoError(t, s.SetHandle(ctx, "casey-ops"))
	assert.Equal(t, "casey-ops", s.Snapshot().Auth.Profile.Handle)

	require.NoError(t, s.Logout(ctx))
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return !snap.Auth.Authenticated && len(snap.Data.Workspaces) == 0
	}, 2*time.Second, 5*time.Millisecond)
	snap = s.Snapshot()
	assert.Nil(t, snap.Auth.Profile)
	assert.Equal(t, GlobalWorkspace, snap.UI.ActiveWorkspaceID)
}

func (f *fixture) signOut() {
	f.store.onSessionEvent(session.Event{Kind: session.EventSignedOut})
}

func TestSignOutDuringUpdateKeepsStateCleared(t *testing.T) {
	f := newFixture(t)
	gate := f.gated.hold("update:" + f.ws.ID)

	errs := make(chan error, 1)
	go func() {
		name := "Secret plans"
		_, err := f.store.UpdateWorkspace(context.Background(), f.ws.ID, repository.WorkspacePatch{Name: &name})
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(f.events.phases(ActionUpdateWorkspace)) == 1 }, time.Second, time.Millisecond)

	f.signOut()
	gate <- errors.New("connection reset")
	assert.True(t, IsRollback(<-errs))

	snap := f.store.Snapshot()
	assert.False(t, snap.Auth.Authenticated)
	assert.Empty(t, snap.Data.Workspaces)
	assert.Equal(t, GlobalWorkspace, snap.UI.ActiveWorkspaceID)
}

func TestSignOutDuringAddGoalDropsCommit(t *testing.T) {
	f := newFixture(t)
	gate := f.gated.hold("Secret goal")

	errs := make(chan error, 1)
	go func() {
		_, err := f.store.AddGoal(context.Background(), f.ws.ID, "Secret goal")
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Goals[f.ws.ID]) == 1 }, time.Second, time.Millisecond)

	f.signOut()
	gate <- nil
	require.NoError(t, <-errs)

	_, cached := f.store.Snapshot().Data.Goals[f.ws.ID]
	assert.False(t, cached)
}

func TestSignOutDuringDeleteKeepsActiveWorkspaceCleared(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, f.ws.ID, f.store.Snapshot().UI.ActiveWorkspaceID)
	gate := f.gated.hold("delete:" + f.ws.ID)

	errs := make(chan error, 1)
	go func() {
		errs <- f.store.DeleteWorkspace(context.Background(), f.ws.ID)
	}()
	require.Eventually(t, func() bool { return len(f.events.phases(ActionDeleteWorkspace)) == 1 }, time.Second, time.Millisecond)

	f.signOut()
	gate <- errors.New("denied")
	assert.True(t, IsRollback(<-errs))

	snap := f.store.Snapshot()
	assert.Empty(t, snap.Data.Workspaces)
	assert.Equal(t, GlobalWorkspace, snap.UI.ActiveWorkspaceID)
}

func TestSessionForAnotherUserDropsCachedData(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddGoal(context.Background(), f.ws.ID, "Private goal")
	require.NoError(t, err)

	other := session.User{ID: "user-2", Email: "jordan@example.com"}
	f.store.onSessionEvent(session.Event{Kind: session.EventSignedIn, Session: &session.Session{ID: "sess-2", User: other}})

	snap := f.store.Snapshot()
	require.NotNil(t, snap.Auth.User)
	assert.Equal(t, other.ID, snap.Auth.User.ID)
	assert.Equal(t, "jordan", snap.Auth.Profile.Handle)
	require.NotEmpty(t, snap.Data.Workspaces)
	for _, ws := range snap.Data.Workspaces {
		assert.Equal(t, other.ID, ws.OwnerUserID)
	}
	_, cached := snap.Data.Goals[f.ws.ID]
	assert.False(t, cached)
}

func TestForeignWorkspaceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "Not yours"
	foreign, err := f.repo.CreateWorkspace(ctx, "user-2", repository.WorkspaceInput{Name: &name})
	require.NoError(t, err)
	_, err = f.repo.AddGoal(ctx, foreign.ID, "Their goal", "")
	require.NoError(t, err)

	_, err = f.store.AddGoal(ctx, foreign.ID, "Sneaky goal")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	_, err = f.store.AddTodo(ctx, foreign.ID, "Sneaky todo")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	_, err = f.store.AddMemory(ctx, foreign.ID, store.MemoryDecision, "Sneaky memory", "")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	_, err = f.store.SendChatMessage(foreign.ID, "hello", assistant.ModeFocus)
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.ErrorIs(t, f.store.LoadCanvasContent(ctx, foreign.ID), ErrUnknownTarget)
	assert.ErrorIs(t, f.store.SetActiveWorkspace(ctx, foreign.ID), ErrUnknownTarget)

	goals, err := f.records.Select(ctx, store.TableGoals, store.Query{Filter: store.Filter{"canvas_id": foreign.ID}})
	require.NoError(t, err)
	assert.Len(t, goals, 1)

	snap := f.store.Snapshot()
	assert.Equal(t, f.ws.ID, snap.UI.ActiveWorkspaceID)
	assert.NotContains(t, snap.Data.Goals, foreign.ID)
	assert.NotContains(t, snap.Data.Chat, foreign.ID)
	assert.Empty(t, f.events.phases(ActionAddGoal))
}

func TestReloadDuringAddKeepsSavedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := f.gated.hold("Late goal")

	type result struct {
		goal store.Goal
		err  error
	}
	done := make(chan result, 1)
	go func() {
		goal, err := f.store.AddGoal(ctx, f.ws.ID, "Late goal")
		done <- result{goal, err}
	}()
	require.Eventually(t, func() bool { return len(f.store.Snapshot().Data.Goals[f.ws.ID]) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.store.LoadCanvasContent(ctx, f.ws.ID))
	require.Empty(t, f.store.Snapshot().Data.Goals[f.ws.ID])

	gate <- nil
	res := <-done
	require.NoError(t, res.err)

	goals := f.store.Snapshot().Data.Goals[f.ws.ID]
	require.Len(t, goals, 1)
	assert.Equal(t, res.goal, goals[0])
	assert.Equal(t, 1, f.records.Count(store.TableGoals))
}

// racingSessions reports a stale session from GetSession after delivering a
// newer event to whoever subscribed first.
type racingSessions struct {
	SessionProvider
	listener func(session.Event)
	stale    *session.Session
	event    session.Event
}

func (r *racingSessions) Subscribe(fn func(session.Event)) func() {
	r.listener = fn
	return func() {}
}

func (r *racingSessions) GetSession(context.Context) (*session.Session, error) {
	if r.listener != nil {
		r.listener(r.event)
	}
	return r.stale, nil
}

func TestInitializeAuthKeepsEventDeliveredDuringRestore(t *testing.T) {
	records := store.NewMemoryStore(store.DefaultTables(testTable)...)
	sessions := &racingSessions{
		stale: &session.Session{ID: "sess-1", User: session.User{ID: "user-1", Email: "alex@example.com"}},
		event: session.Event{Kind: session.EventSignedOut},
	}
	s := New(Options{Repository: repository.New(records, testTable), Sessions: sessions, Logger: quietLogger()})
	t.Cleanup(s.Close)

	require.NoError(t, s.InitializeAuth(context.Background()))

	snap := s.Snapshot()
	assert.True(t, snap.Auth.Ready)
	assert.False(t, snap.Auth.Authenticated)
	assert.Nil(t, snap.Auth.User)
	assert.Empty(t, snap.Data.Workspaces)
}
