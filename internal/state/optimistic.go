package state

import (
	"context"

	"canvas/api/internal/store"
)

// collection addresses one optimistic list inside State.
type collection[T any] struct {
	key string
	get func(*State) ([]T, bool)
	set func(*State, []T, bool)
	id  func(T) string
}

func workspacesCollection() collection[store.Workspace] {
	return collection[store.Workspace]{
		key: "workspaces",
		get: func(st *State) ([]store.Workspace, bool) { return st.Data.Workspaces, true },
		set: func(st *State, items []store.Workspace, _ bool) { st.Data.Workspaces = items },
		id:  func(ws store.Workspace) string { return ws.ID },
	}
}

func goalsCollection(workspaceID string) collection[store.Goal] {
	return mapCollection("goals:"+workspaceID, workspaceID,
		func(st *State) map[string][]store.Goal { return st.Data.Goals },
		func(g store.Goal) string { return g.ID })
}

func todosCollection(workspaceID string) collection[store.Todo] {
	return mapCollection("todos:"+workspaceID, workspaceID,
		func(st *State) map[string][]store.Todo { return st.Data.Todos },
		func(t store.Todo) string { return t.ID })
}

func memoriesCollection(workspaceID string) collection[store.Memory] {
	return mapCollection("memories:"+workspaceID, workspaceID,
		func(st *State) map[string][]store.Memory { return st.Data.Memories },
		func(m store.Memory) string { return m.ID })
}

func mapCollection[T any](key, workspaceID string, m func(*State) map[string][]T, id func(T) string) collection[T] {
	return collection[T]{
		key: key,
		get: func(st *State) ([]T, bool) {
			items, ok := m(st)[workspaceID]
			return items, ok
		},
		set: func(st *State, items []T, present bool) {
			if !present {
				delete(m(st), workspaceID)
				return
			}
			m(st)[workspaceID] = items
		},
		id: id,
	}
}

// pending is an applied optimistic change waiting for its remote result.
type pending[T any] struct {
	s       *Store
	col     collection[T]
	action  string
	wsID    string
	target  string
	before  []T
	present bool
	version uint64
	gen     uint64
	wait    <-chan struct{}
	done    func()
}

// begin snapshots the collection, applies fn and publishes PhaseApplied.
// s.mu must be held; it is released on return.
func begin[T any](s *Store, col collection[T], action, wsID, target string, fn func([]T) []T) *pending[T] {
	before, present := col.get(&s.state)
	col.set(&s.state, fn(before), true)
	p := &pending[T]{
		s:       s,
		col:     col,
		action:  action,
		wsID:    wsID,
		target:  target,
		before:  before,
		present: present,
		version: s.bump(col.key),
		gen:     s.generation,
	}
	p.wait, p.done = s.queue.enter(col.key)
	s.publishLocked(Change{Action: action, WorkspaceID: wsID, TargetID: target, Phase: PhaseApplied})
	return p
}

// settle waits for earlier mutations on the same collection and locks the
// state. The caller must finish with commit or rollback.
func (p *pending[T]) settle() {
	if p.wait != nil {
		<-p.wait
	}
	p.s.mu.Lock()
}

// stale reports whether Data was replaced since begin.
func (p *pending[T]) stale() bool {
	return p.s.generation != p.gen
}

// commit applies fn to the current list unless Data was replaced since begin.
func (p *pending[T]) commit(fn func([]T) []T) {
	defer p.done()
	current, present := p.col.get(&p.s.state)
	if fn != nil && !p.stale() {
		p.col.set(&p.s.state, fn(current), present)
	}
	p.s.bump(p.col.key)
	p.s.publishLocked(Change{Action: p.action, WorkspaceID: p.wsID, TargetID: p.target, Phase: PhaseCommitted})
}

// rollback restores the snapshot when nothing else touched the collection
// since begin, and otherwise applies inverse to the current list. Nothing is
// restored once Data was replaced.
func (p *pending[T]) rollback(err error, inverse func([]T) []T) error {
	defer p.done()
	switch {
	case p.stale():
	case p.s.versions[p.col.key] == p.version:
		p.col.set(&p.s.state, p.before, p.present)
	default:
		if current, present := p.col.get(&p.s.state); present {
			p.col.set(&p.s.state, inverse(current), true)
		}
	}
	p.s.bump(p.col.key)

	rbErr := &RollbackError{Action: p.action, WorkspaceID: p.wsID, TargetID: p.target, Err: err}
	p.s.logger.Warn("optimistic change rolled back",
		"action", p.action,
		"workspace_id", p.wsID,
		"target_id", p.target,
		"error", err,
	)
	p.s.publishLocked(Change{Action: p.action, WorkspaceID: p.wsID, TargetID: p.target, Phase: PhaseRolledBack, Err: rbErr})
	return rbErr
}

// optimisticCreate prepends placeholder, then swaps it for the saved record.
// A saved record the list lost to a reload in the meantime is prepended.
func optimisticCreate[T any](ctx context.Context, s *Store, col collection[T], action, wsID string, placeholder T, remote func(context.Context) (T, error)) (T, error) {
	var zero T
	tempID := col.id(placeholder)

	s.mu.Lock()
	if !s.ownsLocked(wsID) {
		s.mu.Unlock()
		return zero, ErrUnknownTarget
	}
	p := begin(s, col, action, wsID, tempID, func(items []T) []T {
		return append([]T{placeholder}, items...)
	})

	saved, err := remote(ctx)
	p.settle()
	if err != nil {
		return zero, p.rollback(err, func(items []T) []T { return without(items, col.id, tempID) })
	}
	savedID := col.id(saved)
	p.commit(func(items []T) []T {
		if indexOf(items, col.id, tempID) < 0 && indexOf(items, col.id, savedID) < 0 {
			return append([]T{saved}, items...)
		}
		out := make([]T, 0, len(items))
		for _, item := range items {
			switch col.id(item) {
			case tempID:
				out = append(out, saved)
			case savedID:
				// a reload already holds the authoritative record
				if indexOf(items, col.id, tempID) >= 0 {
					continue
				}
				out = append(out, item)
			default:
				out = append(out, item)
			}
		}
		return out
	})
	return saved, nil
}

// optimisticUpdate replaces the target with patch(target) and then with the
// saved record.
func optimisticUpdate[T any](ctx context.Context, s *Store, col collection[T], action, wsID, targetID string, patch func(T) T, remote func(context.Context) (T, error)) (T, error) {
	var zero T

	s.mu.Lock()
	items, _ := col.get(&s.state)
	idx := indexOf(items, col.id, targetID)
	if idx < 0 || !s.ownsLocked(wsID) {
		s.mu.Unlock()
		return zero, ErrUnknownTarget
	}
	original := items[idx]
	p := begin(s, col, action, wsID, targetID, func(items []T) []T {
		return replaced(items, col.id, targetID, patch(original))
	})

	saved, err := remote(ctx)
	p.settle()
	if err != nil {
		return zero, p.rollback(err, func(items []T) []T { return replaced(items, col.id, targetID, original) })
	}
	p.commit(func(items []T) []T { return replaced(items, col.id, targetID, saved) })
	return saved, nil
}

// optimisticDelete removes the target and reinserts it at its old index if
// the remote call fails.
func optimisticDelete[T any](ctx context.Context, s *Store, col collection[T], action, wsID, targetID string, remote func(context.Context) error) error {
	s.mu.Lock()
	items, _ := col.get(&s.state)
	idx := indexOf(items, col.id, targetID)
	if idx < 0 || !s.ownsLocked(wsID) {
		s.mu.Unlock()
		return ErrUnknownTarget
	}
	original := items[idx]
	p := begin(s, col, action, wsID, targetID, func(items []T) []T {
		return without(items, col.id, targetID)
	})

	err := remote(ctx)
	p.settle()
	if err != nil {
		return p.rollback(err, func(items []T) []T {
			if indexOf(items, col.id, targetID) >= 0 {
				return items
			}
			at := min(idx, len(items))
			out := make([]T, 0, len(items)+1)
			out = append(out, items[:at]...)
			out = append(out, original)
			return append(out, items[at:]...)
		})
	}
	p.commit(nil)
	return nil
}

func indexOf[T any](items []T, id func(T) string, target string) int {
	for i, item := range items {
		if id(item) == target {
			return i
		}
	}
	return -1
}

func without[T any](items []T, id func(T) string, target string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if id(item) != target {
			out = append(out, item)
		}
	}
	return out
}

func replaced[T any](items []T, id func(T) string, target string, next T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		if id(item) == target {
			out[i] = next
			continue
		}
		out[i] = item
	}
	return out
}
