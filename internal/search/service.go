package search

import (
	"context"
	"log/slog"
	"sync"

	"canvas/api/internal/state"
)

// Backend is a searcher that also owns an index, such as Meili.
type Backend interface {
	Searcher
	Healthy() bool
	IndexRecords(records []Record) error
	DeleteRecords(records []Record) error
}

// Service is the facade that tries the index backend first and falls back
// to a direct searcher (Postgres FTS or the in-memory state).
type Service struct {
	backend  Backend
	fallback Searcher
	logger   *slog.Logger

	mu      sync.Mutex
	indexed map[string]map[string]ResultType
	// Index writes run one at a time, in the order Listen queued them.
	queue    []indexJob
	draining bool
	wg       sync.WaitGroup
}

type indexJob struct {
	upserts []Record
	deletes []Record
}

// NewService creates a search service. backend may be nil when Meilisearch
// is not configured.
func NewService(backend Backend, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		fallback: fallback,
		logger:   logger.With("component", "search"),
		indexed:  map[string]map[string]ResultType{},
	}
}

func (s *Service) backendReady() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search tries the backend if healthy, otherwise uses the fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.backendReady() {
		results, total, err := s.backend.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("backend search failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Listen keeps the index in step with confirmed state. It is meant to be
// registered with state.Store.Subscribe. The network calls run on a
// background worker so delivery is never held up.
func (s *Service) Listen(st state.State, change state.Change) {
	switch change.Phase {
	case state.PhaseCommitted, state.PhaseChanged, state.PhaseRolledBack:
	default:
		return
	}
	switch change.Action {
	case state.ActionSetTheme, state.ActionSetUI, state.ActionSendChat, state.ActionSetActiveWorkspace:
		return
	}
	if st.Auth.User == nil || !s.backendReady() {
		return
	}

	scope := change.WorkspaceID
	if change.Action == state.ActionLoadUserData {
		scope = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	upserts, deletes := s.diffLocked(st, scope)
	if len(upserts) == 0 && len(deletes) == 0 {
		return
	}
	s.wg.Add(1)
	s.queue = append(s.queue, indexJob{upserts: upserts, deletes: deletes})
	if !s.draining {
		s.draining = true
		go s.drain()
	}
}

// drain runs queued index writes until the queue is empty.
func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.write(job)
		s.wg.Done()
	}
}

func (s *Service) write(job indexJob) {
	if len(job.upserts) > 0 {
		if err := s.backend.IndexRecords(job.upserts); err != nil {
			s.logger.Warn("index records", "count", len(job.upserts), "error", err)
		}
	}
	if len(job.deletes) > 0 {
		if err := s.backend.DeleteRecords(job.deletes); err != nil {
			s.logger.Warn("delete records", "count", len(job.deletes), "error", err)
		}
	}
}

// diffLocked returns the records to upsert for scope and the previously
// indexed records that no longer exist. A child collection that has not been
// loaded into st is left alone. An empty scope covers every workspace.
// s.mu must be held.
func (s *Service) diffLocked(st state.State, scope string) ([]Record, []Record) {
	current := RecordsFromState(st, scope)
	byWorkspace := map[string]map[string]ResultType{}
	for _, record := range current {
		ids, ok := byWorkspace[record.WorkspaceID]
		if !ok {
			ids = map[string]ResultType{}
			byWorkspace[record.WorkspaceID] = ids
		}
		ids[record.ID] = record.Type
	}

	var deletes []Record
	for wsID, previous := range s.indexed {
		if scope != "" && wsID != scope {
			continue
		}
		next, ok := byWorkspace[wsID]
		if !ok {
			next = map[string]ResultType{}
			byWorkspace[wsID] = next
		}
		for id, rtyp := range previous {
			if _, ok := next[id]; ok {
				continue
			}
			if !loaded(st, wsID, rtyp) {
				next[id] = rtyp
				continue
			}
			deletes = append(deletes, Record{ID: id, Type: rtyp, WorkspaceID: wsID})
		}
	}
	for wsID, ids := range byWorkspace {
		if len(ids) == 0 {
			delete(s.indexed, wsID)
			continue
		}
		s.indexed[wsID] = ids
	}
	return current, deletes
}

func loaded(st state.State, workspaceID string, rtyp ResultType) bool {
	exists := false
	for _, ws := range st.Data.Workspaces {
		if ws.ID == workspaceID {
			exists = true
			break
		}
	}
	if !exists {
		return true
	}
	var ok bool
	switch rtyp {
	case ResultGoal:
		_, ok = st.Data.Goals[workspaceID]
	case ResultTodo:
		_, ok = st.Data.Todos[workspaceID]
	case ResultMemory:
		_, ok = st.Data.Memories[workspaceID]
	default:
		ok = true
	}
	return ok
}

// Wait blocks until pending index writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Reindex pushes every record loaded from Postgres into the backend.
func (s *Service) Reindex(ctx context.Context, source *PgFTS) {
	if !s.backendReady() || source == nil {
		return
	}
	records, err := source.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.backend.IndexRecords(records); err != nil {
		s.logger.Warn("reindex", "count", len(records), "error", err)
		return
	}
	s.logger.Info("reindexed", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
