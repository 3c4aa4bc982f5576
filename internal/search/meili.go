package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxWorkspaces = "canvas_workspaces"
	idxGoals      = "canvas_goals"
	idxTodos      = "canvas_todos"
	idxMemories   = "canvas_memories"
)

var indexTypes = []struct {
	uid  string
	rtyp ResultType
}{
	{idxWorkspaces, ResultWorkspace},
	{idxGoals, ResultGoal},
	{idxTodos, ResultTodo},
	{idxMemories, ResultMemory},
}

var ErrUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher and the indexing side via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is reported through Healthy and rechecked in the
// background.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With("component", "search"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	filterable := []interface{}{"workspace_id", "owner_user_id"}
	searchable := []string{"title", "body"}

	for _, idx := range indexTypes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index", "index", idx.uid, "error", err)
		}
		index := m.client.Index(idx.uid)
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", idx.uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries every index (or the one matching FilterType) and merges
// the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrUnhealthy
	}

	queries := buildRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func buildRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var filters []string
	if q.WorkspaceID != "" {
		filters = append(filters, fmt.Sprintf("workspace_id = %q", q.WorkspaceID))
	}
	if q.OwnerUserID != "" {
		filters = append(filters, fmt.Sprintf("owner_user_id = %q", q.OwnerUserID))
	}

	var queries []*meili.SearchRequest
	for _, ti := range indexTypes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"title", "body"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}
	return queries
}

func indexToResultType(uid string) ResultType {
	for _, ti := range indexTypes {
		if ti.uid == uid {
			return ti.rtyp
		}
	}
	return ""
}

func indexFor(rtyp ResultType) string {
	for _, ti := range indexTypes {
		if ti.rtyp == rtyp {
			return ti.uid
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	return Result{
		Type:        rtyp,
		ID:          decodeString(hit, "id"),
		WorkspaceID: decodeString(hit, "workspace_id"),
		Title:       firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:     firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexRecords adds or replaces records, grouped into their type's index.
func (m *Meili) IndexRecords(records []Record) error {
	for rtyp, group := range groupByType(records) {
		uid := indexFor(rtyp)
		if uid == "" {
			continue
		}
		if _, err := m.client.Index(uid).AddDocuments(group, nil); err != nil {
			return fmt.Errorf("index %s: %w", uid, err)
		}
	}
	return nil
}

// DeleteRecords removes records from their type's index.
func (m *Meili) DeleteRecords(records []Record) error {
	var errs []error
	for _, record := range records {
		uid := indexFor(record.Type)
		if uid == "" {
			continue
		}
		if _, err := m.client.Index(uid).DeleteDocument(record.ID, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %s %s: %w", uid, record.ID, err))
		}
	}
	return errors.Join(errs...)
}

func groupByType(records []Record) map[ResultType][]Record {
	groups := make(map[ResultType][]Record)
	for _, record := range records {
		groups[record.Type] = append(groups[record.Type], record)
	}
	return groups
}
