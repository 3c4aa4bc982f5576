package search

import (
	"context"
	"sort"
	"strings"
)

// Local matches case-insensitive substrings over records produced on demand.
// Title matches rank ahead of body matches.
type Local struct {
	records func() []Record
}

func NewLocal(records func() []Record) *Local {
	return &Local{records: records}
}

func (l *Local) Search(_ context.Context, q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}

	type hit struct {
		result Result
		rank   int
	}
	hits := make([]hit, 0)
	for _, record := range l.records() {
		if q.FilterType != "" && record.Type != q.FilterType {
			continue
		}
		if q.WorkspaceID != "" && record.WorkspaceID != q.WorkspaceID {
			continue
		}
		if q.OwnerUserID != "" && record.OwnerUserID != q.OwnerUserID {
			continue
		}
		switch {
		case strings.Contains(strings.ToLower(record.Title), text):
			hits = append(hits, hit{result: record.result(), rank: 2})
		case strings.Contains(strings.ToLower(record.Body), text):
			hits = append(hits, hit{result: record.result(), rank: 1})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank > hits[j].rank })

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(max(q.Offset, 0), total)
	end := min(start+limit, total)

	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, h.result)
	}
	return results, total, nil
}
