package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the
// workspace table and its goals, todos and memories.
type PgFTS struct {
	db             *sql.DB
	workspaceTable string
}

// NewPgFTS creates a PostgreSQL FTS searcher. workspaceTable is the
// resolved physical name of the workspace table.
func NewPgFTS(db *sql.DB, workspaceTable string) *PgFTS {
	return &PgFTS{db: db, workspaceTable: workspaceTable}
}

// Search executes a UNION ALL query using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	union, args := p.unionSQL(q)
	if union == "" {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, workspace_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.WorkspaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func (p *PgFTS) unionSQL(q Query) (string, []any) {
	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	scope := ""
	if q.WorkspaceID != "" {
		args = append(args, q.WorkspaceID)
		scope += fmt.Sprintf(" AND w.id = $%d", len(args))
	}
	if q.OwnerUserID != "" {
		args = append(args, q.OwnerUserID)
		scope += fmt.Sprintf(" AND w.owner_user_id = $%d", len(args))
	}

	workspaces := pgx.Identifier{p.workspaceTable}.Sanitize()
	sources := []struct {
		rtyp  ResultType
		from  string
		title string
		body  string
	}{
		{ResultWorkspace, workspaces + " w", "w.name", "w.subtitle"},
		{ResultGoal, "goals x JOIN " + workspaces + " w ON w.id = x.canvas_id", "x.title", "x.summary"},
		{ResultTodo, "todos x JOIN " + workspaces + " w ON w.id = x.canvas_id", "x.text", "''"},
		{ResultMemory, "memories x JOIN " + workspaces + " w ON w.id = x.canvas_id", "x.text", "x.type"},
	}

	var subQueries []string
	for _, src := range sources {
		if q.FilterType != "" && q.FilterType != src.rtyp {
			continue
		}
		idColumn := "x.id"
		if src.rtyp == ResultWorkspace {
			idColumn = "w.id"
		}
		document := fmt.Sprintf("to_tsvector('english', coalesce(%s, '') || ' ' || coalesce(%s, ''))", src.title, src.body)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS type, %s AS id, %s AS title,
				ts_headline('english', coalesce(%s, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				w.id AS workspace_id,
				ts_rank(%s, %s) AS rank
			FROM %s
			WHERE %s @@ %s%s`,
			src.rtyp, idColumn, src.title, src.body, tsQuery, document, tsQuery, src.from, document, tsQuery, scope))
	}
	return strings.Join(subQueries, " UNION ALL "), args
}

// LoadAllRecords returns every searchable record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	workspaces := pgx.Identifier{p.workspaceTable}.Sanitize()
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT 'workspace', w.id, w.id, w.owner_user_id, w.name, w.subtitle FROM %[1]s w
		UNION ALL
		SELECT 'goal', x.id, w.id, w.owner_user_id, x.title, x.summary FROM goals x JOIN %[1]s w ON w.id = x.canvas_id
		UNION ALL
		SELECT 'todo', x.id, w.id, w.owner_user_id, x.text, '' FROM todos x JOIN %[1]s w ON w.id = x.canvas_id
		UNION ALL
		SELECT 'memory', x.id, w.id, w.owner_user_id, x.text, x.type FROM memories x JOIN %[1]s w ON w.id = x.canvas_id
	`, workspaces))
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.WorkspaceID, &r.OwnerUserID, &r.Title, &r.Body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Type = ResultType(typ)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
