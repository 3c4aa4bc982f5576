package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWorkspace ResultType = "workspace"
	ResultGoal      ResultType = "goal"
	ResultTodo      ResultType = "todo"
	ResultMemory    ResultType = "memory"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	WorkspaceID string     `json:"workspace_id"`
}

// Query describes a search request. OwnerUserID scopes results to one
// user's workspaces.
type Query struct {
	Text        string
	FilterType  ResultType // empty = all types
	WorkspaceID string
	OwnerUserID string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// Record is the flattened form of any indexed entity.
type Record struct {
	ID          string     `json:"id"`
	Type        ResultType `json:"type"`
	WorkspaceID string     `json:"workspace_id"`
	OwnerUserID string     `json:"owner_user_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
}

func (r Record) result() Result {
	return Result{Type: r.Type, ID: r.ID, Title: r.Title, Snippet: r.Body, WorkspaceID: r.WorkspaceID}
}
