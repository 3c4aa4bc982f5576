package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/blob"
	"canvas/api/internal/localdemo"
	"canvas/api/internal/repository"
	"canvas/api/internal/search"
	"canvas/api/internal/session"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

const testTable = "canvases"

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	records  *store.MemoryStore
	sessions *session.MemoryStore
	state    *state.Store
	handler  http.Handler
	token    string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerOn(t, store.NewMemoryStore(store.DefaultTables(testTable)...), session.NewMemoryStore())
}

// newTestServerOn builds a server over existing records and sessions, the
// way a restarted process would see them.
func newTestServerOn(t *testing.T, records *store.MemoryStore, sessions *session.MemoryStore) *testServer {
	t.Helper()
	accounts := authpw.NewService(authpw.NewRecordUserStore(records)).WithCost(bcrypt.MinCost)
	manager := session.NewManager(accounts, sessions, auth.NewSigner("secret", time.Hour), time.Hour)
	t.Cleanup(manager.Close)

	st := state.New(state.Options{
		Repository: repository.New(records, testTable),
		Sessions:   manager,
		Logger:     quietLogger(),
	})
	t.Cleanup(st.Close)
	if err := st.InitializeAuth(context.Background()); err != nil {
		t.Fatalf("initialize auth: %v", err)
	}

	searcher := search.NewService(nil, search.NewLocal(func() []search.Record {
		return search.RecordsFromState(st.Snapshot(), "")
	}), quietLogger())

	demo, err := localdemo.Open(context.Background(), blob.NewMemoryStore(), localdemo.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("open demo: %v", err)
	}

	server := NewHTTPServer(Dependencies{
		State:    st,
		Sessions: manager,
		Demo:     demo,
		Search:   searcher,
		Logger:   quietLogger(),
	}, "*")
	return &testServer{records: records, sessions: sessions, state: st, handler: server.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

// signUp registers a user and waits for the preset workspaces to load.
func (ts *testServer) signUp(t *testing.T) state.State {
	t.Helper()
	rr, payload := ts.do(t, http.MethodPost, "/api/auth/signup", `{"email":"casey@example.com","password":"password123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("signup status %d body=%s", rr.Code, rr.Body.String())
	}
	authState, _ := payload["auth"].(map[string]any)
	if authState["is_authenticated"] != true {
		t.Fatalf("expected authenticated payload, got %v", payload)
	}
	token, _ := payload["access_token"].(string)
	if token == "" {
		t.Fatalf("expected access token, got %v", payload)
	}
	ts.token = token

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := ts.state.Snapshot()
		if snap.Auth.Profile != nil && len(snap.Data.Workspaces) == 3 {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("presets never loaded: %+v", ts.state.Snapshot().Data.Workspaces)
	return state.State{}
}

func TestSignedInRoutesRequireBearerToken(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)
	token := ts.token

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/state"},
		{http.MethodPatch, "/api/ui"},
		{http.MethodGet, "/api/search?q=launch"},
		{http.MethodGet, "/api/workspaces"},
		{http.MethodPost, "/api/auth/refresh"},
		{http.MethodPost, "/api/auth/logout"},
	}
	for _, tt := range []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "wrong token", token: "not-a-token"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ts.token = tt.token
			for _, route := range routes {
				rr, payload := ts.do(t, route.method, route.path, "{}")
				if rr.Code != http.StatusUnauthorized {
					t.Fatalf("%s %s: expected 401, got %d body=%s", route.method, route.path, rr.Code, rr.Body.String())
				}
				if payload["code"] != "UNAUTHORIZED" {
					t.Errorf("%s %s: unexpected code %v", route.method, route.path, payload["code"])
				}
			}
		})
	}

	ts.token = token
	rr, payload := ts.do(t, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("state with token status %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["auth"].(map[string]any)["is_authenticated"] != true {
		t.Errorf("expected signed-in state, got %v", payload["auth"])
	}
}

func TestRefreshIssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	rr, payload := ts.do(t, http.MethodPost, "/api/auth/refresh", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := payload["access_token"].(string)
	if token == "" || payload["expires_at"] == nil {
		t.Fatalf("expected token and expiry, got %v", payload)
	}
	ts.token = token

	rr, _ = ts.do(t, http.MethodGet, "/api/workspaces", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("workspaces with refreshed token status %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBearerTokenResumesSessionOnNewServer(t *testing.T) {
	first := newTestServer(t)
	snap := first.signUp(t)

	second := newTestServerOn(t, first.records, first.sessions)
	second.token = first.token
	rr, payload := second.do(t, http.MethodGet, "/api/workspaces", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status %d body=%s", rr.Code, rr.Body.String())
	}
	if got := len(payload["workspaces"].([]any)); got != len(snap.Data.Workspaces) {
		t.Errorf("expected %d workspaces after resume, got %d", len(snap.Data.Workspaces), got)
	}
	if user := second.state.Snapshot().Auth.User; user == nil || user.ID != snap.Auth.User.ID {
		t.Errorf("expected resumed user %s, got %+v", snap.Auth.User.ID, user)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(Dependencies{Logger: quietLogger()}, "*")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected CORS origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantDB     string
	}{
		{name: "healthy database", pinger: fakePinger{}, wantStatus: http.StatusOK, wantDB: "ok"},
		{name: "database down", pinger: fakePinger{err: errors.New("connection refused")}, wantStatus: http.StatusServiceUnavailable, wantDB: "error"},
		{name: "memory store", pinger: nil, wantStatus: http.StatusOK, wantDB: "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewHTTPServer(Dependencies{Ready: tt.pinger, Logger: quietLogger()}, "*")
			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			var response map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			checks := response["checks"].(map[string]any)
			db := checks["database"].(map[string]any)
			if db["status"] != tt.wantDB {
				t.Errorf("expected database status %q, got %v", tt.wantDB, db["status"])
			}
		})
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	rr, payload := ts.do(t, http.MethodPost, "/api/auth/signin", `{"email":"nobody@example.com","password":"password123"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("unexpected code %v", payload["code"])
	}

	rr, _ = ts.do(t, http.MethodPost, "/api/auth/signin", `{"email":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestSearchRequiresSignIn(t *testing.T) {
	ts := newTestServer(t)
	rr, payload := ts.do(t, http.MethodGet, "/api/search?q=launch", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("unexpected code %v", payload["code"])
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	rr, payload := ts.do(t, http.MethodPost, "/api/workspaces", `{"name":"Garden Project"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workspace status %d body=%s", rr.Code, rr.Body.String())
	}
	ws := payload["workspace"].(map[string]any)
	wsID := ws["id"].(string)
	if ws["avatar_initials"] != "GP" {
		t.Errorf("expected initials GP, got %v", ws["avatar_initials"])
	}

	rr, payload = ts.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/goals", `{"title":"Plant tomatoes"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add goal status %d body=%s", rr.Code, rr.Body.String())
	}
	goalID := payload["goal"].(map[string]any)["id"].(string)
	if state.IsPlaceholder(goalID) {
		t.Fatalf("expected confirmed id, got %s", goalID)
	}

	rr, payload = ts.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/todos", `{"text":"Buy seeds"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add todo status %d body=%s", rr.Code, rr.Body.String())
	}
	todoID := payload["todo"].(map[string]any)["id"].(string)

	rr, payload = ts.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/todos/"+todoID+"/toggle", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle status %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["todo"].(map[string]any)["is_done"] != true {
		t.Errorf("expected todo done, got %v", payload["todo"])
	}

	rr, _ = ts.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/todos", `{"text":"   "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty todo, got %d", rr.Code)
	}

	rr, payload = ts.do(t, http.MethodGet, "/api/workspaces/"+wsID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get workspace status %d", rr.Code)
	}
	if len(payload["goals"].([]any)) != 1 || len(payload["todos"].([]any)) != 1 {
		t.Errorf("unexpected workspace view %v", payload)
	}
	if len(payload["chat"].([]any)) != 1 {
		t.Errorf("expected greeting in chat, got %v", payload["chat"])
	}

	rr, payload = ts.do(t, http.MethodGet, "/api/search?q=tomatoes", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("search status %d", rr.Code)
	}
	results := payload["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["id"] != goalID {
		t.Errorf("unexpected search results %v", results)
	}

	rr, _ = ts.do(t, http.MethodDelete, "/api/workspaces/"+wsID+"/goals/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown goal, got %d", rr.Code)
	}

	rr, _ = ts.do(t, http.MethodDelete, "/api/workspaces/"+wsID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete workspace status %d body=%s", rr.Code, rr.Body.String())
	}
	left, err := ts.records.Select(context.Background(), store.TableGoals, store.Query{Filter: store.Filter{"canvas_id": wsID}})
	if err != nil {
		t.Fatalf("select goals: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected goals cascade-deleted, %d left", len(left))
	}
	rr, _ = ts.do(t, http.MethodGet, "/api/workspaces/"+wsID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestRolledBackChangeReportsSyncFailure(t *testing.T) {
	ts := newTestServer(t)
	snap := ts.signUp(t)
	wsID := snap.Data.Workspaces[0].ID

	ts.records.Fail(store.TableGoals, store.OpInsert, errors.New("connection reset"))
	rr, payload := ts.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/goals", `{"title":"Never lands"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "SYNC_FAILED" {
		t.Errorf("unexpected code %v", payload["code"])
	}
	details := payload["details"].(map[string]any)
	if details["rolled_back"] != true || details["action"] != state.ActionAddGoal {
		t.Errorf("unexpected details %v", details)
	}
	for _, goal := range ts.state.Snapshot().Data.Goals[wsID] {
		if goal.Title == "Never lands" {
			t.Fatalf("rolled back goal still in state")
		}
	}
}

func TestUIRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	rr, payload := ts.do(t, http.MethodPatch, "/api/ui", `{"active_tab":"goals","chat_open":true,"chat_input":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch ui status %d", rr.Code)
	}
	if payload["active_tab"] != "goals" || payload["chat_open"] != true || payload["chat_input"] != "hi" {
		t.Errorf("unexpected ui %v", payload)
	}

	rr, payload = ts.do(t, http.MethodPut, "/api/ui/theme", `{"theme":"light"}`)
	if rr.Code != http.StatusOK || payload["theme"] != "light" {
		t.Fatalf("set theme status %d payload %v", rr.Code, payload)
	}
	rr, payload = ts.do(t, http.MethodPost, "/api/ui/theme/toggle", "")
	if rr.Code != http.StatusOK || payload["theme"] != "dark" {
		t.Fatalf("toggle theme status %d payload %v", rr.Code, payload)
	}
	rr, _ = ts.do(t, http.MethodPut, "/api/ui/theme", `{"theme":"sepia"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown theme, got %d", rr.Code)
	}

	rr, payload = ts.do(t, http.MethodPut, "/api/ui/active-workspace", `{"workspace_id":"global"}`)
	if rr.Code != http.StatusOK || payload["active_workspace_id"] != "global" || payload["active_tab"] != "focus" {
		t.Fatalf("set active workspace status %d payload %v", rr.Code, payload)
	}
}

func TestDemoRoutes(t *testing.T) {
	ts := newTestServer(t)

	rr, payload := ts.do(t, http.MethodGet, "/api/demo/canvases", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list canvases status %d", rr.Code)
	}
	if got := len(payload["canvases"].([]any)); got != 3 {
		t.Fatalf("expected 3 seeded canvases, got %d", got)
	}

	rr, payload = ts.do(t, http.MethodPost, "/api/demo/canvases", `{"name":"Side Project"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add canvas status %d body=%s", rr.Code, rr.Body.String())
	}
	canvasID := payload["canvas"].(map[string]any)["id"].(string)

	rr, payload = ts.do(t, http.MethodPost, "/api/demo/canvases/"+canvasID+"/chat", `{"prompt":"what next?","mode":"goals"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(payload["message"].(map[string]any)["text"].(string), "Goals planning") {
		t.Errorf("unexpected reply %v", payload["message"])
	}

	rr, _ = ts.do(t, http.MethodPost, "/api/demo/canvases/"+canvasID+"/inbox/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown inbox item, got %d", rr.Code)
	}

	rr, _ = ts.do(t, http.MethodGet, "/api/demo/canvases/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown canvas, got %d", rr.Code)
	}

	rr, payload = ts.do(t, http.MethodPost, "/api/demo/session", "")
	if rr.Code != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("login status %d payload %v", rr.Code, payload)
	}

	rr, payload = ts.do(t, http.MethodGet, "/api/demo/recommendations", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("recommendations status %d", rr.Code)
	}
	ranked := payload["recommendations"].([]any)
	for i := 1; i < len(ranked); i++ {
		prev := ranked[i-1].(map[string]any)["score"].(float64)
		next := ranked[i].(map[string]any)["score"].(float64)
		if prev < next {
			t.Fatalf("recommendations not ranked: %v before %v", prev, next)
		}
	}
}

func TestDemoDisabled(t *testing.T) {
	server := NewHTTPServer(Dependencies{Logger: quietLogger()}, "*")
	req := httptest.NewRequest(http.MethodGet, "/api/demo/canvases", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"domain error", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{"not signed in", state.ErrNotAuthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"empty input", state.ErrEmptyInput, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown target", state.ErrUnknownTarget, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate member", state.ErrAlreadyMember, http.StatusConflict, "CONFLICT"},
		{"remote conflict", &repository.RemoteStoreError{Op: "insert", Table: "goals", Err: store.ErrConflict}, http.StatusConflict, "CONFLICT"},
		{"auth email taken", &state.AuthError{Op: "sign_up", Err: authpw.ErrEmailTaken}, http.StatusConflict, "EMAIL_TAKEN"},
		{"rollback of validation", &state.RollbackError{Action: "update_workspace", Err: repository.ErrInvalidInput}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"rollback of outage", &state.RollbackError{Action: "add_goal", Err: errors.New("timeout")}, http.StatusBadGateway, "SYNC_FAILED"},
		{"demo canvas", localdemo.ErrCanvasNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("mapError() = %d %s, want %d %s", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
