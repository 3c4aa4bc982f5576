package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"canvas/api/internal/localdemo"
	"canvas/api/internal/search"
	"canvas/api/internal/session"
	"canvas/api/internal/state"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sessions hands out the access token of the signed-in session.
type Sessions interface {
	GetSession(ctx context.Context) (*session.Session, error)
	Refresh(ctx context.Context) (*session.Session, error)
}

// Dependencies are the components served over HTTP. Demo, Search and Ready
// are optional. Without Sessions every signed-in route answers 401.
type Dependencies struct {
	State    *state.Store
	Sessions Sessions
	Demo     *localdemo.Demo
	Search   *search.Service
	Ready    Pinger
	Logger   *slog.Logger
}

type HTTPServer struct {
	state          *state.Store
	sessions       Sessions
	demo           *localdemo.Demo
	search         *search.Service
	ready          Pinger
	logger         *slog.Logger
	corsOrigin     string
	requestTimeout time.Duration
}

func NewHTTPServer(deps Dependencies, corsOrigin string) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		state:          deps.State,
		sessions:       deps.Sessions,
		demo:           deps.Demo,
		search:         deps.Search,
		ready:          deps.Ready,
		logger:         logger.With("component", "http"),
		corsOrigin:     corsOrigin,
		requestTimeout: 15 * time.Second,
	}
}

// WithRequestTimeout bounds the context handed to every handler.
func (s *HTTPServer) WithRequestTimeout(timeout time.Duration) *HTTPServer {
	s.requestTimeout = timeout
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[1] == "demo" {
		if s.demo == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Local demo not enabled", nil)
			return
		}
		s.handleDemo(w, r, parts[2:])
		return
	}

	if s.state == nil {
		writeError(w, http.StatusServiceUnavailable, "STATE_UNAVAILABLE", "State store not configured", nil)
		return
	}

	if parts[1] != "auth" {
		if err := s.authorize(r); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	switch parts[1] {
	case "state":
		if r.Method != http.MethodGet || len(parts) != 2 {
			break
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot())
		return
	case "auth":
		s.handleAuth(w, r, parts[2:])
		return
	case "ui":
		s.handleUI(w, r, parts[2:])
		return
	case "search":
		if r.Method != http.MethodGet || len(parts) != 2 {
			break
		}
		s.handleSearch(w, r)
		return
	case "workspaces":
		s.handleWorkspaces(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if s.ready != nil {
		if err := s.ready.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		checks["database"] = map[string]any{"status": "skipped"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[0] != "signin" && parts[0] != "signup" {
		if err := s.authorize(r); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	switch {
	case r.Method == http.MethodPost && (parts[0] == "signin" || parts[0] == "signup"):
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		call := s.state.SignIn
		if parts[0] == "signup" {
			call = s.state.SignUp
		}
		if err := call(r.Context(), body.Email, body.Password); err != nil {
			s.fail(w, r, err)
			return
		}
		var current *session.Session
		if s.sessions != nil {
			var err error
			if current, err = s.sessions.GetSession(r.Context()); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, s.authResponse(current))
	case r.Method == http.MethodPost && parts[0] == "refresh":
		next, err := s.sessions.Refresh(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.authResponse(next))
	case r.Method == http.MethodPost && parts[0] == "logout":
		if err := s.state.Logout(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case r.Method == http.MethodPut && parts[0] == "handle":
		var body struct {
			Handle string `json:"handle"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.state.SetHandle(r.Context(), body.Handle); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot().Auth)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUI(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 0:
		writeJSON(w, http.StatusOK, s.state.Snapshot().UI)
	case r.Method == http.MethodPatch && len(parts) == 0:
		var body struct {
			ActiveTab    *string `json:"active_tab"`
			MobileNav    *string `json:"mobile_nav"`
			SwitcherOpen *bool   `json:"switcher_open"`
			ChatOpen     *bool   `json:"chat_open"`
			ChatInput    *string `json:"chat_input"`
			Toast        *string `json:"toast"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.ActiveTab != nil {
			s.state.SetActiveTab(*body.ActiveTab)
		}
		if body.MobileNav != nil {
			s.state.SetMobileNav(*body.MobileNav)
		}
		if body.SwitcherOpen != nil {
			s.state.SetSwitcherOpen(*body.SwitcherOpen)
		}
		if body.ChatOpen != nil {
			s.state.SetChatOpen(*body.ChatOpen)
		}
		if body.ChatInput != nil {
			s.state.SetChatInput(*body.ChatInput)
		}
		if body.Toast != nil {
			s.state.SetToast(*body.Toast)
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot().UI)
	case r.Method == http.MethodPut && len(parts) == 1 && parts[0] == "theme":
		var body struct {
			Theme string `json:"theme"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.state.SetTheme(r.Context(), body.Theme); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot().UI)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "theme" && parts[1] == "toggle":
		if err := s.state.ToggleTheme(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot().UI)
	case r.Method == http.MethodPut && len(parts) == 1 && parts[0] == "active-workspace":
		var body struct {
			WorkspaceID string `json:"workspace_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.WorkspaceID) == "" {
			s.fail(w, r, validationError("workspace_id is required"))
			return
		}
		if err := s.state.SetActiveWorkspace(r.Context(), body.WorkspaceID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.state.Snapshot().UI)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := search.Query{
		Text:        strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType:  search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		WorkspaceID: strings.TrimSpace(r.URL.Query().Get("workspace_id")),
		Limit:       20,
	}
	switch query.FilterType {
	case "", search.ResultWorkspace, search.ResultGoal, search.ResultTodo, search.ResultMemory:
	default:
		s.fail(w, r, validationError("type must be workspace, goal, todo or memory"))
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, validationError("limit must be an integer"))
			return
		}
		query.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, validationError("offset must be an integer"))
			return
		}
		query.Offset = parsed
	}

	snapshot := s.state.Snapshot()
	if snapshot.Auth.User == nil {
		s.fail(w, r, state.ErrNotAuthenticated)
		return
	}
	query.OwnerUserID = snapshot.Auth.User.ID

	if s.search == nil {
		writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: query.Text})
		return
	}
	writeJSON(w, http.StatusOK, s.search.Search(r.Context(), query))
}

type authResponse struct {
	Auth        state.AuthState `json:"auth"`
	AccessToken string          `json:"access_token,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

func (s *HTTPServer) authResponse(current *session.Session) authResponse {
	response := authResponse{Auth: s.state.Snapshot().Auth}
	if current != nil {
		expiresAt := current.ExpiresAt
		response.AccessToken = current.AccessToken
		response.ExpiresAt = &expiresAt
	}
	return response
}

// authorize requires a bearer token from the signed-in session. A valid
// token for a session the store does not hold yet is resumed.
func (s *HTTPServer) authorize(r *http.Request) error {
	unauthorized := domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in required", nil)
	token := bearerToken(r)
	if token == "" || s.sessions == nil {
		return unauthorized
	}

	current, err := s.sessions.GetSession(r.Context())
	if err != nil {
		return err
	}
	if current != nil && subtle.ConstantTimeCompare([]byte(current.AccessToken), []byte(token)) == 1 {
		return nil
	}
	if err := s.state.Resume(r.Context(), token); err != nil {
		var authErr *state.AuthError
		if errors.As(err, &authErr) && authErr.Op == state.ActionResumeSession {
			s.logger.Debug("resume session rejected", "request_id", requestIDFrom(r.Context()), "error", err)
			return unauthorized
		}
		return err
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// fail writes err as a JSON error and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
