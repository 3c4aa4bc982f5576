package app

import (
	"net/http"

	"canvas/api/internal/localdemo"
)

// handleDemo serves the local-only variant under /api/demo.
func (s *HTTPServer) handleDemo(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[0] == "session" && len(parts) == 1:
		var err error
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			err = s.demo.Login(r.Context())
		case http.MethodDelete:
			err = s.demo.Logout(r.Context())
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": s.demo.IsAuthenticated()})
		return
	case parts[0] == "theme" && len(parts) == 1 && r.Method == http.MethodPut:
		var body struct {
			Theme string `json:"theme"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.demo.SetTheme(r.Context(), body.Theme); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"theme": s.demo.Theme()})
		return
	case parts[0] == "theme" && len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		theme, err := s.demo.ToggleTheme(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"theme": theme})
		return
	case parts[0] == "reset" && len(parts) == 1 && r.Method == http.MethodPost:
		if err := s.demo.Reset(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"canvases": s.demo.Canvases()})
		return
	case parts[0] == "feedback" && len(parts) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"feedback": s.demo.Feedback()})
		return
	case parts[0] == "recommendations" && len(parts) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"recommendations": s.demo.Recommendations(r.URL.Query().Get("canvasId")),
		})
		return
	case parts[0] == "prompt-chips" && len(parts) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"promptChips": localdemo.PromptChips()})
		return
	case parts[0] == "canvases":
		s.handleDemoCanvases(w, r, parts[1:])
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDemoCanvases(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"canvases": s.demo.Search(r.URL.Query().Get("q"))})
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			canvas, err := s.demo.AddCanvas(r.Context(), body.Name)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"canvas": canvas})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	canvasID := parts[0]
	rest := parts[1:]
	ctx := r.Context()

	// Routes that return the updated canvas.
	var (
		canvas localdemo.Canvas
		err    error
		status = http.StatusOK
	)
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		canvas, err = s.demo.Canvas(canvasID)
	case len(rest) == 0 && r.Method == http.MethodPatch:
		var body struct {
			Name     *string `json:"name"`
			Initials *string `json:"initials"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.Canvas(canvasID)
		if err == nil && body.Name != nil {
			canvas, err = s.demo.RenameCanvas(ctx, canvasID, *body.Name)
		}
		if err == nil && body.Initials != nil {
			canvas, err = s.demo.SetInitials(ctx, canvasID, *body.Initials)
		}
	case len(rest) == 1 && rest[0] == "members" && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.AddMember(ctx, canvasID, body.Email, body.Role)
	case len(rest) == 2 && rest[0] == "integrations" && r.Method == http.MethodPut:
		var body struct {
			Connected bool `json:"connected"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.SetIntegration(ctx, canvasID, rest[1], body.Connected)
	case len(rest) == 1 && rest[0] == "goals" && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.AddGoal(ctx, canvasID, body.Title)
		status = http.StatusCreated
	case len(rest) == 2 && rest[0] == "goals" && r.Method == http.MethodDelete:
		canvas, err = s.demo.RemoveGoal(ctx, canvasID, rest[1])
	case len(rest) == 1 && rest[0] == "task-groups" && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.AddTaskGroup(ctx, canvasID, body.Title)
		status = http.StatusCreated
	case len(rest) == 2 && rest[0] == "task-groups" && r.Method == http.MethodDelete:
		canvas, err = s.demo.RemoveTaskGroup(ctx, canvasID, rest[1])
	case len(rest) == 3 && rest[0] == "task-groups" && rest[2] == "subtasks" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.AddSubTask(ctx, canvasID, rest[1], body.Text)
		status = http.StatusCreated
	case len(rest) == 4 && rest[0] == "task-groups" && rest[2] == "subtasks" && r.Method == http.MethodDelete:
		canvas, err = s.demo.RemoveSubTask(ctx, canvasID, rest[1], rest[3])
	case len(rest) == 5 && rest[0] == "task-groups" && rest[2] == "subtasks" && rest[4] == "toggle" && r.Method == http.MethodPost:
		canvas, err = s.demo.ToggleSubTask(ctx, canvasID, rest[1], rest[3])
	case len(rest) == 2 && rest[0] == "recommendations" && rest[1] == "generate" && r.Method == http.MethodPost:
		canvas, err = s.demo.GenerateRecommendations(ctx, canvasID)
	case len(rest) == 3 && rest[0] == "recommendations" && rest[2] == "accept" && r.Method == http.MethodPost:
		canvas, err = s.demo.AcceptRecommendation(ctx, canvasID, rest[1])
	case len(rest) == 3 && rest[0] == "recommendations" && rest[2] == "dismiss" && r.Method == http.MethodPost:
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		canvas, err = s.demo.DismissRecommendation(ctx, canvasID, rest[1], body.Reason)
	case len(rest) == 1 && rest[0] == "assess" && r.Method == http.MethodPost:
		canvas, err = s.demo.Assess(ctx, canvasID)
	default:
		s.handleDemoCanvasActions(w, r, canvasID, rest)
		return
	}

	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, map[string]any{"canvas": canvas})
}

// handleDemoCanvasActions covers routes whose result is not the canvas.
func (s *HTTPServer) handleDemoCanvasActions(w http.ResponseWriter, r *http.Request, canvasID string, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "chat" && r.Method == http.MethodPost:
		var body struct {
			Prompt string `json:"prompt"`
			Mode   string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.demo.SendChat(r.Context(), canvasID, body.Prompt, body.Mode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": reply})
	case len(rest) == 1 && rest[0] == "memories" && r.Method == http.MethodPost:
		var body struct {
			Type string `json:"type"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		memory, err := s.demo.CaptureMemory(r.Context(), canvasID, body.Type)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"memory": memory})
	case len(rest) == 2 && rest[0] == "inbox" && r.Method == http.MethodPost:
		outcome, err := s.demo.ActOnInboxItem(r.Context(), canvasID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
