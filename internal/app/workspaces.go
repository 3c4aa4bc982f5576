package app

import (
	"net/http"

	"canvas/api/internal/repository"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

type workspaceView struct {
	Workspace store.Workspace     `json:"workspace"`
	Goals     []store.Goal        `json:"goals"`
	Todos     []store.Todo        `json:"todos"`
	Memories  []store.Memory      `json:"memories"`
	Chat      []state.ChatMessage `json:"chat"`
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"workspaces": s.state.Snapshot().Data.Workspaces})
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			ws, err := s.state.CreateWorkspace(r.Context(), body.Name)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"workspace": ws})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	workspaceID := parts[0]
	if len(parts) == 1 {
		s.handleWorkspace(w, r, workspaceID)
		return
	}

	switch parts[1] {
	case "load":
		if r.Method != http.MethodPost || len(parts) != 2 {
			break
		}
		if err := s.state.LoadCanvasContent(r.Context(), workspaceID); err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeWorkspaceView(w, r, workspaceID)
		return
	case "members":
		if r.Method != http.MethodPost || len(parts) != 2 {
			break
		}
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.state.InviteMember(r.Context(), workspaceID, body.Email, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"member": member})
		return
	case "chat":
		if r.Method != http.MethodPost || len(parts) != 2 {
			break
		}
		var body struct {
			Prompt string `json:"prompt"`
			Mode   string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.state.SendChatMessage(workspaceID, body.Prompt, body.Mode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": reply})
		return
	case "goals":
		s.handleGoals(w, r, workspaceID, parts[2:])
		return
	case "todos":
		s.handleTodos(w, r, workspaceID, parts[2:])
		return
	case "memories":
		s.handleMemories(w, r, workspaceID, parts[2:])
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, workspaceID string) {
	switch r.Method {
	case http.MethodGet:
		s.writeWorkspaceView(w, r, workspaceID)
	case http.MethodPatch:
		var patch repository.WorkspacePatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.state.UpdateWorkspace(r.Context(), workspaceID, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workspace": ws})
	case http.MethodDelete:
		if err := s.state.DeleteWorkspace(r.Context(), workspaceID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) writeWorkspaceView(w http.ResponseWriter, r *http.Request, workspaceID string) {
	snapshot := s.state.Snapshot()
	for _, ws := range snapshot.Data.Workspaces {
		if ws.ID != workspaceID {
			continue
		}
		writeJSON(w, http.StatusOK, workspaceView{
			Workspace: ws,
			Goals:     orEmpty(snapshot.Data.Goals[ws.ID]),
			Todos:     orEmpty(snapshot.Data.Todos[ws.ID]),
			Memories:  orEmpty(snapshot.Data.Memories[ws.ID]),
			Chat:      orEmpty(snapshot.Data.Chat[ws.ID]),
		})
		return
	}
	s.fail(w, r, state.ErrUnknownTarget)
}

func (s *HTTPServer) handleGoals(w http.ResponseWriter, r *http.Request, workspaceID string, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		goal, err := s.state.AddGoal(r.Context(), workspaceID, body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"goal": goal})
	case r.Method == http.MethodDelete && len(parts) == 1:
		if err := s.state.RemoveGoal(r.Context(), workspaceID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTodos(w http.ResponseWriter, r *http.Request, workspaceID string, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		todo, err := s.state.AddTodo(r.Context(), workspaceID, body.Text)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"todo": todo})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "toggle":
		todo, err := s.state.ToggleTodo(r.Context(), workspaceID, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"todo": todo})
	case r.Method == http.MethodDelete && len(parts) == 1:
		if err := s.state.RemoveTodo(r.Context(), workspaceID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMemories(w http.ResponseWriter, r *http.Request, workspaceID string, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			Type            string `json:"type"`
			Text            string `json:"text"`
			SourceMessageID string `json:"source_message_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		memory, err := s.state.AddMemory(r.Context(), workspaceID, body.Type, body.Text, body.SourceMessageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"memory": memory})
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "capture":
		var body struct {
			Type string `json:"type"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		memory, err := s.state.CaptureMemoryFromLastAssistant(r.Context(), workspaceID, body.Type)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"memory": memory})
	case r.Method == http.MethodDelete && len(parts) == 1:
		if err := s.state.RemoveMemory(r.Context(), workspaceID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
