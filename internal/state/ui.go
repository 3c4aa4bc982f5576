package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"canvas/api/internal/assistant"
	"canvas/api/internal/blob"
	"canvas/api/internal/util"
)

// ThemeKey is the blob key holding the theme preference.
const ThemeKey = "canvas-theme"

const (
	ActionSetTheme           = "set_theme"
	ActionSetActiveWorkspace = "set_active_workspace"
	ActionSetUI              = "set_ui"
	ActionSendChat           = "send_chat_message"
)

// RestoreTheme loads the persisted theme. A missing or invalid value keeps
// the default.
func (s *Store) RestoreTheme(ctx context.Context) error {
	raw, err := s.blobs.Get(ctx, ThemeKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read theme: %w", err)
	}
	var theme string
	if err := json.Unmarshal(raw, &theme); err != nil || (theme != ThemeDark && theme != ThemeLight) {
		s.logger.Warn("ignoring stored theme", "value", string(raw))
		return nil
	}
	s.update(Change{Action: ActionSetTheme, Phase: PhaseChanged}, func(st *State) {
		st.UI.Theme = theme
	})
	return nil
}

// SetTheme switches the theme and persists it. A persistence failure is
// logged; the in-memory theme still changes.
func (s *Store) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeDark && theme != ThemeLight {
		return ErrInvalidTheme
	}
	s.update(Change{Action: ActionSetTheme, Phase: PhaseChanged}, func(st *State) {
		st.UI.Theme = theme
	})
	encoded, _ := json.Marshal(theme)
	if err := s.blobs.Set(ctx, ThemeKey, encoded); err != nil {
		s.logger.Warn("persist theme failed", "error", err)
	}
	return nil
}

func (s *Store) ToggleTheme(ctx context.Context) error {
	next := ThemeLight
	if s.Snapshot().UI.Theme == ThemeLight {
		next = ThemeDark
	}
	return s.SetTheme(ctx, next)
}

// SetActiveWorkspace selects a workspace, resets the tab to focus, closes the
// switcher and loads the workspace content.
func (s *Store) SetActiveWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID != GlobalWorkspace && workspaceID != "" {
		s.mu.Lock()
		owned := s.ownsLocked(workspaceID)
		s.mu.Unlock()
		if !owned {
			return ErrUnknownTarget
		}
	}
	s.update(Change{Action: ActionSetActiveWorkspace, WorkspaceID: workspaceID, Phase: PhaseChanged}, func(st *State) {
		st.UI.ActiveWorkspaceID = workspaceID
		st.UI.ActiveTab = "focus"
		st.UI.SwitcherOpen = false
	})
	if workspaceID == GlobalWorkspace || workspaceID == "" {
		return nil
	}
	return s.LoadCanvasContent(ctx, workspaceID)
}

func (s *Store) SetActiveTab(tab string) {
	s.setUI(func(ui *UIState) { ui.ActiveTab = tab })
}

func (s *Store) SetMobileNav(nav string) {
	s.setUI(func(ui *UIState) { ui.MobileNav = nav })
}

func (s *Store) SetSwitcherOpen(open bool) {
	s.setUI(func(ui *UIState) { ui.SwitcherOpen = open })
}

func (s *Store) SetChatOpen(open bool) {
	s.setUI(func(ui *UIState) { ui.ChatOpen = open })
}

func (s *Store) SetChatInput(text string) {
	s.setUI(func(ui *UIState) { ui.ChatInput = text })
}

// SetToast shows text in the toast slot; an empty string hides it.
func (s *Store) SetToast(text string) {
	s.setUI(func(ui *UIState) { ui.Toast = text })
}

func (s *Store) setUI(fn func(*UIState)) {
	s.update(Change{Action: ActionSetUI, Phase: PhaseChanged}, func(st *State) {
		fn(&st.UI)
	})
}

// SendChatMessage appends the prompt and a templated assistant reply to the
// workspace chat. Chat stays local and is never persisted.
func (s *Store) SendChatMessage(workspaceID, prompt, mode string) (ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ChatMessage{}, ErrEmptyInput
	}

	s.mu.Lock()
	if !s.ownsLocked(workspaceID) {
		s.mu.Unlock()
		return ChatMessage{}, ErrUnknownTarget
	}
	st := &s.state
	now := s.now()
	replyCtx := assistant.Context{}
	for _, ws := range st.Data.Workspaces {
		if ws.ID == workspaceID {
			replyCtx.WorkspaceName = ws.Name
			break
		}
	}
	for _, todo := range st.Data.Todos[workspaceID] {
		if !todo.IsDone {
			replyCtx.OpenTodos++
		}
	}

	user := ChatMessage{ID: util.NewID(""), Role: RoleUser, Text: prompt, Timestamp: now}
	reply := ChatMessage{ID: util.NewID(""), Role: RoleAssistant, Text: assistant.Reply(prompt, mode, replyCtx), Timestamp: now}
	st.Data.Chat[workspaceID] = append(append([]ChatMessage(nil), st.Data.Chat[workspaceID]...), user, reply)
	st.UI.ChatInput = ""
	s.publishLocked(Change{Action: ActionSendChat, WorkspaceID: workspaceID, Phase: PhaseChanged})
	return reply, nil
}
