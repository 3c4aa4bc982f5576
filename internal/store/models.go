package store

import (
	"strings"
	"time"
)

const (
	StatusOnTrack = "On Track"
	StatusAtRisk  = "At Risk"
	StatusBehind  = "Behind"
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
)

const (
	HorizonNearTerm    = "near_term"
	HorizonThisQuarter = "this_quarter"
	HorizonYearly      = "yearly"
)

const (
	MemoryPrinciple  = "principle"
	MemoryConstraint = "constraint"
	MemoryDecision   = "decision"
)

// Physical table names that never drift between deployments.
const (
	TableProfiles  = "profiles"
	TableGoals     = "goals"
	TableTodos     = "todos"
	TableMemories  = "memories"
	TableAuthUsers = "auth_users"
)

type Profile struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Handle      string  `json:"handle"`
	DisplayName *string `json:"display_name"`
}

type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Workspace is a user-owned canvas.
type Workspace struct {
	ID             string    `json:"id"`
	OwnerUserID    string    `json:"owner_user_id"`
	Name           string    `json:"name"`
	Subtitle       string    `json:"subtitle"`
	AvatarInitials string    `json:"avatar_initials"`
	StatusLabel    string    `json:"status_label"`
	ShareCode      string    `json:"share_code"`
	InviteLink     string    `json:"invite_link"`
	Members        []Member  `json:"members"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Goal struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"canvas_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Horizon     string    `json:"horizon"`
	CreatedAt   time.Time `json:"created_at"`
}

type Todo struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"canvas_id"`
	Text        string    `json:"text"`
	IsDone      bool      `json:"is_done"`
	CreatedAt   time.Time `json:"created_at"`
}

type Memory struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"canvas_id"`
	Type            string    `json:"type"`
	Text            string    `json:"text"`
	SourceMessageID *string   `json:"source_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuthUser is an e-mail/password account backing the session boundary.
type AuthUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeRole maps unknown member roles to viewer.
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleEditor:
		return RoleEditor
	default:
		return RoleViewer
	}
}

func ValidStatus(status string) bool {
	return status == StatusOnTrack || status == StatusAtRisk || status == StatusBehind
}

func ValidHorizon(horizon string) bool {
	return horizon == HorizonNearTerm || horizon == HorizonThisQuarter || horizon == HorizonYearly
}

func ValidMemoryType(kind string) bool {
	return kind == MemoryPrinciple || kind == MemoryConstraint || kind == MemoryDecision
}
