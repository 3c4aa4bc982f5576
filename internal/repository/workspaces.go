package repository

import (
	"context"
	"fmt"
	"strings"

	"canvas/api/internal/store"
)

const (
	DefaultWorkspaceName     = "New Canvas"
	DefaultWorkspaceSubtitle = "Define goals and execution plan"
	DefaultWorkspaceInitials = "NC"
	DefaultWorkspaceStatus   = store.StatusAtRisk
	InviteLinkBase           = "https://canvas.demo/invite/"
)

// WorkspaceInput overrides creation defaults. Nil fields take the default.
type WorkspaceInput struct {
	Name           *string
	Subtitle       *string
	AvatarInitials *string
	StatusLabel    *string
	ShareCode      *string
	InviteLink     *string
	Members        []store.Member
}

// WorkspacePatch is a partial workspace update. Nil fields are untouched.
type WorkspacePatch struct {
	Name           *string         `json:"name,omitempty"`
	Subtitle       *string         `json:"subtitle,omitempty"`
	AvatarInitials *string         `json:"avatar_initials,omitempty"`
	StatusLabel    *string         `json:"status_label,omitempty"`
	Members        *[]store.Member `json:"members,omitempty"`
}

func (p WorkspacePatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if p.StatusLabel != nil && !store.ValidStatus(*p.StatusLabel) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *p.StatusLabel)
	}
	return nil
}

func (p WorkspacePatch) IsEmpty() bool {
	return p.Name == nil && p.Subtitle == nil && p.AvatarInitials == nil && p.StatusLabel == nil && p.Members == nil
}

// Apply returns ws with the patch applied locally.
func (p WorkspacePatch) Apply(ws store.Workspace) store.Workspace {
	if p.Name != nil {
		ws.Name = *p.Name
	}
	if p.Subtitle != nil {
		ws.Subtitle = *p.Subtitle
	}
	if p.AvatarInitials != nil {
		ws.AvatarInitials = *p.AvatarInitials
	}
	if p.StatusLabel != nil {
		ws.StatusLabel = *p.StatusLabel
	}
	if p.Members != nil {
		ws.Members = normalizeMembers(*p.Members)
	}
	return ws
}

func (p WorkspacePatch) row() store.Row {
	row := store.Row{}
	if p.Name != nil {
		row["name"] = *p.Name
	}
	if p.Subtitle != nil {
		row["subtitle"] = *p.Subtitle
	}
	if p.AvatarInitials != nil {
		row["avatar_initials"] = *p.AvatarInitials
	}
	if p.StatusLabel != nil {
		row["status_label"] = *p.StatusLabel
	}
	if p.Members != nil {
		row["members"] = normalizeMembers(*p.Members)
	}
	return row
}

func normalizeMembers(members []store.Member) []store.Member {
	out := make([]store.Member, 0, len(members))
	for _, member := range members {
		member.Role = store.NormalizeRole(member.Role)
		out = append(out, member)
	}
	return out
}

func pick(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}

func (r *Repository) ListWorkspaces(ctx context.Context, ownerUserID string) ([]store.Workspace, error) {
	rows, err := r.list(ctx, "list workspaces", r.workspaceTable, store.Filter{"owner_user_id": ownerUserID}, true)
	if err != nil {
		return nil, err
	}
	items, err := decodeAll[store.Workspace](rows)
	if err != nil {
		return nil, remoteErr("list workspaces", r.workspaceTable, err)
	}
	return items, nil
}

func (r *Repository) CreateWorkspace(ctx context.Context, ownerUserID string, input WorkspaceInput) (store.Workspace, error) {
	status := pick(input.StatusLabel, DefaultWorkspaceStatus)
	if !store.ValidStatus(status) {
		return store.Workspace{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	members := input.Members
	if members == nil {
		members = []store.Member{}
	}

	raw, err := r.insert(ctx, "create workspace", r.workspaceTable, store.Row{
		"owner_user_id":   ownerUserID,
		"name":            pick(input.Name, DefaultWorkspaceName),
		"subtitle":        pick(input.Subtitle, DefaultWorkspaceSubtitle),
		"avatar_initials": pick(input.AvatarInitials, DefaultWorkspaceInitials),
		"status_label":    status,
		"share_code":      pick(input.ShareCode, "CV-"+r.shortCode()),
		"invite_link":     pick(input.InviteLink, InviteLinkBase+r.shortCode()),
		"members":         normalizeMembers(members),
	})
	if err != nil {
		return store.Workspace{}, err
	}
	ws, err := decodeOne[store.Workspace](raw)
	if err != nil {
		return store.Workspace{}, remoteErr("create workspace", r.workspaceTable, err)
	}
	return ws, nil
}

func (r *Repository) UpdateWorkspace(ctx context.Context, workspaceID string, patch WorkspacePatch) (store.Workspace, error) {
	if err := patch.Validate(); err != nil {
		return store.Workspace{}, err
	}
	raw, err := r.update(ctx, "update workspace", r.workspaceTable, workspaceID, patch.row())
	if err != nil {
		return store.Workspace{}, err
	}
	ws, err := decodeOne[store.Workspace](raw)
	if err != nil {
		return store.Workspace{}, remoteErr("update workspace", r.workspaceTable, err)
	}
	return ws, nil
}

// DeleteWorkspace removes the workspace and cascades to its goals, todos and
// memories. Children go first so a failed sweep leaves the workspace visible
// rather than orphaning rows.
func (r *Repository) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	for _, table := range []string{store.TableGoals, store.TableTodos, store.TableMemories} {
		if _, err := r.records.DeleteWhere(ctx, table, store.Filter{"canvas_id": workspaceID}); err != nil {
			return remoteErr("delete workspace", table, err)
		}
	}
	return r.remove(ctx, "delete workspace", r.workspaceTable, workspaceID)
}
