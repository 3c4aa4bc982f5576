package repository

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"canvas/api/internal/store"
)

//go:embed presets.yaml
var presetsYAML []byte

type PresetMemory struct {
	Type string `yaml:"type"`
	Text string `yaml:"text"`
}

// Preset is a demo workspace with its initial content.
type Preset struct {
	Name           string         `yaml:"name"`
	Subtitle       string         `yaml:"subtitle"`
	AvatarInitials string         `yaml:"avatar_initials"`
	StatusLabel    string         `yaml:"status_label"`
	Goals          []string       `yaml:"goals"`
	Todos          []string       `yaml:"todos"`
	Memories       []PresetMemory `yaml:"memories"`
}

// DemoPresets returns a fresh copy of the bundled demo workspaces.
func DemoPresets() ([]Preset, error) {
	var presets []Preset
	if err := yaml.Unmarshal(presetsYAML, &presets); err != nil {
		return nil, fmt.Errorf("decode demo presets: %w", err)
	}
	for _, preset := range presets {
		if !store.ValidStatus(preset.StatusLabel) {
			return nil, fmt.Errorf("demo preset %q: unknown status %q", preset.Name, preset.StatusLabel)
		}
		for _, memory := range preset.Memories {
			if !store.ValidMemoryType(memory.Type) {
				return nil, fmt.Errorf("demo preset %q: unknown memory type %q", preset.Name, memory.Type)
			}
		}
	}
	return presets, nil
}

// Input converts the preset into creation overrides with the given members.
func (p Preset) Input(members []store.Member) WorkspaceInput {
	name, subtitle, initials, status := p.Name, p.Subtitle, p.AvatarInitials, p.StatusLabel
	return WorkspaceInput{
		Name:           &name,
		Subtitle:       &subtitle,
		AvatarInitials: &initials,
		StatusLabel:    &status,
		Members:        members,
	}
}

// SeedPreset creates the preset workspace, then its goals, todos and
// memories, each call completing before the next starts.
func (r *Repository) SeedPreset(ctx context.Context, ownerUserID string, preset Preset, members []store.Member) (store.Workspace, error) {
	ws, err := r.CreateWorkspace(ctx, ownerUserID, preset.Input(members))
	if err != nil {
		return store.Workspace{}, err
	}
	for _, title := range preset.Goals {
		if _, err := r.AddGoal(ctx, ws.ID, title, ""); err != nil {
			return ws, err
		}
	}
	for _, text := range preset.Todos {
		if _, err := r.AddTodo(ctx, ws.ID, text); err != nil {
			return ws, err
		}
	}
	for _, memory := range preset.Memories {
		if _, err := r.AddMemory(ctx, ws.ID, memory.Type, memory.Text, ""); err != nil {
			return ws, err
		}
	}
	return ws, nil
}
