package localdemo

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type seedFile struct {
	PromptChips []string `yaml:"promptChips"`
	Canvases    []Canvas `yaml:"canvases"`
}

func loadSeed() (seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(seedYAML, &seed); err != nil {
		return seedFile{}, fmt.Errorf("decode demo seed: %w", err)
	}
	return seed, nil
}

// SeedCanvases returns a fresh copy of the demo canvases stamped with now.
func SeedCanvases(now time.Time) ([]Canvas, error) {
	seed, err := loadSeed()
	if err != nil {
		return nil, err
	}
	for i := range seed.Canvases {
		stampCanvas(&seed.Canvases[i], now)
	}
	return seed.Canvases, nil
}

// PromptChips are the suggested prompts offered in the chat panel.
func PromptChips() []string {
	seed, err := loadSeed()
	if err != nil {
		return nil
	}
	return seed.PromptChips
}

// stampCanvas fills empty timestamps and nil lists so the canvas always
// serializes with every collection present.
func stampCanvas(c *Canvas, now time.Time) {
	if c.Members == nil {
		c.Members = []Member{}
	}
	if c.Goals == nil {
		c.Goals = []Goal{}
	}
	if c.TaskGroups == nil {
		c.TaskGroups = []TaskGroup{}
	}
	for i := range c.TaskGroups {
		if c.TaskGroups[i].Subtasks == nil {
			c.TaskGroups[i].Subtasks = []SubTask{}
		}
	}
	if c.Inbox == nil {
		c.Inbox = []InboxItem{}
	}
	if c.Calendar == nil {
		c.Calendar = []CalendarEvent{}
	}
	if c.Recommendations == nil {
		c.Recommendations = []Recommendation{}
	}
	if c.Memories == nil {
		c.Memories = []Memory{}
	}
	for i := range c.Memories {
		if c.Memories[i].CreatedAt.IsZero() {
			c.Memories[i].CreatedAt = now
		}
	}
	if c.Chat == nil {
		c.Chat = []ChatMessage{}
	}
	for i := range c.Chat {
		if c.Chat[i].Timestamp.IsZero() {
			c.Chat[i].Timestamp = now
		}
	}
	if c.Assessment.UpdatedAt.IsZero() {
		c.Assessment.UpdatedAt = now
	}
}
