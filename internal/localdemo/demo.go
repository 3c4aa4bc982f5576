package localdemo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"canvas/api/internal/assistant"
	"canvas/api/internal/blob"
	"canvas/api/internal/util"
)

var (
	ErrCanvasNotFound     = errors.New("canvas not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrEmptyInput         = errors.New("input must not be empty")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrUnknownIntegration = errors.New("unknown integration")
	ErrNoAssistantMessage = errors.New("no assistant message to capture")
	ErrInvalidTheme       = errors.New("theme must be dark or light")
)

const shareLinkBase = "https://canvas.demo/invite/"

// Demo owns the local canvas collection. Every mutation is persisted before
// it returns.
type Demo struct {
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	canvases []Canvas
	feedback []FeedbackEntry
	theme    string
	authed   bool
}

type Option func(*Demo)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Demo) { d.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(d *Demo) { d.now = now }
}

// Open loads the demo from blobs, seeding any bucket that is missing or
// malformed.
func Open(ctx context.Context, blobs blob.Store, opts ...Option) (*Demo, error) {
	d := &Demo{
		blobs:  blobs,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}

	loaded, err := loadBuckets(ctx, blobs, func() ([]Canvas, error) { return SeedCanvases(d.now()) }, d.logger)
	if err != nil {
		return nil, err
	}
	for i := range loaded.canvases {
		stampCanvas(&loaded.canvases[i], d.now())
	}
	d.canvases = loaded.canvases
	d.feedback = loaded.feedback
	d.theme = loaded.theme
	d.authed = loaded.authed
	return d, nil
}

// Canvases returns a copy of every canvas.
func (d *Demo) Canvases() []Canvas {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Canvas, len(d.canvases))
	for i, c := range d.canvases {
		out[i] = cloneCanvas(c)
	}
	return out
}

func (d *Demo) Canvas(id string) (Canvas, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.indexOf(id)
	if idx < 0 {
		return Canvas{}, ErrCanvasNotFound
	}
	return cloneCanvas(d.canvases[idx]), nil
}

func (d *Demo) Feedback() []FeedbackEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FeedbackEntry{}, d.feedback...)
}

func (d *Demo) Theme() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.theme
}

func (d *Demo) IsAuthenticated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authed
}

func (d *Demo) Login(ctx context.Context) error {
	return d.setAuth(ctx, true)
}

func (d *Demo) Logout(ctx context.Context) error {
	return d.setAuth(ctx, false)
}

func (d *Demo) setAuth(ctx context.Context, authed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authed = authed
	return writeBucket(ctx, d.blobs, KeyAuth, authed)
}

func (d *Demo) SetTheme(ctx context.Context, theme string) error {
	if theme != "dark" && theme != "light" {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.theme = theme
	return writeBucket(ctx, d.blobs, KeyTheme, theme)
}

func (d *Demo) ToggleTheme(ctx context.Context) (string, error) {
	next := "light"
	if d.Theme() == "light" {
		next = "dark"
	}
	return next, d.SetTheme(ctx, next)
}

// Reset restores the seed canvases and clears the feedback list.
func (d *Demo) Reset(ctx context.Context) error {
	canvases, err := SeedCanvases(d.now())
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canvases = canvases
	d.feedback = []FeedbackEntry{}
	if err := writeBucket(ctx, d.blobs, KeyCanvases, d.canvases); err != nil {
		return err
	}
	return writeBucket(ctx, d.blobs, KeyFeedback, d.feedback)
}

// Search returns canvases whose name contains query, ignoring case. An empty
// query matches everything.
func (d *Demo) Search(query string) []Canvas {
	q := strings.ToLower(strings.TrimSpace(query))
	all := d.Canvases()
	if q == "" {
		return all
	}
	out := make([]Canvas, 0)
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

// Recommendations ranks pending recommendations by score, highest first.
// canvasID "global" (or empty) covers every canvas.
func (d *Demo) Recommendations(canvasID string) []RankedRecommendation {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]RankedRecommendation, 0)
	for _, c := range d.canvases {
		if canvasID != "" && canvasID != "global" && c.ID != canvasID {
			continue
		}
		for _, rec := range c.Recommendations {
			if rec.State != RecPending {
				continue
			}
			out = append(out, RankedRecommendation{CanvasID: c.ID, CanvasName: c.Name, Recommendation: rec, Score: Score(rec)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// mutate runs fn on the canvas and persists the collection.
func (d *Demo) mutate(ctx context.Context, canvasID string, fn func(*Canvas) error) (Canvas, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.indexOf(canvasID)
	if idx < 0 {
		return Canvas{}, ErrCanvasNotFound
	}
	next := cloneCanvas(d.canvases[idx])
	if err := fn(&next); err != nil {
		return Canvas{}, err
	}
	updated := append([]Canvas(nil), d.canvases...)
	updated[idx] = next
	if err := writeBucket(ctx, d.blobs, KeyCanvases, updated); err != nil {
		return Canvas{}, err
	}
	d.canvases = updated
	return cloneCanvas(next), nil
}

func (d *Demo) indexOf(id string) int {
	for i, c := range d.canvases {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AddCanvas creates an empty canvas at the end of the collection.
func (d *Demo) AddCanvas(ctx context.Context, name string) (Canvas, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Canvas{}, ErrEmptyInput
	}
	code := initials(name) + "-" + util.ShortCode(6)
	c := Canvas{
		ID:             util.NewID("canvas"),
		Name:           name,
		AvatarInitials: initials(name),
		Subtitle:       "New canvas. Define goals and execution plan.",
		ShareInfo:      ShareInfo{Code: code, Link: shareLinkBase + code},
		Integrations:   Integrations{},
	}
	stampCanvas(&c, d.now())
	refreshStatus(&c)

	d.mu.Lock()
	defer d.mu.Unlock()
	updated := append(append([]Canvas(nil), d.canvases...), c)
	if err := writeBucket(ctx, d.blobs, KeyCanvases, updated); err != nil {
		return Canvas{}, err
	}
	d.canvases = updated
	return cloneCanvas(c), nil
}

func initials(name string) string {
	words := strings.Fields(name)
	if len(words) > 2 {
		words = words[:2]
	}
	var b strings.Builder
	for _, word := range words {
		b.WriteString(strings.ToUpper(string([]rune(word)[0])))
	}
	if b.Len() == 0 {
		return "NC"
	}
	return b.String()
}

func (d *Demo) RenameCanvas(ctx context.Context, canvasID, name string) (Canvas, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Canvas{}, ErrEmptyInput
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		c.Name = name
		return nil
	})
}

// SetInitials stores up to two upper-cased characters.
func (d *Demo) SetInitials(ctx context.Context, canvasID, value string) (Canvas, error) {
	runes := []rune(strings.ToUpper(strings.TrimSpace(value)))
	if len(runes) == 0 {
		return Canvas{}, ErrEmptyInput
	}
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		c.AvatarInitials = string(runes)
		return nil
	})
}

func (d *Demo) AddMember(ctx context.Context, canvasID, email, role string) (Canvas, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return Canvas{}, ErrInvalidEmail
	}
	if role != "editor" {
		role = "viewer"
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		local, _, _ := strings.Cut(addr.Address, "@")
		c.Members = append(c.Members, Member{ID: util.NewID("member"), Name: local, Email: strings.ToLower(addr.Address), Role: role})
		return nil
	})
}

func (d *Demo) SetIntegration(ctx context.Context, canvasID, key string, connected bool) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		switch key {
		case SourceGmail:
			c.Integrations.Gmail = connected
		case SourceCalendar:
			c.Integrations.Calendar = connected
		case SourceSchool:
			c.Integrations.School = connected
		default:
			return fmt.Errorf("%w: %s", ErrUnknownIntegration, key)
		}
		return nil
	})
}

func (d *Demo) AddGoal(ctx context.Context, canvasID, title string) (Canvas, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Canvas{}, ErrEmptyInput
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		c.Goals = append([]Goal{{ID: util.NewID("goal"), Title: title, Horizon: "this_quarter", Summary: "Goal added from UI"}}, c.Goals...)
		return nil
	})
}

func (d *Demo) RemoveGoal(ctx context.Context, canvasID, goalID string) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		out := c.Goals[:0]
		for _, goal := range c.Goals {
			if goal.ID != goalID {
				out = append(out, goal)
			}
		}
		c.Goals = out
		return nil
	})
}

func (d *Demo) AddTaskGroup(ctx context.Context, canvasID, title string) (Canvas, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Canvas{}, ErrEmptyInput
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		addTaskGroup(c, title, SourceInternal)
		return nil
	})
}

func addTaskGroup(c *Canvas, title, source string) {
	group := TaskGroup{ID: util.NewID("group"), Title: title, Due: "This week", Source: source, Subtasks: []SubTask{}}
	c.TaskGroups = append([]TaskGroup{group}, c.TaskGroups...)
	refreshStatus(c)
}

func (d *Demo) RemoveTaskGroup(ctx context.Context, canvasID, groupID string) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		out := c.TaskGroups[:0]
		for _, group := range c.TaskGroups {
			if group.ID != groupID {
				out = append(out, group)
			}
		}
		c.TaskGroups = out
		refreshStatus(c)
		return nil
	})
}

func (d *Demo) AddSubTask(ctx context.Context, canvasID, groupID, text string) (Canvas, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Canvas{}, ErrEmptyInput
	}
	return d.mutateGroup(ctx, canvasID, groupID, func(group *TaskGroup) error {
		group.Subtasks = append(group.Subtasks, SubTask{ID: util.NewID("step"), Text: text})
		return nil
	})
}

func (d *Demo) RemoveSubTask(ctx context.Context, canvasID, groupID, subTaskID string) (Canvas, error) {
	return d.mutateGroup(ctx, canvasID, groupID, func(group *TaskGroup) error {
		out := group.Subtasks[:0]
		for _, sub := range group.Subtasks {
			if sub.ID != subTaskID {
				out = append(out, sub)
			}
		}
		group.Subtasks = out
		return nil
	})
}

func (d *Demo) ToggleSubTask(ctx context.Context, canvasID, groupID, subTaskID string) (Canvas, error) {
	return d.mutateGroup(ctx, canvasID, groupID, func(group *TaskGroup) error {
		for i := range group.Subtasks {
			if group.Subtasks[i].ID == subTaskID {
				group.Subtasks[i].Done = !group.Subtasks[i].Done
				return nil
			}
		}
		return ErrItemNotFound
	})
}

// mutateGroup edits one task group and recomputes the canvas status.
func (d *Demo) mutateGroup(ctx context.Context, canvasID, groupID string, fn func(*TaskGroup) error) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		for i := range c.TaskGroups {
			if c.TaskGroups[i].ID != groupID {
				continue
			}
			if err := fn(&c.TaskGroups[i]); err != nil {
				return err
			}
			refreshStatus(c)
			return nil
		}
		return ErrItemNotFound
	})
}

// AcceptRecommendation marks the recommendation accepted. Internal tasks
// also become a task group.
func (d *Demo) AcceptRecommendation(ctx context.Context, canvasID, recID string) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		rec := findRecommendation(c, recID)
		if rec == nil {
			return ErrItemNotFound
		}
		rec.State = RecAccepted
		if rec.ActionType == ActionInternalTask {
			addTaskGroup(c, rec.Title, SourceInternal)
		}
		refreshStatus(c)
		return nil
	})
}

// DismissRecommendation marks the recommendation dismissed and appends the
// reason to the feedback list.
func (d *Demo) DismissRecommendation(ctx context.Context, canvasID, recID, reason string) (Canvas, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Canvas{}, ErrEmptyInput
	}
	var entry FeedbackEntry
	c, err := d.mutate(ctx, canvasID, func(c *Canvas) error {
		rec := findRecommendation(c, recID)
		if rec == nil {
			return ErrItemNotFound
		}
		rec.State = RecDismissed
		refreshStatus(c)
		entry = FeedbackEntry{
			ID:               util.NewID("feedback"),
			CanvasID:         c.ID,
			RecommendationID: rec.ID,
			Title:            rec.Title,
			Reason:           reason,
			CreatedAt:        d.now(),
		}
		return nil
	})
	if err != nil {
		return Canvas{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.feedback = append(d.feedback, entry)
	if err := writeBucket(ctx, d.blobs, KeyFeedback, d.feedback); err != nil {
		return Canvas{}, err
	}
	return c, nil
}

func findRecommendation(c *Canvas, id string) *Recommendation {
	for i := range c.Recommendations {
		if c.Recommendations[i].ID == id {
			return &c.Recommendations[i]
		}
	}
	return nil
}

// GenerateRecommendations restores the preset recommendations of a canvas
// as pending. Canvases without presets get a generic planning suggestion.
func (d *Demo) GenerateRecommendations(ctx context.Context, canvasID string) (Canvas, error) {
	seed, err := SeedCanvases(d.now())
	if err != nil {
		return Canvas{}, err
	}
	presets := map[string][]Recommendation{}
	for _, c := range seed {
		presets[c.ID] = c.Recommendations
	}
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		recs, ok := presets[c.ID]
		if !ok {
			recs = []Recommendation{{
				ID:         util.NewID("rec"),
				Title:      "Break the first goal into three concrete steps",
				Urgency:    LevelMedium,
				Risk:       LevelMedium,
				Rationale:  "The canvas has no execution plan yet.",
				Details:    "Pick the most important goal and list the next three actions with owners.",
				Source:     SourceInternal,
				ActionType: ActionInternalTask,
				Impact:     "Turns intent into a plan.",
				State:      RecPending,
			}}
		}
		for _, rec := range recs {
			if existing := findRecommendation(c, rec.ID); existing != nil {
				existing.State = RecPending
				continue
			}
			c.Recommendations = append(c.Recommendations, rec)
		}
		refreshStatus(c)
		return nil
	})
}

// Assess refreshes the assessment timestamp and the derived status.
func (d *Demo) Assess(ctx context.Context, canvasID string) (Canvas, error) {
	return d.mutate(ctx, canvasID, func(c *Canvas) error {
		c.Assessment.UpdatedAt = d.now()
		refreshStatus(c)
		return nil
	})
}

// SendChat appends the prompt and the templated reply to the canvas chat.
func (d *Demo) SendChat(ctx context.Context, canvasID, prompt, mode string) (ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ChatMessage{}, ErrEmptyInput
	}
	var reply ChatMessage
	_, err := d.mutate(ctx, canvasID, func(c *Canvas) error {
		now := d.now()
		open := 0
		for _, group := range c.TaskGroups {
			for _, sub := range group.Subtasks {
				if !sub.Done {
					open++
				}
			}
		}
		text := assistant.Reply(prompt, mode, assistant.Context{
			WorkspaceName:   c.Name,
			OpenTodos:       open,
			PendingHighRisk: PendingHighRisk(*c),
		})
		reply = ChatMessage{ID: util.NewID("msg"), Role: "assistant", Text: text, Timestamp: now}
		c.Chat = append(c.Chat, ChatMessage{ID: util.NewID("msg"), Role: "user", Text: prompt, Timestamp: now}, reply)
		return nil
	})
	return reply, err
}

// CaptureMemory saves the latest assistant message as a memory.
func (d *Demo) CaptureMemory(ctx context.Context, canvasID, kind string) (Memory, error) {
	switch kind {
	case "principle", "constraint", "decision":
	default:
		kind = "decision"
	}
	var memory Memory
	_, err := d.mutate(ctx, canvasID, func(c *Canvas) error {
		for i := len(c.Chat) - 1; i >= 0; i-- {
			if c.Chat[i].Role != "assistant" {
				continue
			}
			memory = Memory{ID: util.NewID("memory"), Type: kind, Text: c.Chat[i].Text, SourceMessageID: c.Chat[i].ID, CreatedAt: d.now()}
			c.Memories = append([]Memory{memory}, c.Memories...)
			return nil
		}
		return ErrNoAssistantMessage
	})
	return memory, err
}

// InboxOutcome is what acting on an inbox item produced: a chat draft for
// mail, otherwise a new task group.
type InboxOutcome struct {
	ChatDraft string  `json:"chatDraft,omitempty"`
	Canvas    *Canvas `json:"canvas,omitempty"`
	Toast     string  `json:"toast,omitempty"`
}

func (d *Demo) ActOnInboxItem(ctx context.Context, canvasID, itemID string) (InboxOutcome, error) {
	c, err := d.Canvas(canvasID)
	if err != nil {
		return InboxOutcome{}, err
	}
	var item *InboxItem
	for i := range c.Inbox {
		if c.Inbox[i].ID == itemID {
			item = &c.Inbox[i]
			break
		}
	}
	if item == nil {
		return InboxOutcome{}, ErrItemNotFound
	}

	switch item.Source {
	case SourceGmail:
		return InboxOutcome{ChatDraft: fmt.Sprintf("Draft reply for inbox item %s: include concise next steps and owner.", item.ID)}, nil
	case SourceCalendar:
		updated, err := d.mutate(ctx, canvasID, func(c *Canvas) error {
			addTaskGroup(c, "Calendar follow-up from inbox signal", SourceCalendar)
			return nil
		})
		if err != nil {
			return InboxOutcome{}, err
		}
		return InboxOutcome{Canvas: &updated, Toast: "Added to plan"}, nil
	default:
		updated, err := d.mutate(ctx, canvasID, func(c *Canvas) error {
			addTaskGroup(c, "School signal converted to task", SourceSchool)
			return nil
		})
		if err != nil {
			return InboxOutcome{}, err
		}
		return InboxOutcome{Canvas: &updated, Toast: "Task created"}, nil
	}
}

func cloneCanvas(c Canvas) Canvas {
	out := c
	out.Members = append([]Member{}, c.Members...)
	out.Goals = append([]Goal{}, c.Goals...)
	out.TaskGroups = make([]TaskGroup, len(c.TaskGroups))
	for i, group := range c.TaskGroups {
		group.Subtasks = append([]SubTask{}, group.Subtasks...)
		out.TaskGroups[i] = group
	}
	out.Inbox = append([]InboxItem{}, c.Inbox...)
	out.Calendar = append([]CalendarEvent{}, c.Calendar...)
	out.Recommendations = append([]Recommendation{}, c.Recommendations...)
	out.Memories = append([]Memory{}, c.Memories...)
	out.Chat = append([]ChatMessage{}, c.Chat...)
	out.Assessment.GoingWell = append([]string{}, c.Assessment.GoingWell...)
	out.Assessment.Improve = append([]string{}, c.Assessment.Improve...)
	out.Assessment.Watchouts = append([]string{}, c.Assessment.Watchouts...)
	return out
}
