// Package localdemo is the offline variant of the canvas workspace: the whole
// collection lives in blob buckets and every action writes straight through.
package localdemo

import "time"

const (
	StatusOnTrack = "on_track"
	StatusAtRisk  = "at_risk"
	StatusBehind  = "behind"
)

const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

const (
	SourceGmail    = "gmail"
	SourceCalendar = "calendar"
	SourceSchool   = "school"
	SourceInternal = "internal"
)

const (
	RecPending   = "pending"
	RecAccepted  = "accepted"
	RecDismissed = "dismissed"
)

const (
	ActionCalendarEvent = "calendar_event"
	ActionInternalTask  = "internal_task"
	ActionEmailDraft    = "email_draft"
)

type ShareInfo struct {
	Code string `json:"code" yaml:"code"`
	Link string `json:"link" yaml:"link"`
}

type Member struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	Role  string `json:"role" yaml:"role"`
}

type Integrations struct {
	Gmail    bool `json:"gmail" yaml:"gmail"`
	Calendar bool `json:"calendar" yaml:"calendar"`
	School   bool `json:"school" yaml:"school"`
}

type Goal struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Horizon string `json:"horizon" yaml:"horizon"`
	Summary string `json:"summary" yaml:"summary"`
}

type SubTask struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
	Done bool   `json:"done" yaml:"done"`
}

type TaskGroup struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Due      string    `json:"due" yaml:"due"`
	Source   string    `json:"source" yaml:"source"`
	Subtasks []SubTask `json:"subtasks" yaml:"subtasks"`
}

type InboxItem struct {
	ID                  string `json:"id" yaml:"id"`
	Source              string `json:"source" yaml:"source"`
	Title               string `json:"title" yaml:"title"`
	Excerpt             string `json:"excerpt" yaml:"excerpt"`
	Date                string `json:"date" yaml:"date"`
	Actionable          bool   `json:"actionable" yaml:"actionable"`
	Importance          string `json:"importance" yaml:"importance"`
	SuggestedActionType string `json:"suggestedActionType" yaml:"suggestedActionType"`
}

type CalendarEvent struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Day   string `json:"day" yaml:"day"`
	Time  string `json:"time" yaml:"time"`
	Type  string `json:"type" yaml:"type"`
}

type Recommendation struct {
	ID               string `json:"id" yaml:"id"`
	Title            string `json:"title" yaml:"title"`
	Urgency          string `json:"urgency" yaml:"urgency"`
	Risk             string `json:"risk" yaml:"risk"`
	Rationale        string `json:"rationale" yaml:"rationale"`
	Details          string `json:"details" yaml:"details"`
	Source           string `json:"source" yaml:"source"`
	ActionType       string `json:"actionType" yaml:"actionType"`
	Impact           string `json:"impact" yaml:"impact"`
	State            string `json:"state" yaml:"state"`
	RequiresApproval bool   `json:"requiresApproval" yaml:"requiresApproval"`
}

type Memory struct {
	ID              string    `json:"id" yaml:"id"`
	Type            string    `json:"type" yaml:"type"`
	Text            string    `json:"text" yaml:"text"`
	SourceMessageID string    `json:"sourceMessageId,omitempty" yaml:"sourceMessageId"`
	CreatedAt       time.Time `json:"createdAt" yaml:"createdAt"`
}

type Assessment struct {
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
	GoingWell []string  `json:"goingWell" yaml:"goingWell"`
	Improve   []string  `json:"improve" yaml:"improve"`
	Watchouts []string  `json:"watchouts" yaml:"watchouts"`
}

type ChatMessage struct {
	ID        string    `json:"id" yaml:"id"`
	Role      string    `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Canvas is one workspace of the local demo with everything it holds.
type Canvas struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	AvatarInitials  string           `json:"avatarInitials" yaml:"avatarInitials"`
	Subtitle        string           `json:"subtitle" yaml:"subtitle"`
	Status          string           `json:"status" yaml:"status"`
	StatusLabel     string           `json:"statusLabel" yaml:"statusLabel"`
	ShareInfo       ShareInfo        `json:"shareInfo" yaml:"shareInfo"`
	Members         []Member         `json:"members" yaml:"members"`
	Integrations    Integrations     `json:"integrations" yaml:"integrations"`
	Goals           []Goal           `json:"goals" yaml:"goals"`
	TaskGroups      []TaskGroup      `json:"taskGroups" yaml:"taskGroups"`
	Inbox           []InboxItem      `json:"inbox" yaml:"inbox"`
	Calendar        []CalendarEvent  `json:"calendar" yaml:"calendar"`
	Recommendations []Recommendation `json:"recommendations" yaml:"recommendations"`
	Memories        []Memory         `json:"memories" yaml:"memories"`
	Assessment      Assessment       `json:"assessment" yaml:"assessment"`
	Chat            []ChatMessage    `json:"chat" yaml:"chat"`
}

// FeedbackEntry records why a recommendation was dismissed.
type FeedbackEntry struct {
	ID               string    `json:"id"`
	CanvasID         string    `json:"canvasId"`
	RecommendationID string    `json:"recommendationId"`
	Title            string    `json:"title"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RankedRecommendation is a pending recommendation with its canvas.
type RankedRecommendation struct {
	CanvasID       string         `json:"canvasId"`
	CanvasName     string         `json:"canvasName"`
	Recommendation Recommendation `json:"recommendation"`
	Score          int            `json:"score"`
}
