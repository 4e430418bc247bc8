// Package models defines the domain types shared across the quest assistant:
// epics (goals), milestones, daily quests (tasks), recurrence rules,
// conversation messages and the request-scoped context snapshot.
package models

import (
	"time"
)

// DateLayout is the wire format of due dates ("YYYY-MM-DD").
const DateLayout = "2006-01-02"

// ── Epic (Goal) ─────────────────────────────────────────────

// GoalStatus represents the lifecycle of an epic.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
)

// RoadmapStatus tracks roadmap generation for an epic.
// A goal becomes RoadmapReady only after all of its milestones exist.
type RoadmapStatus string

const (
	RoadmapNone       RoadmapStatus = "none"
	RoadmapGenerating RoadmapStatus = "generating"
	RoadmapReady      RoadmapStatus = "ready"
)

// Goal is a long-term objective ("epic") owned by a user.
type Goal struct {
	ID            string        `json:"id"`
	Owner         string        `json:"owner"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        GoalStatus    `json:"status"`
	RoadmapStatus RoadmapStatus `json:"roadmap_status"`
	TargetDate    string        `json:"target_date,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ── Milestone ───────────────────────────────────────────────

// MilestoneStatus is one-directional: locked → active → completed.
type MilestoneStatus string

const (
	MilestoneLocked    MilestoneStatus = "locked"
	MilestoneActive    MilestoneStatus = "active"
	MilestoneCompleted MilestoneStatus = "completed"
)

// Milestone is an ordered step within an epic's roadmap, keyed by
// (EpicID, Sequence). Sequence is dense and 1-based.
type Milestone struct {
	ID                    string          `json:"id"`
	Owner                 string          `json:"owner"`
	EpicID                string          `json:"epic_id"`
	Sequence              int             `json:"sequence"`
	Title                 string          `json:"title"`
	Description           string          `json:"description,omitempty"`
	Status                MilestoneStatus `json:"status"`
	EstimatedDurationDays int             `json:"estimated_duration_days"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// MilestoneDraft is a milestone proposed by the roadmap generator, before
// sequencing and persistence.
type MilestoneDraft struct {
	Title                 string `json:"title"`
	Description           string `json:"description,omitempty"`
	EstimatedDurationDays int    `json:"estimated_duration_days"`
}

// ── Task (Daily Quest) ──────────────────────────────────────

// TaskStatus is the lifecycle of a daily quest.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// TaskPriority ranks daily quests.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task is a short-term actionable item ("daily quest"). A task with a
// MilestoneID belongs to exactly one milestone.
type Task struct {
	ID          string       `json:"id"`
	Owner       string       `json:"owner"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	DueDate     string       `json:"due_date"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	GoalID      string       `json:"goal_id,omitempty"`
	MilestoneID string       `json:"milestone_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Open reports whether the task still counts against its milestone.
func (t *Task) Open() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}

// ── Recurrence Rule ─────────────────────────────────────────

// Frequency of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RecurrenceRule spawns daily quests on a schedule.
type RecurrenceRule struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	GoalID     string    `json:"goal_id,omitempty"`
	Title      string    `json:"title"`
	Frequency  Frequency `json:"frequency"`
	DaysOfWeek []string  `json:"days_of_week,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ── Conversation ────────────────────────────────────────────

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an append-only conversation entry. Ordering by Timestamp is
// the only cross-message invariant.
type Message struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
}

// Profile is the user-level context fed to the assistant.
type Profile struct {
	Owner       string            `json:"owner"`
	DisplayName string            `json:"display_name"`
	Timezone    string            `json:"timezone,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// ── Context Snapshot ────────────────────────────────────────

// ContextSnapshot is the immutable, request-scoped view of a user's state
// assembled before a chat turn. Profile is nil when the user has none.
type ContextSnapshot struct {
	Owner          string    `json:"owner"`
	AsOf           time.Time `json:"as_of"`
	Profile        *Profile  `json:"profile,omitempty"`
	ActiveGoals    []Goal    `json:"active_goals"`
	DueTasks       []Task    `json:"due_tasks"`
	RecentMessages []Message `json:"recent_messages"`
}

// ── Tool Invocation ─────────────────────────────────────────

// ToolInvocation is a structured action request decoded from the model's
// output. It is untrusted and must pass the guardrails before any effect.
type ToolInvocation struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
}

// ── Chat surface ────────────────────────────────────────────

// ChatRequest is the body of a chat turn submission.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the caller-visible result of a chat turn.
type ChatResponse struct {
	Answer string `json:"answer"`
	Action string `json:"action,omitempty"`
}

// ── Audit ───────────────────────────────────────────────────

// AuditEvent records an auditable decision, such as a rejected tool
// invocation. Details never reach the end user verbatim.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Owner     string         `json:"owner"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ── Inference payload ───────────────────────────────────────

// PromptMessage is one turn of conversation history sent to the model.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSpec declares a tool the model may call. InputSchema is a JSON
// Schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// InvocationPayload is the provider-neutral model request produced by the
// prompt builder. Drivers translate it into their own wire format.
type InvocationPayload struct {
	System    string          `json:"system"`
	Messages  []PromptMessage `json:"messages"`
	Tools     []ToolSpec      `json:"tools"`
	MaxTokens int             `json:"max_tokens"`
}

// ── Generation jobs ─────────────────────────────────────────

// GenerationKind selects which pipeline a job runs.
type GenerationKind string

const (
	// GenerateRoadmap asks the pipeline for an epic's milestone drafts.
	GenerateRoadmap GenerationKind = "roadmap"
	// GenerateMilestoneTasks asks the pipeline for one milestone's daily quests.
	GenerateMilestoneTasks GenerationKind = "milestone_tasks"
)

// GenerationJob is an enqueued request to the generation pipeline.
type GenerationJob struct {
	ID         string         `json:"id"`
	Kind       GenerationKind `json:"kind"`
	Owner      string         `json:"owner"`
	GoalID     string         `json:"goal_id"`
	Sequence   int            `json:"sequence,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}
