// Package store provides the persistence interfaces and implementations for
// the quest assistant. The in-memory store backs local development and
// tests; PostgresStore backs production.
//
// Every mutation is conditional on ownership: entities are addressed by
// (owner, id), and milestones additionally by (epicID, sequence).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/izik-adio/zik-back-sub000/pkg/models"
)

// Store is the primary storage interface. All orchestration code depends on
// the narrower interfaces below, so either implementation can be swapped in.
type Store interface {
	GoalStore
	MilestoneStore
	TaskStore
	RecurrenceStore
	MessageStore
	ProfileStore
	AuditStore
	RetentionStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Goal Store ──────────────────────────────────────────────

type GoalStore interface {
	GetGoal(ctx context.Context, owner, id string) (*models.Goal, error)
	// ListGoals returns the owner's goals; an empty status returns all.
	ListGoals(ctx context.Context, owner string, status models.GoalStatus) ([]models.Goal, error)
	CreateGoal(ctx context.Context, goal *models.Goal) error
	UpdateGoal(ctx context.Context, goal *models.Goal) error
	// DeleteGoal removes the goal and cascades to its milestones.
	DeleteGoal(ctx context.Context, owner, id string) error
}

// ── Milestone Store ─────────────────────────────────────────

type MilestoneStore interface {
	// ListMilestones returns an epic's milestones ordered by sequence.
	ListMilestones(ctx context.Context, owner, epicID string) ([]models.Milestone, error)
	GetMilestone(ctx context.Context, owner, id string) (*models.Milestone, error)
	GetMilestoneBySequence(ctx context.Context, owner, epicID string, sequence int) (*models.Milestone, error)
	// CreateMilestones inserts a whole roadmap atomically.
	CreateMilestones(ctx context.Context, milestones []models.Milestone) error
	// TransitionMilestone moves a milestone from one status to another.
	// It returns ErrConflict if the stored status is not `from`.
	TransitionMilestone(ctx context.Context, owner, id string, from, to models.MilestoneStatus) error
}

// ── Task Store ──────────────────────────────────────────────

type TaskStore interface {
	GetTask(ctx context.Context, owner, id string) (*models.Task, error)
	// ListTasksDue returns the owner's tasks due on the given date (YYYY-MM-DD).
	ListTasksDue(ctx context.Context, owner, date string) ([]models.Task, error)
	ListTasksByMilestone(ctx context.Context, owner, milestoneID string) ([]models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, owner, id string) error
}

// ── Recurrence Store ────────────────────────────────────────

type RecurrenceStore interface {
	GetRecurrenceRule(ctx context.Context, owner, id string) (*models.RecurrenceRule, error)
	CreateRecurrenceRule(ctx context.Context, rule *models.RecurrenceRule) error
	UpdateRecurrenceRule(ctx context.Context, rule *models.RecurrenceRule) error
	DeleteRecurrenceRule(ctx context.Context, owner, id string) error
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	// ListRecentMessages returns the last `limit` messages, oldest first.
	ListRecentMessages(ctx context.Context, owner string, limit int) ([]models.Message, error)
}

// ── Profile Store ───────────────────────────────────────────

type ProfileStore interface {
	GetProfile(ctx context.Context, owner string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, profile *models.Profile) error
}

// ── Audit Store ─────────────────────────────────────────────

type AuditStore interface {
	CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, owner string, limit int) ([]models.AuditEvent, error)
}

// ── Retention Store ─────────────────────────────────────────

// RetentionStore removes data past its retention window.
type RetentionStore interface {
	// ListAuditEventsBefore returns every audit event older than before,
	// oldest first.
	ListAuditEventsBefore(ctx context.Context, before time.Time) ([]models.AuditEvent, error)
	DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int, error)
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist for the owner.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a conditional write loses to a concurrent one.
var ErrConflict = errors.New("conditional write conflict")

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
