// Package dispatch maps one validated tool invocation to a domain mutation
// on epics, daily quests or recurrence rules.
//
// The owner of every mutation is the authenticated caller passed to
// Dispatch; invocation input can never name a different owner.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/guardrails"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	store.GoalStore
	store.TaskStore
	store.RecurrenceStore
}

// Dispatcher executes validated invocations.
type Dispatcher struct {
	store    Store
	queue    contracts.GenerationQueue
	observer contracts.TaskCompletionObserver

	// Now is the clock used for timestamps and default due dates.
	Now func() time.Time
}

// New creates a dispatcher. queue and observer may be nil.
func New(s Store, queue contracts.GenerationQueue, observer contracts.TaskCompletionObserver) *Dispatcher {
	return &Dispatcher{
		store:    s,
		queue:    queue,
		observer: observer,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch routes inv by entity type and operation and returns a short
// confirmation. Errors keep their kind (NotFound, Validation, Persistence).
func (d *Dispatcher) Dispatch(ctx context.Context, owner string, inv *guardrails.ValidatedInvocation) (string, error) {
	if owner == "" {
		return "", errs.E(errs.KindAuth, "dispatch", "missing owner")
	}
	if inv == nil {
		return "", errs.Validation("dispatch", "no invocation")
	}

	var (
		msg string
		err error
	)
	switch inv.EntityType() {
	case guardrails.EntityEpic:
		msg, err = d.dispatchEpic(ctx, owner, inv.Action())
	case guardrails.EntityDailyTask:
		msg, err = d.dispatchTask(ctx, owner, inv.Action())
	case guardrails.EntityRecurrenceRule:
		msg, err = d.dispatchRule(ctx, owner, inv.Action())
	default:
		err = errs.Validation("dispatch", "unsupported entity type")
	}

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("owner", owner).
		Str("entity", string(inv.EntityType())).
		Str("operation", string(inv.Operation())).
		Msg("Tool invocation dispatched")
	return msg, err
}

// ── Epics ───────────────────────────────────────────────────

func (d *Dispatcher) dispatchEpic(ctx context.Context, owner string, action guardrails.Action) (string, error) {
	switch a := action.(type) {
	case guardrails.Create:
		now := d.Now()
		goal := &models.Goal{
			ID:            uuid.New().String(),
			Owner:         owner,
			Name:          strings.TrimSpace(a.Title),
			Description:   stringOf(a.Fields, "description"),
			Status:        models.GoalActive,
			RoadmapStatus: models.RoadmapGenerating,
			TargetDate:    firstNonEmpty(a.DueDate, stringOf(a.Fields, "targetDate")),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := d.store.CreateGoal(ctx, goal); err != nil {
			return "", persistence("dispatch.epic.create", err)
		}
		d.requestRoadmap(ctx, goal)
		return fmt.Sprintf("Created epic %q. I'm drafting a roadmap for it now.", goal.Name), nil

	case guardrails.Update:
		goal, err := d.store.GetGoal(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.epic.update", "epic", err)
		}
		if err := applyGoalChanges(goal, a); err != nil {
			return "", err
		}
		if err := d.store.UpdateGoal(ctx, goal); err != nil {
			return "", translate("dispatch.epic.update", "epic", err)
		}
		return fmt.Sprintf("Updated epic %q.", goal.Name), nil

	case guardrails.Delete:
		goal, err := d.store.GetGoal(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.epic.delete", "epic", err)
		}
		if err := d.store.DeleteGoal(ctx, owner, a.EntityID); err != nil {
			return "", translate("dispatch.epic.delete", "epic", err)
		}
		return fmt.Sprintf("Deleted epic %q and its roadmap.", goal.Name), nil
	}
	return "", errs.Validation("dispatch.epic", "unsupported operation")
}

// requestRoadmap enqueues roadmap generation. If the job cannot be queued
// the goal falls back to RoadmapNone so it can be requested again.
func (d *Dispatcher) requestRoadmap(ctx context.Context, goal *models.Goal) {
	if d.queue != nil {
		err := d.queue.Enqueue(&models.GenerationJob{
			Kind:   models.GenerateRoadmap,
			Owner:  goal.Owner,
			GoalID: goal.ID,
		})
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("goal", goal.ID).Msg("Roadmap generation not queued")
	}
	goal.RoadmapStatus = models.RoadmapNone
	if err := d.store.UpdateGoal(ctx, goal); err != nil {
		log.Error().Err(err).Str("goal", goal.ID).Msg("Failed to reset roadmap status")
	}
}

func applyGoalChanges(goal *models.Goal, a guardrails.Update) error {
	if a.Title != "" {
		goal.Name = strings.TrimSpace(a.Title)
	}
	if a.DueDate != "" {
		goal.TargetDate = a.DueDate
	}
	for k, v := range a.Fields {
		switch k {
		case "name", "title":
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errs.Validation("dispatch.epic.update", "name must be a non-empty string")
			}
			goal.Name = strings.TrimSpace(s)
		case "description":
			s, _ := v.(string)
			goal.Description = s
		case "targetDate":
			s, ok := v.(string)
			if !ok || !validDate(s) {
				return errs.Validation("dispatch.epic.update", "targetDate must be YYYY-MM-DD")
			}
			goal.TargetDate = s
		case "status":
			// Completion belongs to milestone progression; only pause/resume here.
			s, _ := v.(string)
			if goal.Status == models.GoalCompleted {
				return errs.Validation("dispatch.epic.update", "a completed epic cannot change status")
			}
			switch models.GoalStatus(s) {
			case models.GoalActive, models.GoalPaused:
				goal.Status = models.GoalStatus(s)
			case models.GoalCompleted:
				return errs.Validation("dispatch.epic.update", "an epic completes when its last milestone does")
			default:
				return errs.Validation("dispatch.epic.update", "status must be active or paused")
			}
		default:
			log.Debug().Str("field", k).Msg("Ignoring unknown epic field")
		}
	}
	return nil
}

// ── Daily quests ────────────────────────────────────────────

func (d *Dispatcher) dispatchTask(ctx context.Context, owner string, action guardrails.Action) (string, error) {
	switch a := action.(type) {
	case guardrails.Create:
		now := d.Now()
		task := &models.Task{
			ID:          uuid.New().String(),
			Owner:       owner,
			Name:        strings.TrimSpace(a.Title),
			Description: stringOf(a.Fields, "description"),
			DueDate:     firstNonEmpty(a.DueDate, now.Format(models.DateLayout)),
			Priority:    models.PriorityMedium,
			Status:      models.TaskPending,
			GoalID:      a.ParentID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if p, ok := a.Fields["priority"]; ok {
			priority, err := parsePriority(p)
			if err != nil {
				return "", err
			}
			task.Priority = priority
		}
		if task.GoalID != "" {
			if _, err := d.store.GetGoal(ctx, owner, task.GoalID); err != nil {
				return "", translate("dispatch.task.create", "epic", err)
			}
		}
		if err := d.store.CreateTask(ctx, task); err != nil {
			return "", persistence("dispatch.task.create", err)
		}
		return fmt.Sprintf("Added daily quest %q for %s.", task.Name, task.DueDate), nil

	case guardrails.Update:
		task, err := d.store.GetTask(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.task.update", "daily quest", err)
		}
		wasCompleted := task.Status == models.TaskCompleted
		if err := applyTaskChanges(task, a); err != nil {
			return "", err
		}
		if err := d.store.UpdateTask(ctx, task); err != nil {
			return "", translate("dispatch.task.update", "daily quest", err)
		}
		if !wasCompleted && task.Status == models.TaskCompleted {
			d.notifyCompleted(owner, task)
			return fmt.Sprintf("Marked %q as completed. Nice work!", task.Name), nil
		}
		return fmt.Sprintf("Updated daily quest %q.", task.Name), nil

	case guardrails.Delete:
		task, err := d.store.GetTask(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.task.delete", "daily quest", err)
		}
		if err := d.store.DeleteTask(ctx, owner, a.EntityID); err != nil {
			return "", translate("dispatch.task.delete", "daily quest", err)
		}
		return fmt.Sprintf("Deleted daily quest %q.", task.Name), nil
	}
	return "", errs.Validation("dispatch.task", "unsupported operation")
}

// UpdateTaskStatus sets a task's status outside a chat turn and runs the
// same completion hook as a dispatched update.
func (d *Dispatcher) UpdateTaskStatus(ctx context.Context, owner, taskID string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, errs.Validation("dispatch.task.status", "status must be pending, in-progress or completed")
	}
	task, err := d.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, translate("dispatch.task.status", "daily quest", err)
	}
	wasCompleted := task.Status == models.TaskCompleted
	task.Status = status
	if err := d.store.UpdateTask(ctx, task); err != nil {
		return nil, translate("dispatch.task.status", "daily quest", err)
	}
	if !wasCompleted && status == models.TaskCompleted {
		d.notifyCompleted(owner, task)
	}
	return task, nil
}

func (d *Dispatcher) notifyCompleted(owner string, task *models.Task) {
	if d.observer == nil {
		return
	}
	cp := *task
	d.observer.TaskCompleted(owner, &cp)
}

func applyTaskChanges(task *models.Task, a guardrails.Update) error {
	if a.Title != "" {
		task.Name = strings.TrimSpace(a.Title)
	}
	if a.DueDate != "" {
		task.DueDate = a.DueDate
	}
	for k, v := range a.Fields {
		switch k {
		case "name", "title":
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errs.Validation("dispatch.task.update", "name must be a non-empty string")
			}
			task.Name = strings.TrimSpace(s)
		case "description":
			s, _ := v.(string)
			task.Description = s
		case "dueDate":
			s, ok := v.(string)
			if !ok || !validDate(s) {
				return errs.Validation("dispatch.task.update", "dueDate must be YYYY-MM-DD")
			}
			task.DueDate = s
		case "priority":
			p, err := parsePriority(v)
			if err != nil {
				return err
			}
			task.Priority = p
		case "status":
			s, _ := v.(string)
			status := models.TaskStatus(s)
			if !status.Valid() {
				return errs.Validation("dispatch.task.update", "status must be pending, in-progress or completed")
			}
			task.Status = status
		default:
			log.Debug().Str("field", k).Msg("Ignoring unknown task field")
		}
	}
	return nil
}

func parsePriority(v any) (models.TaskPriority, error) {
	s, _ := v.(string)
	switch p := models.TaskPriority(strings.ToLower(s)); p {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return p, nil
	}
	return "", errs.Validation("dispatch.task", "priority must be low, medium or high")
}

// ── Recurrence rules ────────────────────────────────────────

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func (d *Dispatcher) dispatchRule(ctx context.Context, owner string, action guardrails.Action) (string, error) {
	switch a := action.(type) {
	case guardrails.Create:
		now := d.Now()
		rule := &models.RecurrenceRule{
			ID:        uuid.New().String(),
			Owner:     owner,
			GoalID:    a.ParentID,
			Title:     strings.TrimSpace(a.Title),
			Frequency: models.FrequencyDaily,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := applyRuleFields(rule, a.Fields, "dispatch.rule.create"); err != nil {
			return "", err
		}
		if err := d.store.CreateRecurrenceRule(ctx, rule); err != nil {
			return "", persistence("dispatch.rule.create", err)
		}
		return fmt.Sprintf("Created %s recurring quest %q.", rule.Frequency, rule.Title), nil

	case guardrails.Update:
		rule, err := d.store.GetRecurrenceRule(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.rule.update", "recurring quest", err)
		}
		if a.Title != "" {
			rule.Title = strings.TrimSpace(a.Title)
		}
		if err := applyRuleFields(rule, a.Fields, "dispatch.rule.update"); err != nil {
			return "", err
		}
		if err := d.store.UpdateRecurrenceRule(ctx, rule); err != nil {
			return "", translate("dispatch.rule.update", "recurring quest", err)
		}
		return fmt.Sprintf("Updated recurring quest %q.", rule.Title), nil

	case guardrails.Delete:
		rule, err := d.store.GetRecurrenceRule(ctx, owner, a.EntityID)
		if err != nil {
			return "", translate("dispatch.rule.delete", "recurring quest", err)
		}
		if err := d.store.DeleteRecurrenceRule(ctx, owner, a.EntityID); err != nil {
			return "", translate("dispatch.rule.delete", "recurring quest", err)
		}
		return fmt.Sprintf("Deleted recurring quest %q.", rule.Title), nil
	}
	return "", errs.Validation("dispatch.rule", "unsupported operation")
}

func applyRuleFields(rule *models.RecurrenceRule, fields map[string]any, op string) error {
	for k, v := range fields {
		switch k {
		case "title", "name":
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errs.Validation(op, "title must be a non-empty string")
			}
			rule.Title = strings.TrimSpace(s)
		case "frequency":
			s, _ := v.(string)
			switch f := models.Frequency(strings.ToLower(s)); f {
			case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
				rule.Frequency = f
			default:
				return errs.Validation(op, "frequency must be daily, weekly or monthly")
			}
		case "daysOfWeek":
			list, ok := v.([]any)
			if !ok {
				return errs.Validation(op, "daysOfWeek must be a list of weekday names")
			}
			days := make([]string, 0, len(list))
			for _, item := range list {
				s, _ := item.(string)
				s = strings.ToLower(s)
				if !weekdays[s] {
					return errs.Validation(op, "daysOfWeek must be a list of weekday names")
				}
				days = append(days, s)
			}
			rule.DaysOfWeek = days
		case "active":
			b, ok := v.(bool)
			if !ok {
				return errs.Validation(op, "active must be a boolean")
			}
			rule.Active = b
		default:
			log.Debug().Str("field", k).Msg("Ignoring unknown recurrence field")
		}
	}
	if rule.Frequency == models.FrequencyWeekly && len(rule.DaysOfWeek) == 0 {
		return errs.Validation(op, "weekly recurring quests need daysOfWeek")
	}
	return nil
}

// ── Helpers ─────────────────────────────────────────────────

// translate maps store errors onto error kinds.
func translate(op, entity string, err error) error {
	if store.IsNotFound(err) {
		return errs.NotFound(op, entity+" not found")
	}
	return persistence(op, err)
}

func persistence(op string, err error) error {
	return &errs.Error{Kind: errs.KindPersistence, Op: op, Msg: "storage unavailable", Err: err}
}

func stringOf(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validDate(s string) bool {
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}
