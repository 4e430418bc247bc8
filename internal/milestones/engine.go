// Package milestones advances an epic through its ordered roadmap.
//
// Each milestone moves locked → active → completed and never regresses.
// All transitions are conditional writes at the storage boundary, so two
// progressions racing on the same milestone resolve to one winner without
// in-process locking.
package milestones

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Store is the persistence the engine needs.
type Store interface {
	store.GoalStore
	store.MilestoneStore
	store.TaskStore
}

// Outcome describes what a progression step did.
type Outcome string

const (
	// OutcomeNoMilestone: the task is not part of a roadmap.
	OutcomeNoMilestone Outcome = "no_milestone"
	// OutcomeMilestoneOpen: the milestone still has open tasks.
	OutcomeMilestoneOpen Outcome = "milestone_open"
	// OutcomeAlreadyAdvanced: another progression completed the milestone first.
	OutcomeAlreadyAdvanced Outcome = "already_advanced"
	// OutcomeAdvanced: the milestone completed and the next one is active.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeGoalCompleted: the last milestone completed, and with it the epic.
	OutcomeGoalCompleted Outcome = "goal_completed"
)

// DefaultTimeout bounds one asynchronous progression.
const DefaultTimeout = 30 * time.Second

// Engine runs milestone progression and installs generated roadmaps.
type Engine struct {
	store   Store
	queue   contracts.GenerationQueue
	timeout time.Duration
	wg      sync.WaitGroup

	// Now is the clock used for milestone timestamps.
	Now func() time.Time
}

// NewEngine creates an engine. queue may be nil, in which case task
// generation is skipped and logged.
func NewEngine(s Store, queue contracts.GenerationQueue) *Engine {
	return &Engine{
		store:   s,
		queue:   queue,
		timeout: DefaultTimeout,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// TaskCompleted runs progression for task in the background. Failures are
// logged and never reach the caller whose update triggered it.
func (e *Engine) TaskCompleted(owner string, task *models.Task) {
	if task == nil || task.MilestoneID == "" {
		return
	}
	t := *task
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		outcome, err := e.OnTaskCompleted(ctx, owner, &t)
		if err != nil {
			log.Error().
				Err(err).
				Str("owner", owner).
				Str("task", t.ID).
				Str("milestone", t.MilestoneID).
				Msg("❌ Milestone progression failed")
			return
		}
		log.Debug().
			Str("owner", owner).
			Str("task", t.ID).
			Str("outcome", string(outcome)).
			Msg("Milestone progression finished")
	}()
}

// Wait blocks until background progressions finish or ctx expires.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnTaskCompleted advances the task's milestone if it is now satisfied:
// the milestone completes, then the next sequence activates and gets its
// task set requested, or the epic completes when there is no next one.
func (e *Engine) OnTaskCompleted(ctx context.Context, owner string, task *models.Task) (Outcome, error) {
	const op = "milestones.progress"
	if task.MilestoneID == "" {
		return OutcomeNoMilestone, nil
	}

	ms, err := e.store.GetMilestone(ctx, owner, task.MilestoneID)
	if err != nil {
		return "", translate(op, err)
	}

	tasks, err := e.store.ListTasksByMilestone(ctx, owner, ms.ID)
	if err != nil {
		return "", translate(op, err)
	}
	for i := range tasks {
		if tasks[i].Open() {
			return OutcomeMilestoneOpen, nil
		}
	}

	err = e.store.TransitionMilestone(ctx, owner, ms.ID, models.MilestoneActive, models.MilestoneCompleted)
	if errors.Is(err, store.ErrConflict) {
		// Completed by a racing run, or by an earlier run that failed before
		// the next step. The next step is conditional, so re-run it.
		cur, err := e.store.GetMilestone(ctx, owner, ms.ID)
		if err != nil {
			return "", translate(op, err)
		}
		if cur.Status != models.MilestoneCompleted {
			return OutcomeAlreadyAdvanced, nil
		}
		return e.advanceFrom(ctx, owner, cur, true)
	}
	if err != nil {
		return "", translate(op, err)
	}
	log.Info().
		Str("owner", owner).
		Str("epic", ms.EpicID).
		Int("sequence", ms.Sequence).
		Msg("🏁 Milestone completed")

	return e.advanceFrom(ctx, owner, ms, false)
}

// advanceFrom runs the step after ms completed: activate the next
// sequence, or complete the epic when ms was the last one. Every step is
// conditional, so re-running it after a partial failure is safe.
func (e *Engine) advanceFrom(ctx context.Context, owner string, ms *models.Milestone, resumed bool) (Outcome, error) {
	const op = "milestones.progress"

	next, err := e.store.GetMilestoneBySequence(ctx, owner, ms.EpicID, ms.Sequence+1)
	if store.IsNotFound(err) {
		changed, err := e.completeGoal(ctx, owner, ms.EpicID)
		if err != nil {
			return "", err
		}
		if !changed && resumed {
			return OutcomeAlreadyAdvanced, nil
		}
		return OutcomeGoalCompleted, nil
	}
	if err != nil {
		return "", translate(op, err)
	}
	if next.Status != models.MilestoneLocked {
		return OutcomeAlreadyAdvanced, nil
	}

	err = e.store.TransitionMilestone(ctx, owner, next.ID, models.MilestoneLocked, models.MilestoneActive)
	if errors.Is(err, store.ErrConflict) {
		return OutcomeAlreadyAdvanced, nil
	}
	if err != nil {
		return "", translate(op, err)
	}
	log.Info().
		Str("owner", owner).
		Str("epic", next.EpicID).
		Int("sequence", next.Sequence).
		Bool("resumed", resumed).
		Msg("Milestone activated")

	e.requestTasks(owner, next.EpicID, next.Sequence)
	return OutcomeAdvanced, nil
}

// completeGoal marks the epic completed and reports whether it changed.
func (e *Engine) completeGoal(ctx context.Context, owner, goalID string) (bool, error) {
	goal, err := e.store.GetGoal(ctx, owner, goalID)
	if err != nil {
		return false, translate("milestones.complete_goal", err)
	}
	if goal.Status == models.GoalCompleted {
		return false, nil
	}
	goal.Status = models.GoalCompleted
	if err := e.store.UpdateGoal(ctx, goal); err != nil {
		return false, translate("milestones.complete_goal", err)
	}
	log.Info().Str("owner", owner).Str("epic", goalID).Msg("🎉 Epic completed")
	return true, nil
}

// requestTasks enqueues task generation for one milestone. Enqueue
// failures are logged only.
func (e *Engine) requestTasks(owner, goalID string, sequence int) {
	if e.queue == nil {
		log.Warn().Str("epic", goalID).Int("sequence", sequence).Msg("No generation queue, milestone tasks not requested")
		return
	}
	err := e.queue.Enqueue(&models.GenerationJob{
		Kind:     models.GenerateMilestoneTasks,
		Owner:    owner,
		GoalID:   goalID,
		Sequence: sequence,
	})
	if err != nil {
		log.Error().Err(err).Str("epic", goalID).Int("sequence", sequence).Msg("Failed to request milestone tasks")
	}
}

// ── Roadmaps ────────────────────────────────────────────────

// InstallRoadmap persists a generated roadmap for goalID: sequences 1..n
// with the first milestone active. The goal is marked ready only after
// every milestone exists, then tasks are requested for sequence 1.
func (e *Engine) InstallRoadmap(ctx context.Context, owner, goalID string, drafts []models.MilestoneDraft) ([]models.Milestone, error) {
	const op = "milestones.install"
	if len(drafts) == 0 {
		return nil, errs.Validation(op, "roadmap has no milestones")
	}
	for i, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			return nil, errs.Validation(op, fmt.Sprintf("milestone %d has no title", i+1))
		}
		if d.EstimatedDurationDays < 0 {
			return nil, errs.Validation(op, fmt.Sprintf("milestone %d has a negative duration", i+1))
		}
	}

	goal, err := e.store.GetGoal(ctx, owner, goalID)
	if err != nil {
		return nil, translate(op, err)
	}
	if goal.RoadmapStatus == models.RoadmapReady {
		return nil, errs.Validation(op, "roadmap already installed")
	}

	now := e.Now()
	roadmap := make([]models.Milestone, len(drafts))
	for i, d := range drafts {
		status := models.MilestoneLocked
		if i == 0 {
			status = models.MilestoneActive
		}
		roadmap[i] = models.Milestone{
			ID:                    uuid.New().String(),
			Owner:                 owner,
			EpicID:                goalID,
			Sequence:              i + 1,
			Title:                 strings.TrimSpace(d.Title),
			Description:           d.Description,
			Status:                status,
			EstimatedDurationDays: d.EstimatedDurationDays,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
	}

	if err := e.store.CreateMilestones(ctx, roadmap); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, translate(op, err)
		}
		// A redelivered callback after a failed status write finds the
		// same roadmap already stored; finish that install instead.
		stored, lerr := e.store.ListMilestones(ctx, owner, goalID)
		if lerr != nil {
			return nil, translate(op, lerr)
		}
		if !sameRoadmap(stored, roadmap) {
			return nil, errs.Validation(op, "roadmap already installed")
		}
		roadmap = stored
		log.Warn().Str("owner", owner).Str("epic", goalID).Msg("Roadmap already stored, finishing install")
	}

	goal.RoadmapStatus = models.RoadmapReady
	if err := e.store.UpdateGoal(ctx, goal); err != nil {
		return nil, translate(op, err)
	}
	log.Info().Str("owner", owner).Str("epic", goalID).Int("milestones", len(roadmap)).Msg("🗺️ Roadmap installed")

	if roadmap[0].Status == models.MilestoneActive {
		e.requestTasks(owner, goalID, 1)
	}
	return roadmap, nil
}

// sameRoadmap reports whether stored matches want by sequence and title.
func sameRoadmap(stored, want []models.Milestone) bool {
	if len(stored) != len(want) {
		return false
	}
	for i := range want {
		if stored[i].Sequence != want[i].Sequence || stored[i].Title != want[i].Title {
			return false
		}
	}
	return true
}

// Roadmap returns the epic's milestones in sequence order.
func (e *Engine) Roadmap(ctx context.Context, owner, goalID string) ([]models.Milestone, error) {
	const op = "milestones.roadmap"
	if _, err := e.store.GetGoal(ctx, owner, goalID); err != nil {
		return nil, translate(op, err)
	}
	ms, err := e.store.ListMilestones(ctx, owner, goalID)
	if err != nil {
		return nil, translate(op, err)
	}
	return ms, nil
}

func translate(op string, err error) error {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return errs.NotFound(op, nf.Entity+" not found")
	}
	return &errs.Error{Kind: errs.KindPersistence, Op: op, Msg: "storage unavailable", Err: err}
}

var _ contracts.TaskCompletionObserver = (*Engine)(nil)
