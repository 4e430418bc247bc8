// Package assistant runs one chat turn: it aggregates the caller's quest
// context, builds the model invocation, decodes the streamed response,
// applies the tool guardrails and dispatches at most one mutation.
package assistant

import (
	"context"
	"time"

	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ContextStore is the persistence the aggregator reads from.
type ContextStore interface {
	store.ProfileStore
	store.GoalStore
	store.TaskStore
	store.MessageStore
}

// Aggregator assembles a ContextSnapshot with concurrent fetches.
type Aggregator struct {
	store        ContextStore
	historyLimit int

	// Now is the clock that decides which tasks are due today.
	Now func() time.Time
}

// NewAggregator creates an aggregator that loads the last historyLimit
// messages.
func NewAggregator(s ContextStore, historyLimit int) *Aggregator {
	return &Aggregator{
		store:        s,
		historyLimit: historyLimit,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate fetches the profile, active goals, tasks due today and recent
// messages concurrently. Any failed fetch fails the whole snapshot; a
// missing profile is not a failure.
func (a *Aggregator) Aggregate(ctx context.Context, owner string) (*models.ContextSnapshot, error) {
	now := a.Now()
	today := now.Format(models.DateLayout)
	snap := &models.ContextSnapshot{Owner: owner, AsOf: now}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := a.store.GetProfile(gctx, owner)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		snap.Profile = p
		return nil
	})

	g.Go(func() error {
		goals, err := a.store.ListGoals(gctx, owner, models.GoalActive)
		if err != nil {
			return err
		}
		snap.ActiveGoals = goals
		return nil
	})

	g.Go(func() error {
		tasks, err := a.store.ListTasksDue(gctx, owner, today)
		if err != nil {
			return err
		}
		snap.DueTasks = tasks
		return nil
	})

	g.Go(func() error {
		if a.historyLimit <= 0 {
			return nil
		}
		msgs, err := a.store.ListRecentMessages(gctx, owner, a.historyLimit)
		if err != nil {
			return err
		}
		snap.RecentMessages = msgs
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, &errs.Error{Kind: errs.KindPersistence, Op: "assistant.aggregate", Msg: "could not load your quests", Err: err}
	}

	if snap.ActiveGoals == nil {
		snap.ActiveGoals = []models.Goal{}
	}
	if snap.DueTasks == nil {
		snap.DueTasks = []models.Task{}
	}
	if snap.RecentMessages == nil {
		snap.RecentMessages = []models.Message{}
	}
	return snap, nil
}
