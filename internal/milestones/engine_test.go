package milestones_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/milestones"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []models.GenerationJob
}

func (q *recordingQueue) Enqueue(job *models.GenerationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, *job)
	return nil
}

func (q *recordingQueue) snapshot() []models.GenerationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.GenerationJob(nil), q.jobs...)
}

const owner = "alice"

// seed creates epic e1 with n milestones where sequence `active` is active,
// earlier ones completed and later ones locked.
func seed(t *testing.T, s *store.MemoryStore, n, active int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateGoal(ctx, &models.Goal{ID: "e1", Owner: owner, Name: "Marathon", Status: models.GoalActive, RoadmapStatus: models.RoadmapReady}))
	ms := make([]models.Milestone, n)
	for i := range ms {
		seq := i + 1
		status := models.MilestoneLocked
		switch {
		case seq < active:
			status = models.MilestoneCompleted
		case seq == active:
			status = models.MilestoneActive
		}
		ms[i] = models.Milestone{ID: fmt.Sprintf("m%d", seq), Owner: owner, EpicID: "e1", Sequence: seq, Title: fmt.Sprintf("Step %d", seq), Status: status}
	}
	require.NoError(t, s.CreateMilestones(ctx, ms))
}

func addTask(t *testing.T, s *store.MemoryStore, id, milestone string, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{ID: id, Owner: owner, Name: id, DueDate: "2025-03-01", Status: status, GoalID: "e1", MilestoneID: milestone}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func statuses(t *testing.T, s *store.MemoryStore) map[int]models.MilestoneStatus {
	t.Helper()
	ms, err := s.ListMilestones(context.Background(), owner, "e1")
	require.NoError(t, err)
	out := make(map[int]models.MilestoneStatus, len(ms))
	for _, m := range ms {
		out[m.Sequence] = m.Status
	}
	return out
}

func TestProgress_AdvancesToNextMilestone(t *testing.T) {
	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, s, 3, 2)
	addTask(t, s, "t1", "m2", models.TaskCompleted)
	last := addTask(t, s, "t2", "m2", models.TaskCompleted)

	outcome, err := e.OnTaskCompleted(context.Background(), owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeAdvanced, outcome)

	assert.Equal(t, map[int]models.MilestoneStatus{
		1: models.MilestoneCompleted,
		2: models.MilestoneCompleted,
		3: models.MilestoneActive,
	}, statuses(t, s))

	jobs := q.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.GenerateMilestoneTasks, jobs[0].Kind)
	assert.Equal(t, 3, jobs[0].Sequence)
	assert.Equal(t, "e1", jobs[0].GoalID)
	assert.Equal(t, owner, jobs[0].Owner)
}

func TestProgress_LastMilestoneCompletesGoal(t *testing.T) {
	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, s, 3, 3)
	last := addTask(t, s, "t1", "m3", models.TaskCompleted)

	outcome, err := e.OnTaskCompleted(context.Background(), owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeGoalCompleted, outcome)

	for seq, st := range statuses(t, s) {
		assert.Equal(t, models.MilestoneCompleted, st, "sequence %d", seq)
	}
	goal, err := s.GetGoal(context.Background(), owner, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.GoalCompleted, goal.Status)
	assert.Empty(t, q.snapshot())
}

func TestProgress_NoOps(t *testing.T) {
	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, s, 2, 1)
	done := addTask(t, s, "t1", "m1", models.TaskCompleted)
	addTask(t, s, "t2", "m1", models.TaskInProgress)

	outcome, err := e.OnTaskCompleted(context.Background(), owner, done)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeMilestoneOpen, outcome)

	outcome, err = e.OnTaskCompleted(context.Background(), owner, &models.Task{ID: "loose", Owner: owner, Status: models.TaskCompleted})
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeNoMilestone, outcome)

	assert.Equal(t, models.MilestoneActive, statuses(t, s)[1])
	assert.Empty(t, q.snapshot())
}

func TestProgress_UnknownMilestoneIsNotFound(t *testing.T) {
	e := milestones.NewEngine(store.NewMemoryStore(""), nil)
	_, err := e.OnTaskCompleted(context.Background(), owner, &models.Task{ID: "t1", MilestoneID: "ghost"})
	assert.True(t, errs.Is(err, errs.KindNotFound), "got %v", err)
}

func TestProgress_ConcurrentCompletionsAdvanceOnce(t *testing.T) {
	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, s, 3, 1)
	a := addTask(t, s, "t1", "m1", models.TaskCompleted)
	b := addTask(t, s, "t2", "m1", models.TaskCompleted)

	var wg sync.WaitGroup
	outcomes := make([]milestones.Outcome, 2)
	for i, task := range []*models.Task{a, b} {
		wg.Add(1)
		go func(i int, task *models.Task) {
			defer wg.Done()
			out, err := e.OnTaskCompleted(context.Background(), owner, task)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, task)
	}
	wg.Wait()

	assert.ElementsMatch(t, []milestones.Outcome{milestones.OutcomeAdvanced, milestones.OutcomeAlreadyAdvanced}, outcomes)
	assert.Len(t, q.snapshot(), 1)
	assert.Equal(t, models.MilestoneActive, statuses(t, s)[2])
}

// TestProgress_InvariantHolds drives whole roadmaps to completion with
// tasks completed in random order, interleaved with repeated triggers for
// already-finished tasks, checking the milestone ordering after every step.
func TestProgress_InvariantHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		s := store.NewMemoryStore("")
		e := milestones.NewEngine(s, &recordingQueue{})
		n := 1 + rng.Intn(5)
		seed(t, s, n, 1)
		ctx := context.Background()

		var finished []*models.Task
		for seq := 1; seq <= n; seq++ {
			k := 1 + rng.Intn(3)
			tasks := make([]*models.Task, k)
			for i := range tasks {
				tasks[i] = addTask(t, s, fmt.Sprintf("r%d-m%d-t%d", round, seq, i), fmt.Sprintf("m%d", seq), models.TaskPending)
			}
			rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

			for _, task := range tasks {
				task.Status = models.TaskCompleted
				require.NoError(t, s.UpdateTask(ctx, task))
				_, err := e.OnTaskCompleted(ctx, owner, task)
				require.NoError(t, err)
				finished = append(finished, task)

				// Replay an old completion; it must never regress anything.
				old := finished[rng.Intn(len(finished))]
				_, err = e.OnTaskCompleted(ctx, owner, old)
				require.NoError(t, err)

				assertOrdered(t, s, n)
			}
		}

		goal, err := s.GetGoal(ctx, owner, "e1")
		require.NoError(t, err)
		assert.Equal(t, models.GoalCompleted, goal.Status, "round %d", round)
	}
}

func assertOrdered(t *testing.T, s *store.MemoryStore, n int) {
	t.Helper()
	st := statuses(t, s)
	require.Len(t, st, n)

	active := 0
	for seq := 1; seq <= n; seq++ {
		if st[seq] == models.MilestoneActive {
			require.Zero(t, active, "two active milestones: %v", st)
			active = seq
		}
	}
	for seq := 1; seq <= n; seq++ {
		switch {
		case active == 0:
			require.Equal(t, models.MilestoneCompleted, st[seq], "no active milestone, all must be completed: %v", st)
		case seq < active:
			require.Equal(t, models.MilestoneCompleted, st[seq], "%v", st)
		case seq > active:
			require.Equal(t, models.MilestoneLocked, st[seq], "%v", st)
		}
	}
}

// flakyStore fails selected writes once, the way a dropped connection
// between two conditional writes would.
type flakyStore struct {
	*store.MemoryStore
	failActivate   bool
	failGoalUpdate bool
}

var errConnReset = errors.New("connection reset")

func (f *flakyStore) TransitionMilestone(ctx context.Context, owner, id string, from, to models.MilestoneStatus) error {
	if f.failActivate && to == models.MilestoneActive {
		f.failActivate = false
		return errConnReset
	}
	return f.MemoryStore.TransitionMilestone(ctx, owner, id, from, to)
}

func (f *flakyStore) UpdateGoal(ctx context.Context, goal *models.Goal) error {
	if f.failGoalUpdate {
		f.failGoalUpdate = false
		return errConnReset
	}
	return f.MemoryStore.UpdateGoal(ctx, goal)
}

func TestProgress_ResumesAfterPartialFailure(t *testing.T) {
	mem := store.NewMemoryStore("")
	s := &flakyStore{MemoryStore: mem, failActivate: true}
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, mem, 3, 2)
	last := addTask(t, mem, "t1", "m2", models.TaskCompleted)
	ctx := context.Background()

	_, err := e.OnTaskCompleted(ctx, owner, last)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPersistence), "got %v", err)
	assert.Equal(t, map[int]models.MilestoneStatus{
		1: models.MilestoneCompleted,
		2: models.MilestoneCompleted,
		3: models.MilestoneLocked,
	}, statuses(t, mem))

	outcome, err := e.OnTaskCompleted(ctx, owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeAdvanced, outcome)
	assert.Equal(t, models.MilestoneActive, statuses(t, mem)[3])
	assertOrdered(t, mem, 3)
	require.Len(t, q.snapshot(), 1)
	assert.Equal(t, 3, q.snapshot()[0].Sequence)

	outcome, err = e.OnTaskCompleted(ctx, owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeAlreadyAdvanced, outcome)
	assert.Len(t, q.snapshot(), 1)
}

func TestProgress_ResumesGoalCompletion(t *testing.T) {
	mem := store.NewMemoryStore("")
	s := &flakyStore{MemoryStore: mem, failGoalUpdate: true}
	e := milestones.NewEngine(s, &recordingQueue{})
	seed(t, mem, 2, 2)
	last := addTask(t, mem, "t1", "m2", models.TaskCompleted)
	ctx := context.Background()

	_, err := e.OnTaskCompleted(ctx, owner, last)
	require.Error(t, err)
	goal, _ := mem.GetGoal(ctx, owner, "e1")
	assert.Equal(t, models.GoalActive, goal.Status)

	outcome, err := e.OnTaskCompleted(ctx, owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeGoalCompleted, outcome)
	goal, _ = mem.GetGoal(ctx, owner, "e1")
	assert.Equal(t, models.GoalCompleted, goal.Status)

	outcome, err = e.OnTaskCompleted(ctx, owner, last)
	require.NoError(t, err)
	assert.Equal(t, milestones.OutcomeAlreadyAdvanced, outcome)
}

func TestInstallRoadmap_RedeliveryFinishesInstall(t *testing.T) {
	mem := store.NewMemoryStore("")
	s := &flakyStore{MemoryStore: mem, failGoalUpdate: true}
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	ctx := context.Background()
	require.NoError(t, mem.CreateGoal(ctx, &models.Goal{ID: "e1", Owner: owner, Name: "Marathon", Status: models.GoalActive, RoadmapStatus: models.RoadmapGenerating}))
	drafts := []models.MilestoneDraft{{Title: "Base building"}, {Title: "Taper"}}

	_, err := e.InstallRoadmap(ctx, owner, "e1", drafts)
	require.Error(t, err)
	goal, _ := mem.GetGoal(ctx, owner, "e1")
	assert.Equal(t, models.RoadmapGenerating, goal.RoadmapStatus)
	assert.Empty(t, q.snapshot())

	roadmap, err := e.InstallRoadmap(ctx, owner, "e1", drafts)
	require.NoError(t, err)
	require.Len(t, roadmap, 2)
	goal, _ = mem.GetGoal(ctx, owner, "e1")
	assert.Equal(t, models.RoadmapReady, goal.RoadmapStatus)
	require.Len(t, q.snapshot(), 1)
	assert.Equal(t, 1, q.snapshot()[0].Sequence)
	assert.Len(t, statuses(t, mem), 2)
}

func TestInstallRoadmap_DifferentRoadmapStillConflicts(t *testing.T) {
	mem := store.NewMemoryStore("")
	s := &flakyStore{MemoryStore: mem, failGoalUpdate: true}
	e := milestones.NewEngine(s, nil)
	ctx := context.Background()
	require.NoError(t, mem.CreateGoal(ctx, &models.Goal{ID: "e1", Owner: owner, Name: "Marathon", Status: models.GoalActive, RoadmapStatus: models.RoadmapGenerating}))

	_, err := e.InstallRoadmap(ctx, owner, "e1", []models.MilestoneDraft{{Title: "Base building"}})
	require.Error(t, err)

	_, err = e.InstallRoadmap(ctx, owner, "e1", []models.MilestoneDraft{{Title: "Something else"}})
	assert.True(t, errs.Is(err, errs.KindValidation), "got %v", err)
}

func TestTaskCompleted_RunsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	seed(t, s, 2, 1)
	task := addTask(t, s, "t1", "m1", models.TaskCompleted)

	e.TaskCompleted(owner, task)
	e.TaskCompleted(owner, &models.Task{ID: "loose"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
	assert.Equal(t, models.MilestoneActive, statuses(t, s)[2])
	assert.Len(t, q.snapshot(), 1)
}

func TestTaskCompleted_FailureIsSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := milestones.NewEngine(store.NewMemoryStore(""), nil)
	e.TaskCompleted(owner, &models.Task{ID: "t1", MilestoneID: "ghost"})
	require.NoError(t, e.Wait(context.Background()))
}

func TestInstallRoadmap(t *testing.T) {
	s := store.NewMemoryStore("")
	q := &recordingQueue{}
	e := milestones.NewEngine(s, q)
	ctx := context.Background()
	require.NoError(t, s.CreateGoal(ctx, &models.Goal{ID: "e1", Owner: owner, Name: "Marathon", Status: models.GoalActive, RoadmapStatus: models.RoadmapGenerating}))

	_, err := e.InstallRoadmap(ctx, owner, "e1", nil)
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = e.InstallRoadmap(ctx, owner, "e1", []models.MilestoneDraft{{Title: " "}})
	assert.True(t, errs.Is(err, errs.KindValidation))

	roadmap, err := e.InstallRoadmap(ctx, owner, "e1", []models.MilestoneDraft{
		{Title: "Base building", EstimatedDurationDays: 28},
		{Title: "Long runs", EstimatedDurationDays: 42},
		{Title: "Taper", EstimatedDurationDays: 14},
	})
	require.NoError(t, err)
	require.Len(t, roadmap, 3)
	for i, m := range roadmap {
		assert.Equal(t, i+1, m.Sequence)
	}
	assert.Equal(t, map[int]models.MilestoneStatus{
		1: models.MilestoneActive,
		2: models.MilestoneLocked,
		3: models.MilestoneLocked,
	}, statuses(t, s))

	goal, _ := s.GetGoal(ctx, owner, "e1")
	assert.Equal(t, models.RoadmapReady, goal.RoadmapStatus)

	jobs := q.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Sequence)

	_, err = e.InstallRoadmap(ctx, owner, "e1", []models.MilestoneDraft{{Title: "Again"}})
	assert.True(t, errs.Is(err, errs.KindValidation), "second install must be rejected")

	_, err = e.InstallRoadmap(ctx, "bob", "e1", []models.MilestoneDraft{{Title: "Hijack"}})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRoadmap(t *testing.T) {
	s := store.NewMemoryStore("")
	e := milestones.NewEngine(s, nil)
	seed(t, s, 2, 1)

	ms, err := e.Roadmap(context.Background(), owner, "e1")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "m1", ms[0].ID)

	_, err = e.Roadmap(context.Background(), "bob", "e1")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
