package assistant_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/izik-adio/zik-back-sub000/internal/assistant"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() *models.ContextSnapshot {
	return &models.ContextSnapshot{
		Owner:   "alice",
		AsOf:    turnTime,
		Profile: &models.Profile{Owner: "alice", DisplayName: "Alice", Timezone: "Europe/Lisbon"},
		ActiveGoals: []models.Goal{
			{ID: "e1", Name: "Run a marathon", Status: models.GoalActive, RoadmapStatus: models.RoadmapReady},
		},
		DueTasks: []models.Task{
			{ID: "t1", Name: "Easy 5k", Priority: models.PriorityHigh, Status: models.TaskPending, GoalID: "e1"},
		},
		RecentMessages: []models.Message{
			{Role: models.RoleAssistant, Content: "Welcome back!"},
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleUser, Content: "are you there?"},
			{Role: models.RoleAssistant, Content: "  "},
			{Role: models.RoleAssistant, Content: "Yes!"},
		},
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	b := assistant.PromptBuilder{MaxTokens: 256}
	first, err := b.Build(snapshot(), "plan my week")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := b.Build(snapshot(), "plan my week")
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("Build() not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestBuild_NormalizesHistory(t *testing.T) {
	p, err := assistant.PromptBuilder{}.Build(snapshot(), "plan my week")
	require.NoError(t, err)

	want := []models.PromptMessage{
		{Role: models.RoleUser, Content: "hi\n\nare you there?"},
		{Role: models.RoleAssistant, Content: "Yes!"},
		{Role: models.RoleUser, Content: "plan my week"},
	}
	if diff := cmp.Diff(want, p.Messages); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_EmbedsContextAndToolPolicy(t *testing.T) {
	p, err := assistant.PromptBuilder{ToolName: "manage_quest"}.Build(snapshot(), "hello")
	require.NoError(t, err)

	assert.Contains(t, p.System, "Never call manage_quest to read or list data")
	assert.Contains(t, p.System, `"display_name": "Alice"`)
	assert.Contains(t, p.System, `"id": "e1"`)
	assert.Contains(t, p.System, `"name": "Easy 5k"`)

	require.Len(t, p.Tools, 1)
	assert.Equal(t, "manage_quest", p.Tools[0].Name)
	assert.Equal(t, []string{"operation", "entityType"}, p.Tools[0].InputSchema["required"])
}

func TestBuild_EmptySnapshot(t *testing.T) {
	p, err := assistant.PromptBuilder{}.Build(&models.ContextSnapshot{Owner: "bob", AsOf: turnTime}, "hello")
	require.NoError(t, err)
	assert.Contains(t, p.System, `"active_epics": []`)
	assert.NotContains(t, p.System, "profile")
	assert.Equal(t, []models.PromptMessage{{Role: models.RoleUser, Content: "hello"}}, p.Messages)
}

// failingStore fails one fetch of the aggregation.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) ListGoals(context.Context, string, models.GoalStatus) ([]models.Goal, error) {
	return nil, errors.New("connection reset")
}

func TestAggregate_FailsFast(t *testing.T) {
	a := assistant.NewAggregator(failingStore{store.NewMemoryStore("")}, 5)
	snap, err := a.Aggregate(context.Background(), "alice")
	assert.Nil(t, snap)
	assert.Equal(t, errs.KindPersistence, errs.KindOf(err))
}

func TestAggregate_CollectsSnapshot(t *testing.T) {
	s := store.NewMemoryStore("")
	ctx := context.Background()
	require.NoError(t, s.CreateGoal(ctx, &models.Goal{ID: "e1", Owner: "alice", Name: "Marathon", Status: models.GoalActive}))
	require.NoError(t, s.CreateGoal(ctx, &models.Goal{ID: "e2", Owner: "alice", Name: "Old", Status: models.GoalCompleted}))
	require.NoError(t, s.CreateTask(ctx, &models.Task{ID: "t1", Owner: "alice", Name: "Today", DueDate: "2025-03-01", Status: models.TaskPending}))
	require.NoError(t, s.CreateTask(ctx, &models.Task{ID: "t2", Owner: "alice", Name: "Tomorrow", DueDate: "2025-03-02", Status: models.TaskPending}))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: string(rune('a' + i)), Owner: "alice", Timestamp: turnTime.Add(time.Duration(i) * time.Minute), Role: models.RoleUser, Content: "msg"}))
	}

	a := assistant.NewAggregator(s, 3)
	a.Now = func() time.Time { return turnTime }
	snap, err := a.Aggregate(ctx, "alice")
	require.NoError(t, err)

	assert.Nil(t, snap.Profile, "missing profile is not an error")
	require.Len(t, snap.ActiveGoals, 1)
	assert.Equal(t, "e1", snap.ActiveGoals[0].ID)
	require.Len(t, snap.DueTasks, 1)
	assert.Equal(t, "t1", snap.DueTasks[0].ID)
	require.Len(t, snap.RecentMessages, 3)
	assert.Equal(t, "b", snap.RecentMessages[0].ID)
	assert.Equal(t, turnTime, snap.AsOf)
}
