package guardrails_test

import (
	"context"
	"testing"

	"github.com/izik-adio/zik-back-sub000/internal/guardrails"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inv(input map[string]any) models.ToolInvocation {
	return models.ToolInvocation{ToolName: guardrails.DefaultToolName, Input: input}
}

func TestCheck_ReasonCodes(t *testing.T) {
	v := guardrails.NewValidator("", nil)

	tests := []struct {
		name string
		inv  models.ToolInvocation
		want guardrails.Reason
	}{
		{"read", inv(map[string]any{"operation": "read", "entityType": "epic"}), guardrails.ReasonReadOperation},
		{"list uppercase", inv(map[string]any{"operation": "LIST", "entityType": "daily-task"}), guardrails.ReasonReadOperation},
		{"missing operation", inv(map[string]any{"entityType": "epic", "title": "x"}), guardrails.ReasonMissingField},
		{"non-string operation", inv(map[string]any{"operation": 3, "entityType": "epic"}), guardrails.ReasonMissingField},
		{"missing entityType", inv(map[string]any{"operation": "create", "title": "x"}), guardrails.ReasonMissingField},
		{"operation not allowed", inv(map[string]any{"operation": "archive", "entityType": "epic"}), guardrails.ReasonOperationNotAllowed},
		{"entity not allowed", inv(map[string]any{"operation": "create", "entityType": "user", "title": "x"}), guardrails.ReasonEntityTypeNotAllowed},
		{"unknown tool", models.ToolInvocation{ToolName: "drop_tables", Input: map[string]any{"operation": "create", "entityType": "epic", "title": "x"}}, guardrails.ReasonUnknownTool},
		{"create without title", inv(map[string]any{"operation": "create", "entityType": "epic"}), guardrails.ReasonMalformedPayload},
		{"update without id", inv(map[string]any{"operation": "update", "entityType": "daily-task", "title": "x"}), guardrails.ReasonMalformedPayload},
		{"update nothing to change", inv(map[string]any{"operation": "update", "entityType": "daily-task", "entityId": "t1"}), guardrails.ReasonMalformedPayload},
		{"delete without id", inv(map[string]any{"operation": "delete", "entityType": "epic"}), guardrails.ReasonMalformedPayload},
		{"bad due date", inv(map[string]any{"operation": "create", "entityType": "daily-task", "title": "x", "dueDate": "03/01/2025"}), guardrails.ReasonMalformedPayload},
		{"updateFields not object", inv(map[string]any{"operation": "update", "entityType": "epic", "entityId": "e1", "updateFields": "status=done"}), guardrails.ReasonMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rej := v.Check(tt.inv)
			assert.Nil(t, got)
			require.NotNil(t, rej)
			assert.Equal(t, tt.want, rej.Reason)
		})
	}
}

func TestCheck_DecodesClosedActions(t *testing.T) {
	v := guardrails.NewValidator(guardrails.DefaultToolName, nil)

	got, rej := v.Check(inv(map[string]any{"operation": "create", "entityType": "daily-task", "title": "Stretch", "dueDate": "2025-03-01", "parentId": "e1"}))
	require.Nil(t, rej)
	assert.Equal(t, guardrails.EntityDailyTask, got.EntityType())
	assert.Equal(t, guardrails.Create{Title: "Stretch", ParentID: "e1", DueDate: "2025-03-01"}, got.Action())

	got, rej = v.Check(inv(map[string]any{"operation": "update", "entityType": "epic", "entityId": "e1", "updateFields": map[string]any{"status": "paused"}}))
	require.Nil(t, rej)
	upd, ok := got.Action().(guardrails.Update)
	require.True(t, ok)
	assert.Equal(t, "e1", upd.EntityID)
	assert.Equal(t, "paused", upd.Fields["status"])

	got, rej = v.Check(inv(map[string]any{"operation": "delete", "entityType": "recurrence-rule", "entityId": "r1"}))
	require.Nil(t, rej)
	assert.Equal(t, guardrails.OpDelete, got.Operation())
}

func TestCheck_Idempotent(t *testing.T) {
	v := guardrails.NewValidator("", nil)
	inputs := []models.ToolInvocation{
		inv(map[string]any{"operation": "create", "entityType": "epic", "title": "Learn Go"}),
		inv(map[string]any{"operation": "read", "entityType": "epic"}),
		inv(map[string]any{"operation": "update", "entityType": "daily-task", "entityId": "t1", "updateFields": map[string]any{"status": "completed"}}),
	}
	for _, in := range inputs {
		first, rej1 := v.Check(in)
		if first == nil {
			_, rej2 := v.Check(in)
			require.NotNil(t, rej2)
			assert.Equal(t, rej1.Reason, rej2.Reason)
			continue
		}
		again, rej2 := v.Check(first.Invocation())
		require.Nil(t, rej2)
		assert.Equal(t, first.Action(), again.Action())
		assert.Equal(t, first.EntityType(), again.EntityType())
	}
}

func TestValidate_ReadIsRejectedAndAudited(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	v := guardrails.NewValidator("", s)
	ctx := context.Background()

	verdict := v.Validate(ctx, "alice", []models.ToolInvocation{
		inv(map[string]any{"operation": "read", "entityType": "daily-task"}),
	})
	assert.Nil(t, verdict.Accepted)
	require.Len(t, verdict.Rejections, 1)
	assert.Equal(t, guardrails.ReasonReadOperation, verdict.Rejections[0].Reason)

	events, err := s.ListAuditEvents(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tool_invocation.rejected", events[0].Action)
	assert.Equal(t, string(guardrails.ReasonReadOperation), events[0].Reason)
}

func TestValidate_AtMostOneAccepted(t *testing.T) {
	v := guardrails.NewValidator("", nil)
	for n := 2; n <= 6; n++ {
		var invs []models.ToolInvocation
		for i := 0; i < n; i++ {
			invs = append(invs, inv(map[string]any{"operation": "create", "entityType": "epic", "title": "goal"}))
		}
		verdict := v.Validate(context.Background(), "alice", invs)
		require.NotNil(t, verdict.Accepted)
		assert.Len(t, verdict.Rejections, n-1)
		for _, r := range verdict.Rejections {
			assert.Equal(t, guardrails.ReasonOneActionPerTurn, r.Reason)
		}
	}
}

func TestValidate_FirstSurvivingWins(t *testing.T) {
	v := guardrails.NewValidator("", nil)
	verdict := v.Validate(context.Background(), "alice", []models.ToolInvocation{
		inv(map[string]any{"operation": "read", "entityType": "epic"}),
		inv(map[string]any{"operation": "delete", "entityType": "epic", "entityId": "e2"}),
		inv(map[string]any{"operation": "delete", "entityType": "epic", "entityId": "e3"}),
	})
	require.NotNil(t, verdict.Accepted)
	assert.Equal(t, guardrails.Delete{EntityID: "e2"}, verdict.Accepted.Action())
	require.Len(t, verdict.Rejections, 2)
	assert.Equal(t, 0, verdict.Rejections[0].Index)
	assert.Equal(t, guardrails.ReasonReadOperation, verdict.Rejections[0].Reason)
	assert.Equal(t, 2, verdict.Rejections[1].Index)
	assert.Equal(t, guardrails.ReasonOneActionPerTurn, verdict.Rejections[1].Reason)
}
