package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/izik-adio/zik-back-sub000/internal/guardrails"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
)

const persona = `You are Zik, an upbeat quest companion. You help the user turn long-term goals ("epics") into steady progress through small daily quests.
Keep answers short, warm and concrete. Refer to the user's epics and quests by name when relevant.`

const toolPolicyTemplate = `Tool policy:
- You may call the %[1]s tool to create, update or delete an epic, a daily quest (entityType "daily-task") or a recurring quest (entityType "recurrence-rule").
- Call %[1]s at most once per reply, and only when the user clearly asks for a change.
- Never call %[1]s to read or list data. Everything you know about the user is in the context below; answer questions from it directly.
- Use entity ids exactly as they appear in the context. Dates are YYYY-MM-DD.
- If a request is ambiguous, ask a clarifying question instead of calling the tool.`

// PromptBuilder turns a context snapshot and the user's message into a
// model invocation. Build is pure: equal inputs give equal payloads.
type PromptBuilder struct {
	ToolName  string
	MaxTokens int
}

// promptContext is the serialized view of the snapshot embedded in the
// system instruction. Field order is fixed by the struct.
type promptContext struct {
	Today       string           `json:"today"`
	Profile     *profileView     `json:"profile,omitempty"`
	ActiveEpics []epicView       `json:"active_epics"`
	DueToday    []dailyQuestView `json:"due_today"`
}

type profileView struct {
	DisplayName string            `json:"display_name,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

type epicView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	RoadmapStatus string `json:"roadmap_status"`
	TargetDate    string `json:"target_date,omitempty"`
}

type dailyQuestView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	EpicID   string `json:"epic_id,omitempty"`
}

// Build produces the invocation payload. History is sent oldest first,
// followed by userMessage.
func (b PromptBuilder) Build(snap *models.ContextSnapshot, userMessage string) (*models.InvocationPayload, error) {
	toolName := b.ToolName
	if toolName == "" {
		toolName = guardrails.DefaultToolName
	}

	ctxJSON, err := json.MarshalIndent(contextView(snap), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}

	var system strings.Builder
	system.WriteString(persona)
	system.WriteString("\n\n")
	fmt.Fprintf(&system, toolPolicyTemplate, toolName)
	system.WriteString("\n\nUser context (JSON):\n")
	system.Write(ctxJSON)

	return &models.InvocationPayload{
		System:    system.String(),
		Messages:  history(snap.RecentMessages, userMessage),
		Tools:     []models.ToolSpec{QuestTool(toolName)},
		MaxTokens: b.MaxTokens,
	}, nil
}

func contextView(snap *models.ContextSnapshot) promptContext {
	pc := promptContext{
		Today:       snap.AsOf.Format(models.DateLayout),
		ActiveEpics: make([]epicView, 0, len(snap.ActiveGoals)),
		DueToday:    make([]dailyQuestView, 0, len(snap.DueTasks)),
	}
	if p := snap.Profile; p != nil {
		pc.Profile = &profileView{DisplayName: p.DisplayName, Timezone: p.Timezone, Preferences: p.Preferences}
	}
	for _, g := range snap.ActiveGoals {
		pc.ActiveEpics = append(pc.ActiveEpics, epicView{
			ID:            g.ID,
			Name:          g.Name,
			Description:   g.Description,
			RoadmapStatus: string(g.RoadmapStatus),
			TargetDate:    g.TargetDate,
		})
	}
	for _, t := range snap.DueTasks {
		pc.DueToday = append(pc.DueToday, dailyQuestView{
			ID:       t.ID,
			Name:     t.Name,
			Priority: string(t.Priority),
			Status:   string(t.Status),
			EpicID:   t.GoalID,
		})
	}
	return pc
}

// history converts stored messages plus the new user message into
// alternating turns. Consecutive messages with the same role are merged,
// empty ones skipped, and the conversation always opens with the user.
func history(recent []models.Message, userMessage string) []models.PromptMessage {
	out := make([]models.PromptMessage, 0, len(recent)+1)
	add := func(role models.Role, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if len(out) == 0 && role != models.RoleUser {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			return
		}
		out = append(out, models.PromptMessage{Role: role, Content: content})
	}
	for _, m := range recent {
		add(m.Role, m.Content)
	}
	add(models.RoleUser, userMessage)
	return out
}

// QuestTool declares the single mutation tool offered to the model.
func QuestTool(name string) models.ToolSpec {
	return models.ToolSpec{
		Name:        name,
		Description: "Create, update or delete one of the user's epics, daily quests or recurring quests.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []string{string(guardrails.OpCreate), string(guardrails.OpUpdate), string(guardrails.OpDelete)},
				},
				"entityType": map[string]any{
					"type": "string",
					"enum": []string{string(guardrails.EntityEpic), string(guardrails.EntityDailyTask), string(guardrails.EntityRecurrenceRule)},
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Name of the entity. Required for create.",
				},
				"entityId": map[string]any{
					"type":        "string",
					"description": "Id of the entity to update or delete.",
				},
				"parentId": map[string]any{
					"type":        "string",
					"description": "Epic id a new daily or recurring quest belongs to.",
				},
				"dueDate": map[string]any{
					"type":        "string",
					"description": "Due or target date, YYYY-MM-DD.",
					"pattern":     `^\d{4}-\d{2}-\d{2}$`,
				},
				"updateFields": map[string]any{
					"type":        "object",
					"description": "Other fields to set, e.g. status, priority, description, frequency, daysOfWeek.",
				},
			},
			"required": []string{"operation", "entityType"},
		},
	}
}
