package guardrails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultToolName is the single tool the assistant may invoke.
const DefaultToolName = "manage_quest"

// Reason is the structured code attached to a rejected invocation.
type Reason string

const (
	ReasonReadOperation        Reason = "read_operation"
	ReasonMissingField         Reason = "missing_field"
	ReasonOperationNotAllowed  Reason = "operation_not_allowed"
	ReasonEntityTypeNotAllowed Reason = "entity_type_not_allowed"
	ReasonUnknownTool          Reason = "unknown_tool"
	ReasonMalformedPayload     Reason = "malformed_payload"
	ReasonOneActionPerTurn     Reason = "one_action_per_turn"
)

// Operation is a write operation the assistant may request.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// EntityType is an entity family the assistant may mutate.
type EntityType string

const (
	EntityEpic           EntityType = "epic"
	EntityDailyTask      EntityType = "daily-task"
	EntityRecurrenceRule EntityType = "recurrence-rule"
)

var (
	allowedOperations = map[Operation]bool{OpCreate: true, OpUpdate: true, OpDelete: true}
	allowedEntities   = map[EntityType]bool{EntityEpic: true, EntityDailyTask: true, EntityRecurrenceRule: true}
	readLikeOps       = map[string]bool{"read": true, "get": true, "list": true, "query": true, "fetch": true, "search": true, "find": true}
)

// ── Actions ─────────────────────────────────────────────────

// Action is the closed sum {Create, Update, Delete}. The unexported
// method keeps other packages from adding variants.
type Action interface {
	Operation() Operation
	sealed()
}

// Create carries the fields of a create request.
type Create struct {
	Title    string
	ParentID string
	DueDate  string
	Fields   map[string]any
}

// Update carries the target and the fields to change.
type Update struct {
	EntityID string
	Title    string
	DueDate  string
	Fields   map[string]any
}

// Delete carries the target.
type Delete struct {
	EntityID string
}

func (Create) Operation() Operation { return OpCreate }
func (Update) Operation() Operation { return OpUpdate }
func (Delete) Operation() Operation { return OpDelete }

func (Create) sealed() {}
func (Update) sealed() {}
func (Delete) sealed() {}

// ── Validated invocation ────────────────────────────────────

// ValidatedInvocation is an invocation that passed every guardrail. Only
// this package can construct one, and it is the only input the
// dispatcher accepts.
type ValidatedInvocation struct {
	toolName string
	entity   EntityType
	action   Action
	raw      models.ToolInvocation
}

func (v *ValidatedInvocation) ToolName() string       { return v.toolName }
func (v *ValidatedInvocation) EntityType() EntityType { return v.entity }
func (v *ValidatedInvocation) Action() Action         { return v.action }
func (v *ValidatedInvocation) Operation() Operation   { return v.action.Operation() }

// Invocation returns the untrusted invocation this was validated from.
func (v *ValidatedInvocation) Invocation() models.ToolInvocation { return v.raw }

// Rejection records why one invocation was refused. Details are for audit
// and logs only; they never reach the end user.
type Rejection struct {
	Index    int    `json:"index"`
	ToolName string `json:"tool_name"`
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Verdict is the outcome of validating one turn's invocations: zero or one
// accepted invocation plus a rejection per refused candidate.
type Verdict struct {
	Accepted   *ValidatedInvocation
	Rejections []Rejection
}

// ── Validator ───────────────────────────────────────────────

// Validator applies the tool policy. It is safe for concurrent use.
type Validator struct {
	toolName string
	audit    store.AuditStore
}

// NewValidator creates a validator for toolName. audit may be nil.
func NewValidator(toolName string, audit store.AuditStore) *Validator {
	if toolName == "" {
		toolName = DefaultToolName
	}
	return &Validator{toolName: toolName, audit: audit}
}

// Check validates one invocation. It is pure: the same input always yields
// the same outcome.
func (v *Validator) Check(inv models.ToolInvocation) (*ValidatedInvocation, *Rejection) {
	reject := func(reason Reason, format string, args ...any) (*ValidatedInvocation, *Rejection) {
		return nil, &Rejection{ToolName: inv.ToolName, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	opRaw, hasOp := stringField(inv.Input, "operation")
	entityRaw, hasEntity := stringField(inv.Input, "entityType")

	// 1. Read-like operations are never executable.
	if readLikeOps[strings.ToLower(strings.TrimSpace(opRaw))] {
		return reject(ReasonReadOperation, "operation %q is read-only", opRaw)
	}
	// 2. Discriminators must be present.
	if !hasOp || opRaw == "" {
		return reject(ReasonMissingField, "operation is required")
	}
	if !hasEntity || entityRaw == "" {
		return reject(ReasonMissingField, "entityType is required")
	}
	// 3. Operation must be in the allowed set.
	op := Operation(opRaw)
	if !allowedOperations[op] {
		return reject(ReasonOperationNotAllowed, "operation %q not allowed", opRaw)
	}
	// 4. Entity type must be in the allowed set.
	entity := EntityType(entityRaw)
	if !allowedEntities[entity] {
		return reject(ReasonEntityTypeNotAllowed, "entityType %q not allowed", entityRaw)
	}
	// 5. Only the expected tool.
	if inv.ToolName != v.toolName {
		return reject(ReasonUnknownTool, "tool %q is not %q", inv.ToolName, v.toolName)
	}
	// 6. Decode into the closed sum type.
	action, err := decodeAction(op, entity, inv.Input)
	if err != nil {
		return reject(ReasonMalformedPayload, "%v", err)
	}

	return &ValidatedInvocation{
		toolName: inv.ToolName,
		entity:   entity,
		action:   action,
		raw:      models.ToolInvocation{ToolName: inv.ToolName, Input: copyMap(inv.Input)},
	}, nil
}

// Validate applies the policy to a turn's invocations in order. The first
// invocation that passes is accepted; later candidates are rejected with
// ReasonOneActionPerTurn. Every rejection is logged and audited.
func (v *Validator) Validate(ctx context.Context, owner string, invocations []models.ToolInvocation) *Verdict {
	verdict := &Verdict{}
	for i, inv := range invocations {
		if verdict.Accepted != nil {
			verdict.Rejections = append(verdict.Rejections, Rejection{
				Index:    i,
				ToolName: inv.ToolName,
				Reason:   ReasonOneActionPerTurn,
				Detail:   "an earlier invocation was already accepted",
			})
			continue
		}
		accepted, rejection := v.Check(inv)
		if rejection != nil {
			rejection.Index = i
			verdict.Rejections = append(verdict.Rejections, *rejection)
			continue
		}
		verdict.Accepted = accepted
	}

	for _, r := range verdict.Rejections {
		v.record(ctx, owner, r)
	}
	return verdict
}

func (v *Validator) record(ctx context.Context, owner string, r Rejection) {
	log.Warn().
		Str("owner", owner).
		Str("tool", r.ToolName).
		Str("reason", string(r.Reason)).
		Int("index", r.Index).
		Str("detail", r.Detail).
		Msg("🛡️ Tool invocation rejected")

	if v.audit == nil {
		return
	}
	ev := &models.AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Owner:     owner,
		Action:    "tool_invocation.rejected",
		Resource:  r.ToolName,
		Reason:    string(r.Reason),
		Metadata:  map[string]any{"index": r.Index, "detail": r.Detail},
	}
	if err := v.audit.CreateAuditEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("Failed to write guardrail audit event")
	}
}

// ── Tagged-union decode ─────────────────────────────────────

func decodeAction(op Operation, entity EntityType, in map[string]any) (Action, error) {
	title, err := optionalString(in, "title")
	if err != nil {
		return nil, err
	}
	entityID, err := optionalString(in, "entityId")
	if err != nil {
		return nil, err
	}
	parentID, err := optionalString(in, "parentId")
	if err != nil {
		return nil, err
	}
	dueDate, err := optionalString(in, "dueDate")
	if err != nil {
		return nil, err
	}
	if dueDate != "" {
		if _, err := time.Parse(models.DateLayout, dueDate); err != nil {
			return nil, fmt.Errorf("dueDate %q is not YYYY-MM-DD", dueDate)
		}
	}
	var fields map[string]any
	if raw, ok := in["updateFields"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("updateFields must be an object")
		}
		fields = copyMap(m)
	}

	switch op {
	case OpCreate:
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("create %s requires a title", entity)
		}
		return Create{Title: title, ParentID: parentID, DueDate: dueDate, Fields: fields}, nil
	case OpUpdate:
		if entityID == "" {
			return nil, fmt.Errorf("update requires entityId")
		}
		if title == "" && dueDate == "" && len(fields) == 0 {
			return nil, fmt.Errorf("update has nothing to change")
		}
		return Update{EntityID: entityID, Title: title, DueDate: dueDate, Fields: fields}, nil
	case OpDelete:
		if entityID == "" {
			return nil, fmt.Errorf("delete requires entityId")
		}
		return Delete{EntityID: entityID}, nil
	}
	return nil, fmt.Errorf("operation %q not allowed", op)
}

// stringField returns in[key] when it is a string. A present non-string
// value reports ("", true).
func stringField(in map[string]any, key string) (string, bool) {
	raw, ok := in[key]
	if !ok || raw == nil {
		return "", false
	}
	s, _ := raw.(string)
	return s, true
}

func optionalString(in map[string]any, key string) (string, error) {
	raw, ok := in[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
