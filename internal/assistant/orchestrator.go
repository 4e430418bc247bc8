package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/guardrails"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	pkgmw "github.com/izik-adio/zik-back-sub000/pkg/middleware"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Fallback answers. Guardrail and dispatch details never reach the user.
const (
	ClarificationAnswer = "I'm not sure what you'd like me to do. Could you rephrase that?"
	NotFoundAnswer      = "I couldn't find that quest. Could you tell me which one you meant?"
	FailedActionAnswer  = "Sorry, I couldn't make that change right now. Please try again."
)

// Dispatcher executes the one accepted invocation of a turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, owner string, inv *guardrails.ValidatedInvocation) (string, error)
}

// Deps are the collaborators of an Orchestrator. Limiter may be nil.
type Deps struct {
	Store      ContextStore
	Inference  contracts.InferenceDriver
	Validator  *guardrails.Validator
	Dispatcher Dispatcher
	Limiter    contracts.RateLimiter
}

// Options tune a turn.
type Options struct {
	HistoryLimit     int
	MaxMessageLength int
	MaxTokens        int
	ToolName         string
	// InferenceTimeout bounds the model call including the whole stream.
	InferenceTimeout time.Duration
}

// Orchestrator runs chat turns. Turns share no mutable state.
type Orchestrator struct {
	store      ContextStore
	aggregator *Aggregator
	prompts    PromptBuilder
	inference  contracts.InferenceDriver
	validator  *guardrails.Validator
	dispatcher Dispatcher
	limiter    contracts.RateLimiter
	input      guardrails.InputPolicy
	timeout    time.Duration
	tracer     trace.Tracer

	// Now is the clock used for message timestamps and due dates.
	Now func() time.Time
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 60 * time.Second
	}
	validator := deps.Validator
	if validator == nil {
		validator = guardrails.NewValidator(opts.ToolName, nil)
	}
	o := &Orchestrator{
		store:      deps.Store,
		aggregator: NewAggregator(deps.Store, opts.HistoryLimit),
		prompts:    PromptBuilder{ToolName: opts.ToolName, MaxTokens: opts.MaxTokens},
		inference:  deps.Inference,
		validator:  validator,
		dispatcher: deps.Dispatcher,
		limiter:    deps.Limiter,
		input:      guardrails.InputPolicy{MaxCharacters: opts.MaxMessageLength, Sensitivity: "medium"},
		timeout:    opts.InferenceTimeout,
		tracer:     otel.Tracer("questd/assistant"),
		Now:        func() time.Time { return time.Now().UTC() },
	}
	o.aggregator.Now = func() time.Time { return o.Now() }
	return o
}

// SubmitTurn runs one chat turn for owner and returns the answer. Every
// call appends a new user and assistant message. Dispatch failures become
// an apologetic answer, except persistence failures, which fail the turn.
func (o *Orchestrator) SubmitTurn(ctx context.Context, owner, text string) (*models.ChatResponse, error) {
	ctx, span := o.tracer.Start(ctx, "assistant.turn", trace.WithAttributes(attribute.String("quest.owner", owner)))
	defer span.End()

	resp, err := o.submit(ctx, owner, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errs.KindOf(err).String())
		log.Warn().Err(err).
			Str("owner", owner).
			Str("kind", errs.KindOf(err).String()).
			Str("request_id", pkgmw.GetRequestID(ctx)).
			Msg("Chat turn failed")
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) submit(ctx context.Context, owner, text string) (*models.ChatResponse, error) {
	start := time.Now()
	if owner == "" {
		return nil, errs.E(errs.KindAuth, "assistant.turn", "authentication required")
	}
	if o.limiter != nil && !o.limiter.Allow(ctx, owner) {
		return nil, errs.E(errs.KindRateLimited, "assistant.turn", "too many messages, please slow down")
	}
	if err := o.input.Check(text); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	snap, err := o.aggregate(ctx, owner)
	if err != nil {
		return nil, err
	}

	payload, err := o.prompts.Build(snap, text)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "assistant.prompt", err)
	}

	userMsg := &models.Message{ID: uuid.New().String(), Owner: owner, Timestamp: o.Now(), Role: models.RoleUser, Content: text}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, &errs.Error{Kind: errs.KindPersistence, Op: "assistant.append", Msg: "could not save your message", Err: err}
	}

	result, err := o.infer(ctx, payload)
	if err != nil {
		return nil, err
	}

	verdict := o.validate(ctx, owner, result)

	resp := &models.ChatResponse{}
	switch {
	case verdict.Accepted != nil:
		confirmation, err := o.dispatch(ctx, owner, verdict.Accepted)
		switch {
		case err == nil:
			resp.Answer = joinAnswer(result.Text, confirmation)
			resp.Action = fmt.Sprintf("%s %s", verdict.Accepted.Operation(), verdict.Accepted.EntityType())
		case errs.Is(err, errs.KindPersistence):
			return nil, err
		default:
			resp.Answer = apology(err)
		}
	case result.Text != "":
		resp.Answer = result.Text
	default:
		resp.Answer = ClarificationAnswer
	}

	ts := o.Now()
	if !ts.After(userMsg.Timestamp) {
		ts = userMsg.Timestamp.Add(time.Millisecond)
	}
	reply := &models.Message{ID: uuid.New().String(), Owner: owner, Timestamp: ts, Role: models.RoleAssistant, Content: resp.Answer}
	if err := o.store.AppendMessage(ctx, reply); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("Failed to save assistant reply")
	}

	log.Info().
		Str("owner", owner).
		Int("tool_calls", len(result.ToolInvocations)).
		Int("rejected", len(verdict.Rejections)).
		Str("action", resp.Action).
		Str("request_id", pkgmw.GetRequestID(ctx)).
		Dur("duration", time.Since(start)).
		Msg("💬 Chat turn completed")
	return resp, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, owner string) (*models.ContextSnapshot, error) {
	ctx, span := o.tracer.Start(ctx, "assistant.aggregate")
	defer span.End()

	snap, err := o.aggregator.Aggregate(ctx, owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("quest.active_goals", len(snap.ActiveGoals)),
		attribute.Int("quest.due_tasks", len(snap.DueTasks)),
		attribute.Int("quest.history", len(snap.RecentMessages)),
	)
	return snap, nil
}

// infer opens the stream and decodes it under the inference timeout.
// Partial output is discarded on any failure.
func (o *Orchestrator) infer(ctx context.Context, payload *models.InvocationPayload) (*stream.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "assistant.infer", trace.WithAttributes(attribute.String("inference.driver", o.inference.Kind())))
	defer span.End()

	src, err := o.inference.Stream(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		if errs.KindOf(err) == errs.KindUnknown {
			err = &errs.Error{Kind: errs.KindInference, Op: "assistant.infer", Msg: "assistant is unavailable", Err: err}
		}
		return nil, err
	}
	defer src.Close()

	result, err := stream.Decode(ctx, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("inference.tool_calls", len(result.ToolInvocations)),
		attribute.Int("inference.dropped", result.Dropped),
	)
	return result, nil
}

func (o *Orchestrator) validate(ctx context.Context, owner string, result *stream.Result) *guardrails.Verdict {
	ctx, span := o.tracer.Start(ctx, "assistant.validate")
	defer span.End()

	verdict := o.validator.Validate(ctx, owner, result.ToolInvocations)
	span.SetAttributes(
		attribute.Bool("guardrails.accepted", verdict.Accepted != nil),
		attribute.Int("guardrails.rejected", len(verdict.Rejections)),
	)
	return verdict
}

func (o *Orchestrator) dispatch(ctx context.Context, owner string, inv *guardrails.ValidatedInvocation) (string, error) {
	ctx, span := o.tracer.Start(ctx, "assistant.dispatch", trace.WithAttributes(
		attribute.String("quest.entity", string(inv.EntityType())),
		attribute.String("quest.operation", string(inv.Operation())),
	))
	defer span.End()

	if o.dispatcher == nil {
		return "", errs.E(errs.KindValidation, "assistant.dispatch", "no dispatcher configured")
	}
	msg, err := o.dispatcher.Dispatch(ctx, owner, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errs.KindOf(err).String())
	}
	return msg, err
}

func joinAnswer(text, confirmation string) string {
	if text == "" {
		return confirmation
	}
	return text + "\n\n" + confirmation
}

func apology(err error) string {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return NotFoundAnswer
	case errs.KindValidation:
		return "Sorry, I couldn't make that change: " + errs.Message(err) + "."
	default:
		return FailedActionAnswer
	}
}
