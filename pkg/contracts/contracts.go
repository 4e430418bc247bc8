// Package contracts defines the collaborator interfaces of the quest
// assistant.
//
// The orchestration core depends only on these narrow interfaces, so the
// inference service, generation pipeline and rate limiter can be swapped
// (or faked in tests) with a single change in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Inference Driver ────────────────────────────────────────

// InferenceDriver opens a streaming model invocation.
// Shipped drivers: Anthropic Messages API, OpenAI-compatible chat completions.
//
// Drivers are registered in the inference.Registry by Kind().
type InferenceDriver interface {
	// Kind returns the provider identifier (e.g. "anthropic", "openai").
	Kind() string

	// Stream starts the invocation and returns its protocol events in
	// arrival order. The caller must Close the source.
	Stream(ctx context.Context, payload *models.InvocationPayload) (stream.Source, error)
}

// ── Generation Pipeline ─────────────────────────────────────

// GenerationPipeline is the external long-running generation service.
// Calls may take seconds; the queue retries failed deliveries.
type GenerationPipeline interface {
	// Generate hands one job to the pipeline. A nil error means accepted,
	// not finished: roadmaps come back later through the roadmap callback.
	Generate(ctx context.Context, job *models.GenerationJob) error
}

// GenerationQueue decouples triggers (dispatcher, progression engine)
// from the pipeline. Enqueue never blocks.
type GenerationQueue interface {
	Enqueue(job *models.GenerationJob) error
}

// ── Rate Limiter ────────────────────────────────────────────

// RateLimiter budgets chat turns per caller. It is injected into the
// orchestrator; no package-level counters exist.
type RateLimiter interface {
	// Allow reports whether the caller identified by key may proceed now.
	Allow(ctx context.Context, key string) bool
}

// ── Task Completion ─────────────────────────────────────────

// TaskCompletionObserver is notified after a task transitions to completed.
// Implementations must not block the caller.
type TaskCompletionObserver interface {
	TaskCompleted(owner string, task *models.Task)
}
