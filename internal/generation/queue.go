// Package generation delivers generation jobs (roadmaps, milestone task
// sets) to the external generation pipeline.
//
// Triggers enqueue and return immediately; a fixed pool of workers hands
// each job to the pipeline, retrying failed deliveries with exponential
// backoff. A full queue rejects the job rather than blocking the caller.
package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned when the buffer has no room for the job.
	ErrQueueFull = errors.New("generation queue full")
	// ErrQueueClosed is returned after Stop.
	ErrQueueClosed = errors.New("generation queue closed")
)

// Options tune the queue.
type Options struct {
	Workers         int
	Size            int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Queue is a bounded in-process job queue in front of a GenerationPipeline.
type Queue struct {
	pipeline contracts.GenerationPipeline
	opts     Options
	jobs     chan *models.GenerationJob

	mu      sync.RWMutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnDone, if set, is called after each job finishes (err is nil on success).
	OnDone func(job *models.GenerationJob, err error)
}

// NewQueue creates a queue. Call Start to launch the workers.
func NewQueue(pipeline contracts.GenerationPipeline, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Size <= 0 {
		opts.Size = 64
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Queue{
		pipeline: pipeline,
		opts:     opts,
		jobs:     make(chan *models.GenerationJob, opts.Size),
	}
}

// Start launches the workers. Their context derives from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(ctx)

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	log.Info().Int("workers", q.opts.Workers).Int("size", q.opts.Size).Msg("⚙️ Generation queue started")
}

// Enqueue adds a job without blocking. It assigns ID and EnqueuedAt if unset.
func (q *Queue) Enqueue(job *models.GenerationJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		log.Info().
			Str("job", job.ID).
			Str("kind", string(job.Kind)).
			Str("owner", job.Owner).
			Str("goal", job.GoalID).
			Int("sequence", job.Sequence).
			Msg("Generation job enqueued")
		return nil
	default:
		log.Warn().
			Str("kind", string(job.Kind)).
			Str("goal", job.GoalID).
			Int("sequence", job.Sequence).
			Msg("⚠️ Generation queue full, job rejected")
		return ErrQueueFull
	}
}

// Pending reports the number of buffered jobs.
func (q *Queue) Pending() int { return len(q.jobs) }

// Stop refuses new jobs and lets workers drain the buffer. If ctx expires
// first, in-flight deliveries are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		log.Info().Msg("Generation queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		err := q.deliver(job)
		if err != nil {
			log.Error().
				Err(err).
				Int("worker", id).
				Str("job", job.ID).
				Str("kind", string(job.Kind)).
				Str("goal", job.GoalID).
				Msg("❌ Generation job failed")
		} else {
			log.Info().
				Int("worker", id).
				Str("job", job.ID).
				Str("kind", string(job.Kind)).
				Dur("queued", time.Since(job.EnqueuedAt)).
				Msg("✅ Generation job delivered")
		}
		if q.OnDone != nil {
			q.OnDone(job, err)
		}
	}
}

// deliver hands one job to the pipeline with exponential backoff.
// Errors wrapped with backoff.Permanent are not retried.
func (q *Queue) deliver(job *models.GenerationJob) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialInterval
	b.MaxInterval = q.opts.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithMaxRetries(b, q.opts.MaxRetries)

	attempt := 0
	op := func() error {
		attempt++
		return q.pipeline.Generate(q.ctx, job)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("job", job.ID).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Generation delivery failed, retrying")
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, q.ctx), notify)
}
