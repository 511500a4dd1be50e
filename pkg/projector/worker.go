package projector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
)

// Pool defaults, matching the queue's delivery contract.
const (
	DefaultWorkers      = 4
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Pool runs concurrent workers draining the projection queue.
type Pool struct {
	projector   *Projector
	queue       queue.Queue
	metrics     *observability.Provider
	logger      *slog.Logger
	workers     int
	maxAttempts int
	backoff     time.Duration
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the worker count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts caps deliveries per job before dead-lettering.
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the base retry delay. The delay doubles per attempt.
func WithBackoff(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.backoff = d
		}
	}
}

func NewPool(projector *Projector, q queue.Queue, metrics *observability.Provider, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		projector:   projector,
		queue:       q,
		metrics:     metrics,
		logger:      logger.With("component", "projector-pool"),
		workers:     DefaultWorkers,
		maxAttempts: queue.DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run requeues orphaned jobs from a previous run, then drains the queue
// until ctx is cancelled. It blocks until all workers have stopped.
func (p *Pool) Run(ctx context.Context) error {
	if moved, err := p.queue.RequeueOrphans(ctx); err != nil {
		p.logger.WarnContext(ctx, "orphan requeue failed", "error", err)
	} else if moved > 0 {
		p.logger.InfoContext(ctx, "requeued orphaned jobs", "count", moved)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.ErrorContext(ctx, "dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.handle(ctx, logger, job)
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	err := p.projector.Apply(ctx, job.EventID)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			logger.ErrorContext(ctx, "ack failed", "job", job.ID, "error", ackErr)
		}
		return
	}

	// Attempts counts deliveries already consumed; this failure used one.
	if job.Attempts+1 >= p.maxAttempts {
		logger.ErrorContext(ctx, "dead-lettering job",
			"job", job.ID, "event_id", job.EventID,
			"attempts", job.Attempts+1, "error", err)
		if p.metrics != nil {
			p.metrics.RecordDeadLetter(ctx, reasonFor(err))
		}
		if dlErr := p.queue.Dead(ctx, job, err.Error()); dlErr != nil {
			logger.ErrorContext(ctx, "dead-letter failed", "job", job.ID, "error", dlErr)
		}
		return
	}

	delay := p.backoff << uint(job.Attempts)
	logger.WarnContext(ctx, "retrying job",
		"job", job.ID, "event_id", job.EventID,
		"attempt", job.Attempts+1, "delay", delay, "error", err)
	if retryErr := p.queue.Retry(ctx, job, delay); retryErr != nil {
		logger.ErrorContext(ctx, "retry failed", "job", job.ID, "error", retryErr)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrTargetMissing):
		return "target_missing"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	default:
		return "apply_error"
	}
}
