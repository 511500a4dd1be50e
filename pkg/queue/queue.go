// Package queue delivers projection jobs from the write path to the
// projector with at-least-once semantics. A job carries only the event
// id; the projector reloads the event from the store, so a redelivered
// job is harmless.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxAttempts is how many deliveries a job gets before the
// consumer dead-letters it.
const DefaultMaxAttempts = 5

// ErrClosed is returned by blocking calls after the queue shuts down.
var ErrClosed = errors.New("queue: closed")

// Job is one unit of projection work.
type Job struct {
	ID       string `json:"id"`
	EventID  int64  `json:"event_id"`
	Attempts int    `json:"attempts"`
}

// Producer is the write-path side of the queue.
type Producer interface {
	// Enqueue schedules projection of the event with the given id.
	Enqueue(ctx context.Context, eventID int64) error
}

// Consumer is the worker side of the queue.
type Consumer interface {
	// Dequeue blocks until a job is available or ctx is done. The job
	// is held in a processing set until Ack, Retry, or Dead.
	Dequeue(ctx context.Context) (*Job, error)

	// Ack removes a completed job.
	Ack(ctx context.Context, job *Job) error

	// Retry reschedules a failed job after the given delay. The job's
	// Attempts count carries over so the consumer can cap retries.
	Retry(ctx context.Context, job *Job, delay time.Duration) error

	// Dead moves a job to the dead-letter list with a reason.
	Dead(ctx context.Context, job *Job, reason string) error
}

// Queue is both ends plus recovery.
type Queue interface {
	Producer
	Consumer

	// RequeueOrphans returns jobs stuck in processing (a worker died
	// mid-job) to the ready list. Called on worker startup.
	RequeueOrphans(ctx context.Context) (int, error)
}
