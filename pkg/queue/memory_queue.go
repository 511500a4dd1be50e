package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for tests and single-binary
// deployments without Redis.
type MemoryQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	ready      []*Job
	processing map[string]*Job
	delayed    []delayedJob
	dead       []DeadJob
	closed     bool
}

type delayedJob struct {
	job *Job
	due time.Time
}

// DeadJob records a dead-lettered job for inspection.
type DeadJob struct {
	Job    Job
	Reason string
}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{processing: make(map[string]*Job)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Close unblocks all pending Dequeue calls.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *MemoryQueue) Enqueue(_ context.Context, eventID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.ready = append(q.ready, &Job{ID: uuid.NewString(), EventID: eventID})
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	// Wake the cond wait when the caller's context expires.
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, ErrClosed
		}
		q.promoteDueLocked()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.processing[job.ID] = job
			return job, nil
		}
		if next, ok := q.nextDueLocked(); ok {
			// Re-check once the earliest delayed job comes due.
			timer := time.AfterFunc(time.Until(next), q.wake)
			q.cond.Wait()
			timer.Stop()
			continue
		}
		q.cond.Wait()
	}
}

// wake broadcasts under the queue mutex. Callbacks run on their own
// goroutines, and an unlocked broadcast could fire between a waiter's
// condition check and its call to Wait, losing the wakeup.
func (q *MemoryQueue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *MemoryQueue) promoteDueLocked() {
	now := time.Now()
	var still []delayedJob
	for _, d := range q.delayed {
		if d.due.After(now) {
			still = append(still, d)
			continue
		}
		q.ready = append(q.ready, d.job)
	}
	q.delayed = still
}

func (q *MemoryQueue) nextDueLocked() (time.Time, bool) {
	var next time.Time
	for _, d := range q.delayed {
		if next.IsZero() || d.due.Before(next) {
			next = d.due
		}
	}
	return next, !next.IsZero()
}

func (q *MemoryQueue) Ack(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, job.ID)
	next := *job
	next.Attempts++
	q.delayed = append(q.delayed, delayedJob{job: &next, due: time.Now().Add(delay)})
	q.cond.Broadcast()
	return nil
}

func (q *MemoryQueue) Dead(_ context.Context, job *Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, job.ID)
	q.dead = append(q.dead, DeadJob{Job: *job, Reason: reason})
	return nil
}

func (q *MemoryQueue) RequeueOrphans(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := 0
	for id, job := range q.processing {
		delete(q.processing, id)
		q.ready = append(q.ready, job)
		moved++
	}
	if moved > 0 {
		q.cond.Broadcast()
	}
	return moved, nil
}

// DeadJobs returns a snapshot of the dead-letter list.
func (q *MemoryQueue) DeadJobs() []DeadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadJob, len(q.dead))
	copy(out, q.dead)
	return out
}
