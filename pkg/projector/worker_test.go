package projector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
)

func runPool(t *testing.T, pool *Pool) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPoolProjectsEnqueuedEvents(t *testing.T) {
	p, events, capsules := newFixture(t)
	q := queue.NewMemoryQueue()
	pool := NewPool(p, q, nil, nil, WithWorkers(2))
	stop := runPool(t, pool)
	defer stop()

	ctx := context.Background()
	created := appendCreated(t, events, "c1")
	require.NoError(t, q.Enqueue(ctx, created.ID))

	require.Eventually(t, func() bool {
		_, err := capsules.Get(ctx, "c1")
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPoolRetriesOutOfOrderSeal(t *testing.T) {
	p, events, capsules := newFixture(t)
	q := queue.NewMemoryQueue()
	pool := NewPool(p, q, nil, nil, WithWorkers(2), WithBackoff(10*time.Millisecond))
	stop := runPool(t, pool)
	defer stop()

	ctx := context.Background()
	created := appendCreated(t, events, "c1")
	sealed := appendSealed(t, events, "c1")

	// Deliver the seal first. It must retry until the create lands.
	require.NoError(t, q.Enqueue(ctx, sealed.ID))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, created.ID))

	require.Eventually(t, func() bool {
		c, err := capsules.Get(ctx, "c1")
		return err == nil && c.Status == projection.StatusSealed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, q.DeadJobs())
}

func TestPoolDeadLettersAfterMaxAttempts(t *testing.T) {
	p, events, _ := newFixture(t)
	q := queue.NewMemoryQueue()
	pool := NewPool(p, q, nil, nil,
		WithWorkers(1), WithMaxAttempts(3), WithBackoff(5*time.Millisecond))
	stop := runPool(t, pool)
	defer stop()

	ctx := context.Background()
	sealed := appendSealed(t, events, "never-created")
	require.NoError(t, q.Enqueue(ctx, sealed.ID))

	require.Eventually(t, func() bool {
		return len(q.DeadJobs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	dead := q.DeadJobs()[0]
	assert.Equal(t, sealed.ID, dead.Job.EventID)
	assert.Contains(t, dead.Reason, "not projected yet")
}

func TestPoolRecoversOrphans(t *testing.T) {
	p, events, capsules := newFixture(t)
	q := queue.NewMemoryQueue()

	ctx := context.Background()
	created := appendCreated(t, events, "c1")
	require.NoError(t, q.Enqueue(ctx, created.ID))

	// Simulate a crashed worker holding the job in processing.
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	pool := NewPool(p, q, nil, nil, WithWorkers(1))
	stop := runPool(t, pool)
	defer stop()

	require.Eventually(t, func() bool {
		_, err := capsules.Get(ctx, "c1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}
