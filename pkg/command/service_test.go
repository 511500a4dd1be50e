package command

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/projector"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
	"github.com/Mindburn-Labs/chronovault/pkg/social"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"
)

type fixture struct {
	service   *Service
	events    *store.MemoryStore
	capsules  *projection.MemoryStore
	comments  *social.MemoryStore
	queue     *queue.MemoryQueue
	projector *projector.Projector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	events := store.NewMemoryStore("test-secret")
	capsules := projection.NewMemoryStore()
	comments := social.NewMemoryStore()
	q := queue.NewMemoryQueue()

	svc, err := NewService(events, capsules, comments, q, nil, nil)
	require.NoError(t, err)

	return &fixture{
		service:   svc,
		events:    events,
		capsules:  capsules,
		comments:  comments,
		queue:     q,
		projector: projector.New(events, capsules, nil, nil),
	}
}

// drain applies every queued job synchronously.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		job, err := f.queue.Dequeue(cctx)
		cancel()
		if err != nil {
			return
		}
		require.NoError(t, f.projector.Apply(ctx, job.EventID))
		require.NoError(t, f.queue.Ack(ctx, job))
	}
}

func jsonBody(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestCreateCapsuleWritesBothStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t,
		`{"title":"T","tags":["a","b"],"seal_level":2}`))
	require.NoError(t, err)
	require.NotEmpty(t, receipt.CapsuleID)
	assert.Len(t, receipt.Hash, 64)

	global, err := f.events.ListStream(ctx, event.StreamGlobal)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, int64(1), global[0].StreamSeq)
	assert.Equal(t, event.GenesisHash, global[0].PrevHash)
	assert.Equal(t, receipt.EventID, global[0].ID)
	assert.Equal(t, receipt.Hash, global[0].Hash)

	scoped, err := f.events.ListStream(ctx, event.CapsuleStream(receipt.CapsuleID))
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, int64(1), scoped[0].StreamSeq)
	assert.Equal(t, event.GenesisHash, scoped[0].PrevHash)

	f.drain(t)
	c, err := f.capsules.Get(ctx, receipt.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, "T", c.Title)
	assert.Equal(t, []string{"a", "b"}, c.Tags, "tag order is preserved")
	assert.Equal(t, 2, c.SealLevel)
	assert.Equal(t, projection.StatusOpen, c.Status)
}

func TestSealLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t,
		`{"title":"T","seal_level":1}`))
	require.NoError(t, err)
	f.drain(t)

	sealed, err := f.service.SealCapsule(ctx, "root", created.CapsuleID, jsonBody(t,
		`{"reason":"records complete"}`))
	require.NoError(t, err)
	assert.Equal(t, created.CapsuleID, sealed.CapsuleID)
	f.drain(t)

	c, err := f.capsules.Get(ctx, created.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusSealed, c.Status)
	require.NotNil(t, c.SealedAt)

	scoped, err := f.events.ListStream(ctx, event.CapsuleStream(created.CapsuleID))
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, scoped[0].Hash, scoped[1].PrevHash)
	assert.Equal(t, "records complete", scoped[1].Payload["reason"])

	_, err = f.service.SealCapsule(ctx, "root", created.CapsuleID, nil)
	assert.ErrorIs(t, err, ErrAlreadySealed)
}

func TestSealUnprojectedCapsule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t,
		`{"title":"T","seal_level":1}`))
	require.NoError(t, err)

	// Projector has not run yet, so the row does not exist.
	_, err = f.service.SealCapsule(ctx, "root", created.CapsuleID, nil)
	assert.ErrorIs(t, err, ErrCapsuleNotFound)
}

func TestSealReasonTruncated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t,
		`{"title":"T","seal_level":1}`))
	require.NoError(t, err)
	f.drain(t)

	long := strings.Repeat("r", 600)
	_, err = f.service.SealCapsule(ctx, "root", created.CapsuleID,
		map[string]any{"reason": long})
	require.NoError(t, err)

	scoped, err := f.events.ListStream(ctx, event.CapsuleStream(created.CapsuleID))
	require.NoError(t, err)
	reason := scoped[1].Payload["reason"].(string)
	assert.Len(t, reason, MaxSealReasonLen)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"seal_level":1}`},
		{"empty title", `{"title":"","seal_level":1}`},
		{"seal level too low", `{"title":"T","seal_level":0}`},
		{"seal level too high", `{"title":"T","seal_level":6}`},
		{"seal level not integer", `{"title":"T","seal_level":1.5}`},
		{"unknown field", `{"title":"T","seal_level":1,"status":"sealed"}`},
		{"tags not strings", `{"title":"T","seal_level":1,"tags":[1,2]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t, tc.body))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// Nothing invalid may reach the ledger.
	global, err := f.events.ListStream(ctx, event.StreamGlobal)
	require.NoError(t, err)
	assert.Empty(t, global)
}

func TestCreateRequiresActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateCapsule(context.Background(), "", jsonBody(t,
		`{"title":"T","seal_level":1}`))
	assert.ErrorIs(t, err, ErrMissingActor)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.service.AddComment(ctx, "", jsonBody(t,
		`{"capsule_id":"c1","body":"nice capsule"}`))
	require.NoError(t, err)
	assert.Equal(t, "anonymous", c.Actor)
	assert.Equal(t, "nice capsule", c.Body)

	long := strings.Repeat("b", 3000)
	c, err = f.service.AddComment(ctx, "bob", map[string]any{
		"capsule_id": "c1", "body": long,
	})
	require.NoError(t, err)
	assert.Len(t, c.Body, social.MaxBodyLen)

	_, err = f.service.AddComment(ctx, "bob", jsonBody(t, `{"capsule_id":"c1"}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChainsVerifyAfterCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateCapsule(ctx, "alice", jsonBody(t,
		`{"title":"T","seal_level":2}`))
	require.NoError(t, err)
	f.drain(t)
	_, err = f.service.SealCapsule(ctx, "root", created.CapsuleID, nil)
	require.NoError(t, err)
	f.drain(t)

	v := verifier.New(f.events, "test-secret")
	for _, stream := range []string{event.StreamGlobal, event.CapsuleStream(created.CapsuleID)} {
		res, err := v.VerifyStream(ctx, stream)
		require.NoError(t, err)
		assert.True(t, res.OK, "stream %s must verify", stream)
		assert.Equal(t, 2, res.Count)
	}
}
