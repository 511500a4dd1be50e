package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThenGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := s.Upsert(ctx, UpsertInput{
		ID: "c1", Title: "Q2 audit", Tags: []string{"finance"},
		SealLevel: 3, CreatedAt: created, EventID: 10,
	})
	require.NoError(t, err)

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Q2 audit", c.Title)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, created, c.CreatedAt)
	assert.Nil(t, c.SealedAt)
	assert.Equal(t, int64(10), c.LastEventID)
}

func TestUpsertIsIdempotentAndPreservesStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	in := UpsertInput{ID: "c1", Title: "t", CreatedAt: created, EventID: 1}
	require.NoError(t, s.Upsert(ctx, in))
	require.NoError(t, s.Seal(ctx, "c1", created.Add(time.Hour), 2))

	// Replayed create must not reopen a sealed capsule.
	require.NoError(t, s.Upsert(ctx, in))

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusSealed, c.Status)
	require.NotNil(t, c.SealedAt)
}

func TestSealFirstWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, UpsertInput{ID: "c1", Title: "t", CreatedAt: created, EventID: 1}))

	first := created.Add(time.Hour)
	require.NoError(t, s.Seal(ctx, "c1", first, 2))
	require.NoError(t, s.Seal(ctx, "c1", first.Add(time.Hour), 3))

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.SealedAt)
	assert.Equal(t, first, *c.SealedAt, "replayed seal must not move sealed_at")
	assert.Equal(t, int64(3), c.LastEventID)
}

func TestSealMissingCapsule(t *testing.T) {
	s := NewMemoryStore()
	err := s.Seal(context.Background(), "ghost", time.Now(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, UpsertInput{ID: "a", Title: "a", Tags: []string{"x"}, CreatedAt: base, EventID: 1}))
	require.NoError(t, s.Upsert(ctx, UpsertInput{ID: "b", Title: "b", Tags: []string{"y"}, CreatedAt: base.Add(time.Minute), EventID: 2}))
	require.NoError(t, s.Seal(ctx, "a", base.Add(time.Hour), 3))

	sealed, err := s.List(ctx, ListFilter{Status: StatusSealed})
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.Equal(t, "a", sealed[0].ID)

	tagged, err := s.List(ctx, ListFilter{Tag: "y"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "b", tagged[0].ID)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "newest first")
}
