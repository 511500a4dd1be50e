package projection

import (
	"context"
	"time"
)

// Store is the capsule read model.
//
// Upsert and Seal are the projector's only write paths and both are
// idempotent: replaying the same event twice leaves the row unchanged.
type Store interface {
	// Upsert inserts the capsule row or refreshes its descriptive
	// fields. It never touches status, created_at, or sealed_at on an
	// existing row, so a replayed create cannot reopen a sealed
	// capsule.
	Upsert(ctx context.Context, in UpsertInput) error

	// Seal marks the capsule sealed. The first seal wins: sealed_at is
	// set once and kept on replay. Returns ErrNotFound when no row
	// exists yet, which callers treat as retryable.
	Seal(ctx context.Context, id string, sealedAt time.Time, eventID int64) error

	// Get returns one capsule or ErrNotFound.
	Get(ctx context.Context, id string) (*Capsule, error)

	// List returns capsules newest first.
	List(ctx context.Context, filter ListFilter) ([]*Capsule, error)
}
