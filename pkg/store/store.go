// Package store implements the append-only, hash-chained event store.
// It owns sequence assignment and chain linking: per-stream sequences are
// gapless from 1, and each event's prev_hash is the previous event's hash
// (or GENESIS for the first).
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
)

var (
	// ErrNotFound is returned when an event id does not exist.
	ErrNotFound = errors.New("store: event not found")
	// ErrEmptyBatch is returned when AppendBatch is called with no inputs.
	ErrEmptyBatch = errors.New("store: empty batch")
)

// AppendInput describes one event to append. Payload and Meta are opaque
// documents; nil is treated as the empty document.
type AppendInput struct {
	Stream    string
	Type      string
	Actor     string
	CapsuleID string
	Payload   map[string]any
	Meta      map[string]any
}

// QueryFilter narrows audit feed queries. Zero values mean "no filter".
type QueryFilter struct {
	CapsuleID string
	Actor     string
	Type      string
	Limit     int
}

// Reader is the store's read path. The chain verifier depends only on this.
type Reader interface {
	// GetByID loads one event; ErrNotFound when absent.
	GetByID(ctx context.Context, id int64) (*event.Event, error)
	// ListStream returns all events of a stream in stream_seq order.
	ListStream(ctx context.Context, stream string) ([]*event.Event, error)
	// ListRecent returns events matching the filter, newest first by id.
	ListRecent(ctx context.Context, filter QueryFilter) ([]*event.Event, error)
}

// Store is the full event store contract.
type Store interface {
	Reader

	// Append appends a single event to its stream.
	Append(ctx context.Context, in AppendInput) (*event.Event, error)

	// AppendBatch appends all inputs as one atomic unit: either every
	// event is persisted or none is. This is the dual-write primitive for
	// domain commands (global feed + capsule stream).
	AppendBatch(ctx context.Context, inputs []AppendInput) ([]*event.Event, error)
}
