// Package projection maintains the capsule read model derived from the
// event log. The read model is disposable: it can be rebuilt from
// scratch by replaying events, and every write is idempotent so
// at-least-once delivery from the queue is safe.
package projection

import (
	"errors"
	"time"
)

// Capsule statuses.
const (
	StatusOpen   = "open"
	StatusSealed = "sealed"
)

var (
	// ErrNotFound is returned when a capsule row does not exist.
	ErrNotFound = errors.New("projection: capsule not found")
)

// Capsule is the queryable view of a capsule, folded from its events.
type Capsule struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Payload     map[string]any `json:"payload"`
	Tags        []string       `json:"tags"`
	SealLevel   int            `json:"seal_level"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	SealedAt    *time.Time     `json:"sealed_at,omitempty"`
	LastEventID int64          `json:"last_event_id"`
}

// UpsertInput carries the fields a capsule.created event projects.
type UpsertInput struct {
	ID        string
	Title     string
	Payload   map[string]any
	Tags      []string
	SealLevel int
	CreatedAt time.Time
	EventID   int64
}

// ListFilter narrows List results.
type ListFilter struct {
	Query  string // case-insensitive title substring
	Status string
	Tag    string
	Limit  int
}
