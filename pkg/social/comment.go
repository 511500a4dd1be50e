// Package social holds the commentary layer. Comments are deliberately
// powerless: they live outside the event log, never touch capsule
// state, and carry no chain hashes.
package social

import (
	"context"
	"time"
)

// Limits applied on write.
const (
	MaxActorLen = 64
	MaxBodyLen  = 2000
)

// Comment is one remark attached to a capsule.
type Comment struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	CapsuleID string    `json:"capsule_id"`
	Actor     string    `json:"actor"`
	Body      string    `json:"body"`
}

// Store persists comments.
type Store interface {
	Add(ctx context.Context, capsuleID, actor, body string) (*Comment, error)

	// ListByCapsule returns comments newest first.
	ListByCapsule(ctx context.Context, capsuleID string, limit int) ([]*Comment, error)
}
