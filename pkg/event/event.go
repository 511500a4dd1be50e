// Package event defines the immutable ChronoVault event record and the
// digest that links each event to its predecessor.
package event

import (
	"errors"
	"time"
)

// GenesisHash is the prev_hash sentinel for a stream's first event.
const GenesisHash = "GENESIS"

// StreamGlobal is the cross-capsule audit feed. Every domain command lands
// here in addition to the capsule's private stream.
const StreamGlobal = "global"

// Domain event types.
const (
	TypeCapsuleCreated = "capsule.created"
	TypeCapsuleSealed  = "capsule.sealed"
)

var (
	ErrMissingStream = errors.New("event: stream is required")
	ErrMissingType   = errors.New("event: type is required")
	ErrMissingActor  = errors.New("event: actor is required")
)

// CapsuleStream returns the private stream name for a capsule.
func CapsuleStream(capsuleID string) string {
	return "capsule:" + capsuleID
}

// Event is one immutable entry in a stream. Once written it is never
// mutated; any change is detectable through the hash chain.
type Event struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Stream    string         `json:"stream"`
	StreamSeq int64          `json:"stream_seq"`
	Type      string         `json:"type"`
	Actor     string         `json:"actor"`
	CapsuleID string         `json:"capsule_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Meta      map[string]any `json:"meta"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// HashBody returns the canonical hash input for the event: every field
// that participates in the digest, in document form. CapsuleID is encoded
// as null when absent so stored NULLs and in-memory zero values agree.
func (e *Event) HashBody() map[string]any {
	var capsuleID any
	if e.CapsuleID != "" {
		capsuleID = e.CapsuleID
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	meta := e.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"stream":     e.Stream,
		"stream_seq": e.StreamSeq,
		"type":       e.Type,
		"actor":      e.Actor,
		"capsule_id": capsuleID,
		"payload":    payload,
		"meta":       meta,
		"prev_hash":  e.PrevHash,
	}
}
