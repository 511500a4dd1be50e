// Package verifier replays event streams and checks hash-chain integrity.
//
// Verification trusts only the chain secret and SHA-256: each event's
// prev_hash must match the running head, and its stored hash must match
// a recomputation over the canonical body. Any database-level tampering
// with a stored event breaks one of the two checks.
package verifier

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

// Failure reasons reported in Result.
const (
	ReasonPrevHashMismatch = "prev_hash_mismatch"
	ReasonHashMismatch     = "hash_mismatch"
)

// Result is the outcome of verifying one stream.
type Result struct {
	OK         bool   `json:"ok"`
	Stream     string `json:"stream"`
	Count      int    `json:"count,omitempty"`
	BadEventID int64  `json:"bad_event_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Verifier checks streams against a read-only event source.
type Verifier struct {
	reader store.Reader
	secret string
}

// New creates a Verifier using the same secret the store appends with.
func New(reader store.Reader, secret string) *Verifier {
	return &Verifier{reader: reader, secret: secret}
}

// VerifyStream replays a stream from its first event and reports the
// first broken link, if any. An empty stream verifies trivially.
func (v *Verifier) VerifyStream(ctx context.Context, stream string) (*Result, error) {
	events, err := v.reader.ListStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("verifier: load stream %s: %w", stream, err)
	}

	prev := event.GenesisHash
	for _, e := range events {
		if e.PrevHash != prev {
			return &Result{
				Stream:     stream,
				BadEventID: e.ID,
				Reason:     ReasonPrevHashMismatch,
			}, nil
		}
		recomputed, err := event.ComputeHash(e, v.secret)
		if err != nil {
			return nil, fmt.Errorf("verifier: recompute hash for event %d: %w", e.ID, err)
		}
		if recomputed != e.Hash {
			return &Result{
				Stream:     stream,
				BadEventID: e.ID,
				Reason:     ReasonHashMismatch,
			}, nil
		}
		prev = e.Hash
	}

	return &Result{OK: true, Stream: stream, Count: len(events)}, nil
}

// VerifyAll verifies the given streams and returns one result per
// stream, stopping early only on operational errors.
func (v *Verifier) VerifyAll(ctx context.Context, streams []string) ([]*Result, error) {
	results := make([]*Result, 0, len(streams))
	for _, s := range streams {
		res, err := v.VerifyStream(ctx, s)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
