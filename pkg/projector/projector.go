// Package projector folds ledger events into the capsule read model.
//
// Delivery is at-least-once: the queue may hand the same event id to a
// worker more than once, and the read model writes are idempotent, so
// replay is always safe. A seal arriving before its capsule row exists
// is reported as ErrTargetMissing and retried rather than dropped.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

var (
	// ErrEventNotFound means the job referenced an event id the store
	// does not have.
	ErrEventNotFound = errors.New("projector: event not found")

	// ErrTargetMissing means a seal arrived before the capsule row was
	// projected. The job should be retried, not dropped.
	ErrTargetMissing = errors.New("projector: capsule row not projected yet")
)

// Projector applies single events to the read model.
type Projector struct {
	reader   store.Reader
	capsules projection.Store
	metrics  *observability.Provider
	logger   *slog.Logger
}

func New(reader store.Reader, capsules projection.Store, metrics *observability.Provider, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		reader:   reader,
		capsules: capsules,
		metrics:  metrics,
		logger:   logger.With("component", "projector"),
	}
}

// Apply loads the event and folds it into the read model. Unknown event
// types are skipped so old projectors tolerate new event kinds.
func (p *Projector) Apply(ctx context.Context, eventID int64) error {
	e, err := p.reader.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrEventNotFound, eventID)
		}
		return fmt.Errorf("projector: load event %d: %w", eventID, err)
	}

	switch e.Type {
	case event.TypeCapsuleCreated:
		err = p.applyCreated(ctx, e)
	case event.TypeCapsuleSealed:
		err = p.applySealed(ctx, e)
	default:
		p.logger.DebugContext(ctx, "skipping unhandled event type",
			"type", e.Type, "event_id", e.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.RecordProjected(ctx, e.Type)
	}
	return nil
}

func (p *Projector) applyCreated(ctx context.Context, e *event.Event) error {
	if e.CapsuleID == "" {
		return fmt.Errorf("projector: capsule.created event %d has no capsule id", e.ID)
	}
	in := projection.UpsertInput{
		ID:        e.CapsuleID,
		Title:     stringField(e.Payload, "title"),
		Payload:   mapField(e.Payload, "payload"),
		Tags:      stringSliceField(e.Payload, "tags"),
		SealLevel: intField(e.Payload, "seal_level"),
		CreatedAt: e.TS,
		EventID:   e.ID,
	}
	if err := p.capsules.Upsert(ctx, in); err != nil {
		return fmt.Errorf("projector: upsert capsule %s: %w", e.CapsuleID, err)
	}
	return nil
}

func (p *Projector) applySealed(ctx context.Context, e *event.Event) error {
	if e.CapsuleID == "" {
		return fmt.Errorf("projector: capsule.sealed event %d has no capsule id", e.ID)
	}
	err := p.capsules.Seal(ctx, e.CapsuleID, e.TS, e.ID)
	if errors.Is(err, projection.ErrNotFound) {
		return fmt.Errorf("%w: capsule %s (event %d)", ErrTargetMissing, e.CapsuleID, e.ID)
	}
	if err != nil {
		return fmt.Errorf("projector: seal capsule %s: %w", e.CapsuleID, err)
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// intField tolerates the numeric types a payload picks up on its way
// through JSON: int when built in-process, float64 or json.Number after
// a round trip through the store.
func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func stringSliceField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		// Already-typed slices appear when events come straight from
		// the memory store rather than a JSON round trip.
		typed, _ := m[key].([]string)
		return typed
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
