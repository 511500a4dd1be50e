// Package command turns domain commands into immutable events. Each
// command appends to the global stream and the capsule stream in one
// atomic batch, then schedules projection of the global event. Commands
// never write capsule state directly: the read model is always derived
// by the projector.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
	"github.com/Mindburn-Labs/chronovault/pkg/social"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

// Limits applied to command input.
const (
	MaxSealReasonLen = 500
)

var (
	// ErrMissingActor is returned when a command arrives without an actor.
	ErrMissingActor = errors.New("command: missing actor")

	// ErrValidation wraps schema validation failures.
	ErrValidation = errors.New("command: invalid input")

	// ErrCapsuleNotFound means the capsule row has not been projected,
	// either because the id is wrong or the projector has not caught up.
	ErrCapsuleNotFound = errors.New("command: capsule not found or not projected yet")

	// ErrAlreadySealed rejects a second seal of the same capsule.
	ErrAlreadySealed = errors.New("command: capsule already sealed")
)

// Receipt is what a successful command hands back: the new capsule (or
// target capsule) and the global-stream event that records the command.
type Receipt struct {
	CapsuleID string `json:"capsule_id"`
	EventID   int64  `json:"event_id"`
	Hash      string `json:"hash"`
}

// Service orchestrates command handling.
type Service struct {
	events   store.Store
	capsules projection.Store
	comments social.Store
	producer queue.Producer
	metrics  *observability.Provider
	logger   *slog.Logger
	schemas  *schemas
}

func NewService(
	events store.Store,
	capsules projection.Store,
	comments social.Store,
	producer queue.Producer,
	metrics *observability.Provider,
	logger *slog.Logger,
) (*Service, error) {
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:   events,
		capsules: capsules,
		comments: comments,
		producer: producer,
		metrics:  metrics,
		logger:   logger.With("component", "command"),
		schemas:  compiled,
	}, nil
}

// CreateCapsule validates the request body, mints a capsule id, and
// appends capsule.created to both streams atomically.
func (s *Service) CreateCapsule(ctx context.Context, actor string, body map[string]any) (*Receipt, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if body == nil {
		body = map[string]any{}
	}
	if err := s.schemas.create.Validate(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	capsuleID := uuid.NewString()
	payload := map[string]any{
		"title":      body["title"],
		"payload":    mapOrEmpty(body["payload"]),
		"tags":       sliceOrEmpty(body["tags"]),
		"seal_level": body["seal_level"],
	}
	meta := map[string]any{
		"rationale": "Structural command -> immutable event; state derived by projector.",
		"unknowns":  []any{"Future policies may change; keep social powerless."},
	}

	return s.appendAndSchedule(ctx, actor, capsuleID, event.TypeCapsuleCreated, payload, meta)
}

// SealCapsule appends capsule.sealed after checking the projected row.
// A capsule that is not yet projected is reported as not found rather
// than silently sealed into nothing.
func (s *Service) SealCapsule(ctx context.Context, actor, capsuleID string, body map[string]any) (*Receipt, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if body == nil {
		body = map[string]any{}
	}
	if err := s.schemas.seal.Validate(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	capsule, err := s.capsules.Get(ctx, capsuleID)
	if errors.Is(err, projection.ErrNotFound) {
		return nil, ErrCapsuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("command: load capsule %s: %w", capsuleID, err)
	}
	if capsule.Status == projection.StatusSealed {
		return nil, ErrAlreadySealed
	}

	reason, _ := body["reason"].(string)
	payload := map[string]any{"reason": truncate(reason, MaxSealReasonLen)}
	meta := map[string]any{
		"rationale": "Seal is power -> immutable event.",
		"unknowns":  []any{"Quorum/multisig policies could be added later."},
	}

	return s.appendAndSchedule(ctx, actor, capsuleID, event.TypeCapsuleSealed, payload, meta)
}

// AddComment stores a comment outside the ledger. A missing actor falls
// back to "anonymous" since comments carry no power.
func (s *Service) AddComment(ctx context.Context, actor string, body map[string]any) (*social.Comment, error) {
	if actor == "" {
		actor = "anonymous"
	}
	actor = truncate(actor, social.MaxActorLen)
	if body == nil {
		body = map[string]any{}
	}
	if err := s.schemas.comment.Validate(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	capsuleID, _ := body["capsule_id"].(string)
	text, _ := body["body"].(string)
	comment, err := s.comments.Add(ctx, capsuleID, actor, truncate(text, social.MaxBodyLen))
	if err != nil {
		return nil, err
	}
	return comment, nil
}

func (s *Service) appendAndSchedule(ctx context.Context, actor, capsuleID, eventType string, payload, meta map[string]any) (*Receipt, error) {
	input := store.AppendInput{
		Type:      eventType,
		Actor:     actor,
		CapsuleID: capsuleID,
		Payload:   payload,
		Meta:      meta,
	}
	global := input
	global.Stream = event.StreamGlobal
	scoped := input
	scoped.Stream = event.CapsuleStream(capsuleID)

	events, err := s.events.AppendBatch(ctx, []store.AppendInput{global, scoped})
	if err != nil {
		return nil, fmt.Errorf("command: append %s: %w", eventType, err)
	}
	globalEvent := events[0]

	if s.metrics != nil {
		s.metrics.RecordAppend(ctx, event.StreamGlobal, 1)
		s.metrics.RecordAppend(ctx, scoped.Stream, 1)
	}

	if err := s.producer.Enqueue(ctx, globalEvent.ID); err != nil {
		// The events are committed; only projection scheduling failed.
		// Surface the error so the caller can retry, replay is idempotent.
		s.logger.ErrorContext(ctx, "projection enqueue failed",
			"event_id", globalEvent.ID, "error", err)
		return nil, fmt.Errorf("command: schedule projection of event %d: %w", globalEvent.ID, err)
	}

	s.logger.InfoContext(ctx, "command committed",
		"type", eventType, "capsule_id", capsuleID,
		"event_id", globalEvent.ID, "actor", actor)

	return &Receipt{
		CapsuleID: capsuleID,
		EventID:   globalEvent.ID,
		Hash:      globalEvent.Hash,
	}, nil
}

func mapOrEmpty(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func sliceOrEmpty(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
