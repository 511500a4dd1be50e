package projection

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory capsule read model for tests and the
// sqlite-free development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	capsules map[string]*Capsule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{capsules: make(map[string]*Capsule)}
}

func (s *MemoryStore) Upsert(_ context.Context, in UpsertInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealLevel := in.SealLevel
	if sealLevel < 1 {
		sealLevel = 1
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	existing, ok := s.capsules[in.ID]
	if !ok {
		s.capsules[in.ID] = &Capsule{
			ID:          in.ID,
			Title:       in.Title,
			Payload:     payload,
			Tags:        tags,
			SealLevel:   sealLevel,
			Status:      StatusOpen,
			CreatedAt:   in.CreatedAt.UTC(),
			LastEventID: in.EventID,
		}
		return nil
	}

	// Refresh descriptive fields only; status and timestamps survive replay.
	existing.Title = in.Title
	existing.Payload = payload
	existing.Tags = tags
	existing.SealLevel = sealLevel
	existing.LastEventID = in.EventID
	return nil
}

func (s *MemoryStore) Seal(_ context.Context, id string, sealedAt time.Time, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.capsules[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = StatusSealed
	if c.SealedAt == nil {
		ts := sealedAt.UTC()
		c.SealedAt = &ts
	}
	c.LastEventID = eventID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.capsules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var out []*Capsule
	for _, c := range s.capsules {
		if filter.Query != "" && !strings.Contains(strings.ToLower(c.Title), strings.ToLower(filter.Query)) {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Tag != "" && !hasTag(c.Tags, filter.Tag) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
