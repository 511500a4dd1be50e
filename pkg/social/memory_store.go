package social

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory comment store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	comments []*Comment
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Add(_ context.Context, capsuleID, actor, body string) (*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &Comment{
		ID:        s.nextID,
		TS:        s.clock().UTC(),
		CapsuleID: capsuleID,
		Actor:     actor,
		Body:      body,
	}
	s.comments = append(s.comments, c)
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListByCapsule(_ context.Context, capsuleID string, limit int) ([]*Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	var out []*Comment
	for i := len(s.comments) - 1; i >= 0 && len(out) < limit; i-- {
		if s.comments[i].CapsuleID == capsuleID {
			cp := *s.comments[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
