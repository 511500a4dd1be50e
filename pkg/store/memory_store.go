package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
)

// MemoryStore is an in-memory Store for tests and single-process mode.
// It enforces the same per-stream serialization discipline as the SQL
// store: a stream's lock is held across read-head, hash, insert.
type MemoryStore struct {
	secret string
	locks  *streamLocks
	clock  func() time.Time

	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*event.Event
	streams map[string][]*event.Event
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore(secret string) *MemoryStore {
	return &MemoryStore{
		secret:  secret,
		locks:   newStreamLocks(),
		clock:   time.Now,
		byID:    make(map[int64]*event.Event),
		streams: make(map[string][]*event.Event),
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (*event.Event, error) {
	events, err := s.AppendBatch(ctx, []AppendInput{in})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func (s *MemoryStore) AppendBatch(ctx context.Context, inputs []AppendInput) ([]*event.Event, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, in := range inputs {
		if err := event.Validate(in.Stream, in.Type, in.Actor); err != nil {
			return nil, err
		}
	}

	streams := make([]string, len(inputs))
	for i, in := range inputs {
		streams[i] = in.Stream
	}
	release := s.locks.acquire(streams)
	defer release()

	// Stage all events first; nothing is visible until every hash
	// computed. A failure mid-batch leaves the store untouched.
	staged := make([]*event.Event, 0, len(inputs))
	heads := make(map[string]*event.Event) // per-stream head within this batch
	for _, in := range inputs {
		prevSeq, prevHash := s.head(in.Stream)
		if h, ok := heads[in.Stream]; ok {
			prevSeq, prevHash = h.StreamSeq, h.Hash
		}

		e := &event.Event{
			TS:        s.clock().UTC(),
			Stream:    in.Stream,
			StreamSeq: prevSeq + 1,
			Type:      in.Type,
			Actor:     in.Actor,
			CapsuleID: in.CapsuleID,
			Payload:   in.Payload,
			Meta:      in.Meta,
			PrevHash:  prevHash,
		}
		hash, err := event.ComputeHash(e, s.secret)
		if err != nil {
			return nil, err
		}
		e.Hash = hash
		heads[in.Stream] = e
		staged = append(staged, e)
	}

	// Commit point.
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Event, 0, len(staged))
	for _, e := range staged {
		s.nextID++
		e.ID = s.nextID
		s.byID[e.ID] = e
		s.streams[e.Stream] = append(s.streams[e.Stream], e)
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

// head returns the current max stream_seq and head hash of a stream.
// Callers must hold the stream's append lock.
func (s *MemoryStore) head(stream string) (int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.streams[stream]
	if len(events) == 0 {
		return 0, event.GenesisHash
	}
	last := events[len(events)-1]
	return last.StreamSeq, last.Hash
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *MemoryStore) ListStream(ctx context.Context, stream string) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.streams[stream]
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

// ListStreams returns every distinct stream name, sorted.
func (s *MemoryStore) ListStreams(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.streams))
	for stream := range s.streams {
		out = append(out, stream)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, filter QueryFilter) ([]*event.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*event.Event, 0, limit)
	for id := s.nextID; id >= 1 && len(out) < limit; id-- {
		e, ok := s.byID[id]
		if !ok {
			continue
		}
		if filter.CapsuleID != "" && e.CapsuleID != filter.CapsuleID {
			continue
		}
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}
