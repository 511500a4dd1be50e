package store

import (
	"sort"
	"sync"
)

// streamLocks serializes appends per stream. Sequence assignment is a
// read-then-write (read max seq and head hash, compute, insert), so the
// lock must be held across the whole sequence. Locks are per stream:
// appends to unrelated streams never contend.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *streamLocks) get(stream string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[stream]
	if !ok {
		m = &sync.Mutex{}
		l.locks[stream] = m
	}
	return m
}

// acquire locks every named stream and returns the release func.
// Streams are locked in sorted order so concurrent batches touching the
// same pair of streams cannot deadlock.
func (l *streamLocks) acquire(streams []string) func() {
	uniq := make([]string, 0, len(streams))
	seen := make(map[string]bool, len(streams))
	for _, s := range streams {
		if !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, s := range uniq {
		m := l.get(s)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
