package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

// CountInWindow drops entries at or before cutoff and returns the rest.
func (s *MemoryStore) CountInWindow(_ context.Context, key string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.entries, key)
		return 0, nil
	}
	s.entries[key] = kept
	return int64(len(kept)), nil
}

// Record appends an entry for key. TTL is handled by pruning on read.
func (s *MemoryStore) Record(_ context.Context, key string, now time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append(s.entries[key], now)
	return nil
}
