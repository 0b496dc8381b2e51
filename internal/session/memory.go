package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session flags in process memory. Suitable for
// single-instance deployments; the janitor sweeps expired flags.
type MemoryStore struct {
	mu      sync.RWMutex
	expires map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time)}
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.expires[key]
	if !ok {
		return false, nil
	}
	return time.Now().Before(exp), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[key] = time.Now().Add(ttl)
	return nil
}

// Sweep removes expired flags and returns how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, key)
			removed++
		}
	}
	return removed
}
