package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore keeps windows in process memory. Suitable for a single
// instance; use RedisWindowStore when several instances share limits.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewMemoryWindowStore creates an empty in-memory store
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*Window)}
}

// Increment implements WindowStore
func (s *MemoryWindowStore) Increment(_ context.Context, key string, now time.Time, window time.Duration, ceiling int) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.End) {
		w = &Window{Count: 1, Start: now, End: now.Add(window)}
		s.windows[key] = w
		return *w, nil
	}

	if w.Count < ceiling {
		w.Count++
	}
	return *w, nil
}

// Decrement implements WindowStore
func (s *MemoryWindowStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows[key]; ok && w.Count > 0 {
		w.Count--
	}
	return nil
}

// Sweep implements WindowStore
func (s *MemoryWindowStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if now.After(w.End) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked windows
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
