package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	expires time.Time
}

// MemoryStore is an in-process Store for tests and single-instance
// development runs. Counters are not shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, keys []WindowKey) (int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	// Check every key before touching any counter.
	for i, k := range keys {
		w, ok := s.windows[k.Key]
		if ok && now.After(w.expires) {
			delete(s.windows, k.Key)
			ok = false
		}
		if ok && w.count >= k.Max {
			return i, w.expires.Sub(now), nil
		}
	}
	for _, k := range keys {
		w, ok := s.windows[k.Key]
		if !ok {
			w = &window{expires: now.Add(k.Window)}
			s.windows[k.Key] = w
		}
		w.count++
	}
	return -1, 0, nil
}
