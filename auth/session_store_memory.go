package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]SessionRecord
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	return rec, ok, nil
}

func (s *MemorySessionStore) Put(_ context.Context, id string, rec SessionRecord) error {
	s.mu.Lock()
	s.data[id] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Touch(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		return false, nil
	}
	rec.LastAccessedAt = at
	s.data[id] = rec
	return true, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) DeleteIf(_ context.Context, match func(SessionRecord) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.data {
		if match(rec) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}
