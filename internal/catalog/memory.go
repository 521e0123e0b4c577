package catalog

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
)

// MemoryStore is an in-process Store. It loses its contents on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []Entry
	byName  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]int)}
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byName[name]
	if !ok {
		return Entry{}, apperrors.ErrFileNotFound
	}
	return s.entries[i], nil
}

func (s *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, name, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return false, nil
	}
	s.nextID++
	s.entries = append(s.entries, Entry{
		ID:        s.nextID,
		Name:      name,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	})
	s.byName[name] = len(s.entries) - 1
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byName[name]
	if !ok {
		return apperrors.ErrFileNotFound
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.byName, name)
	for j := i; j < len(s.entries); j++ {
		s.byName[s.entries[j].Name] = j
	}
	return nil
}

// Ping always succeeds; it lets the memory store stand in for a database in
// readiness checks.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
