package offline

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/patrickmn/go-cache"
)

type partition map[string]Entry

// MemoryStore keeps each cache as an immutable map in a go-cache. Writers
// swap in a fresh map, so readers never see a half-written cache.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) partition(name string) partition {
	if v, ok := s.c.Get(name); ok {
		return v.(partition)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name, key string) (Entry, error) {
	e, ok := s.partition(name)[key]
	if !ok {
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (s *MemoryStore) Put(_ context.Context, name string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(partition, len(s.partition(name))+1)
	maps.Copy(next, s.partition(name))
	next[e.Key] = e
	s.c.Set(name, next, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) PutAll(_ context.Context, name string, entries []Entry) error {
	next := make(partition, len(entries))
	for _, e := range entries {
		next[e.Key] = e
	}
	s.mu.Lock()
	s.c.Set(name, next, cache.NoExpiration)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Caches(_ context.Context) ([]string, error) {
	return slices.Sorted(maps.Keys(s.c.Items())), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	s.c.Delete(name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Count(_ context.Context, name string) (int, error) {
	return len(s.partition(name)), nil
}
