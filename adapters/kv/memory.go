package kv

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// MemoryStore keeps settings for the lifetime of the process.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	if v, found := s.cache.Get(key); found {
		return v.(string), nil
	}
	return "", repositories.ErrNotFound
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
