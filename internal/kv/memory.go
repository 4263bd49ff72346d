package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || expired(e.ExpiresAt, time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.Value...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = entry{Value: append([]byte(nil), value...), ExpiresAt: expiry(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	if expired(e.ExpiresAt, time.Now()) {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

func (s *MemoryStore) Purge(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for k, e := range s.entries {
		if expired(e.ExpiresAt, now) {
			delete(s.entries, k)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
