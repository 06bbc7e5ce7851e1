package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	drepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/cache"
)

// counterTTL keeps yesterday's key readable across the midnight reset.
const counterTTL = 48 * time.Hour

// CacheCounterStore keeps daily order counts in a cache.Service, typically
// Redis, so the count survives restarts.
type CacheCounterStore struct {
	c cache.Service
}

var _ drepo.CounterStore = (*CacheCounterStore)(nil)

func NewCacheCounterStore(c cache.Service) *CacheCounterStore {
	return &CacheCounterStore{c: c}
}

func counterKey(day string) string { return cache.Key("orders", day) }

func (s *CacheCounterStore) Load(ctx context.Context, day string) (int, error) {
	var n int
	err := s.c.Get(ctx, counterKey(day), &n)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load order count %s: %w", day, err)
	}
	return n, nil
}

func (s *CacheCounterStore) Increment(ctx context.Context, day string) error {
	if _, err := s.c.Increment(ctx, counterKey(day), counterTTL); err != nil {
		return fmt.Errorf("increment order count %s: %w", day, err)
	}
	return nil
}

// MemoryCounterStore is the process-local counter.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int
}

var _ drepo.CounterStore = (*MemoryCounterStore)(nil)

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[string]int)}
}

func (s *MemoryCounterStore) Load(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[day], nil
}

func (s *MemoryCounterStore) Increment(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[day]++
	return nil
}
