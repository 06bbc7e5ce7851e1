package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
)

// MemoryTradeStore keeps the ledger in process. Used for paper trading and tests.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades []models.TradeRecord
	index  map[string]int
	perf   map[string]models.StrategyPerformance
}

var _ drepo.TradeStore = (*MemoryTradeStore)(nil)

func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{index: make(map[string]int), perf: make(map[string]models.StrategyPerformance)}
}

// AppendTradeRecord is idempotent on TradeID.
func (s *MemoryTradeStore) AppendTradeRecord(_ context.Context, rec models.TradeRecord) error {
	if rec.TradeID == "" {
		return fmt.Errorf("append trade: empty trade id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rec.TradeID]; ok {
		return nil
	}
	s.index[rec.TradeID] = len(s.trades)
	s.trades = append(s.trades, rec)
	return nil
}

func (s *MemoryTradeStore) CloseTrade(_ context.Context, tradeID string, pnl float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[tradeID]
	if !ok {
		return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeNotFound)
	}
	t := &s.trades[i]
	if err := checkClosable(tradeID, t.Closed, t.Success); err != nil {
		return err
	}
	t.Closed, t.RealizedPnL, t.ClosedAt = true, pnl, closedAt
	return nil
}

func (s *MemoryTradeStore) QueryClosedTrades(_ context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(since, limit, func(t models.TradeRecord) bool { return t.Closed }), nil
}

func (s *MemoryTradeStore) QueryTrades(_ context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	return s.query(since, limit, func(models.TradeRecord) bool { return true }), nil
}

// query returns the newest matches, oldest first.
func (s *MemoryTradeStore) query(since time.Time, limit int, keep func(models.TradeRecord) bool) []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TradeRecord
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if t.CreatedAt.Before(since) || !keep(t) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryTradeStore) UpsertStrategyPerformance(_ context.Context, p models.StrategyPerformance) error {
	s.mu.Lock()
	s.perf[p.StrategyID] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryTradeStore) LoadStrategyPerformance(_ context.Context) ([]models.StrategyPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StrategyPerformance, 0, len(s.perf))
	for _, p := range s.perf {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (s *MemoryTradeStore) Close() error { return nil }
