package consensus

import (
	"sort"
	"sync"

	"TradeCore/internal/domain/models"
)

// NeutralAccuracy stands in for a strategy that has no graded signals yet.
const NeutralAccuracy = 0.5

// PerformanceBook is the in-memory view of StrategyPerformance. The learning
// cycle writes it; the consensus engine reads it on every evaluation.
type PerformanceBook struct {
	mu   sync.RWMutex
	perf map[string]models.StrategyPerformance
}

func NewPerformanceBook(initial ...models.StrategyPerformance) *PerformanceBook {
	b := &PerformanceBook{perf: make(map[string]models.StrategyPerformance, len(initial))}
	for _, p := range initial {
		b.perf[p.StrategyID] = p
	}
	return b
}

// Accuracy returns the learned accuracy, or NeutralAccuracy before any
// signal has been graded.
func (b *PerformanceBook) Accuracy(id string) float64 {
	b.mu.RLock()
	p, ok := b.perf[id]
	b.mu.RUnlock()
	if !ok || p.TotalSignals == 0 {
		return NeutralAccuracy
	}
	return p.Accuracy
}

func (b *PerformanceBook) Get(id string) (models.StrategyPerformance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.perf[id]
	return p, ok
}

// Update stores p, replacing any previous record for the same strategy.
func (b *PerformanceBook) Update(p models.StrategyPerformance) {
	b.mu.Lock()
	b.perf[p.StrategyID] = p
	b.mu.Unlock()
}

// Snapshot returns all records sorted by strategy id.
func (b *PerformanceBook) Snapshot() []models.StrategyPerformance {
	b.mu.RLock()
	out := make([]models.StrategyPerformance, 0, len(b.perf))
	for _, p := range b.perf {
		out = append(out, p)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}
