package repository

import (
	"sync"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
)

// MemoryBarStore is a bounded ring of bars per symbol.
type MemoryBarStore struct {
	mu      sync.RWMutex
	bars    map[string][]models.PriceBar
	maxBars int
}

var _ drepo.BarStore = (*MemoryBarStore)(nil)

func NewMemoryBarStore(maxBars int) *MemoryBarStore {
	if maxBars <= 0 {
		maxBars = 500
	}
	return &MemoryBarStore{bars: make(map[string][]models.PriceBar), maxBars: maxBars}
}

// Append adds bar to its symbol's sequence. A bar not newer than the last one
// replaces it when the timestamps match and is dropped otherwise.
func (s *MemoryBarStore) Append(bar models.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.bars[bar.Symbol]
	if n := len(seq); n > 0 {
		last := seq[n-1].Timestamp
		switch {
		case bar.Timestamp.Equal(last):
			seq[n-1] = bar
			return
		case bar.Timestamp.Before(last):
			return
		}
	}
	seq = append(seq, bar)
	if len(seq) > s.maxBars {
		seq = append(seq[:0:0], seq[len(seq)-s.maxBars:]...)
	}
	s.bars[bar.Symbol] = seq
}

// Last returns a copy of the newest n bars, oldest first.
func (s *MemoryBarStore) Last(symbol string, n int) []models.PriceBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.bars[symbol]
	if n <= 0 || len(seq) == 0 {
		return nil
	}
	if n > len(seq) {
		n = len(seq)
	}
	out := make([]models.PriceBar, n)
	copy(out, seq[len(seq)-n:])
	return out
}

func (s *MemoryBarStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars[symbol])
}
