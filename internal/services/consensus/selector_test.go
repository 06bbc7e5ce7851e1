package consensus

import (
	"testing"
	"time"

	"TradeCore/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func perf(id string, total int, acc float64) models.StrategyPerformance {
	return models.StrategyPerformance{StrategyID: id, TotalSignals: total, CorrectSignals: int(float64(total) * acc), Accuracy: acc}
}

func TestSelectorRequiresSustainedLead(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	cfg := SelectorConfig{SwitchMargin: 0.05, SustainWindow: 10 * time.Minute, MinDwell: time.Hour, MinSignals: 10}
	s := NewSelector(cfg, []string{"momentum", "breakout"}, "momentum", start)
	book := NewPerformanceBook(perf("momentum", 30, 0.50), perf("breakout", 30, 0.60))

	// Lead starts; dwell not yet satisfied either.
	_, ok := s.Observe(book, start.Add(2*time.Hour))
	assert.False(t, ok)
	_, ok = s.Observe(book, start.Add(2*time.Hour+5*time.Minute))
	assert.False(t, ok)

	sw, ok := s.Observe(book, start.Add(2*time.Hour+10*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "momentum", sw.From)
	assert.Equal(t, "breakout", sw.To)
	assert.Equal(t, "breakout", s.Active())
}

func TestSelectorResetsWhenLeadDisappears(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	cfg := SelectorConfig{SwitchMargin: 0.05, SustainWindow: 10 * time.Minute, MinSignals: 10}
	s := NewSelector(cfg, []string{"a", "b"}, "a", start)
	book := NewPerformanceBook(perf("a", 30, 0.5), perf("b", 30, 0.6))

	_, ok := s.Observe(book, start)
	assert.False(t, ok)

	book.Update(perf("b", 31, 0.52))
	_, ok = s.Observe(book, start.Add(5*time.Minute))
	assert.False(t, ok)

	book.Update(perf("b", 32, 0.6))
	_, ok = s.Observe(book, start.Add(12*time.Minute))
	assert.False(t, ok, "pending window restarted")
	_, ok = s.Observe(book, start.Add(22*time.Minute))
	assert.True(t, ok)
}

func TestSelectorHonorsDwellAndMinSignals(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	cfg := SelectorConfig{SwitchMargin: 0.05, MinDwell: time.Hour, MinSignals: 20}
	s := NewSelector(cfg, []string{"a", "b", "c"}, "a", start)

	thin := NewPerformanceBook(perf("a", 30, 0.4), perf("b", 5, 0.99))
	_, ok := s.Observe(thin, start.Add(2*time.Hour))
	assert.False(t, ok, "challenger with too few graded signals")

	book := NewPerformanceBook(perf("a", 30, 0.4), perf("b", 30, 0.6), perf("c", 30, 0.7))
	sw, ok := s.Observe(book, start.Add(2*time.Hour))
	assert.True(t, ok)
	assert.Equal(t, "c", sw.To)

	book.Update(perf("b", 60, 0.95))
	_, ok = s.Observe(book, start.Add(2*time.Hour+30*time.Minute))
	assert.False(t, ok, "inside dwell window")
	_, ok = s.Observe(book, start.Add(3*time.Hour+1*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "b", s.Active())
}

func TestPerformanceBookNeutralPrior(t *testing.T) {
	book := NewPerformanceBook(models.StrategyPerformance{StrategyID: "fresh"})
	assert.Equal(t, NeutralAccuracy, book.Accuracy("fresh"))
	assert.Equal(t, NeutralAccuracy, book.Accuracy("unknown"))
	book.Update(perf("fresh", 10, 0.7))
	assert.Equal(t, 0.7, book.Accuracy("fresh"))
}
