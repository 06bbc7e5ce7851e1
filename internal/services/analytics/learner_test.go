package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository"
	"TradeCore/internal/services/consensus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 4, 1, 14, 0, 0, 0, time.UTC)

type countingFlusher struct{ calls int }

func (f *countingFlusher) Flush(context.Context) error { f.calls++; return nil }

type recordingApplier struct{ got []models.ThresholdRecommendation }

func (a *recordingApplier) ApplyThreshold(rec models.ThresholdRecommendation) {
	a.got = append(a.got, rec)
}

func closedTrade(i int, conf, pnl float64, votes ...models.StrategyVote) models.TradeRecord {
	return models.TradeRecord{
		TradeID:       fmt.Sprintf("t-%03d", i),
		Symbol:        "AAPL",
		Side:          models.ActionBuy,
		NotionalValue: 100,
		Confidence:    conf,
		Votes:         votes,
		Success:       true,
		LatencyMs:     40,
		Slippage:      0.001,
		CreatedAt:     t0.Add(time.Duration(i) * time.Minute),
		Closed:        true,
		RealizedPnL:   pnl,
		ClosedAt:      t0.Add(time.Duration(i)*time.Minute + time.Hour),
	}
}

func seed(t *testing.T, store *repository.MemoryTradeStore, trades []models.TradeRecord) {
	t.Helper()
	for _, tr := range trades {
		require.NoError(t, store.AppendTradeRecord(context.Background(), tr))
	}
}

func learnerConfig() Config {
	return Config{Lookback: 30 * 24 * time.Hour, Limit: 1000, MinClosedTrades: 25, MinTradesPerThreshold: 5, ApplyThresholds: true}
}

func TestLearnerInsufficientData(t *testing.T) {
	store := repository.NewMemoryTradeStore()
	var trades []models.TradeRecord
	for i := 0; i < 10; i++ {
		pnl := -4.0
		if i < 6 {
			pnl = 8
		}
		trades = append(trades, closedTrade(i, 0.7, pnl, models.StrategyVote{StrategyID: "momentum", Action: models.ActionBuy, Confidence: 0.7}))
	}
	seed(t, store, trades)

	book := consensus.NewPerformanceBook()
	flusher := &countingFlusher{}
	applier := &recordingApplier{}
	l := NewLearner(store, book, nil, learnerConfig(), nil,
		WithFlusher(flusher), WithApplier(applier), WithClock(func() time.Time { return t0.Add(48 * time.Hour) }))

	r, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, r.InsufficientData)
	assert.Equal(t, 10, r.ClosedTrades)
	assert.InDelta(t, 0.6, r.OverallAccuracy, 1e-12)
	assert.Nil(t, r.Threshold)
	assert.Equal(t, 1, flusher.calls)
	assert.Empty(t, applier.got)

	_, ok := book.Get("momentum")
	assert.False(t, ok, "performance must not change")
	perf, err := store.LoadStrategyPerformance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, perf)

	last, ok := l.LastReport()
	assert.True(t, ok)
	assert.True(t, last.InsufficientData)
}

func TestLearnerGradesStrategiesAndThresholds(t *testing.T) {
	store := repository.NewMemoryTradeStore()
	votes := []models.StrategyVote{
		{StrategyID: "momentum", Action: models.ActionBuy, Confidence: 0.8},
		{StrategyID: "rsi_reversal", Action: models.ActionSell, Confidence: 0.6},
		{StrategyID: "breakout", Action: models.ActionHold, Confidence: 0.2},
	}
	var trades []models.TradeRecord
	for i := 0; i < 10; i++ {
		trades = append(trades, closedTrade(i, 0.55, -5, votes...))
	}
	for i := 10; i < 30; i++ {
		pnl := 10.0
		if i >= 26 {
			pnl = -5
		}
		trades = append(trades, closedTrade(i, 0.80, pnl, votes...))
	}
	seed(t, store, trades)

	book := consensus.NewPerformanceBook()
	applier := &recordingApplier{}
	l := NewLearner(store, book, nil, learnerConfig(), nil,
		WithApplier(applier), WithClock(func() time.Time { return t0.Add(48 * time.Hour) }))

	r, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, r.InsufficientData)
	assert.Equal(t, 30, r.ClosedTrades)
	assert.Equal(t, 16, r.ProfitableTrades)

	require.Len(t, r.Strategies, 2, "HOLD votes are not graded")
	mom, ok := book.Get("momentum")
	require.True(t, ok)
	assert.Equal(t, 30, mom.TotalSignals)
	assert.Equal(t, 16, mom.CorrectSignals)
	assert.InDelta(t, 16.0/30, book.Accuracy("momentum"), 1e-12)
	assert.InDelta(t, 14.0/30, book.Accuracy("rsi_reversal"), 1e-12)
	assert.Equal(t, consensus.NeutralAccuracy, book.Accuracy("breakout"))

	stored, err := store.LoadStrategyPerformance(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.NotNil(t, r.Threshold)
	assert.Equal(t, 0.60, r.Threshold.Optimal)
	assert.Equal(t, 0.60, r.Threshold.Lower)
	assert.Equal(t, 0.80, r.Threshold.Upper)
	assert.Equal(t, 20, r.Threshold.SampleLen)
	assert.InDelta(t, 0.86, r.Threshold.Score, 1e-9)
	require.Len(t, applier.got, 1)

	got, ok := l.Thresholds().Get()
	assert.True(t, ok)
	assert.Equal(t, 0.60, got.Optimal)

	assert.Equal(t, 30, r.Execution.Attempts)
	assert.InDelta(t, 1.0, r.Execution.SuccessRate, 1e-12)
	assert.InDelta(t, 40, r.Execution.AvgLatencyMs, 1e-12)
	assert.InDelta(t, 3000, r.Execution.TotalNotional, 1e-9)
}

func TestOptimizeThresholdNeedsEnoughTrades(t *testing.T) {
	trades := []models.TradeRecord{closedTrade(0, 0.9, 5), closedTrade(1, 0.9, 5)}
	_, ok := OptimizeThreshold(trades, 5)
	assert.False(t, ok)
}

func TestMeasureExecutionCountsFailures(t *testing.T) {
	ok := closedTrade(0, 0.8, 1)
	ok.Slippage = -0.002
	failed := models.TradeRecord{TradeID: "f", Success: false, LatencyMs: 100, NotionalValue: 500}
	q := MeasureExecution([]models.TradeRecord{ok, failed})
	assert.Equal(t, 2, q.Attempts)
	assert.Equal(t, 1, q.Successes)
	assert.InDelta(t, 0.5, q.SuccessRate, 1e-12)
	assert.InDelta(t, 70, q.AvgLatencyMs, 1e-12)
	assert.InDelta(t, 0.002, q.AvgAbsSlippage, 1e-12)
	assert.InDelta(t, 100, q.TotalNotional, 1e-12)
}

func TestFailedOrdersAreNotLearnedFrom(t *testing.T) {
	store := repository.NewMemoryTradeStore()
	vote := models.StrategyVote{StrategyID: "momentum", Action: models.ActionBuy, Confidence: 0.8}
	var trades []models.TradeRecord
	for i := 0; i < 24; i++ {
		trades = append(trades, closedTrade(i, 0.8, -3, vote))
	}
	for i := 24; i < 30; i++ {
		failed := closedTrade(i, 0.8, 50, vote)
		failed.Success, failed.Error = false, "broker timeout"
		trades = append(trades, failed)
	}
	seed(t, store, trades)

	l := NewLearner(store, consensus.NewPerformanceBook(), nil, learnerConfig(), nil,
		WithClock(func() time.Time { return t0.Add(48 * time.Hour) }))
	r, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, r.InsufficientData, "24 filled trades are below the gate")
	assert.Equal(t, 24, r.ClosedTrades)
	assert.Zero(t, r.ProfitableTrades)
	assert.InDelta(t, -72.0, r.TotalPnL, 1e-9)
	assert.Equal(t, 30, r.Execution.Attempts)

	grades := gradeStrategies(trades)
	assert.Equal(t, tally{total: 24, correct: 0}, grades["momentum"])

	_, ok := OptimizeThreshold(trades[24:], 1)
	assert.False(t, ok, "failed orders alone never produce a threshold")
}
