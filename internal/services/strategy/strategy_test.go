package strategy

import (
	"errors"
	"testing"
	"time"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func barsFromCloses(symbol string, closes []float64, volume float64) []models.PriceBar {
	out := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		out[i] = models.PriceBar{
			Symbol:    symbol,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    volume,
		}
	}
	return out
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func build(t *testing.T, id string) Strategy {
	t.Helper()
	s, err := DefaultRegistry().Build(id, nil)
	require.NoError(t, err)
	return s
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{BreakoutID, MACDCrossoverID, MeanReversionID, MomentumID, RSIReversalID}, r.IDs())

	err := r.Register(MomentumID, NewMomentum)
	assert.Error(t, err)

	_, err = r.Build("does_not_exist", nil)
	assert.Error(t, err)

	_, err = r.Build(MomentumID, Params{"fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestInsufficientData(t *testing.T) {
	for _, id := range DefaultRegistry().IDs() {
		s := build(t, id)
		bars := barsFromCloses("AAPL", linear(s.Lookback()-1, 100, 1), 1000)
		_, err := s.Generate("AAPL", bars)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, errs.ErrDataInsufficient), id)
	}
}

func TestSignalsStayInRange(t *testing.T) {
	series := map[string][]float64{
		"up":   linear(120, 50, 0.7),
		"down": linear(120, 150, -0.7),
		"flat": linear(120, 100, 0),
	}
	for _, id := range DefaultRegistry().IDs() {
		s := build(t, id)
		for name, closes := range series {
			sig, err := s.Generate("MSFT", barsFromCloses("MSFT", closes, 500))
			require.NoError(t, err, "%s/%s", id, name)
			assert.Equal(t, id, sig.StrategyID)
			assert.Equal(t, "MSFT", sig.Symbol)
			assert.GreaterOrEqual(t, sig.Confidence, 0.0)
			assert.LessOrEqual(t, sig.Confidence, 1.0)
			assert.GreaterOrEqual(t, sig.RiskScore, 0.0)
			assert.LessOrEqual(t, sig.RiskScore, 1.0)
			assert.NotEmpty(t, sig.Rationale)
			assert.Equal(t, t0.Add(119*time.Minute), sig.GeneratedAt)
		}
	}
}

func TestMomentum(t *testing.T) {
	s := build(t, MomentumID)

	sig, err := s.Generate("AAPL", barsFromCloses("AAPL", linear(40, 100, 0.5), 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action)
	assert.Greater(t, sig.Confidence, 0.5)

	sig, err = s.Generate("AAPL", barsFromCloses("AAPL", linear(40, 120, -0.5), 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, sig.Action)

	sig, err = s.Generate("AAPL", barsFromCloses("AAPL", linear(40, 100, 0), 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, sig.Action)
	assert.Equal(t, holdConfidence, sig.Confidence)
}

func TestMeanReversionBuysStretchedDrop(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 25; i++ {
		closes = append(closes, 100+float64(i%2))
	}
	closes = append(closes, 97, 94, 91, 88, 85)

	sig, err := build(t, MeanReversionID).Generate("AAPL", barsFromCloses("AAPL", closes, 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action, sig.Rationale)
	assert.GreaterOrEqual(t, sig.Confidence, 0.55)
}

func TestBreakoutNeedsVolume(t *testing.T) {
	closes := make([]float64, 0, 31)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100+float64(i%2))
	}
	closes = append(closes, 105)

	bars := barsFromCloses("NVDA", closes, 1000)
	bars[len(bars)-1].Volume = 3000
	sig, err := build(t, BreakoutID).Generate("NVDA", bars)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action, sig.Rationale)
	assert.Greater(t, sig.Confidence, 0.6)

	bars[len(bars)-1].Volume = 1000
	sig, err = build(t, BreakoutID).Generate("NVDA", bars)
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, sig.Action)
}

func TestRSIReversalLeavingOversold(t *testing.T) {
	closes := append(linear(20, 120, -1), 111)

	sig, err := build(t, RSIReversalID).Generate("TSLA", barsFromCloses("TSLA", closes, 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action, sig.Rationale)
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
}

func TestMACDCrossoverFollowsTrend(t *testing.T) {
	closes := linear(40, 100, 0)
	price := 100.0
	for i := 0; i < 20; i++ {
		price *= 1.03
		closes = append(closes, price)
	}

	sig, err := build(t, MACDCrossoverID).Generate("AMD", barsFromCloses("AMD", closes, 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, sig.Action, sig.Rationale)
}
