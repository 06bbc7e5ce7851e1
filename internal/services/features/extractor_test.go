package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
)

func closes(vals ...float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(vals))
	for i, v := range vals {
		bars[i] = models.PriceBar{Close: v}
	}
	return bars
}

func TestComputeLogReturns(t *testing.T) {
	assert.Nil(t, ComputeLogReturns(closes(100)))

	r := ComputeLogReturns(closes(100, 110, 0, 99))
	require.Len(t, r, 3)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Zero(t, r[1], "non-positive close yields a zero return")
	assert.Zero(t, r[2])
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility([]float64{0.01, 0.02}, 5))
	assert.Zero(t, Volatility([]float64{0.01, 0.01, 0.01}, 3))
	assert.InDelta(t, 1.0, Volatility([]float64{99, 1, 2, 3}, 3), 1e-12)
}

func TestCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	c, ok := Correlation(a, []float64{2, 4, 6, 8, 10})
	require.True(t, ok)
	assert.InDelta(t, 1, c, 1e-12)

	c, ok = Correlation(a, []float64{5, 4, 3, 2, 1})
	require.True(t, ok)
	assert.InDelta(t, -1, c, 1e-12)

	// only the overlapping tail is compared
	c, ok = Correlation([]float64{100, -50, 1, 2, 3}, []float64{1, 2, 3})
	require.True(t, ok)
	assert.InDelta(t, 1, c, 1e-12)

	_, ok = Correlation([]float64{1, 2}, []float64{1, 2})
	assert.False(t, ok)
	_, ok = Correlation(a, []float64{3, 3, 3, 3, 3})
	assert.False(t, ok)
}

func TestClamp01(t *testing.T) {
	assert.Zero(t, Clamp01(math.NaN()))
	assert.Zero(t, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.4, Clamp01(0.4))
}
