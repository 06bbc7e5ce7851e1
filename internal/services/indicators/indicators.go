// Package indicators exposes the technical indicators the strategies use.
// Every function is pure and returns nil when the input is too short for the
// requested period, instead of letting talib index past the slice.
package indicators

import (
	"TradeCore/internal/domain/models"

	"github.com/markcheno/go-talib"
)

func Closes(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func Highs(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func Lows(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func Volumes(bars []models.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Last returns the final value of a series, or 0 when it is empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// Prev returns the value n steps before the last one, or 0 when out of range.
func Prev(series []float64, n int) float64 {
	i := len(series) - 1 - n
	if i < 0 {
		return 0
	}
	return series[i]
}

func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return talib.Sma(values, period)
}

func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return talib.Ema(values, period)
}

// RSI is Wilder's relative strength index in [0,100].
func RSI(values []float64, period int) []float64 {
	if period <= 1 || len(values) <= period {
		return nil
	}
	return talib.Rsi(values, period)
}

// ROC is the percent rate of change over period bars.
func ROC(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}
	return talib.Roc(values, period)
}

// MACDResult holds the three MACD series aligned to the input.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

func MACD(values []float64, fast, slow, signal int) *MACDResult {
	if fast <= 0 || slow <= fast || signal <= 0 || len(values) < slow+signal {
		return nil
	}
	line, sig, hist := talib.Macd(values, fast, slow, signal)
	return &MACDResult{Line: line, Signal: sig, Histogram: hist}
}

// BandsResult holds Bollinger bands aligned to the input.
type BandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns bands at k standard deviations around an SMA.
func Bollinger(values []float64, period int, k float64) *BandsResult {
	if period <= 1 || len(values) < period {
		return nil
	}
	upper, mid, lower := talib.BBands(values, period, k, k, talib.SMA)
	return &BandsResult{Upper: upper, Middle: mid, Lower: lower}
}

// ATR is the average true range over period bars.
func ATR(bars []models.PriceBar, period int) []float64 {
	if period <= 0 || len(bars) <= period {
		return nil
	}
	return talib.Atr(Highs(bars), Lows(bars), Closes(bars), period)
}

// Donchian returns the rolling highest high and lowest low over period bars.
func Donchian(bars []models.PriceBar, period int) (upper, lower []float64) {
	if period <= 0 || len(bars) < period {
		return nil, nil
	}
	return talib.Max(Highs(bars), period), talib.Min(Lows(bars), period)
}
