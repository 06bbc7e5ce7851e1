package strategy

import (
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/indicators"
)

const MeanReversionID = "mean_reversion"

// MeanReversion fades closes outside the Bollinger bands when RSI agrees the
// move is stretched.
type MeanReversion struct {
	period     int
	k          float64
	rsiPeriod  int
	oversold   float64
	overbought float64
}

func NewMeanReversion(p Params) (Strategy, error) {
	s := &MeanReversion{
		period:     p.Int("period", 20),
		k:          p.Float("k", 2),
		rsiPeriod:  p.Int("rsi_period", 14),
		oversold:   p.Float("oversold", 30),
		overbought: p.Float("overbought", 70),
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("oversold %.1f must be below overbought %.1f", s.oversold, s.overbought)
	}
	return s, nil
}

func (s *MeanReversion) ID() string { return MeanReversionID }

func (s *MeanReversion) Lookback() int {
	if s.rsiPeriod+1 > s.period {
		return s.rsiPeriod + 1
	}
	return s.period
}

func (s *MeanReversion) Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error) {
	if len(bars) < s.Lookback() {
		return models.StrategySignal{}, insufficient(MeanReversionID, len(bars), s.Lookback())
	}
	closes := indicators.Closes(bars)
	bands := indicators.Bollinger(closes, s.period, s.k)
	rsi := indicators.Last(indicators.RSI(closes, s.rsiPeriod))
	price := indicators.Last(closes)
	upper, lower := indicators.Last(bands.Upper), indicators.Last(bands.Lower)
	width := upper - lower
	if width <= 0 {
		return signal(MeanReversionID, symbol, bars, models.ActionHold, 0, "flat bands"), nil
	}

	pctB := (price - lower) / width
	why := fmt.Sprintf("%%b=%.2f rsi=%.1f", pctB, rsi)

	switch {
	case price < lower && rsi < s.oversold:
		conf := 0.55 + clamp((lower-price)/width*2, 0, 0.2) + clamp((s.oversold-rsi)/100, 0, 0.2)
		return signal(MeanReversionID, symbol, bars, models.ActionBuy, conf, "oversold below lower band: "+why), nil
	case price > upper && rsi > s.overbought:
		conf := 0.55 + clamp((price-upper)/width*2, 0, 0.2) + clamp((rsi-s.overbought)/100, 0, 0.2)
		return signal(MeanReversionID, symbol, bars, models.ActionSell, conf, "overbought above upper band: "+why), nil
	default:
		return signal(MeanReversionID, symbol, bars, models.ActionHold, 0, "inside bands: "+why), nil
	}
}
