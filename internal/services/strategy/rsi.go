package strategy

import (
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/indicators"
)

const RSIReversalID = "rsi_reversal"

// RSIReversal signals when RSI leaves an extreme zone.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
}

func NewRSIReversal(p Params) (Strategy, error) {
	s := &RSIReversal{
		period:     p.Int("period", 14),
		oversold:   p.Float("oversold", 30),
		overbought: p.Float("overbought", 70),
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("oversold %.1f must be below overbought %.1f", s.oversold, s.overbought)
	}
	return s, nil
}

func (s *RSIReversal) ID() string { return RSIReversalID }

func (s *RSIReversal) Lookback() int { return s.period + 2 }

func (s *RSIReversal) Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error) {
	if len(bars) < s.Lookback() {
		return models.StrategySignal{}, insufficient(RSIReversalID, len(bars), s.Lookback())
	}
	rsi := indicators.RSI(indicators.Closes(bars), s.period)
	cur, prev := indicators.Last(rsi), indicators.Prev(rsi, 1)
	why := fmt.Sprintf("rsi %.1f -> %.1f", prev, cur)

	switch {
	case prev < s.oversold && cur >= s.oversold:
		conf := 0.55 + clamp((s.oversold-prev)/s.oversold*0.4, 0, 0.35)
		return signal(RSIReversalID, symbol, bars, models.ActionBuy, conf, "leaving oversold: "+why), nil
	case prev > s.overbought && cur <= s.overbought:
		conf := 0.55 + clamp((prev-s.overbought)/(100-s.overbought)*0.4, 0, 0.35)
		return signal(RSIReversalID, symbol, bars, models.ActionSell, conf, "leaving overbought: "+why), nil
	default:
		return signal(RSIReversalID, symbol, bars, models.ActionHold, 0, why), nil
	}
}
