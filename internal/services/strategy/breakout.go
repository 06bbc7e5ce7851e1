package strategy

import (
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/indicators"
)

const BreakoutID = "breakout"

// Breakout buys a close above the prior Donchian high (sells below the prior
// low) when volume confirms the move.
type Breakout struct {
	period       int
	volumeFactor float64
}

func NewBreakout(p Params) (Strategy, error) {
	return &Breakout{
		period:       p.Int("period", 20),
		volumeFactor: p.Float("volume_factor", 1.5),
	}, nil
}

func (s *Breakout) ID() string { return BreakoutID }

func (s *Breakout) Lookback() int {
	if atrPeriod+1 > s.period+1 {
		return atrPeriod + 1
	}
	return s.period + 1
}

func (s *Breakout) Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error) {
	if len(bars) < s.Lookback() {
		return models.StrategySignal{}, insufficient(BreakoutID, len(bars), s.Lookback())
	}
	prior := bars[:len(bars)-1]
	upper, lower := indicators.Donchian(prior, s.period)
	hi, lo := indicators.Last(upper), indicators.Last(lower)
	last := bars[len(bars)-1]

	avgVol := indicators.Last(indicators.SMA(indicators.Volumes(prior), s.period))
	confirmed := avgVol <= 0 || last.Volume >= avgVol*s.volumeFactor

	atr := indicators.Last(indicators.ATR(bars, atrPeriod))
	if atr <= 0 {
		atr = (hi - lo) / float64(s.period)
	}
	why := fmt.Sprintf("close=%.4f channel=[%.4f, %.4f] vol=%.0f avg=%.0f", last.Close, lo, hi, last.Volume, avgVol)

	switch {
	case last.Close > hi && confirmed:
		conf := 0.6 + clamp((last.Close-hi)/atr*0.2, 0, 0.35)
		return signal(BreakoutID, symbol, bars, models.ActionBuy, conf, "upside breakout: "+why), nil
	case last.Close < lo && confirmed:
		conf := 0.6 + clamp((lo-last.Close)/atr*0.2, 0, 0.35)
		return signal(BreakoutID, symbol, bars, models.ActionSell, conf, "downside breakout: "+why), nil
	default:
		return signal(BreakoutID, symbol, bars, models.ActionHold, 0, "inside channel: "+why), nil
	}
}
