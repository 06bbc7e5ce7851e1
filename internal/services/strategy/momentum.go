package strategy

import (
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/indicators"
)

const MomentumID = "momentum"

// Momentum follows a fast/slow SMA crossover confirmed by the sign of ROC.
type Momentum struct {
	fast, slow, roc int
}

func NewMomentum(p Params) (Strategy, error) {
	m := &Momentum{
		fast: p.Int("fast", 10),
		slow: p.Int("slow", 30),
		roc:  p.Int("roc", 10),
	}
	if m.fast >= m.slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", m.fast, m.slow)
	}
	return m, nil
}

func (m *Momentum) ID() string { return MomentumID }

func (m *Momentum) Lookback() int {
	if m.roc >= m.slow {
		return m.roc + 1
	}
	return m.slow + 1
}

func (m *Momentum) Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error) {
	if len(bars) < m.Lookback() {
		return models.StrategySignal{}, insufficient(MomentumID, len(bars), m.Lookback())
	}
	closes := indicators.Closes(bars)
	fast := indicators.Last(indicators.SMA(closes, m.fast))
	slow := indicators.Last(indicators.SMA(closes, m.slow))
	roc := indicators.Last(indicators.ROC(closes, m.roc))
	if slow <= 0 {
		return signal(MomentumID, symbol, bars, models.ActionHold, 0, "no reference price"), nil
	}

	spread := (fast - slow) / slow
	conf := 0.5 + clamp(abs(spread)*20, 0, 0.3) + clamp(abs(roc)/100*10, 0, 0.2)
	why := fmt.Sprintf("sma%d=%.4f sma%d=%.4f roc%d=%.2f%%", m.fast, fast, m.slow, slow, m.roc, roc)

	switch {
	case spread > 0 && roc > 0:
		return signal(MomentumID, symbol, bars, models.ActionBuy, conf, "uptrend: "+why), nil
	case spread < 0 && roc < 0:
		return signal(MomentumID, symbol, bars, models.ActionSell, conf, "downtrend: "+why), nil
	default:
		return signal(MomentumID, symbol, bars, models.ActionHold, 0, "mixed trend: "+why), nil
	}
}
