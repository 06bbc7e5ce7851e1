package strategy

import (
	"fmt"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/indicators"
)

const MACDCrossoverID = "macd_crossover"

// MACDCrossover trades the MACD line crossing its signal line, and follows an
// established histogram while it keeps widening.
type MACDCrossover struct {
	fast, slow, signal int
}

func NewMACDCrossover(p Params) (Strategy, error) {
	s := &MACDCrossover{
		fast:   p.Int("fast", 12),
		slow:   p.Int("slow", 26),
		signal: p.Int("signal", 9),
	}
	if s.fast >= s.slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", s.fast, s.slow)
	}
	return s, nil
}

func (s *MACDCrossover) ID() string { return MACDCrossoverID }

func (s *MACDCrossover) Lookback() int { return s.slow + s.signal + 1 }

func (s *MACDCrossover) Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error) {
	if len(bars) < s.Lookback() {
		return models.StrategySignal{}, insufficient(MACDCrossoverID, len(bars), s.Lookback())
	}
	closes := indicators.Closes(bars)
	m := indicators.MACD(closes, s.fast, s.slow, s.signal)
	price := indicators.Last(closes)
	if m == nil || price <= 0 {
		return signal(MACDCrossoverID, symbol, bars, models.ActionHold, 0, "macd unavailable"), nil
	}

	hist, prevHist := indicators.Last(m.Histogram), indicators.Prev(m.Histogram, 1)
	strength := clamp(abs(hist)/price*200, 0, 0.35)
	why := fmt.Sprintf("macd=%.4f signal=%.4f hist=%.4f", indicators.Last(m.Line), indicators.Last(m.Signal), hist)

	switch {
	case prevHist <= 0 && hist > 0:
		return signal(MACDCrossoverID, symbol, bars, models.ActionBuy, 0.6+strength, "bullish cross: "+why), nil
	case prevHist >= 0 && hist < 0:
		return signal(MACDCrossoverID, symbol, bars, models.ActionSell, 0.6+strength, "bearish cross: "+why), nil
	case hist > 0 && hist > prevHist:
		return signal(MACDCrossoverID, symbol, bars, models.ActionBuy, 0.5+strength/2, "widening bullish histogram: "+why), nil
	case hist < 0 && hist < prevHist:
		return signal(MACDCrossoverID, symbol, bars, models.ActionSell, 0.5+strength/2, "widening bearish histogram: "+why), nil
	default:
		return signal(MACDCrossoverID, symbol, bars, models.ActionHold, 0, "fading histogram: "+why), nil
	}
}
