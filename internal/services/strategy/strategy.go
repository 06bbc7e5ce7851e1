// Package strategy holds the independent signal generators and the registry
// that maps a configured id to its implementation.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/features"
	"TradeCore/internal/services/indicators"
)

// Strategy turns a price window into one directional signal.
type Strategy interface {
	ID() string
	// Lookback is the minimum number of bars Generate needs.
	Lookback() int
	Generate(symbol string, bars []models.PriceBar) (models.StrategySignal, error)
}

// Params are per-strategy tuning knobs from config.
type Params map[string]float64

func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

// Factory builds a strategy from its params.
type Factory func(p Params) (Strategy, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(MomentumID, NewMomentum)
	r.MustRegister(MeanReversionID, NewMeanReversion)
	r.MustRegister(MACDCrossoverID, NewMACDCrossover)
	r.MustRegister(BreakoutID, NewBreakout)
	r.MustRegister(RSIReversalID, NewRSIReversal)
	return r
}

func (r *Registry) Register(id string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("strategy %q already registered", id)
	}
	r.factories[id] = f
	return nil
}

func (r *Registry) MustRegister(id string, f Factory) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

// Build instantiates the strategy registered under id.
func (r *Registry) Build(id string, p Params) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	s, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("build strategy %q: %w", id, err)
	}
	return s, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

const (
	holdConfidence = 0.2
	maxConfidence  = 0.95
	atrPeriod      = 14
)

func insufficient(id string, have, need int) error {
	return errs.New(errs.KindDataInsufficient, fmt.Sprintf("%s needs %d bars, have %d", id, need, have))
}

func signal(id, symbol string, bars []models.PriceBar, action models.Action, confidence float64, rationale string) models.StrategySignal {
	if action == models.ActionHold {
		confidence = holdConfidence
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return models.StrategySignal{
		StrategyID:  id,
		Symbol:      symbol,
		Action:      action,
		Confidence:  features.Clamp01(confidence),
		RiskScore:   riskScore(bars),
		Rationale:   rationale,
		GeneratedAt: bars[len(bars)-1].Timestamp,
	}
}

// riskScore maps ATR as a fraction of price to [0,1]; 5% of price per bar
// or more scores 1.
func riskScore(bars []models.PriceBar) float64 {
	price := models.LastClose(bars)
	if price <= 0 {
		return 1
	}
	atr := indicators.Last(indicators.ATR(bars, atrPeriod))
	if atr == 0 {
		vol := features.Volatility(features.ComputeLogReturns(bars), atrPeriod)
		if vol == 0 {
			return 0.5
		}
		return features.Clamp01(vol * 20)
	}
	return features.Clamp01(atr / price * 20)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
