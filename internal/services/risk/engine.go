// Package risk validates a consensus signal against portfolio limits.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/features"
	applogger "TradeCore/pkg/logger"
)

// Checks toggles each limit independently.
type Checks struct {
	DailyLoss            bool
	PositionSize         bool
	SectorExposure       bool
	Correlation          bool
	Confidence           bool
	SellRequiresPosition bool
}

// AllChecks enables every limit.
func AllChecks() Checks {
	return Checks{true, true, true, true, true, true}
}

type Config struct {
	MaxDailyLossPercent float64 // percent, 3 means stop at -3% on the day
	MaxPositionSize     float64 // fraction of equity per symbol
	MaxSectorExposure   float64 // fraction of equity per sector
	MaxCorrelation      float64 // max |rho| against any open position
	MinConfidenceBuy    float64
	MinConfidenceSell   float64
	AllowShort          bool
	LowAgreement        float64
	WarningPenalty      float64
	Sectors             map[string]string
	Checks              Checks
}

// Sizer proposes the notional the trade would use; the engine checks the
// resulting position against limits.
type Sizer interface {
	Size(confidence, buyingPower float64) float64
}

// CorrelationSource reports the return correlation between two symbols.
type CorrelationSource interface {
	Correlation(ctx context.Context, a, b string) (float64, bool)
}

type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	sizer Sizer
	corr  CorrelationSource
	l     *applogger.Logger
}

func NewEngine(cfg Config, sizer Sizer, corr CorrelationSource, l *applogger.Logger) *Engine {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Engine{cfg: cfg, sizer: sizer, corr: corr, l: l}
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetMinConfidence updates the per-action confidence floors.
func (e *Engine) SetMinConfidence(buy, sell float64) {
	e.mu.Lock()
	e.cfg.MinConfidenceBuy = features.Clamp01(buy)
	e.cfg.MinConfidenceSell = features.Clamp01(sell)
	e.mu.Unlock()
}

const (
	softDailyLossShare = 0.75
	softPositionShare  = 0.8
	highStrategyRisk   = 0.7
)

// Validate runs every enabled check. The trade is approved only when none
// of them produces a violation; warnings raise the risk score without
// blocking.
func (e *Engine) Validate(ctx context.Context, sig models.ConsensusSignal, p models.PortfolioSnapshot) models.RiskAssessment {
	cfg := e.Config()
	conf := sig.BlendedConfidence
	a := models.RiskAssessment{
		RiskScore: 1 - conf,
		Metrics: map[string]float64{
			"confidence":      conf,
			"agreement":       sig.ConsensusAgreement,
			"equity":          p.Equity,
			"buying_power":    p.BuyingPower,
			"day_pnl_percent": p.DayPnLPercent,
		},
	}
	violate := func(format string, args ...interface{}) {
		a.Violations = append(a.Violations, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...interface{}) {
		a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
	}

	action := sig.RecommendedAction
	if !action.Actionable() {
		violate("no actionable signal")
	}

	var proposed float64
	if e.sizer != nil && action == models.ActionBuy {
		proposed = e.sizer.Size(conf, p.BuyingPower)
	}
	a.Metrics["proposed_notional"] = proposed

	if cfg.Checks.DailyLoss {
		loss := -p.DayPnLPercent
		switch {
		case loss >= cfg.MaxDailyLossPercent:
			violate("daily loss %.2f%% at or past limit %.2f%%", loss, cfg.MaxDailyLossPercent)
		case loss >= cfg.MaxDailyLossPercent*softDailyLossShare:
			warn("daily loss %.2f%% approaching limit %.2f%%", loss, cfg.MaxDailyLossPercent)
		}
	}

	if action == models.ActionBuy {
		e.checkExposure(ctx, cfg, sig.Symbol, proposed, p, violate, warn, a.Metrics)
	}

	if cfg.Checks.Confidence && action.Actionable() {
		min := cfg.MinConfidenceBuy
		if action == models.ActionSell {
			min = cfg.MinConfidenceSell
		}
		a.Metrics["min_confidence"] = min
		if conf < min {
			violate("confidence %.2f below %s minimum %.2f", conf, action, min)
		}
	}

	if cfg.Checks.SellRequiresPosition && action == models.ActionSell && !cfg.AllowShort {
		if pos, ok := p.Position(sig.Symbol); !ok || pos.Quantity <= 0 {
			violate("no open position in %s to sell", sig.Symbol)
		}
	}

	if cfg.LowAgreement > 0 && sig.ConsensusAgreement < cfg.LowAgreement && action.Actionable() {
		warn("strategy agreement %.2f below %.2f", sig.ConsensusAgreement, cfg.LowAgreement)
	}
	if r := sig.MeanRiskScore(); r > highStrategyRisk {
		warn("strategies report elevated risk %.2f", r)
	}

	a.RiskScore = features.Clamp01(a.RiskScore + cfg.WarningPenalty*float64(len(a.Warnings)))
	a.Approved = len(a.Violations) == 0
	return a
}

func (e *Engine) checkExposure(
	ctx context.Context,
	cfg Config,
	symbol string,
	proposed float64,
	p models.PortfolioSnapshot,
	violate, warn func(string, ...interface{}),
	metrics map[string]float64,
) {
	needsEquity := cfg.Checks.PositionSize || cfg.Checks.SectorExposure
	if needsEquity && p.Equity <= 0 {
		violate("account equity %.2f is not positive", p.Equity)
		return
	}

	if cfg.Checks.PositionSize {
		existing := 0.0
		if pos, ok := p.Position(symbol); ok {
			existing = math.Abs(pos.MarketValue)
		}
		frac := (existing + proposed) / p.Equity
		metrics["position_fraction"] = frac
		switch {
		case frac > cfg.MaxPositionSize:
			violate("position in %s would be %.1f%% of equity, limit %.1f%%", symbol, frac*100, cfg.MaxPositionSize*100)
		case frac > cfg.MaxPositionSize*softPositionShare:
			warn("position in %s near limit at %.1f%% of equity", symbol, frac*100)
		}
	}

	if cfg.Checks.SectorExposure {
		sector := e.sectorOf(cfg, symbol, "")
		exposure := proposed
		for _, pos := range p.OpenPositions {
			if e.sectorOf(cfg, pos.Symbol, pos.Sector) == sector {
				exposure += math.Abs(pos.MarketValue)
			}
		}
		frac := exposure / p.Equity
		metrics["sector_fraction"] = frac
		if frac > cfg.MaxSectorExposure {
			violate("sector %s exposure would be %.1f%% of equity, limit %.1f%%", sector, frac*100, cfg.MaxSectorExposure*100)
		}
	}

	if cfg.Checks.Correlation && e.corr != nil {
		maxCorr, with := 0.0, ""
		for _, pos := range p.OpenPositions {
			if pos.Symbol == symbol {
				continue
			}
			rho, ok := e.corr.Correlation(ctx, symbol, pos.Symbol)
			if !ok {
				continue
			}
			if math.Abs(rho) > maxCorr {
				maxCorr, with = math.Abs(rho), pos.Symbol
			}
		}
		metrics["max_correlation"] = maxCorr
		if maxCorr > cfg.MaxCorrelation {
			violate("correlation %.2f with %s exceeds %.2f", maxCorr, with, cfg.MaxCorrelation)
		}
	}
}

// sectorOf prefers the broker-reported sector, then config, then the symbol itself.
func (e *Engine) sectorOf(cfg Config, symbol, reported string) string {
	if reported != "" {
		return reported
	}
	if s, ok := cfg.Sectors[symbol]; ok && s != "" {
		return s
	}
	return symbol
}
