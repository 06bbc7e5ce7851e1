// Package sizing turns confidence and buying power into an order notional.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ReasonInsufficientBuyingPower is returned with a zero size below the floor.
const ReasonInsufficientBuyingPower = "insufficient buying power"

// ReasonInvalidInput is returned with a zero size for NaN or infinite inputs.
const ReasonInvalidInput = "invalid sizing input"

type Config struct {
	BaseFraction           float64
	MaxBonus               float64
	ConfidenceFloor        float64
	ConfidenceCeiling      float64
	MaxFraction            float64
	MinOrderValue          float64
	MaxOrderValue          float64
	MaxBuyingPowerFraction float64
	MinBuyingPower         float64
}

func DefaultConfig() Config {
	return Config{
		BaseFraction:           0.03,
		MaxBonus:               0.07,
		ConfidenceFloor:        0.6,
		ConfidenceCeiling:      0.9,
		MaxFraction:            0.10,
		MinOrderValue:          25,
		MaxOrderValue:          1000,
		MaxBuyingPowerFraction: 0.20,
		MinBuyingPower:         125,
	}
}

func (c Config) Validate() error {
	if c.ConfidenceCeiling <= c.ConfidenceFloor {
		return fmt.Errorf("confidence ceiling %.2f must exceed floor %.2f", c.ConfidenceCeiling, c.ConfidenceFloor)
	}
	if c.MaxOrderValue < c.MinOrderValue {
		return fmt.Errorf("max order value %.2f below min order value %.2f", c.MaxOrderValue, c.MinOrderValue)
	}
	if c.MaxBuyingPowerFraction*c.MinBuyingPower < c.MinOrderValue {
		return fmt.Errorf("buying power floor %.2f cannot fund a %.2f minimum order at %.0f%%",
			c.MinBuyingPower, c.MinOrderValue, c.MaxBuyingPowerFraction*100)
	}
	return nil
}

// Result is a size plus how it was reached.
type Result struct {
	Notional float64 `json:"notional"`
	Fraction float64 `json:"fraction"`
	Reason   string  `json:"reason,omitempty"`
}

type Calculator struct {
	cfg Config
}

func New(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sizing config: %w", err)
	}
	return &Calculator{cfg: cfg}, nil
}

func (c *Calculator) Config() Config { return c.cfg }

// Size returns the notional to trade, or 0 when the account cannot trade.
func (c *Calculator) Size(confidence, buyingPower float64) float64 {
	return c.Calculate(confidence, buyingPower).Notional
}

// Calculate sizes an order in cents:
//
//	fraction = min(base + bonus(confidence), maxFraction)
//	notional = clamp(bp*fraction, minOrder, maxOrder), then <= maxBPFraction*bp
func (c *Calculator) Calculate(confidence, buyingPower float64) Result {
	if !finite(confidence) || !finite(buyingPower) {
		return Result{Reason: ReasonInvalidInput}
	}
	if buyingPower < c.cfg.MinBuyingPower || buyingPower <= 0 {
		return Result{Reason: ReasonInsufficientBuyingPower}
	}

	bp := decimal.NewFromFloat(buyingPower)
	fraction := decimal.NewFromFloat(c.cfg.BaseFraction).Add(c.bonus(confidence))
	if maxFrac := decimal.NewFromFloat(c.cfg.MaxFraction); fraction.GreaterThan(maxFrac) {
		fraction = maxFrac
	}

	notional := bp.Mul(fraction).Truncate(2)
	reason := ""
	if min := decimal.NewFromFloat(c.cfg.MinOrderValue); notional.LessThan(min) {
		notional, reason = min, "raised to minimum order value"
	}
	if max := decimal.NewFromFloat(c.cfg.MaxOrderValue); notional.GreaterThan(max) {
		notional, reason = max, "capped at maximum order value"
	}
	if ceiling := bp.Mul(decimal.NewFromFloat(c.cfg.MaxBuyingPowerFraction)).Truncate(2); notional.GreaterThan(ceiling) {
		notional, reason = ceiling, "capped at buying power fraction"
	}

	return Result{
		Notional: notional.InexactFloat64(),
		Fraction: fraction.InexactFloat64(),
		Reason:   reason,
	}
}

// bonus scales linearly from 0 at the confidence floor to MaxBonus at the ceiling.
func (c *Calculator) bonus(confidence float64) decimal.Decimal {
	conf := decimal.NewFromFloat(confidence)
	floor := decimal.NewFromFloat(c.cfg.ConfidenceFloor)
	if !conf.GreaterThan(floor) {
		return decimal.Zero
	}
	span := decimal.NewFromFloat(c.cfg.ConfidenceCeiling).Sub(floor)
	ratio := conf.Sub(floor).Div(span)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(c.cfg.MaxBonus).Mul(ratio)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
