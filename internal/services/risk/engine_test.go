package risk

import (
	"context"
	"testing"

	"TradeCore/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

type fixedSizer float64

func (f fixedSizer) Size(float64, float64) float64 { return float64(f) }

type fixedCorr map[string]float64

func (f fixedCorr) Correlation(_ context.Context, _, b string) (float64, bool) {
	v, ok := f[b]
	return v, ok
}

func testConfig() Config {
	return Config{
		MaxDailyLossPercent: 3,
		MaxPositionSize:     0.10,
		MaxSectorExposure:   0.30,
		MaxCorrelation:      0.85,
		MinConfidenceBuy:    0.6,
		MinConfidenceSell:   0.55,
		LowAgreement:        0.6,
		WarningPenalty:      0.1,
		Sectors:             map[string]string{"AAPL": "tech", "MSFT": "tech", "XOM": "energy"},
		Checks:              AllChecks(),
	}
}

func buySignal(conf float64) models.ConsensusSignal {
	return models.ConsensusSignal{Symbol: "AAPL", RecommendedAction: models.ActionBuy, BlendedConfidence: conf, ConsensusAgreement: 1}
}

func account() models.PortfolioSnapshot {
	return models.PortfolioSnapshot{Equity: 10000, BuyingPower: 10000}
}

func TestApprovesCleanBuy(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	a := e.Validate(context.Background(), buySignal(0.8), account())
	assert.True(t, a.Approved, a.Violations)
	assert.Empty(t, a.Warnings)
	assert.InDelta(t, 0.2, a.RiskScore, 1e-9)
	assert.Equal(t, 300.0, a.Metrics["proposed_notional"])
}

func TestHoldIsNeverApproved(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	sig := models.ConsensusSignal{Symbol: "AAPL", RecommendedAction: models.ActionHold}
	a := e.Validate(context.Background(), sig, account())
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations, "no actionable signal")
}

func TestDailyLossLimit(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)

	p := account()
	p.DayPnLPercent = -3.2
	a := e.Validate(context.Background(), buySignal(0.8), p)
	assert.False(t, a.Approved)

	p.DayPnLPercent = -2.5
	a = e.Validate(context.Background(), buySignal(0.8), p)
	assert.True(t, a.Approved)
	assert.Len(t, a.Warnings, 1)
	assert.InDelta(t, 0.3, a.RiskScore, 1e-9)
}

func TestPositionAndSectorLimits(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)

	p := account()
	p.OpenPositions = []models.Position{{Symbol: "AAPL", Quantity: 5, MarketValue: 800}}
	a := e.Validate(context.Background(), buySignal(0.8), p)
	assert.False(t, a.Approved, "800+300 is 11% of equity")

	p.OpenPositions = []models.Position{
		{Symbol: "MSFT", Quantity: 5, MarketValue: 2900},
		{Symbol: "XOM", Quantity: 5, MarketValue: 2900},
	}
	a = e.Validate(context.Background(), buySignal(0.8), p)
	assert.False(t, a.Approved, "tech exposure 32%")
	assert.InDelta(t, 0.32, a.Metrics["sector_fraction"], 1e-9)

	cfg := testConfig()
	cfg.Checks.SectorExposure = false
	a = NewEngine(cfg, fixedSizer(300), nil, nil).Validate(context.Background(), buySignal(0.8), p)
	assert.True(t, a.Approved)
}

func TestUnknownSymbolIsItsOwnSector(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	p := account()
	p.OpenPositions = []models.Position{{Symbol: "MSFT", Quantity: 1, MarketValue: 2900}}
	sig := buySignal(0.8)
	sig.Symbol = "ZZZ"
	a := e.Validate(context.Background(), sig, p)
	assert.True(t, a.Approved, a.Violations)
}

func TestCorrelationLimit(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(100), fixedCorr{"MSFT": 0.91, "XOM": -0.2}, nil)
	p := account()
	p.OpenPositions = []models.Position{
		{Symbol: "MSFT", Quantity: 1, MarketValue: 100},
		{Symbol: "XOM", Quantity: 1, MarketValue: 100},
	}
	a := e.Validate(context.Background(), buySignal(0.8), p)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations[0], "MSFT")
}

func TestConfidenceMinimumPerAction(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	a := e.Validate(context.Background(), buySignal(0.58), account())
	assert.False(t, a.Approved)

	p := account()
	p.OpenPositions = []models.Position{{Symbol: "AAPL", Quantity: 2, MarketValue: 300}}
	sell := models.ConsensusSignal{Symbol: "AAPL", RecommendedAction: models.ActionSell, BlendedConfidence: 0.58, ConsensusAgreement: 1}
	a = e.Validate(context.Background(), sell, p)
	assert.True(t, a.Approved, a.Violations)

	e.SetMinConfidence(0.6, 0.7)
	a = e.Validate(context.Background(), sell, p)
	assert.False(t, a.Approved)
}

func TestSellRequiresPosition(t *testing.T) {
	sell := models.ConsensusSignal{Symbol: "AAPL", RecommendedAction: models.ActionSell, BlendedConfidence: 0.8, ConsensusAgreement: 1}
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	assert.False(t, e.Validate(context.Background(), sell, account()).Approved)

	cfg := testConfig()
	cfg.AllowShort = true
	e = NewEngine(cfg, fixedSizer(300), nil, nil)
	assert.True(t, e.Validate(context.Background(), sell, account()).Approved)
}

func TestSoftWarningsRaiseScore(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	sig := buySignal(0.7)
	sig.ConsensusAgreement = 0.5
	sig.ContributingSignals = []models.StrategySignal{{StrategyID: "a", RiskScore: 0.9}}
	a := e.Validate(context.Background(), sig, account())
	assert.True(t, a.Approved)
	assert.Len(t, a.Warnings, 2)
	assert.InDelta(t, 0.5, a.RiskScore, 1e-9)
}

func TestNonPositiveEquityRejectsBuy(t *testing.T) {
	e := NewEngine(testConfig(), fixedSizer(300), nil, nil)
	a := e.Validate(context.Background(), buySignal(0.8), models.PortfolioSnapshot{BuyingPower: 500})
	assert.False(t, a.Approved)
}
