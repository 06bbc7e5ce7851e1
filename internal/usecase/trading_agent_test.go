package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository"
	"TradeCore/internal/services/execution"
	"TradeCore/internal/services/sizing"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) GetAccount(ctx context.Context) (models.PortfolioSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.PortfolioSnapshot), args.Error(1)
}

func (m *mockBroker) PlaceOrder(ctx context.Context, symbol string, side models.Side, notional float64, key string) (models.ExecutionResult, error) {
	args := m.Called(ctx, symbol, side, notional, key)
	return args.Get(0).(models.ExecutionResult), args.Error(1)
}

func (m *mockBroker) GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error) {
	args := m.Called(ctx, symbol, window)
	return args.Get(0).([]models.PriceBar), args.Error(1)
}

type stubEngine struct {
	action     models.Action
	confidence float64
	panics     bool
	calls      atomic.Int32
}

func (e *stubEngine) Evaluate(symbol string, history []models.PriceBar) models.ConsensusSignal {
	e.calls.Add(1)
	if e.panics {
		panic("indicator blew up")
	}
	return models.ConsensusSignal{
		Symbol:            symbol,
		RecommendedAction: e.action,
		BlendedConfidence: e.confidence,
		ActiveStrategyID:  "momentum",
		ContributingSignals: []models.StrategySignal{
			{StrategyID: "momentum", Symbol: symbol, Action: e.action, Confidence: e.confidence},
		},
		ConsensusAgreement: 1,
	}
}

func (e *stubEngine) MaxLookback() int { return 30 }
func (e *stubEngine) ActiveStrategy() string { return "momentum" }

type stubRisk struct {
	reject []string
}

func (r stubRisk) Validate(_ context.Context, _ models.ConsensusSignal, _ models.PortfolioSnapshot) models.RiskAssessment {
	if len(r.reject) > 0 {
		return models.RiskAssessment{Approved: false, RiskScore: 1, Violations: r.reject}
	}
	return models.RiskAssessment{Approved: true, RiskScore: 0.2}
}

type agentClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *agentClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *agentClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type agentFixture struct {
	agent  *TradingAgent
	broker *mockBroker
	engine *stubEngine
	guard  *execution.Guard
	store  *repository.MemoryTradeStore
	events *repository.MemoryEventSink
	clock  *agentClock
}

func newAgentFixture(t *testing.T, engine *stubEngine, risk RiskValidator) *agentFixture {
	t.Helper()
	clk := &agentClock{t: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)}
	b := &mockBroker{}
	sizer, err := sizing.New(sizing.DefaultConfig())
	require.NoError(t, err)

	guard := execution.NewGuard(execution.GuardConfig{
		Enabled:         true,
		MinConfidence:   0.6,
		DailyOrderLimit: 5,
		Cooldown:        60 * time.Second,
		Location:        time.UTC,
	}, repository.NewMemoryCounterStore(), nil, execution.WithGuardClock(clk.Now))
	router := execution.NewRouter(b, execution.RouterConfig{
		Timeout:          time.Second,
		OrdersPerMinute:  100,
		BreakerThreshold: 3,
		BreakerTimeout:   time.Minute,
	}, nil, execution.WithRouterClock(clk.Now))

	store := repository.NewMemoryTradeStore()
	events := repository.NewMemoryEventSink(50)
	recorder := NewTradeRecorder(store, nil, events, 10, nil)

	agent := NewTradingAgent(b, engine, risk, sizer, guard, router, recorder, AgentConfig{HistoryWindow: 50}, nil,
		WithAgentClock(clk.Now), WithAgentEvents(events))
	return &agentFixture{agent: agent, broker: b, engine: engine, guard: guard, store: store, events: events, clock: clk}
}

func flatBars(symbol string, n int, price float64) []models.PriceBar {
	out := make([]models.PriceBar, n)
	start := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = models.PriceBar{Symbol: symbol, Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return out
}

func eventTypes(s *repository.MemoryEventSink) []models.EventType {
	var out []models.EventType
	for _, e := range s.Recent(0) {
		out = append(out, e.Type)
	}
	return out
}

func TestExecutesApprovedBuyAndRecordsTrade(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 1000, BuyingPower: 1000}, nil)
	f.broker.On("PlaceOrder", mock.Anything, "AAPL", models.ActionBuy, 100.0, mock.AnythingOfType("string")).
		Return(models.ExecutionResult{Success: true, OrderID: "ord-1", FilledPrice: 100.1}, nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, d.Outcome)
	require.NotNil(t, d.Request)
	assert.Equal(t, 100.0, d.Request.NotionalValue)
	assert.Regexp(t, `^AAPL-\d+-[0-9a-f]{12}$`, d.Request.IdempotencyKey)
	assert.InDelta(t, 0.001, d.Result.Slippage, 1e-9)

	trades, err := f.store.QueryTrades(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, d.TradeID, trades[0].TradeID)
	assert.True(t, trades[0].Success)
	assert.Equal(t, "momentum", trades[0].ActiveStrategyID)
	require.Len(t, trades[0].Votes, 1)

	assert.Equal(t, 1, f.guard.OrdersToday())
	assert.Equal(t, execution.StateCooledDown, f.guard.State("AAPL"))
	stats := f.agent.Stats()
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 100.0, stats.TotalValue)
	assert.Equal(t, []models.EventType{models.EventSignalGenerated, models.EventOrderPlaced}, eventTypes(f.events))
}

func TestSecondEvaluationWithinCooldownMakesNoBrokerCalls(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 1000, BuyingPower: 1000}, nil)
	f.broker.On("PlaceOrder", mock.Anything, "AAPL", models.ActionBuy, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{Success: true, OrderID: "ord-1", FilledPrice: 100}, nil)

	_, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrGuardBlocked))
	assert.Equal(t, OutcomeGuardBlocked, d.Outcome)
	assert.Contains(t, d.Reason, "cooling down")

	f.broker.AssertNumberOfCalls(t, "GetPriceHistory", 1)
	f.broker.AssertNumberOfCalls(t, "GetAccount", 1)
	f.broker.AssertNumberOfCalls(t, "PlaceOrder", 1)
	assert.Equal(t, int32(1), f.engine.calls.Load())
}

func TestHoldSkipsAccountAndOrder(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionHold, confidence: 0.3}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "MSFT", 50).Return(flatBars("MSFT", 50, 400), nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHold, d.Outcome)
	assert.Nil(t, d.Request)
	f.broker.AssertNotCalled(t, "GetAccount", mock.Anything)
	f.broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, execution.StateEligible, f.guard.State("MSFT"))
}

func TestRiskRejectionStopsBeforeOrder(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{reject: []string{"daily loss limit reached"}})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 1000, BuyingPower: 1000, DayPnLPercent: -4}, nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrRiskRejected))
	assert.Equal(t, OutcomeRiskRejected, d.Outcome)
	assert.Equal(t, "daily loss limit reached", d.Reason)
	require.NotNil(t, d.Risk)
	assert.False(t, d.Risk.Approved)

	f.broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.guard.OrdersToday())
	assert.Contains(t, eventTypes(f.events), models.EventRiskRejected)
}

func TestSizingUnavailableWithTinyAccount(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 10, BuyingPower: 10}, nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSizingUnavailable))
	assert.Equal(t, OutcomeSizingUnavailable, d.Outcome)
	assert.Equal(t, sizing.ReasonInsufficientBuyingPower, d.Reason)
	f.broker.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.guard.OrdersToday())
}

func TestSellIsCappedAtPositionValue(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionSell, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{
		Equity:        1000,
		BuyingPower:   1000,
		OpenPositions: []models.Position{{Symbol: "AAPL", Quantity: 0.40567, MarketValue: 40.567}},
	}, nil)
	f.broker.On("PlaceOrder", mock.Anything, "AAPL", models.ActionSell, 40.56, mock.Anything).
		Return(models.ExecutionResult{Success: true, OrderID: "ord-2", FilledPrice: 99.9}, nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, d.Outcome)
	assert.Equal(t, 40.56, d.Request.NotionalValue)
	f.broker.AssertExpectations(t)
}

func TestFailedOrderCoolsDownAndIsRecorded(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 1000, BuyingPower: 1000}, nil)
	f.broker.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{}, errors.New("connection reset"))

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBrokerError))
	assert.Equal(t, OutcomeOrderFailed, d.Outcome)
	assert.Equal(t, "connection reset", d.Reason)

	trades, _ := f.store.QueryTrades(context.Background(), time.Time{}, 10)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Success)
	assert.Equal(t, "connection reset", trades[0].Error)
	assert.Equal(t, execution.StateCooledDown, f.guard.State("AAPL"))
	assert.Equal(t, 1, f.guard.OrdersToday())
	assert.Equal(t, 0.0, f.agent.Stats().SuccessRate)
	assert.Contains(t, eventTypes(f.events), models.EventOrderFailed)
}

func TestBrokerPanicReleasesSymbolAfterCooldown(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)
	f.broker.On("GetAccount", mock.Anything).Return(models.PortfolioSnapshot{Equity: 1000, BuyingPower: 1000}, nil)
	f.broker.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("adapter bug") }).
		Return(models.ExecutionResult{}, nil).Once()

	var d Decision
	var err error
	require.NotPanics(t, func() {
		d, err = f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	})
	assert.True(t, errors.Is(err, errs.ErrBrokerError))
	assert.Equal(t, OutcomeOrderFailed, d.Outcome)
	assert.Equal(t, execution.StateCooledDown, f.guard.State("AAPL"))

	trades, _ := f.store.QueryTrades(context.Background(), time.Time{}, 10)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Success)
	assert.Contains(t, trades[0].Error, "adapter bug")
	assert.Contains(t, eventTypes(f.events), models.EventOrderFailed)

	f.clock.Advance(61 * time.Second)
	assert.Equal(t, execution.StateEligible, f.guard.State("AAPL"))

	f.broker.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{Success: true, OrderID: "ord-2", FilledPrice: 100}, nil).Once()
	d, err = f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, d.Outcome)
}

func TestConcurrentEvaluationOfOneSymbolIsBlocked(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionHold}, stubRisk{})
	entered := make(chan struct{})
	release := make(chan struct{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(flatBars("AAPL", 50, 100), nil).Once()

	done := make(chan Decision)
	go func() {
		d, _ := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
		done <- d
	}()
	<-entered

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	assert.True(t, errors.Is(err, errs.ErrGuardBlocked))
	assert.Equal(t, OutcomeGuardBlocked, d.Outcome)
	assert.Equal(t, "evaluation in progress", d.Reason)

	close(release)
	assert.Equal(t, OutcomeHold, (<-done).Outcome)
	f.broker.AssertNumberOfCalls(t, "GetPriceHistory", 1)
}

func TestHistoryFailuresAreClassified(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return([]models.PriceBar(nil), errors.New("bridge down"))
	f.broker.On("GetPriceHistory", mock.Anything, "NEW", 50).Return([]models.PriceBar{}, nil)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	assert.True(t, errors.Is(err, errs.ErrBrokerError))
	assert.Equal(t, OutcomeBrokerError, d.Outcome)

	d, err = f.agent.EvaluateAndMaybeExecute(context.Background(), "NEW")
	assert.True(t, errors.Is(err, errs.ErrDataInsufficient))
	assert.Equal(t, OutcomeDataInsufficient, d.Outcome)
	assert.Equal(t, int32(0), f.engine.calls.Load())
}

func TestPanicDuringEvaluationIsRecovered(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, panics: true}, stubRisk{})
	f.broker.On("GetPriceHistory", mock.Anything, "AAPL", 50).Return(flatBars("AAPL", 50, 100), nil)

	var d Decision
	var err error
	require.NotPanics(t, func() {
		d, err = f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	})
	require.Error(t, err)
	assert.Equal(t, OutcomeInternalError, d.Outcome)

	f.engine.panics = false
	f.engine.action = models.ActionHold
	d, err = f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	require.NoError(t, err, "symbol released after panic")
	assert.Equal(t, OutcomeHold, d.Outcome)
}

func TestKillSwitchBlocksBeforeAnyBrokerCall(t *testing.T) {
	f := newAgentFixture(t, &stubEngine{action: models.ActionBuy, confidence: 0.9}, stubRisk{})
	f.guard.SetEnabled(false)

	d, err := f.agent.EvaluateAndMaybeExecute(context.Background(), "AAPL")
	assert.True(t, errors.Is(err, errs.ErrGuardBlocked))
	assert.Equal(t, "execution disabled", d.Reason)
	assert.Empty(t, f.broker.Calls)
}
