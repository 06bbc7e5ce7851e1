package execution

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	"TradeCore/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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

func request(side models.Side) models.ExecutionRequest {
	return models.ExecutionRequest{
		Symbol:         "AAPL",
		Side:           side,
		NotionalValue:  100,
		IdempotencyKey: "AAPL-1-abc",
		Confidence:     0.8,
		ReferencePrice: 100,
	}
}

func routerConfig() RouterConfig {
	return RouterConfig{Timeout: time.Second, OrdersPerMinute: 10, BreakerThreshold: 2, BreakerTimeout: time.Minute}
}

func TestIdempotencyKeyFormat(t *testing.T) {
	at := time.UnixMilli(1709650800123)
	k1 := NewIdempotencyKey("aapl", at)
	k2 := NewIdempotencyKey("aapl", at)
	assert.Regexp(t, regexp.MustCompile(`^AAPL-1709650800123-[0-9a-f]{12}$`), k1)
	assert.NotEqual(t, k1, k2)
}

func TestSubmitComputesSlippage(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, "AAPL", models.ActionBuy, 100.0, "AAPL-1-abc").
		Return(models.ExecutionResult{Success: true, OrderID: "o-1", FilledPrice: 100.05}, nil).Once()

	r := NewRouter(b, routerConfig(), nil)
	res, err := r.Submit(context.Background(), request(models.ActionBuy))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o-1", res.OrderID)
	assert.InDelta(t, 0.0005, res.Slippage, 1e-12)
	b.AssertExpectations(t)
}

func TestSlippageSign(t *testing.T) {
	assert.InDelta(t, 0.01, Slippage(models.ActionBuy, 100, 101), 1e-12)
	assert.InDelta(t, -0.01, Slippage(models.ActionSell, 100, 101), 1e-12)
	assert.InDelta(t, 0.01, Slippage(models.ActionSell, 100, 99), 1e-12)
	assert.Zero(t, Slippage(models.ActionBuy, 0, 101))
}

func TestSubmitBrokerErrorOpensBreaker(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{}, errors.New("503 from broker")).Twice()

	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	r := NewRouter(b, routerConfig(), nil, WithRouterClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		res, err := r.Submit(context.Background(), request(models.ActionBuy))
		assert.ErrorIs(t, err, errs.ErrBrokerError)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "503")
	}
	assert.Equal(t, circuit.StateOpen, r.BreakerState())

	res, err := r.Submit(context.Background(), request(models.ActionBuy))
	assert.ErrorIs(t, err, errs.ErrBrokerError)
	assert.Equal(t, "broker circuit open", res.Error)
	b.AssertNumberOfCalls(t, "PlaceOrder", 2)
}

func TestSubmitRejectedResultIsFailure(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{Success: false, Error: "insufficient funds"}, nil)

	r := NewRouter(b, routerConfig(), nil)
	res, err := r.Submit(context.Background(), request(models.ActionBuy))
	assert.Error(t, err)
	assert.Equal(t, "insufficient funds", res.Error)
}

func TestSubmitRecoversAdapterPanic(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("adapter bug") }).
		Return(models.ExecutionResult{}, nil)

	r := NewRouter(b, routerConfig(), nil)
	var res models.ExecutionResult
	var err error
	require.NotPanics(t, func() {
		res, err = r.Submit(context.Background(), request(models.ActionBuy))
	})
	assert.ErrorIs(t, err, errs.ErrBrokerError)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "adapter bug")
	assert.Empty(t, res.OrderID)
}

func TestSubmitTimesOut(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(models.ExecutionResult{}, context.DeadlineExceeded)

	cfg := routerConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := NewRouter(b, cfg, nil)
	res, err := r.Submit(context.Background(), request(models.ActionSell))
	assert.ErrorIs(t, err, errs.ErrBrokerError)
	assert.Contains(t, res.Error, "broker timeout")
}

func TestSubmitRateLimited(t *testing.T) {
	b := &mockBroker{}
	b.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.ExecutionResult{Success: true, OrderID: "o", FilledPrice: 100}, nil)

	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	cfg := routerConfig()
	cfg.OrdersPerMinute = 1
	r := NewRouter(b, cfg, nil, WithRouterClock(func() time.Time { return now }))

	_, err := r.Submit(context.Background(), request(models.ActionBuy))
	require.NoError(t, err)
	res, err := r.Submit(context.Background(), request(models.ActionBuy))
	assert.Error(t, err)
	assert.Equal(t, "order rate limit exceeded", res.Error)
	b.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestSubmitRejectsHold(t *testing.T) {
	r := NewRouter(&mockBroker{}, routerConfig(), nil)
	_, err := r.Submit(context.Background(), request(models.ActionHold))
	assert.Error(t, err)
}
