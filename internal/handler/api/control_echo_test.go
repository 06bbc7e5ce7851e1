package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	"TradeCore/internal/repository"
	"TradeCore/internal/services/analytics"
	"TradeCore/internal/services/execution"
	"TradeCore/internal/services/risk"
	"TradeCore/internal/services/sizing"
	"TradeCore/internal/usecase"
)

type fakeAgent struct {
	decision usecase.Decision
	err      error
	calls    []string
}

func (a *fakeAgent) EvaluateAndMaybeExecute(_ context.Context, symbol string) (usecase.Decision, error) {
	a.calls = append(a.calls, symbol)
	d := a.decision
	d.Symbol = strings.ToUpper(symbol)
	return d, a.err
}

func (a *fakeAgent) Stats() usecase.ExecutionStats {
	return usecase.ExecutionStats{Attempts: 4, Successes: 3, SuccessRate: 0.75, TotalValue: 420}
}

func (a *fakeAgent) ActiveStrategy() string { return "momentum" }

type fixedRisk struct{ cfg risk.Config }

func (r fixedRisk) Config() risk.Config { return r.cfg }

type fixedReports struct{ r *analytics.Report }

func (f fixedReports) LastReport() (analytics.Report, bool) {
	if f.r == nil {
		return analytics.Report{}, false
	}
	return *f.r, true
}

type controlFixture struct {
	e      *echo.Echo
	agent  *fakeAgent
	guard  *execution.Guard
	store  *repository.MemoryTradeStore
	events *repository.MemoryEventSink
}

func newControlFixture(t *testing.T, reports ReportSource) *controlFixture {
	t.Helper()
	f := &controlFixture{
		agent: &fakeAgent{decision: usecase.Decision{Outcome: usecase.OutcomeHold, Reason: "no actionable signal"}},
		guard: execution.NewGuard(execution.GuardConfig{
			Enabled:         true,
			MinConfidence:   0.6,
			DailyOrderLimit: 5,
			Cooldown:        30 * time.Second,
		}, repository.NewMemoryCounterStore(), nil),
		store:  repository.NewMemoryTradeStore(),
		events: repository.NewMemoryEventSink(10),
	}
	h := NewControlEchoHandler(nil, ControlDeps{
		Agent:   f.agent,
		Guard:   f.guard,
		Risk:    fixedRisk{cfg: risk.Config{MinConfidenceBuy: 0.6, MinConfidenceSell: 0.65, MaxPositionSize: 0.1}},
		Sizing:  sizing.DefaultConfig(),
		Reports: reports,
		Trades:  f.store,
		Events:  f.events,
	})
	f.e = echo.New()
	h.RegisterRoutes(f.e)
	return f
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (f *controlFixture) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestControlStatus(t *testing.T) {
	f := newControlFixture(t, nil)

	code, env := f.do(t, http.MethodGet, "/api/control/status", "")
	require.Equal(t, http.StatusOK, code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.ExecutionEnabled)
	assert.Equal(t, 0, st.OrdersToday)
	assert.Equal(t, 5, st.DailyOrderLimit)
	assert.Equal(t, "momentum", st.ActiveStrategy)
	assert.Equal(t, 4, st.Stats.Attempts)
	assert.InDelta(t, 0.75, st.Stats.SuccessRate, 1e-9)
}

func TestControlKillSwitch(t *testing.T) {
	f := newControlFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/control/execution", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.guard.Enabled())

	code, _ = f.do(t, http.MethodPost, "/api/control/execution", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, f.guard.Enabled())

	code, _ = f.do(t, http.MethodPost, "/api/control/execution", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, f.guard.Enabled())
}

func TestControlConfigUpdate(t *testing.T) {
	f := newControlFixture(t, nil)

	code, env := f.do(t, http.MethodPut, "/api/control/config", `{"min_confidence":0.7,"cooldown_seconds":120}`)
	require.Equal(t, http.StatusOK, code)
	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.InDelta(t, 0.7, cfg.MinConfidence, 1e-9)
	assert.Equal(t, 120.0, cfg.CooldownSeconds)
	assert.Equal(t, 5, cfg.DailyOrderLimit)
	assert.InDelta(t, 0.65, cfg.MinConfidenceSell, 1e-9)

	g := f.guard.Config()
	assert.InDelta(t, 0.7, g.MinConfidence, 1e-9)
	assert.Equal(t, 2*time.Minute, g.Cooldown)

	code, _ = f.do(t, http.MethodPut, "/api/control/config", `{"min_confidence":1.5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPut, "/api/control/config", `{"daily_order_limit":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPut, "/api/control/config", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.InDelta(t, 0.7, f.guard.Config().MinConfidence, 1e-9)

	code, env = f.do(t, http.MethodGet, "/api/control/config", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, sizing.DefaultConfig(), cfg.Sizing)
}

func TestControlEvaluate(t *testing.T) {
	f := newControlFixture(t, nil)
	f.agent.decision = usecase.Decision{Outcome: usecase.OutcomeGuardBlocked, Reason: "AAPL cooling down for 30s"}
	f.agent.err = errs.New(errs.KindGuardBlocked, "AAPL cooling down for 30s")

	code, env := f.do(t, http.MethodPost, "/api/evaluate/aapl", "")
	require.Equal(t, http.StatusOK, code)
	var d usecase.Decision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, usecase.OutcomeGuardBlocked, d.Outcome)
	assert.Equal(t, "AAPL", d.Symbol)
	assert.Equal(t, []string{"aapl"}, f.agent.calls)

	f.agent.decision = usecase.Decision{Outcome: usecase.OutcomeInternalError, Reason: "boom"}
	f.agent.err = errors.New("evaluate AAPL: panic: boom")
	code, _ = f.do(t, http.MethodPost, "/api/evaluate/AAPL", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestControlCloseTrade(t *testing.T) {
	f := newControlFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.AppendTradeRecord(ctx, models.TradeRecord{
		TradeID: "t-1", Symbol: "AAPL", Side: models.ActionBuy, NotionalValue: 100, Success: true, CreatedAt: time.Now(),
	}))

	code, _ := f.do(t, http.MethodPost, "/api/trades/t-1/close", `{"realized_pnl":12.5}`)
	require.Equal(t, http.StatusOK, code)
	closed, err := f.store.QueryClosedTrades(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 12.5, closed[0].RealizedPnL)

	code, _ = f.do(t, http.MethodPost, "/api/trades/t-1/close", `{"realized_pnl":1}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/trades/nope/close", `{"realized_pnl":1}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/trades/t-1/close", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	require.NoError(t, f.store.AppendTradeRecord(ctx, models.TradeRecord{
		TradeID: "t-2", Symbol: "AAPL", Side: models.ActionBuy, NotionalValue: 100, Error: "broker timeout", CreatedAt: time.Now(),
	}))
	code, _ = f.do(t, http.MethodPost, "/api/trades/t-2/close", `{"realized_pnl":42}`)
	assert.Equal(t, http.StatusConflict, code, "unfilled orders carry no outcome")
	closed, err = f.store.QueryClosedTrades(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func TestControlReport(t *testing.T) {
	f := newControlFixture(t, fixedReports{r: &analytics.Report{ClosedTrades: 12, OverallAccuracy: 0.58}})
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.AppendTradeRecord(ctx, models.TradeRecord{TradeID: "a", Symbol: "AAPL", Success: true, NotionalValue: 100, LatencyMs: 40, CreatedAt: now}))
	require.NoError(t, f.store.AppendTradeRecord(ctx, models.TradeRecord{TradeID: "b", Symbol: "MSFT", Success: false, NotionalValue: 50, CreatedAt: now}))
	require.NoError(t, f.store.AppendTradeRecord(ctx, models.TradeRecord{TradeID: "old", Symbol: "MSFT", Success: true, NotionalValue: 50, CreatedAt: now.Add(-48 * time.Hour)}))

	code, env := f.do(t, http.MethodGet, "/api/analytics/report", "")
	require.Equal(t, http.StatusOK, code)
	var res ReportResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotNil(t, res.Learning)
	assert.Equal(t, 12, res.Learning.ClosedTrades)
	assert.Equal(t, 2, res.RecentQuality.Attempts)
	assert.Equal(t, 1, res.RecentQuality.Successes)

	f = newControlFixture(t, fixedReports{})
	code, env = f.do(t, http.MethodGet, "/api/analytics/report", "")
	require.Equal(t, http.StatusOK, code)
	res = ReportResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Nil(t, res.Learning)
	assert.Equal(t, 0, res.RecentQuality.Attempts)
}

func TestControlEventsAndOptionalRoutes(t *testing.T) {
	f := newControlFixture(t, nil)
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		f.events.Emit(context.Background(), models.Event{Type: models.EventSignalGenerated, Symbol: sym})
	}

	code, env := f.do(t, http.MethodGet, "/api/events?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.Event `json:"rows"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "NVDA", list.Rows[1].Symbol)

	code, _ = f.do(t, http.MethodGet, "/api/events?limit=9999", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/api/bars/AAPL", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = f.do(t, http.MethodGet, "/api/signals?symbols=AAPL", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSplitSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, splitSymbols(" aapl, MSFT,,aapl "))
	assert.Empty(t, splitSymbols(" , "))
}
