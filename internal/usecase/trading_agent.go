package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/services/execution"
	"TradeCore/internal/services/sizing"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

// Outcome labels how a decision ended; it doubles as the metrics label.
type Outcome string

const (
	OutcomeHold              Outcome = "hold"
	OutcomeExecuted          Outcome = "executed"
	OutcomeOrderFailed       Outcome = "order_failed"
	OutcomeRiskRejected      Outcome = "risk_rejected"
	OutcomeSizingUnavailable Outcome = "sizing_unavailable"
	OutcomeGuardBlocked      Outcome = "guard_blocked"
	OutcomeDataInsufficient  Outcome = "data_insufficient"
	OutcomeBrokerError       Outcome = "broker_error"
	OutcomeInternalError     Outcome = "internal_error"
)

// Decision is everything one evaluation produced. Fields after the step
// that ended the evaluation are left nil.
type Decision struct {
	Symbol    string                   `json:"symbol"`
	Outcome   Outcome                  `json:"outcome"`
	Reason    string                   `json:"reason,omitempty"`
	Signal    *models.ConsensusSignal  `json:"signal,omitempty"`
	Risk      *models.RiskAssessment   `json:"risk,omitempty"`
	Request   *models.ExecutionRequest `json:"request,omitempty"`
	Result    *models.ExecutionResult  `json:"result,omitempty"`
	TradeID   string                   `json:"trade_id,omitempty"`
	DecidedAt time.Time                `json:"decided_at"`
}

type SignalEngine interface {
	Evaluate(symbol string, history []models.PriceBar) models.ConsensusSignal
	MaxLookback() int
	ActiveStrategy() string
}

type RiskValidator interface {
	Validate(ctx context.Context, sig models.ConsensusSignal, p models.PortfolioSnapshot) models.RiskAssessment
}

type PositionSizer interface {
	Calculate(confidence, buyingPower float64) sizing.Result
}

type OrderRouter interface {
	Submit(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error)
}

type TradeRecordSink interface {
	Record(ctx context.Context, rec models.TradeRecord)
}

type AgentConfig struct {
	HistoryWindow int
}

// ExecutionStats are lifetime counters for the control surface.
type ExecutionStats struct {
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	TotalValue   float64 `json:"total_value"`
	LastDecision string  `json:"last_decision,omitempty"`
}

// TradingAgent runs the decision pipeline for one symbol at a time:
// history, consensus, risk, sizing, guard, order, record.
type TradingAgent struct {
	broker   drepo.Broker
	engine   SignalEngine
	risk     RiskValidator
	sizer    PositionSizer
	guard    *execution.Guard
	router   OrderRouter
	recorder TradeRecordSink
	events   drepo.EventSink
	metrics  drepo.Metrics
	cfg      AgentConfig
	now      func() time.Time
	l        *applogger.Logger

	busyMu sync.Mutex
	busy   map[string]struct{}

	statsMu sync.Mutex
	stats   ExecutionStats
}

type AgentOption func(*TradingAgent)

func WithAgentClock(now func() time.Time) AgentOption { return func(a *TradingAgent) { a.now = now } }

func WithAgentEvents(s drepo.EventSink) AgentOption { return func(a *TradingAgent) { a.events = s } }

func WithAgentMetrics(m drepo.Metrics) AgentOption { return func(a *TradingAgent) { a.metrics = m } }

func NewTradingAgent(
	broker drepo.Broker,
	engine SignalEngine,
	risk RiskValidator,
	sizer PositionSizer,
	guard *execution.Guard,
	router OrderRouter,
	recorder TradeRecordSink,
	cfg AgentConfig,
	l *applogger.Logger,
	opts ...AgentOption,
) *TradingAgent {
	if l == nil {
		l = applogger.NewNop()
	}
	a := &TradingAgent{
		broker:   broker,
		engine:   engine,
		risk:     risk,
		sizer:    sizer,
		guard:    guard,
		router:   router,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		l:        l.With(applogger.String("component", "trading_agent")),
		busy:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *TradingAgent) Guard() *execution.Guard { return a.guard }

func (a *TradingAgent) ActiveStrategy() string { return a.engine.ActiveStrategy() }

func (a *TradingAgent) Stats() ExecutionStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := a.stats
	if s.Attempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
	}
	return s
}

// EvaluateAndMaybeExecute runs the full pipeline for symbol. The returned
// Decision is always populated; err is classified by errs.Kind and is nil
// for HOLD and for a filled order.
func (a *TradingAgent) EvaluateAndMaybeExecute(ctx context.Context, symbol string) (d Decision, err error) {
	symbol = util.NormalizeSymbol(symbol)
	d = Decision{Symbol: symbol, DecidedAt: a.now()}
	log := a.l.With(applogger.String("symbol", symbol))

	defer func() {
		if r := recover(); r != nil {
			log.Error("evaluation panicked", applogger.Any("panic", r))
			d.Outcome, d.Reason = OutcomeInternalError, fmt.Sprint(r)
			err = fmt.Errorf("evaluate %s: panic: %v", symbol, r)
		}
		a.finish(d)
	}()

	if !a.begin(symbol) {
		return a.blocked(ctx, d, errs.New(errs.KindGuardBlocked, "evaluation in progress"))
	}
	defer a.end(symbol)

	if err := a.guard.Precheck(symbol); err != nil {
		return a.blocked(ctx, d, err)
	}

	window := a.cfg.HistoryWindow
	if lb := a.engine.MaxLookback(); lb > window {
		window = lb
	}
	bars, err := a.broker.GetPriceHistory(ctx, symbol, window)
	if err != nil {
		d.Outcome, d.Reason = OutcomeBrokerError, "price history unavailable"
		log.Warn("price history unavailable", applogger.Error(err))
		return d, errs.Wrap(errs.KindBrokerError, d.Reason, err)
	}
	if len(bars) == 0 {
		d.Outcome, d.Reason = OutcomeDataInsufficient, "no price history"
		return d, errs.New(errs.KindDataInsufficient, d.Reason)
	}

	sig := a.engine.Evaluate(symbol, bars)
	d.Signal = &sig
	if a.metrics != nil {
		a.metrics.RecordSignal(sig.ActiveStrategyID, sig.BlendedConfidence)
	}
	a.emit(ctx, models.Event{
		Type:       models.EventSignalGenerated,
		Symbol:     symbol,
		Confidence: sig.BlendedConfidence,
		Data: map[string]interface{}{
			"action":    string(sig.RecommendedAction),
			"agreement": sig.ConsensusAgreement,
			"active":    sig.ActiveStrategyID,
			"signals":   len(sig.ContributingSignals),
		},
	})
	log.Info("consensus evaluated",
		applogger.String("action", string(sig.RecommendedAction)),
		applogger.Float64("confidence", sig.BlendedConfidence),
		applogger.Float64("agreement", sig.ConsensusAgreement),
		applogger.String("strategy", sig.ActiveStrategyID),
	)

	if !sig.RecommendedAction.Actionable() {
		d.Outcome, d.Reason = OutcomeHold, "no actionable signal"
		return d, nil
	}

	acct, err := a.broker.GetAccount(ctx)
	if err != nil {
		d.Outcome, d.Reason = OutcomeBrokerError, "account unavailable"
		log.Warn("account unavailable", applogger.Error(err))
		return d, errs.Wrap(errs.KindBrokerError, d.Reason, err)
	}

	assessment := a.risk.Validate(ctx, sig, acct)
	d.Risk = &assessment
	if !assessment.Approved {
		d.Outcome, d.Reason = OutcomeRiskRejected, strings.Join(assessment.Violations, "; ")
		log.Info("risk rejected", applogger.String("reason", d.Reason), applogger.Float64("risk_score", assessment.RiskScore))
		a.emit(ctx, models.Event{Type: models.EventRiskRejected, Symbol: symbol, Reason: d.Reason, Confidence: sig.BlendedConfidence})
		return d, errs.New(errs.KindRiskRejected, d.Reason)
	}

	notional, reason := a.notional(sig, acct)
	if notional <= 0 {
		d.Outcome, d.Reason = OutcomeSizingUnavailable, reason
		log.Info("sizing unavailable", applogger.String("reason", reason), applogger.Float64("buying_power", acct.BuyingPower))
		a.emit(ctx, models.Event{Type: models.EventSizingUnavailable, Symbol: symbol, Reason: reason, Confidence: sig.BlendedConfidence})
		return d, errs.New(errs.KindSizingUnavailable, reason)
	}

	reservation, err := a.guard.Reserve(ctx, symbol, sig.BlendedConfidence)
	if err != nil {
		return a.blocked(ctx, d, err)
	}
	// releases IN_FLIGHT if anything below panics; the first Complete wins
	defer reservation.Complete(false)

	req := models.ExecutionRequest{
		Symbol:         symbol,
		Side:           sig.RecommendedAction,
		NotionalValue:  notional,
		IdempotencyKey: execution.NewIdempotencyKey(symbol, d.DecidedAt),
		Confidence:     sig.BlendedConfidence,
		ReferencePrice: models.LastClose(bars),
		DecidedAt:      d.DecidedAt,
	}
	d.Request = &req

	res, submitErr := a.router.Submit(ctx, req)
	reservation.Complete(submitErr == nil)
	d.Result = &res

	rec := models.NewTradeRecord(uuid.NewString(), req, res, sig.ActiveStrategyID, sig.Votes(), a.now())
	d.TradeID = rec.TradeID
	a.recorder.Record(ctx, rec)
	a.countOrder(res.Success, req.NotionalValue)
	if a.metrics != nil {
		a.metrics.RecordOrder(symbol, res.Success, req.NotionalValue, time.Duration(res.LatencyMs)*time.Millisecond)
		a.metrics.RecordOrdersToday(a.guard.OrdersToday())
	}

	if submitErr != nil {
		d.Outcome, d.Reason = OutcomeOrderFailed, res.Error
		a.emit(ctx, models.Event{
			Type: models.EventOrderFailed, Symbol: symbol, Reason: res.Error, Confidence: req.Confidence,
			Data: map[string]interface{}{"side": string(req.Side), "notional": req.NotionalValue, "idempotency_key": req.IdempotencyKey},
		})
		return d, submitErr
	}

	d.Outcome = OutcomeExecuted
	a.emit(ctx, models.Event{
		Type: models.EventOrderPlaced, Symbol: symbol, Confidence: req.Confidence,
		Data: map[string]interface{}{
			"side":         string(req.Side),
			"notional":     req.NotionalValue,
			"order_id":     res.OrderID,
			"filled_price": res.FilledPrice,
			"slippage":     res.Slippage,
			"latency_ms":   res.LatencyMs,
			"trade_id":     rec.TradeID,
		},
	})
	return d, nil
}

// notional sizes the order. A sell never exceeds the value of the open position.
func (a *TradingAgent) notional(sig models.ConsensusSignal, acct models.PortfolioSnapshot) (float64, string) {
	r := a.sizer.Calculate(sig.BlendedConfidence, acct.BuyingPower)
	if r.Notional <= 0 {
		return 0, r.Reason
	}
	if sig.RecommendedAction == models.ActionSell {
		if pos, ok := acct.Position(sig.Symbol); ok && pos.MarketValue > 0 {
			return math.Min(r.Notional, math.Floor(pos.MarketValue*100)/100), ""
		}
	}
	return r.Notional, ""
}

func (a *TradingAgent) blocked(ctx context.Context, d Decision, err error) (Decision, error) {
	d.Outcome = OutcomeGuardBlocked
	var de *errs.DecisionError
	if errors.As(err, &de) {
		d.Reason = de.Reason
	} else {
		d.Reason = err.Error()
	}
	a.l.Debug("guard blocked", applogger.String("symbol", d.Symbol), applogger.String("reason", d.Reason))
	a.emit(ctx, models.Event{Type: models.EventGuardBlocked, Symbol: d.Symbol, Reason: d.Reason})
	return d, err
}

func (a *TradingAgent) begin(symbol string) bool {
	a.busyMu.Lock()
	defer a.busyMu.Unlock()
	if _, ok := a.busy[symbol]; ok {
		return false
	}
	a.busy[symbol] = struct{}{}
	return true
}

func (a *TradingAgent) end(symbol string) {
	a.busyMu.Lock()
	delete(a.busy, symbol)
	a.busyMu.Unlock()
}

func (a *TradingAgent) countOrder(success bool, notional float64) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.Attempts++
	if success {
		a.stats.Successes++
		a.stats.TotalValue += notional
	}
}

func (a *TradingAgent) finish(d Decision) {
	a.statsMu.Lock()
	a.stats.LastDecision = fmt.Sprintf("%s %s", d.Symbol, d.Outcome)
	a.statsMu.Unlock()
	if a.metrics != nil {
		a.metrics.RecordDecision(string(d.Outcome))
	}
}

func (a *TradingAgent) emit(ctx context.Context, e models.Event) {
	if a.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.events.Emit(ctx, e)
}
