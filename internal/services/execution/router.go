package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/service/ratelimit"
	"TradeCore/pkg/circuit"
	applogger "TradeCore/pkg/logger"
)

// NewIdempotencyKey builds SYMBOL-<unix millis>-<random suffix>. The broker
// deduplicates on it, so it must be unique per decision.
func NewIdempotencyKey(symbol string, decidedAt time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", strings.ToUpper(symbol), decidedAt.UnixMilli(), suffix)
}

type RouterConfig struct {
	Timeout          time.Duration
	OrdersPerMinute  int
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

const ordersKey = "orders"

// Router submits approved requests to the broker under a timeout, a rate
// limit and a circuit breaker.
type Router struct {
	broker  drepo.Broker
	cfg     RouterConfig
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
	now     func() time.Time
	l       *applogger.Logger
}

type RouterOption func(*Router)

func WithRouterClock(now func() time.Time) RouterOption { return func(r *Router) { r.now = now } }

func WithLimiter(l *ratelimit.Limiter) RouterOption { return func(r *Router) { r.limiter = l } }

func WithBreaker(b *circuit.Breaker) RouterOption { return func(r *Router) { r.breaker = b } }

func NewRouter(broker drepo.Broker, cfg RouterConfig, l *applogger.Logger, opts ...RouterOption) *Router {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	r := &Router{broker: broker, cfg: cfg, now: time.Now, l: l.With(applogger.String("component", "order_router"))}
	for _, o := range opts {
		o(r)
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewWithClock(r.now)
	}
	if r.breaker == nil {
		r.breaker = circuit.New("broker", cfg.BreakerThreshold, cfg.BreakerTimeout,
			circuit.WithClock(r.now), circuit.WithLogger(l))
	}
	return r
}

func (r *Router) BreakerState() circuit.State { return r.breaker.State() }

// Submit places one order. A failed submission returns both an unsuccessful
// result (for the trade record) and a broker error.
func (r *Router) Submit(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	if !req.Side.Actionable() {
		return models.ExecutionResult{Error: "invalid side"}, errs.New(errs.KindBrokerError, "invalid side "+string(req.Side))
	}
	if req.NotionalValue <= 0 {
		return models.ExecutionResult{Error: "non-positive notional"}, errs.New(errs.KindBrokerError, "non-positive notional")
	}

	capacity, refill := ratelimit.PerMinute(r.cfg.OrdersPerMinute)
	if !r.limiter.Allow(ordersKey, capacity, refill) {
		const reason = "order rate limit exceeded"
		return models.ExecutionResult{Error: reason}, errs.New(errs.KindBrokerError, reason)
	}
	if !r.breaker.Allow() {
		const reason = "broker circuit open"
		return models.ExecutionResult{Error: reason}, errs.New(errs.KindBrokerError, reason)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := r.now()
	res, err := r.place(callCtx, req)
	latency := r.now().Sub(start)
	res.LatencyMs = latency.Milliseconds()

	log := r.l.With(
		applogger.String("symbol", req.Symbol),
		applogger.String("side", string(req.Side)),
		applogger.String("idempotency_key", req.IdempotencyKey),
		applogger.Float64("notional", req.NotionalValue),
		applogger.Int64("latency_ms", res.LatencyMs),
	)

	if err == nil && !res.Success {
		err = errors.New(nonEmpty(res.Error, "order rejected"))
	}
	if err != nil {
		r.breaker.RecordFailure()
		reason := err.Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("broker timeout after %s", r.cfg.Timeout)
		}
		res.Success = false
		res.Error = reason
		res.OrderID, res.FilledPrice, res.Slippage = "", 0, 0
		log.Warn("order failed", applogger.String("reason", reason))
		return res, errs.Wrap(errs.KindBrokerError, reason, err)
	}

	r.breaker.RecordSuccess()
	res.Slippage = Slippage(req.Side, req.ReferencePrice, res.FilledPrice)
	log.Info("order filled",
		applogger.String("order_id", res.OrderID),
		applogger.Float64("filled_price", res.FilledPrice),
		applogger.Float64("slippage", res.Slippage),
	)
	return res, nil
}

// place calls the adapter. A panic inside it becomes a failed order so the
// caller can still release its reservation and record the attempt.
func (r *Router) place(ctx context.Context, req models.ExecutionRequest) (res models.ExecutionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = models.ExecutionResult{}, fmt.Errorf("broker adapter panic: %v", p)
		}
	}()
	return r.broker.PlaceOrder(ctx, req.Symbol, req.Side, req.NotionalValue, req.IdempotencyKey)
}

// Slippage is the signed relative fill difference; positive is worse for the trader.
func Slippage(side models.Side, reference, filled float64) float64 {
	if reference <= 0 || filled <= 0 {
		return 0
	}
	diff := (filled - reference) / reference
	if side == models.ActionSell {
		return -diff
	}
	return diff
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
