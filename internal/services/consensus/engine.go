// Package consensus blends the enabled strategies into one recommendation.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/services/features"
	"TradeCore/internal/services/strategy"
	applogger "TradeCore/pkg/logger"
)

const tieEpsilon = 1e-9

// Member is an enabled strategy with its manual weight.
type Member struct {
	Strategy strategy.Strategy
	Weight   float64
}

type Config struct {
	Selector      SelectorConfig
	InitialActive string
}

// Option customizes an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithEventSink(s drepo.EventSink) Option { return func(e *Engine) { e.sink = s } }

func WithMetrics(m drepo.Metrics) Option { return func(e *Engine) { e.metrics = m } }

type Engine struct {
	members  []Member
	book     *PerformanceBook
	selector *Selector
	l        *applogger.Logger
	sink     drepo.EventSink
	metrics  drepo.Metrics
	now      func() time.Time
}

func NewEngine(members []Member, book *PerformanceBook, cfg Config, l *applogger.Logger, opts ...Option) (*Engine, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("consensus: no strategies enabled")
	}
	if book == nil {
		book = NewPerformanceBook()
	}
	if l == nil {
		l = applogger.NewNop()
	}
	e := &Engine{members: members, book: book, l: l, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}

	ids := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		id := m.Strategy.ID()
		if seen[id] {
			return nil, fmt.Errorf("consensus: duplicate strategy %q", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if cfg.InitialActive != "" && !seen[cfg.InitialActive] {
		return nil, fmt.Errorf("consensus: initial active strategy %q is not enabled", cfg.InitialActive)
	}
	e.selector = NewSelector(cfg.Selector, ids, cfg.InitialActive, e.now())
	return e, nil
}

// MaxLookback is the history length needed for every member to participate.
func (e *Engine) MaxLookback() int {
	n := 0
	for _, m := range e.members {
		if lb := m.Strategy.Lookback(); lb > n {
			n = lb
		}
	}
	return n
}

func (e *Engine) ActiveStrategy() string { return e.selector.Active() }

func (e *Engine) Book() *PerformanceBook { return e.book }

type weighted struct {
	sig    models.StrategySignal
	weight float64
}

// Evaluate runs every member on history and blends the results. It never
// fails: members without enough data or that error are left out, and with
// no usable member the result is HOLD at zero confidence.
func (e *Engine) Evaluate(symbol string, history []models.PriceBar) models.ConsensusSignal {
	now := e.now()
	if sw, ok := e.selector.Observe(e.book, now); ok {
		e.l.Info("active strategy switched",
			applogger.String("from", sw.From),
			applogger.String("to", sw.To),
			applogger.Float64("from_accuracy", sw.FromAcc),
			applogger.Float64("to_accuracy", sw.ToAcc),
		)
		e.emit(models.Event{
			Type:   models.EventStrategySwitched,
			Reason: fmt.Sprintf("%s -> %s", sw.From, sw.To),
			Data:   map[string]interface{}{"from": sw.From, "to": sw.To, "from_accuracy": sw.FromAcc, "to_accuracy": sw.ToAcc},
			At:     now,
		})
	}

	votes := make([]weighted, 0, len(e.members))
	for _, m := range e.members {
		id := m.Strategy.ID()
		sig, err := e.generate(m.Strategy, symbol, history)
		if err != nil {
			if errors.Is(err, errs.ErrDataInsufficient) {
				e.l.Debug("strategy skipped", applogger.String("symbol", symbol), applogger.String("strategy", id), applogger.Error(err))
			} else {
				e.l.Warn("strategy failed", applogger.String("symbol", symbol), applogger.String("strategy", id), applogger.Error(err))
				if e.metrics != nil {
					e.metrics.RecordError("strategy")
				}
			}
			continue
		}
		w := m.Weight * e.book.Accuracy(id)
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordSignal(id, sig.Confidence)
		}
		votes = append(votes, weighted{sig: sig, weight: w})
	}

	out := blend(votes)
	out.Symbol = symbol
	out.ActiveStrategyID = e.selector.Active()
	out.EvaluatedAt = now
	return out
}

// generate calls s.Generate and converts a panic into an error.
func (e *Engine) generate(s strategy.Strategy, symbol string, history []models.PriceBar) (sig models.StrategySignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.ID(), r)
		}
	}()
	if len(history) < s.Lookback() {
		return sig, errs.New(errs.KindDataInsufficient, fmt.Sprintf("have %d bars, need %d", len(history), s.Lookback()))
	}
	sig, err = s.Generate(symbol, history)
	if err != nil {
		return sig, err
	}
	if !sig.Action.Actionable() && sig.Action != models.ActionHold {
		return sig, fmt.Errorf("strategy %s returned unknown action %q", s.ID(), sig.Action)
	}
	sig.Confidence = features.Clamp01(sig.Confidence)
	sig.RiskScore = features.Clamp01(sig.RiskScore)
	return sig, nil
}

var actionOrder = [...]models.Action{models.ActionBuy, models.ActionSell, models.ActionHold}

// blend combines weighted votes. Inputs are sorted by strategy id first so
// the floating-point sums do not depend on the order strategies ran in.
func blend(votes []weighted) models.ConsensusSignal {
	sort.Slice(votes, func(i, j int) bool { return votes[i].sig.StrategyID < votes[j].sig.StrategyID })

	signals := make([]models.StrategySignal, len(votes))
	mass := make(map[models.Action]float64, len(actionOrder))
	var totalWeight, totalMass float64
	for i, v := range votes {
		signals[i] = v.sig
		m := v.weight * v.sig.Confidence
		mass[v.sig.Action] += m
		totalMass += m
		totalWeight += v.weight
	}

	out := models.ConsensusSignal{RecommendedAction: models.ActionHold, ContributingSignals: signals}
	if len(votes) == 0 || totalWeight == 0 {
		return out
	}

	best, bestMass := models.ActionHold, math.Inf(-1)
	for _, a := range actionOrder {
		if m := mass[a]; m > bestMass {
			best, bestMass = a, m
		}
	}
	// any other action within tieEpsilon of the leader makes it a tie
	ties := 0
	for _, a := range actionOrder {
		if bestMass-mass[a] <= tieEpsilon {
			ties++
		}
	}
	if ties > 1 {
		best = models.ActionHold
	}
	out.RecommendedAction = best

	var num float64
	for _, v := range votes {
		agreement := -1.0
		if v.sig.Action == best {
			agreement = 1
		}
		num += v.weight * v.sig.Confidence * agreement
	}
	out.BlendedConfidence = features.Clamp01(num / totalWeight)
	if totalMass > 0 {
		out.ConsensusAgreement = features.Clamp01(mass[best] / totalMass)
	}
	return out
}

func (e *Engine) emit(ev models.Event) {
	if e.sink != nil {
		e.sink.Emit(context.Background(), ev)
	}
}
