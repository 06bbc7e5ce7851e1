// Package analytics grades past trades, learns per-strategy accuracy and the
// confidence floor that historically paid off.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/services/consensus"
	applogger "TradeCore/pkg/logger"
)

type Config struct {
	Lookback              time.Duration
	Limit                 int
	MinClosedTrades       int
	MinTradesPerThreshold int
	ApplyThresholds       bool
}

// Flusher drains records that failed to persist earlier.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ThresholdApplier adopts a learned confidence floor.
type ThresholdApplier interface {
	ApplyThreshold(rec models.ThresholdRecommendation)
}

// Report is the outcome of one learning pass.
type Report struct {
	GeneratedAt      time.Time                       `json:"generated_at"`
	ClosedTrades     int                             `json:"closed_trades"`
	ProfitableTrades int                             `json:"profitable_trades"`
	OverallAccuracy  float64                         `json:"overall_accuracy"`
	TotalPnL         float64                         `json:"total_pnl"`
	InsufficientData bool                            `json:"insufficient_data"`
	Strategies       []models.StrategyPerformance    `json:"strategies"`
	Threshold        *models.ThresholdRecommendation `json:"threshold,omitempty"`
	Execution        ExecutionQuality                `json:"execution"`
}

type Learner struct {
	store      drepo.TradeStore
	book       *consensus.PerformanceBook
	thresholds *ThresholdBook
	flusher    Flusher
	applier    ThresholdApplier
	metrics    drepo.Metrics
	events     drepo.EventSink
	cfg        Config
	now        func() time.Time
	l          *applogger.Logger

	mu   sync.RWMutex
	last *Report
}

type Option func(*Learner)

func WithFlusher(f Flusher) Option { return func(l *Learner) { l.flusher = f } }
func WithApplier(a ThresholdApplier) Option { return func(l *Learner) { l.applier = a } }
func WithMetrics(m drepo.Metrics) Option { return func(l *Learner) { l.metrics = m } }
func WithEventSink(s drepo.EventSink) Option { return func(l *Learner) { l.events = s } }
func WithClock(now func() time.Time) Option { return func(l *Learner) { l.now = now } }

func NewLearner(store drepo.TradeStore, book *consensus.PerformanceBook, thresholds *ThresholdBook, cfg Config, log *applogger.Logger, opts ...Option) *Learner {
	if log == nil {
		log = applogger.NewNop()
	}
	if thresholds == nil {
		thresholds = NewThresholdBook()
	}
	if book == nil {
		book = consensus.NewPerformanceBook()
	}
	l := &Learner{
		store:      store,
		book:       book,
		thresholds: thresholds,
		cfg:        cfg,
		now:        time.Now,
		l:          log.With(applogger.String("component", "learner")),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Learner) Thresholds() *ThresholdBook { return l.thresholds }

// LastReport returns the most recent completed pass.
func (l *Learner) LastReport() (Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}

// Run performs one learning pass. With too few closed trades it reports
// InsufficientData and leaves performance and thresholds untouched.
func (l *Learner) Run(ctx context.Context) (Report, error) {
	now := l.now()
	if l.flusher != nil {
		if err := l.flusher.Flush(ctx); err != nil {
			l.l.Warn("pending trade records not flushed", applogger.Error(err))
		}
	}

	since := now.Add(-l.cfg.Lookback)
	closed, err := l.store.QueryClosedTrades(ctx, since, l.cfg.Limit)
	if err != nil {
		return Report{}, errs.Wrap(errs.KindPersistence, "query closed trades", err)
	}
	closed = outcomes(closed)
	attempts, err := l.store.QueryTrades(ctx, since, l.cfg.Limit)
	if err != nil {
		return Report{}, errs.Wrap(errs.KindPersistence, "query trades", err)
	}

	r := Report{GeneratedAt: now, ClosedTrades: len(closed), Execution: MeasureExecution(attempts)}
	for _, t := range closed {
		r.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			r.ProfitableTrades++
		}
	}
	if r.ClosedTrades > 0 {
		r.OverallAccuracy = float64(r.ProfitableTrades) / float64(r.ClosedTrades)
	}

	if r.ClosedTrades < l.cfg.MinClosedTrades {
		r.InsufficientData = true
		r.Strategies = l.book.Snapshot()
		if rec, ok := l.thresholds.Get(); ok {
			r.Threshold = &rec
		}
		l.l.Info("learning skipped, not enough closed trades",
			applogger.Int("closed", r.ClosedTrades),
			applogger.Int("required", l.cfg.MinClosedTrades),
			applogger.Float64("accuracy", r.OverallAccuracy),
		)
		l.finish(ctx, r)
		return r, nil
	}

	r.Strategies = l.learnStrategies(ctx, closed, now)

	if rec, ok := OptimizeThreshold(closed, l.cfg.MinTradesPerThreshold); ok {
		rec.UpdatedAt = now
		l.thresholds.Set(rec)
		r.Threshold = &rec
		if l.cfg.ApplyThresholds && l.applier != nil {
			l.applier.ApplyThreshold(rec)
		}
		l.l.Info("confidence threshold learned",
			applogger.Float64("optimal", rec.Optimal),
			applogger.Float64("lower", rec.Lower),
			applogger.Float64("upper", rec.Upper),
			applogger.Float64("score", rec.Score),
		)
	}

	l.finish(ctx, r)
	return r, nil
}

func (l *Learner) learnStrategies(ctx context.Context, closed []models.TradeRecord, now time.Time) []models.StrategyPerformance {
	grades := gradeStrategies(closed)
	ids := make([]string, 0, len(grades))
	for id := range grades {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.StrategyPerformance, 0, len(ids))
	for _, id := range ids {
		g := grades[id]
		p := models.StrategyPerformance{
			StrategyID:     id,
			TotalSignals:   g.total,
			CorrectSignals: g.correct,
			Accuracy:       float64(g.correct) / float64(g.total),
			LastUpdated:    now,
		}
		if err := l.store.UpsertStrategyPerformance(ctx, p); err != nil {
			l.l.Error("strategy performance not persisted", applogger.String("strategy", id), applogger.Error(err))
			if l.metrics != nil {
				l.metrics.RecordError("learner")
			}
		}
		l.book.Update(p)
		if l.metrics != nil {
			l.metrics.RecordStrategyAccuracy(id, p.Accuracy)
		}
		out = append(out, p)
	}
	return out
}

func (l *Learner) finish(ctx context.Context, r Report) {
	l.mu.Lock()
	l.last = &r
	l.mu.Unlock()

	if l.events != nil {
		l.events.Emit(ctx, models.Event{
			Type: models.EventLearningCompleted,
			Data: map[string]interface{}{
				"closed_trades":     r.ClosedTrades,
				"overall_accuracy":  r.OverallAccuracy,
				"insufficient_data": r.InsufficientData,
			},
			At: r.GeneratedAt,
		})
	}
}
