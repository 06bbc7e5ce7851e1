package usecase

import (
	"context"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/services/analytics"
	"TradeCore/internal/services/execution"
	applogger "TradeCore/pkg/logger"
)

// MinConfidenceSetter is the risk engine's runtime floor.
type MinConfidenceSetter interface {
	SetMinConfidence(buy, sell float64)
}

// ThresholdApplier moves the guard floor and both risk minimums to a
// learned optimum.
type ThresholdApplier struct {
	guard *execution.Guard
	risk  MinConfidenceSetter
	l     *applogger.Logger
}

var _ analytics.ThresholdApplier = (*ThresholdApplier)(nil)

func NewThresholdApplier(guard *execution.Guard, risk MinConfidenceSetter, l *applogger.Logger) *ThresholdApplier {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ThresholdApplier{guard: guard, risk: risk, l: l}
}

func (a *ThresholdApplier) ApplyThreshold(rec models.ThresholdRecommendation) {
	opt := rec.Optimal
	if opt <= 0 {
		return
	}
	if a.guard != nil {
		a.guard.Update(execution.GuardUpdate{MinConfidence: &opt})
	}
	if a.risk != nil {
		a.risk.SetMinConfidence(opt, opt)
	}
	a.l.Info("learned confidence floor applied", applogger.Float64("min_confidence", opt))
}

// LearningCycle is the scheduler task around Learner.Run.
type LearningCycle struct {
	learner *analytics.Learner
	events  drepo.EventSink
	metrics drepo.Metrics
	l       *applogger.Logger
}

func NewLearningCycle(learner *analytics.Learner, events drepo.EventSink, metrics drepo.Metrics, l *applogger.Logger) *LearningCycle {
	if l == nil {
		l = applogger.NewNop()
	}
	return &LearningCycle{learner: learner, events: events, metrics: metrics, l: l.With(applogger.String("component", "learning_cycle"))}
}

func (c *LearningCycle) Run(ctx context.Context) {
	start := time.Now()
	_, err := c.learner.Run(ctx)
	if lr, ok := c.metrics.(interface{ RecordLatency(string, float64) }); ok {
		lr.RecordLatency("learning_cycle", time.Since(start).Seconds())
	}
	if err != nil {
		c.l.Error("learning cycle failed", applogger.Error(err))
		if c.metrics != nil {
			c.metrics.RecordError("learner")
		}
		if c.events != nil {
			c.events.Emit(ctx, models.Event{Type: models.EventPersistenceFailed, Reason: err.Error()})
		}
	}
}
