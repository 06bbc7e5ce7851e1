package scheduler

import (
	"context"
	"fmt"
	"time"

	applogger "TradeCore/pkg/logger"
)

// IntervalScheduler runs a task on wall-clock boundaries of Interval, shifted
// by Offset. Runs never overlap: the next wake time is computed after the
// task returns.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
	l     *applogger.Logger
}

func New(name string, interval, offset time.Duration, l *applogger.Logger) *IntervalScheduler {
	if l == nil {
		l = applogger.NewNop()
	}
	return &IntervalScheduler{Name: name, Interval: interval, Offset: offset, nowFn: time.Now, l: l}
}

// Start blocks until ctx is cancelled.
func (s *IntervalScheduler) Start(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		return fmt.Errorf("scheduler %s: nil task", s.Name)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval %s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	log := s.l.With(applogger.String("scheduler", s.Name))
	log.Info("scheduler started",
		applogger.Duration("interval", s.Interval),
		applogger.Duration("offset", s.Offset),
		applogger.Bool("run_immediately", s.RunImmediately),
	)

	if s.RunImmediately {
		s.run(ctx, task, log)
	}

	for {
		wakeAt, wait := s.nextWake(s.nowFn())
		log.Debug("next run scheduled", applogger.String("at", wakeAt.Format(time.RFC3339)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
		s.run(ctx, task, log)
	}
}

func (s *IntervalScheduler) run(ctx context.Context, task func(context.Context), log *applogger.Logger) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled task panicked", applogger.Any("panic", r))
		}
	}()
	task(ctx)
}

func (s *IntervalScheduler) nextWake(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
	for !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
