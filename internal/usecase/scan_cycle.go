package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
)

// Evaluator is the agent entry point the scan drives.
type Evaluator interface {
	EvaluateAndMaybeExecute(ctx context.Context, symbol string) (Decision, error)
}

// ExecutionSwitch reports the kill switch.
type ExecutionSwitch interface {
	Enabled() bool
}

// ScanSummary tallies one pass over the universe.
type ScanSummary struct {
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Skipped   bool            `json:"skipped"`
	Outcomes  map[Outcome]int `json:"outcomes"`
}

// ScanCycle evaluates every symbol once per run, several in parallel.
type ScanCycle struct {
	agent       Evaluator
	sw          ExecutionSwitch
	symbols     []string
	maxParallel int
	events      drepo.EventSink
	now         func() time.Time
	l           *applogger.Logger
}

func NewScanCycle(agent Evaluator, sw ExecutionSwitch, symbols []string, maxParallel int, events drepo.EventSink, l *applogger.Logger) *ScanCycle {
	if l == nil {
		l = applogger.NewNop()
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &ScanCycle{
		agent:       agent,
		sw:          sw,
		symbols:     symbols,
		maxParallel: maxParallel,
		events:      events,
		now:         time.Now,
		l:           l.With(applogger.String("component", "scan_cycle")),
	}
}

// Run is the scheduler task. With execution disabled the pass is skipped.
func (s *ScanCycle) Run(ctx context.Context) {
	s.RunOnce(ctx)
}

func (s *ScanCycle) RunOnce(ctx context.Context) ScanSummary {
	start := s.now()
	sum := ScanSummary{StartedAt: start, Outcomes: make(map[Outcome]int)}
	if s.sw != nil && !s.sw.Enabled() {
		s.l.Debug("execution disabled, scan skipped")
		sum.Skipped = true
		return sum
	}
	if s.events != nil {
		s.events.Emit(ctx, models.Event{
			Type: models.EventScanStarted,
			Data: map[string]interface{}{"symbols": len(s.symbols)},
			At:   start,
		})
	}

	outcomes := make([]Outcome, len(s.symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for i, symbol := range s.symbols {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			d, err := s.agent.EvaluateAndMaybeExecute(gctx, symbol)
			outcomes[i] = d.Outcome
			if err != nil {
				s.l.Debug("evaluation ended", applogger.String("symbol", symbol), applogger.String("outcome", string(d.Outcome)), applogger.Error(err))
			}
			// Per-symbol failures never cancel the rest of the scan.
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o != "" {
			sum.Outcomes[o]++
		}
	}
	sum.Duration = s.now().Sub(start)
	s.l.Info("scan completed",
		applogger.Int("symbols", len(s.symbols)),
		applogger.Int("executed", sum.Outcomes[OutcomeExecuted]),
		applogger.Duration("took", sum.Duration),
	)
	return sum
}
