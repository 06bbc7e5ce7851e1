package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TradeCore/internal/services/execution"
	"TradeCore/internal/usecase"
	"TradeCore/pkg/config"
	xhttp "TradeCore/pkg/http"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/queue"
	"TradeCore/pkg/scheduler"
)

// ShutdownGrace bounds Shutdown when the config sets no timeout.
const ShutdownGrace = 15 * time.Second

// Closer is a named resource released last, in registration order.
type Closer struct {
	Name string
	io.Closer
}

// Components is everything the App starts and stops. Collector, Consumer,
// Ticks and HTTP are nil when their feature is disabled.
type Components struct {
	Config    *config.Config
	Logger    *applogger.Logger
	Guard     *execution.Guard
	Scan      *usecase.ScanCycle
	Learning  *usecase.LearningCycle
	Recorder  *usecase.TradeRecorder
	Queue     *queue.MemoryQueue
	Collector *usecase.MarketCollector
	Consumer  *pkgkafka.Consumer
	Ticks     pkgkafka.MessageHandler
	HTTP      *xhttp.Server
	Closers   []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c  Components
	l  *applogger.Logger
	wg sync.WaitGroup

	stopSchedulers context.CancelFunc
}

func New(c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{c: c, l: l}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}
	<-ctx.Done()
	a.l.Info("shutdown signal received")

	grace := a.c.Config.HTTP.ShutdownTimeout
	if grace <= 0 {
		grace = ShutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start brings components up in dependency order: persistence first, then
// market data, then the cycles that trade on it, then the control surface.
func (a *App) Start(ctx context.Context) error {
	cfg := a.c.Config

	if err := a.c.Guard.Restore(ctx); err != nil {
		// the in-memory count starts at zero; the cap still applies from here
		a.l.Warn("daily order count not restored", applogger.Error(err))
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			return fmt.Errorf("start trade record queue: %w", err)
		}
	}

	if a.c.Collector != nil {
		// price history still comes from the broker without the live feed
		if err := a.c.Collector.Start(ctx); err != nil {
			a.l.Error("market collector not started", applogger.Error(err))
		} else {
			a.l.Info("market collector started", applogger.Strings("symbols", cfg.Symbols))
		}
	}

	if a.c.Consumer != nil && a.c.Ticks != nil {
		a.c.Consumer.RegisterHandler(a.c.Ticks)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.c.Ticks.Topic()))
	}

	schedCtx, cancel := context.WithCancel(ctx)
	a.stopSchedulers = cancel

	scan := scheduler.New("scan", cfg.Scan.Interval, 0, a.l)
	scan.RunImmediately = cfg.Scan.RunImmediately
	a.schedule(schedCtx, scan, a.c.Scan.Run)

	learn := scheduler.New("learning", cfg.Learning.Interval, 0, a.l)
	a.schedule(schedCtx, learn, a.c.Learning.Run)

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	a.l.Info("tradecore started",
		applogger.Bool("execution_enabled", a.c.Guard.Enabled()),
		applogger.String("broker", cfg.Broker.Type),
		applogger.String("store", cfg.Store.Type),
		applogger.Int("symbols", len(cfg.Symbols)),
	)
	return nil
}

func (a *App) schedule(ctx context.Context, s *scheduler.IntervalScheduler, task func(context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := s.Start(ctx, task); err != nil && !errors.Is(err, context.Canceled) {
			a.l.Error("scheduler exited", applogger.String("scheduler", s.Name), applogger.Error(err))
		}
	}()
}

// Shutdown stops intake before draining: the HTTP surface and schedulers go
// first so no new decision starts, then market data, then pending trade
// records are persisted, then shared clients are closed.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.stopSchedulers != nil {
		a.stopSchedulers()
	}
	if err := waitGroup(ctx, &a.wg); err != nil {
		a.l.Warn("schedulers did not stop in time", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.l.Warn("market collector stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil && a.c.Ticks != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			a.l.Warn("trade record queue not drained", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Recorder != nil {
		if err := a.c.Recorder.Flush(ctx); err != nil {
			a.l.Error("pending trade records lost at shutdown",
				applogger.Int("pending", a.c.Recorder.Pending()), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.RemoveCollector()
	for _, c := range a.c.Closers {
		if c.Closer == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
