package usecase

import (
	"context"
	"sync"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	mid "TradeCore/internal/middleware"
	applogger "TradeCore/pkg/logger"
)

// MarketCollector reads the live stream into the realtime pipeline and
// reconnects when the stream drops.
type MarketCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.RealtimePipeline
	symbols []string
	metrics drepo.Metrics
	l       *applogger.Logger

	wg sync.WaitGroup
}

func NewMarketCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, symbols []string, metrics drepo.Metrics, l *applogger.Logger) *MarketCollector {
	if l == nil {
		l = applogger.NewNop()
	}
	return &MarketCollector{
		stream:  stream,
		pipe:    pipe,
		symbols: symbols,
		metrics: metrics,
		l:       l.With(applogger.String("component", "market_collector")),
	}
}

// IsConnected returns true if the market stream is connected.
func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.symbols); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *MarketCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		ticks, errs := c.stream.Read(ctx)
		c.consume(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		if err := c.stream.Reconnect(ctx, c.symbols); err != nil {
			c.l.Warn("reconnect failed", applogger.Error(err))
		}
	}
}

// consume returns when the stream reports an error, closes, or ctx ends.
func (c *MarketCollector) consume(ctx context.Context, ticks <-chan models.Tick, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.l.Warn("stream error", applogger.Error(err))
			}
			if !ok {
				errs = nil
				continue
			}
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.l.Debug("tick not processed", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *MarketCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	c.pipe.Stop()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}
