// Package middleware holds stages that sit between the market stream and
// the tick processor.
package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/service/ratelimit"
)

const (
	minRetryBackoff = 50 * time.Millisecond
	maxRetryBackoff = 2 * time.Second
)

// Proc is the downstream stage.
type Proc interface {
	Process(ctx context.Context, t models.Tick) error
}

// RealtimePipeline validates ticks, spaces them to at most maxRPS per
// symbol, and parks ticks the processor rejected in a bounded buffer that a
// background loop replays with backoff.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	maxRPS  int
	limiter *ratelimit.Limiter
	retry   chan models.Tick

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	maxRPS  int
	bufSize int
	now     func() time.Time
}

// WithMaxRPS sets the per-symbol tick budget; ticks over it are dropped.
func WithMaxRPS(n int) PipelineOption {
	return func(o *pipelineOptions) {
		if n > 0 {
			o.maxRPS = n
		}
	}
}

// WithBufferSize bounds how many rejected ticks wait for replay.
func WithBufferSize(n int) PipelineOption {
	return func(o *pipelineOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(o *pipelineOptions) { o.now = now }
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	o := pipelineOptions{maxRPS: 20, bufSize: 1000, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &RealtimePipeline{
		proc:    proc,
		metrics: metrics,
		maxRPS:  o.maxRPS,
		limiter: ratelimit.NewWithClock(o.now),
		retry:   make(chan models.Tick, o.bufSize),
	}
}

// Start launches the replay loop. A second call is a no-op.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.replay(ctx)
}

// Stop ends the replay loop and waits for it. Buffered ticks stay buffered.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// Buffered reports how many ticks wait for replay.
func (p *RealtimePipeline) Buffered() int { return len(p.retry) }

// Process forwards t downstream. Invalid ticks are an error, throttled ticks
// are dropped silently, and a downstream failure buffers t and is returned.
func (p *RealtimePipeline) Process(ctx context.Context, t models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	// capacity 1: no bursts, one tick per 1/maxRPS seconds
	if !p.limiter.Allow(t.Symbol, 1, float64(p.maxRPS)) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.park(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

func (p *RealtimePipeline) park(t models.Tick) {
	select {
	case p.retry <- t:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

func (p *RealtimePipeline) replay(ctx context.Context) {
	defer p.wg.Done()
	backoff := minRetryBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.retry:
			if err := p.proc.Process(ctx, t); err == nil {
				backoff = minRetryBackoff
				continue
			}
			p.metrics.RecordError("pipeline_replay")
			p.park(t)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = min(backoff*2, maxRetryBackoff)
		}
	}
}

func validateTick(t models.Tick) error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("tick: empty symbol")
	case t.Timestamp.IsZero():
		return fmt.Errorf("tick %s: missing timestamp", t.Symbol)
	case t.Price <= 0, math.IsNaN(t.Price), math.IsInf(t.Price, 0):
		return fmt.Errorf("tick %s: invalid price %v", t.Symbol, t.Price)
	case t.Volume < 0, math.IsNaN(t.Volume):
		return fmt.Errorf("tick %s: invalid volume %v", t.Symbol, t.Volume)
	}
	return nil
}
