package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/metrics"
)

type flakyProc struct {
	mu    sync.Mutex
	fail  bool
	ticks []models.Tick
}

func (p *flakyProc) Process(_ context.Context, t models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("downstream unavailable")
	}
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *flakyProc) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *flakyProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{})
	now := time.Now()

	for _, tick := range []models.Tick{
		{Price: 10, Timestamp: now},
		{Symbol: "AAPL", Price: 10},
		{Symbol: "AAPL", Price: 0, Timestamp: now},
		{Symbol: "AAPL", Price: math.NaN(), Timestamp: now},
		{Symbol: "AAPL", Price: 10, Volume: -1, Timestamp: now},
	} {
		assert.Error(t, p.Process(context.Background(), tick))
	}
	assert.Zero(t, proc.count())
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &flakyProc{}
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(2), WithPipelineClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, models.Tick{Symbol: "AAPL", Price: 1, Timestamp: now}))
	require.NoError(t, p.Process(ctx, models.Tick{Symbol: "AAPL", Price: 2, Timestamp: now}))
	require.NoError(t, p.Process(ctx, models.Tick{Symbol: "MSFT", Price: 3, Timestamp: now}))
	assert.Equal(t, 2, proc.count(), "second AAPL print inside 500ms dropped")

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, p.Process(ctx, models.Tick{Symbol: "AAPL", Price: 4, Timestamp: now}))
	assert.Equal(t, 3, proc.count())
}

func TestPipelineBuffersAndReplaysOnRecovery(t *testing.T) {
	proc := &flakyProc{fail: true}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(1000), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, models.Tick{Symbol: "AAPL", Price: 1, Timestamp: time.Now()})
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	proc.setFail(false)
	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, p.Buffered())
}
