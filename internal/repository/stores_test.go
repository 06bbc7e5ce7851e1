package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/cache"
)

func bar(symbol string, minute int, price float64) models.PriceBar {
	return models.PriceBar{
		Symbol:    symbol,
		Timestamp: ledgerStart.Add(time.Duration(minute) * time.Minute),
		Open:      price, High: price, Low: price, Close: price, Volume: 1,
	}
}

func TestMemoryBarStoreOrderingAndBounds(t *testing.T) {
	s := NewMemoryBarStore(3)
	for i := 0; i < 5; i++ {
		s.Append(bar("AAPL", i, float64(100+i)))
	}
	assert.Equal(t, 3, s.Len("AAPL"))

	last := s.Last("AAPL", 10)
	require.Len(t, last, 3)
	assert.Equal(t, 102.0, last[0].Close)
	assert.Equal(t, 104.0, last[2].Close)

	s.Append(bar("AAPL", 4, 99))
	assert.Equal(t, 99.0, s.Last("AAPL", 1)[0].Close, "same timestamp replaces the bar in progress")
	s.Append(bar("AAPL", 1, 50))
	assert.Equal(t, 3, s.Len("AAPL"), "older bar dropped")

	last[0].Close = -1
	assert.Equal(t, 102.0, s.Last("AAPL", 3)[0].Close, "Last returns a copy")
	assert.Nil(t, s.Last("MSFT", 5))
}

func TestCounterStores(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	stores := map[string]interface {
		Load(context.Context, string) (int, error)
		Increment(context.Context, string) error
	}{
		"memory": NewMemoryCounterStore(),
		"cache":  NewCacheCounterStore(mem),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			n, err := s.Load(ctx, "2024-03-05")
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, s.Increment(ctx, "2024-03-05"))
			require.NoError(t, s.Increment(ctx, "2024-03-05"))
			require.NoError(t, s.Increment(ctx, "2024-03-06"))

			n, err = s.Load(ctx, "2024-03-05")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			n, _ = s.Load(ctx, "2024-03-06")
			assert.Equal(t, 1, n)
		})
	}
}

type capturePublisher struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaEventSinkKeysBySymbol(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewKafkaEventSink(pub, "tradecore.events", nil)

	sink.Emit(context.Background(), models.Event{Type: models.EventOrderPlaced, Symbol: "AAPL"})
	assert.Equal(t, "tradecore.events", pub.topic)
	assert.Equal(t, []byte("AAPL"), pub.key)
	assert.Equal(t, models.EventOrderPlaced, pub.value.(models.Event).Type)

	sink.Emit(context.Background(), models.Event{Type: models.EventScanStarted})
	assert.Nil(t, pub.key)

	pub.err = errors.New("leader not available")
	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), models.Event{Type: models.EventOrderFailed, Symbol: "AAPL"})
	})
}

func TestKafkaEventSinkSurvivesCancelledCaller(t *testing.T) {
	var got context.Context
	pub := publishFunc(func(ctx context.Context) error {
		got = ctx
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewKafkaEventSink(pub, "events", nil).Emit(ctx, models.Event{Type: models.EventOrderPlaced})
	require.NotNil(t, got)
	_, hasDeadline := got.Deadline()
	assert.True(t, hasDeadline)
}

type publishFunc func(ctx context.Context) error

func (f publishFunc) Publish(ctx context.Context, _ string, _ []byte, _ interface{}) error {
	err := f(ctx)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func TestMemoryEventSinkRing(t *testing.T) {
	s := NewMemoryEventSink(3)
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		s.Emit(context.Background(), models.Event{Type: models.EventSignalGenerated, Symbol: sym})
	}
	symbols := func(evs []models.Event) []string {
		out := make([]string, 0, len(evs))
		for _, e := range evs {
			out = append(out, e.Symbol)
		}
		return out
	}
	assert.Equal(t, []string{"C", "D", "E"}, symbols(s.Recent(0)))
	assert.Equal(t, []string{"D", "E"}, symbols(s.Recent(2)))
	assert.Empty(t, NewMemoryEventSink(3).Recent(5))
}

func TestFanoutSinkStampsAndForwards(t *testing.T) {
	a, b := NewMemoryEventSink(5), NewMemoryEventSink(5)
	f := NewFanoutSink(a, nil, b)

	f.Emit(context.Background(), models.Event{Type: models.EventStrategySwitched})

	require.Len(t, a.Recent(0), 1)
	require.Len(t, b.Recent(0), 1)
	assert.False(t, a.Recent(0)[0].At.IsZero())
	assert.Equal(t, a.Recent(0)[0].At, b.Recent(0)[0].At)
}
