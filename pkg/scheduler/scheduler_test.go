package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWakeAligns(t *testing.T) {
	s := New("scan", time.Minute, 5*time.Second, nil)
	now := time.Date(2024, 1, 2, 10, 0, 30, 0, time.UTC)
	at, wait := s.nextWake(now)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 1, 5, 0, time.UTC), at)
	assert.Equal(t, 35*time.Second, wait)

	// On the boundary the next run is a full interval away.
	at, _ = s.nextWake(time.Date(2024, 1, 2, 10, 1, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 2, 10, 2, 5, 0, time.UTC), at)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	s := New("scan", time.Hour, 0, nil)
	s.RunImmediately = true

	ctx, cancel := context.WithCancel(context.Background())
	var runs int32
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, func(context.Context) {
			atomic.AddInt32(&runs, 1)
			panic("recovered")
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartRejectsBadInterval(t *testing.T) {
	s := New("scan", 0, 0, nil)
	assert.Error(t, s.Start(context.Background(), func(context.Context) {}))
}
