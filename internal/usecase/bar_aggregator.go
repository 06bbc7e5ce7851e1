package usecase

import (
	"context"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/util"
)

// PriceMarker receives the latest trade price per symbol, e.g. the paper broker.
type PriceMarker interface {
	SetPrice(symbol string, price float64)
}

// BarAggregator folds ticks into fixed-interval OHLCV bars. The bar in
// progress is written to the store on every tick, so readers always see the
// latest close.
type BarAggregator struct {
	store    drepo.BarStore
	interval time.Duration
	marker   PriceMarker

	mu      sync.Mutex
	current map[string]models.PriceBar
}

func NewBarAggregator(store drepo.BarStore, interval time.Duration, marker PriceMarker) *BarAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BarAggregator{store: store, interval: interval, marker: marker, current: make(map[string]models.PriceBar)}
}

// Process implements middleware.Proc.
func (a *BarAggregator) Process(_ context.Context, t models.Tick) error {
	start := util.BarStart(t.Timestamp, a.interval)

	a.mu.Lock()
	bar, ok := a.current[t.Symbol]
	switch {
	case !ok || start.After(bar.Timestamp):
		bar = models.PriceBar{
			Symbol:    t.Symbol,
			Timestamp: start,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Volume:    t.Volume,
		}
	case start.Before(bar.Timestamp):
		// late print for a finished bar
		a.mu.Unlock()
		return nil
	default:
		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume += t.Volume
	}
	a.current[t.Symbol] = bar
	a.store.Append(bar)
	a.mu.Unlock()

	if a.marker != nil {
		a.marker.SetPrice(t.Symbol, t.Price)
	}
	return nil
}
