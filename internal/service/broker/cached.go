package broker

import (
	"context"
	"errors"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/cache"
	applogger "TradeCore/pkg/logger"
)

const historyKeyPrefix = "history"

// CachedBroker keeps price history in a cache for a short TTL so a scan that
// revisits a symbol does not refetch it. Account and order calls pass through.
type CachedBroker struct {
	drepo.Broker
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedBroker(inner drepo.Broker, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedBroker {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CachedBroker{Broker: inner, cache: c, ttl: ttl, l: l.With(applogger.String("component", "history_cache"))}
}

func (c *CachedBroker) GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error) {
	if c.cache == nil || c.ttl <= 0 {
		return c.Broker.GetPriceHistory(ctx, symbol, window)
	}
	key := cache.Key(historyKeyPrefix, symbol, window)

	var bars []models.PriceBar
	err := c.cache.Get(ctx, key, &bars)
	if err == nil {
		return bars, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.l.Warn("history cache read failed", applogger.String("key", key), applogger.Error(err))
	}

	bars, err = c.Broker.GetPriceHistory(ctx, symbol, window)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.cache.Set(ctx, key, bars, c.ttl); err != nil {
			c.l.Warn("history cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return bars, nil
}
