package broker

import (
	"context"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/util"
)

// FeedBroker serves price history from bars built off the live stream once
// enough of them exist, and defers to the wrapped broker otherwise.
type FeedBroker struct {
	drepo.Broker
	bars drepo.BarStore
}

func NewFeedBroker(inner drepo.Broker, bars drepo.BarStore) *FeedBroker {
	return &FeedBroker{Broker: inner, bars: bars}
}

func (f *FeedBroker) GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error) {
	symbol = util.NormalizeSymbol(symbol)
	if f.bars != nil && window > 0 && f.bars.Len(symbol) >= window {
		return f.bars.Last(symbol, window), nil
	}
	return f.Broker.GetPriceHistory(ctx, symbol, window)
}
