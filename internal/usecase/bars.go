package usecase

import (
	"context"
	"fmt"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	"TradeCore/pkg/util"
)

// BarsUseCase serves the price history the agent would see for a symbol.
type BarsUseCase struct {
	broker domrepo.Broker
}

func NewBarsUseCase(broker domrepo.Broker) *BarsUseCase {
	return &BarsUseCase{broker: broker}
}

type GetBarsResult struct {
	Symbol string            `json:"symbol"`
	Count  int               `json:"count"`
	Bars   []models.PriceBar `json:"bars"`
}

func (uc *BarsUseCase) GetBars(ctx context.Context, symbol string, limit int) (*GetBarsResult, error) {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	bars, err := uc.broker.GetPriceHistory(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	return &GetBarsResult{Symbol: symbol, Count: len(bars), Bars: bars}, nil
}
