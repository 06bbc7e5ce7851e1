package risk

import (
	"context"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/services/features"
	applogger "TradeCore/pkg/logger"
)

// HistoryProvider is the slice of the broker the correlation check needs.
type HistoryProvider interface {
	GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error)
}

// HistoryCorrelation computes log-return correlation from recent bars.
type HistoryCorrelation struct {
	history HistoryProvider
	window  int
	l       *applogger.Logger
}

func NewHistoryCorrelation(h HistoryProvider, window int, l *applogger.Logger) *HistoryCorrelation {
	if l == nil {
		l = applogger.NewNop()
	}
	return &HistoryCorrelation{history: h, window: window, l: l}
}

func (c *HistoryCorrelation) Correlation(ctx context.Context, a, b string) (float64, bool) {
	ra, ok := c.returns(ctx, a)
	if !ok {
		return 0, false
	}
	rb, ok := c.returns(ctx, b)
	if !ok {
		return 0, false
	}
	return features.Correlation(ra, rb)
}

func (c *HistoryCorrelation) returns(ctx context.Context, symbol string) ([]float64, bool) {
	bars, err := c.history.GetPriceHistory(ctx, symbol, c.window)
	if err != nil {
		c.l.Warn("correlation history unavailable", applogger.String("symbol", symbol), applogger.Error(err))
		return nil, false
	}
	r := features.ComputeLogReturns(bars)
	return r, len(r) > 0
}
