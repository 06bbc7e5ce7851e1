package repository

import (
	"context"
	"time"

	"TradeCore/internal/domain/models"
)

// Broker is the narrow brokerage adapter the decision core depends on.
type Broker interface {
	GetAccount(ctx context.Context) (models.PortfolioSnapshot, error)
	PlaceOrder(ctx context.Context, symbol string, side models.Side, notional float64, idempotencyKey string) (models.ExecutionResult, error)
	GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error)
}

// TradeStore persists the trade ledger and learned strategy performance.
type TradeStore interface {
	AppendTradeRecord(ctx context.Context, rec models.TradeRecord) error
	CloseTrade(ctx context.Context, tradeID string, pnl float64, closedAt time.Time) error
	QueryClosedTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error)
	QueryTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error)
	UpsertStrategyPerformance(ctx context.Context, perf models.StrategyPerformance) error
	LoadStrategyPerformance(ctx context.Context) ([]models.StrategyPerformance, error)
	Close() error
}

// CounterStore keeps daily order counts keyed by local date (2006-01-02).
type CounterStore interface {
	Load(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, day string) error
}

// EventSink receives decision events. Emit must not block the decision path
// for long and must not fail it.
type EventSink interface {
	Emit(ctx context.Context, e models.Event)
}

// BarStore holds the append-only bar sequence per symbol built from the live feed.
type BarStore interface {
	Append(bar models.PriceBar)
	Last(symbol string, n int) []models.PriceBar
	Len(symbol string) int
}

// MarketStream is a live source of trade prints.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan models.Tick, <-chan error)
	Reconnect(ctx context.Context, symbols []string) error
	Close() error
	IsConnected() bool
}

// Metrics records the agent's live counters.
type Metrics interface {
	RecordDecision(outcome string)
	RecordOrder(symbol string, success bool, notional float64, latency time.Duration)
	RecordOrdersToday(n int)
	RecordSignal(strategyID string, confidence float64)
	RecordStrategyAccuracy(strategyID string, accuracy float64)
	RecordError(component string)
}
