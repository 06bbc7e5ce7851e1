package models

import "time"

// ExecutionRequest is built only after risk approval and a positive size.
type ExecutionRequest struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	NotionalValue  float64   `json:"notional_value"`
	IdempotencyKey string    `json:"idempotency_key"`
	Confidence     float64   `json:"confidence"`
	ReferencePrice float64   `json:"reference_price"`
	DecidedAt      time.Time `json:"decided_at"`
}

// ExecutionResult is the broker outcome of one request. OrderID, FilledPrice
// and Slippage are zero when the order was not filled.
type ExecutionResult struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price,omitempty"`
	LatencyMs   int64   `json:"latency_ms"`
	Slippage    float64 `json:"slippage,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// TradeRecord fuses a request with its result. It is appended once and later
// updated exactly once with the realized P&L when the position closes.
type TradeRecord struct {
	TradeID          string         `json:"trade_id"`
	Symbol           string         `json:"symbol"`
	Side             Side           `json:"side"`
	NotionalValue    float64        `json:"notional_value"`
	Confidence       float64        `json:"confidence"`
	IdempotencyKey   string         `json:"idempotency_key"`
	ActiveStrategyID string         `json:"active_strategy_id"`
	Votes            []StrategyVote `json:"votes"`

	Success     bool      `json:"success"`
	OrderID     string    `json:"order_id,omitempty"`
	FilledPrice float64   `json:"filled_price,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	Slippage    float64   `json:"slippage,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Closed      bool      `json:"closed"`
	RealizedPnL float64   `json:"realized_pnl"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
}

// NewTradeRecord merges a request and its result.
func NewTradeRecord(id string, req ExecutionRequest, res ExecutionResult, active string, votes []StrategyVote, at time.Time) TradeRecord {
	return TradeRecord{
		TradeID:          id,
		Symbol:           req.Symbol,
		Side:             req.Side,
		NotionalValue:    req.NotionalValue,
		Confidence:       req.Confidence,
		IdempotencyKey:   req.IdempotencyKey,
		ActiveStrategyID: active,
		Votes:            votes,
		Success:          res.Success,
		OrderID:          res.OrderID,
		FilledPrice:      res.FilledPrice,
		LatencyMs:        res.LatencyMs,
		Slippage:         res.Slippage,
		Error:            res.Error,
		CreatedAt:        at,
	}
}

// Profitable reports a closed trade with strictly positive P&L.
func (t TradeRecord) Profitable() bool { return t.Closed && t.RealizedPnL > 0 }

// StrategyPerformance is the learned track record of one strategy.
type StrategyPerformance struct {
	StrategyID     string    `json:"strategy_id"`
	TotalSignals   int       `json:"total_signals"`
	CorrectSignals int       `json:"correct_signals"`
	Accuracy       float64   `json:"accuracy"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ThresholdRecommendation is the learned confidence floor and the span of
// thresholds that scored near the best.
type ThresholdRecommendation struct {
	Optimal   float64   `json:"optimal"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Score     float64   `json:"score"`
	SampleLen int       `json:"sample_len"`
	UpdatedAt time.Time `json:"updated_at"`
}
