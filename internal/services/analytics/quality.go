package analytics

import (
	"math"

	"TradeCore/internal/domain/models"
)

// ExecutionQuality summarizes broker outcomes over a window of attempts.
type ExecutionQuality struct {
	Attempts       int     `json:"attempts"`
	Successes      int     `json:"successes"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	AvgAbsSlippage float64 `json:"avg_abs_slippage"`
	TotalNotional  float64 `json:"total_notional"`
}

func MeasureExecution(trades []models.TradeRecord) ExecutionQuality {
	var q ExecutionQuality
	var latency, slip float64
	for _, t := range trades {
		q.Attempts++
		latency += float64(t.LatencyMs)
		if !t.Success {
			continue
		}
		q.Successes++
		slip += math.Abs(t.Slippage)
		q.TotalNotional += t.NotionalValue
	}
	if q.Attempts > 0 {
		q.SuccessRate = float64(q.Successes) / float64(q.Attempts)
		q.AvgLatencyMs = latency / float64(q.Attempts)
	}
	if q.Successes > 0 {
		q.AvgAbsSlippage = slip / float64(q.Successes)
	}
	return q
}

// outcomes keeps the closed trades that actually filled. A failed order
// opened no position, so any P&L attached to it is not a strategy outcome.
func outcomes(trades []models.TradeRecord) []models.TradeRecord {
	out := make([]models.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.Closed && t.Success {
			out = append(out, t)
		}
	}
	return out
}

type tally struct{ total, correct int }

// gradeStrategies scores every non-HOLD vote on closed trades. A vote is
// correct when it agreed with a profitable trade or opposed a losing one.
func gradeStrategies(closed []models.TradeRecord) map[string]tally {
	out := make(map[string]tally)
	for _, t := range closed {
		if !t.Closed || !t.Success {
			continue
		}
		for _, v := range t.Votes {
			if !v.Action.Actionable() {
				continue
			}
			tl := out[v.StrategyID]
			tl.total++
			agreed := v.Action == t.Side
			if (agreed && t.RealizedPnL > 0) || (!agreed && t.RealizedPnL <= 0) {
				tl.correct++
			}
			out[v.StrategyID] = tl
		}
	}
	return out
}
