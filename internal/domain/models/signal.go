package models

import (
	"fmt"
	"strings"
	"time"
)

// Action is a directional recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Side is the order direction. Only BUY and SELL are valid sides.
type Side = Action

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Actionable reports whether a trade would follow from the action.
func (a Action) Actionable() bool { return a == ActionBuy || a == ActionSell }

// Opposite returns the reverse direction; HOLD maps to itself.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	default:
		return ActionHold
	}
}

// StrategySignal is one strategy's output for one evaluation.
type StrategySignal struct {
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	RiskScore   float64   `json:"risk_score"`
	Rationale   string    `json:"rationale"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ConsensusSignal is the blended decision across all contributing strategies.
type ConsensusSignal struct {
	Symbol              string           `json:"symbol"`
	RecommendedAction   Action           `json:"recommended_action"`
	BlendedConfidence   float64          `json:"blended_confidence"`
	ContributingSignals []StrategySignal `json:"contributing_signals"`
	ActiveStrategyID    string           `json:"active_strategy_id"`
	ConsensusAgreement  float64          `json:"consensus_agreement"`
	EvaluatedAt         time.Time        `json:"evaluated_at"`
}

// MeanRiskScore averages the contributing strategies' risk scores.
func (c ConsensusSignal) MeanRiskScore() float64 {
	if len(c.ContributingSignals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.ContributingSignals {
		sum += s.RiskScore
	}
	return sum / float64(len(c.ContributingSignals))
}

// Votes flattens the contributing signals into the form stored on a trade.
func (c ConsensusSignal) Votes() []StrategyVote {
	out := make([]StrategyVote, 0, len(c.ContributingSignals))
	for _, s := range c.ContributingSignals {
		out = append(out, StrategyVote{StrategyID: s.StrategyID, Action: s.Action, Confidence: s.Confidence})
	}
	return out
}

// StrategyVote records how a strategy voted on a decision that led to a trade.
type StrategyVote struct {
	StrategyID string  `json:"strategy_id"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
}
