package models

import "time"

// EventType names a decision-pipeline event published to observability sinks.
type EventType string

const (
	EventScanStarted       EventType = "scan_started"
	EventSignalGenerated   EventType = "signal_generated"
	EventRiskRejected      EventType = "risk_rejected"
	EventSizingUnavailable EventType = "sizing_unavailable"
	EventGuardBlocked      EventType = "guard_blocked"
	EventOrderPlaced       EventType = "order_placed"
	EventOrderFailed       EventType = "order_failed"
	EventStrategySwitched  EventType = "strategy_switched"
	EventLearningCompleted EventType = "learning_completed"
	EventPersistenceFailed EventType = "persistence_failed"
)

// Event is one structured observability record.
type Event struct {
	Type       EventType              `json:"type"`
	Symbol     string                 `json:"symbol,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	At         time.Time              `json:"at"`
}
