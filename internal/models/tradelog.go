package models

import "time"

// Audit event kinds recorded in the trade log.
const (
	EventTriggerConditionMet = "TRIGGER_CONDITION_MET"
	EventOrderAttempt        = "ORDER_ATTEMPT"
	EventOrderPlaced         = "ORDER_PLACED"
	EventOrderFailed         = "ORDER_FAILED"
	EventPositionFetchFailed = "POSITION_FETCH_FAILED"
	EventSquareOff           = "SQUARE_OFF"
	EventSquareOffSummary    = "SQUARE_OFF_SUMMARY"
)

// TradeLog is one append-only audit record. The engine only ever
// writes these; nothing in the worker reads them back.
type TradeLog struct {
	ID        int64                  `json:"id"`
	RuleID    string                 `json:"rule_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
