package domain

import "time"

// EventType names the lifecycle and risk events the core emits.
type EventType string

const (
	EventStarted          EventType = "STARTED"
	EventStopped          EventType = "STOPPED"
	EventOpportunityFound EventType = "OPPORTUNITY_FOUND"
	EventTradeExecuted    EventType = "TRADE_EXECUTED"
	EventError            EventType = "ERROR"
	EventRiskAlert        EventType = "RISK_ALERT"
)

// Event is one emitted lifecycle or risk notification. Payload is the
// event-specific body: *Opportunity for OPPORTUNITY_FOUND, TradeResult for
// TRADE_EXECUTED, error text for ERROR, RiskAlert for RISK_ALERT.
// Delivery is fire-and-forget; the core never waits on consumers.
type Event struct {
	Type      EventType
	Strategy  string // empty for portfolio-level events
	Payload   any
	Timestamp time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(typ EventType, strategy string, payload any) Event {
	return Event{Type: typ, Strategy: strategy, Payload: payload, Timestamp: time.Now()}
}
