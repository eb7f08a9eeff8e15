package domain

import "time"

// EventKind is the fixed engine event taxonomy.
type EventKind string

const (
	EventTradeExecuted    EventKind = "trade_executed"
	EventStopTriggered    EventKind = "stop_triggered"
	EventSignalRejected   EventKind = "signal_rejected"
	EventRiskHalt         EventKind = "risk_halt"
	EventRiskResumed      EventKind = "risk_resumed"
	EventStrategyRollback EventKind = "strategy_rollback"
	EventScanComplete     EventKind = "scan_complete"
	EventSystemOnline     EventKind = "system_online"
	EventSystemShutdown   EventKind = "system_shutdown"
	EventSystemError      EventKind = "system_error"
	EventWebsocketLost    EventKind = "websocket_feed_lost"
	EventFeesRefreshed    EventKind = "fees_refreshed"
)

// Event is a best-effort notification fanned out to observers. Never a
// substitute for journaling — state changes are persisted before an
// Event is ever emitted.
type Event struct {
	Kind   EventKind
	TS     time.Time
	Fields map[string]any
}

func NewEvent(kind EventKind, fields map[string]any) Event {
	return Event{Kind: kind, TS: time.Now().UTC(), Fields: fields}
}
