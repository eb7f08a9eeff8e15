package domain

// EngineState is the halt state machine's current state.
type EngineState string

const (
	StateRunning EngineState = "RUNNING"
	StatePaused  EngineState = "PAUSED"
	StateHalted  EngineState = "HALTED"
)

// HaltReason records why the engine transitioned to HALTED or PAUSED.
type HaltReason string

const (
	HaltReasonNone             HaltReason = ""
	HaltReasonDailyLoss        HaltReason = "daily_loss"
	HaltReasonDrawdown         HaltReason = "drawdown"
	HaltReasonOperatorKill     HaltReason = "operator_kill"
	HaltReasonRollback         HaltReason = "rollback"
	HaltReasonOperatorPause    HaltReason = "operator_pause"
	HaltReasonConsecutiveLoss  HaltReason = "consecutive_losses"
)

// RiskState is the single-writer live risk snapshot. Readers observe it
// through an atomic snapshot pointer (internal/risk.Engine).
type RiskState struct {
	DailyPnL          Money
	DailyTrades       int
	ConsecutiveLosses int
	DrawdownPct       float64
	PeakValue         Money
	StartOfDayValue   Money
	State             EngineState
	HaltReason        HaltReason
	RollbackPending   bool
}

// Clone returns a deep-enough copy for snapshot-then-publish semantics.
func (r RiskState) Clone() RiskState { return r }
