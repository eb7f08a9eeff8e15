package domain

import "time"

// ScanResult is one journaled row of per-symbol scan telemetry. Computed
// by the strategy host alongside signals so the full decision context
// survives even when no signal is acted on.
type ScanResult struct {
	ID              int64
	TS              time.Time
	Symbol          Symbol
	Price           Money
	EMAFast         float64
	EMASlow         float64
	RSI             float64
	VolumeRatio     float64
	Spread          Money
	StrategyRegime  string
	SignalGenerated bool
	SignalAction    Action
	SignalConfidence float64
}

// SignalRecord is a journaled signal — the as-requested signal plus the
// gate's verdict.
type SignalRecord struct {
	ID              string
	Symbol          Symbol
	Action          Action
	SizePct         float64
	Confidence      float64
	Intent          Intent
	Tag             string
	Reasoning       string
	StrategyVersion string
	StrategyRegime  string
	ActedOn         bool
	RejectedReason  string
	CreatedAt       time.Time
}

// OrderRecord is a journaled order.
type OrderRecord struct {
	ID             string
	ExchangeOrderID string
	Symbol         Symbol
	Side           Action
	Qty            Money
	LimitPrice     *Money
	Status         OrderStatus
	CreatedAt      time.Time
	FilledAt       *time.Time
	FillPrice      Money
	Fee            Money
}

// RiskStateSnapshot is a journaled point-in-time risk state.
type RiskStateSnapshot struct {
	TS         time.Time
	DailyPnL   Money
	Drawdown   float64
	Halted     bool
	HaltReason HaltReason
}
