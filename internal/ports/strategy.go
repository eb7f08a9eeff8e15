package ports

import (
	"context"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// RiskLimitsView is the read-only subset of risk config a strategy is
// given at Initialize — enough context to size requests without exposing
// live counters (those stay inside the risk engine).
type RiskLimitsView struct {
	MaxTradePct     float64
	DefaultTradePct float64
	MaxPositionPct  float64
	MaxPositions    int
}

// Strategy is the pluggable decision-making IO contract. Implementations
// must be pure: no network, filesystem, subprocess, or wall-clock
// reads — `now` is authoritative. The host enforces this statically
// (import check) and dynamically (only IO-contract values are ever
// passed in).
type Strategy interface {
	Initialize(limits RiskLimitsView, symbols []domain.Symbol) error
	Analyze(ctx context.Context, markets map[domain.Symbol]domain.SymbolData, portfolio domain.Portfolio, now time.Time) ([]domain.Signal, error)
	OnFill(symbol domain.Symbol, action domain.Action, qty, price domain.Money, intent domain.Intent, tag string)
	OnPositionClosed(symbol domain.Symbol, tag string, pnl domain.Money, pnlPct float64)
	GetState() ([]byte, error)
	LoadState(blob []byte) error
	ScanIntervalMinutes() int
	Version() string
}
