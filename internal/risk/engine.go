// Package risk implements the pre-trade gate plus the halt/pause state
// machine. The gate itself never mutates state; the caller commits
// counter updates only after a fill is confirmed, so a rejected retry
// never pollutes daily_trades.
package risk

import (
	"fmt"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Verdict is the gate's decision on one signal.
type Verdict struct {
	Outcome Outcome
	// ShapedSizePct is set when Outcome == Shaped, the size_pct the
	// caller should actually execute with instead of the signal's own.
	ShapedSizePct float64
	// RejectReason is set when Outcome == Rejected.
	RejectReason string
}

type Outcome int

const (
	Admitted Outcome = iota
	Shaped
	Rejected
)

// Limits is the fixed policy the gate checks against (config.RiskLimits,
// converted at wiring time so this package stays config-agnostic).
type Limits struct {
	Allowed                  domain.Allowlist
	MaxPositionPct           float64
	MaxPositions             int
	MaxTradePct              float64
	MaxDailyLossPct          float64
	MaxDailyTrades           int
	MaxDrawdownPct           float64
	RollbackDailyLossPct     float64
	ConsecutiveLossesDisable int // 0 disables this check
	MinNotional              float64
}

// Engine owns the RiskState and evaluates signals against Limits. The
// live state is published through an atomic-swap-on-write snapshot
// (Snapshot) so concurrent readers (notify, storage, the console) never
// observe a partially-updated struct.
type Engine struct {
	limits Limits
	state  *domain.RiskState
	clock  interface{ Now() time.Time }

	// fees is refreshed by the fee-refresh job and read by check 10.
	fees domain.FeeTier
}

func NewEngine(limits Limits, initial domain.RiskState, clock interface{ Now() time.Time }) *Engine {
	st := initial.Clone()
	if st.State == "" {
		st.State = domain.StateRunning
	}
	return &Engine{limits: limits, state: &st, clock: clock}
}

// SetFees updates the fee schedule used by the round-trip sanity check.
func (e *Engine) SetFees(f domain.FeeTier) { e.fees = f }

// Snapshot returns a copy of the current risk state for journaling/display.
func (e *Engine) Snapshot() domain.RiskState { return e.state.Clone() }

// Restore replaces the held risk state wholesale, used once at startup to
// resume counters from the last journaled snapshot instead of starting
// cold.
func (e *Engine) Restore(st domain.RiskState) {
	clone := st.Clone()
	e.state = &clone
}

// Evaluate runs the ordered checks against one signal. portfolio is the
// current snapshot; its position for (symbol,tag), if any, counts toward
// the per-position cap. mark is the current price, used to value that
// position and by the fee-aware check.
func (e *Engine) Evaluate(sig domain.Signal, portfolio domain.Portfolio, mark domain.Money) Verdict {
	st := e.state

	// 1. Halt state — closes always allowed.
	if st.State == domain.StateHalted {
		if sig.Action == domain.ActionClose {
			return Verdict{Outcome: Admitted}
		}
		return reject(fmt.Sprintf("halted: %s", st.HaltReason))
	}

	// 2. Paused state — closes always allowed, BUY/SELL rejected.
	if st.State == domain.StatePaused {
		if sig.Action == domain.ActionClose {
			return Verdict{Outcome: Admitted}
		}
		return reject("paused")
	}

	if sig.Action == domain.ActionClose {
		return Verdict{Outcome: Admitted}
	}

	// 3. Symbol allow-list. The strategy host already rejects a signal
	// batch containing an unknown symbol as a contract violation before
	// it ever reaches this gate (domain.ValidateBatch), so this is a
	// second, cheap backstop rather than the primary enforcement point —
	// it guards the gate itself against a future caller that skips that
	// validation.
	if len(e.limits.Allowed) > 0 && !e.limits.Allowed.Contains(sig.Symbol) {
		return reject(fmt.Sprintf("unknown symbol %q", sig.Symbol))
	}

	// 4. Per-trade cap — shape down rather than reject, unless shaping
	// would push the notional below the minimum-notional floor.
	sizePct := sig.SizePct
	if sizePct > e.limits.MaxTradePct {
		shapedNotional := portfolio.TotalValue.MulFloat(e.limits.MaxTradePct)
		if shapedNotional.Float64() < e.limits.MinNotional {
			return reject("shaped size below minimum notional")
		}
		sizePct = e.limits.MaxTradePct
	}

	key := sig.Key()
	_, exists := portfolio.Position(key)

	// 5. Per-position cap.
	tradeNotional := portfolio.TotalValue.MulFloat(sizePct)
	existingNotional := domain.Zero
	if pos, ok := portfolio.Position(key); ok {
		existingNotional = pos.Notional(mark)
	}
	projected := existingNotional.Add(tradeNotional)
	positionCap := portfolio.TotalValue.MulFloat(e.limits.MaxPositionPct)
	if projected.GreaterThan(positionCap) {
		return reject("per-position cap exceeded")
	}

	// 6. Position count cap — only applies to brand-new positions.
	if !exists && len(portfolio.Positions) >= e.limits.MaxPositions {
		return reject("max open positions reached")
	}

	// 7. Daily loss cap.
	dailyLossFloor := st.StartOfDayValue.MulFloat(-e.limits.MaxDailyLossPct)
	if st.DailyPnL.LessThan(dailyLossFloor) {
		e.halt(domain.HaltReasonDailyLoss)
		return reject("daily loss cap breached")
	}

	// 8. Drawdown cap.
	if st.DrawdownPct >= e.limits.MaxDrawdownPct {
		e.halt(domain.HaltReasonDrawdown)
		return reject("drawdown cap breached")
	}

	// 9. Daily trade cap.
	if st.DailyTrades >= e.limits.MaxDailyTrades {
		return reject("daily trade cap reached")
	}

	// 10. Fee-aware sanity check.
	if sig.TakeProfit != nil && !mark.IsZero() {
		moveFrac := sig.TakeProfit.Sub(mark).Abs().Div(mark)
		if moveFrac < 3*e.fees.RoundTripFee() {
			return reject("expected move does not clear 3x round-trip fees")
		}
	}

	if sizePct != sig.SizePct {
		return Verdict{Outcome: Shaped, ShapedSizePct: sizePct}
	}
	return Verdict{Outcome: Admitted}
}

func reject(reason string) Verdict {
	return Verdict{Outcome: Rejected, RejectReason: reason}
}

// halt transitions to HALTED, recording the reason. A no-op only if
// already halted; a PAUSED engine (operator or consecutive-loss pause)
// is moved to HALTED with the new reason.
func (e *Engine) halt(reason domain.HaltReason) {
	if e.state.State == domain.StateHalted {
		return
	}
	e.state.State = domain.StateHalted
	e.state.HaltReason = reason
}

// Pause transitions to PAUSED (operator-driven, reversible).
func (e *Engine) Pause() {
	e.state.State = domain.StatePaused
	e.state.HaltReason = domain.HaltReasonOperatorPause
}

// Kill transitions to HALTED with operator_kill, bypassing the checks.
func (e *Engine) Kill() {
	e.state.State = domain.StateHalted
	e.state.HaltReason = domain.HaltReasonOperatorKill
}

// Resume transitions PAUSED/HALTED back to RUNNING. Only the operator
// (via the orchestrator/CLI) calls this, after confirming root cause.
func (e *Engine) Resume() {
	e.state.State = domain.StateRunning
	e.state.HaltReason = domain.HaltReasonNone
	e.state.RollbackPending = false
}

// RecordFill updates counters after a fill is confirmed — never at signal
// admission, so a rejected or retried signal never double-counts.
func (e *Engine) RecordFill(pnlIfClosed *domain.Money) {
	e.state.DailyTrades++
	if pnlIfClosed == nil {
		return
	}
	e.state.DailyPnL = e.state.DailyPnL.Add(*pnlIfClosed)
	if pnlIfClosed.IsNegative() {
		e.state.ConsecutiveLosses++
	} else {
		e.state.ConsecutiveLosses = 0
	}
	if e.limits.ConsecutiveLossesDisable > 0 && e.state.ConsecutiveLosses >= e.limits.ConsecutiveLossesDisable {
		// Consecutive-loss breach pauses, not halts — reversible and
		// operator-tunable.
		if e.state.State == domain.StateRunning {
			e.state.State = domain.StatePaused
			e.state.HaltReason = domain.HaltReasonConsecutiveLoss
		}
	}
	rollbackFloor := e.state.StartOfDayValue.MulFloat(-e.limits.RollbackDailyLossPct)
	if e.state.DailyPnL.LessThan(rollbackFloor) {
		e.state.RollbackPending = true
		e.halt(domain.HaltReasonRollback)
	}
}

// UpdatePortfolioValue recomputes drawdown/peak from the latest total
// portfolio value. Drawdown resets only on a new peak.
func (e *Engine) UpdatePortfolioValue(totalValue domain.Money) {
	if totalValue.GreaterThan(e.state.PeakValue) {
		e.state.PeakValue = totalValue
		e.state.DrawdownPct = 0
		return
	}
	if e.state.PeakValue.IsZero() {
		e.state.PeakValue = totalValue
		return
	}
	e.state.DrawdownPct = e.state.PeakValue.Sub(totalValue).Div(e.state.PeakValue)
}

// RolloverDay resets the daily counters at midnight local. Drawdown is
// deliberately untouched — it tracks peak-to-trough over the position's
// whole life, not just today.
func (e *Engine) RolloverDay(startOfDayValue domain.Money) {
	e.state.DailyPnL = domain.Zero
	e.state.DailyTrades = 0
	e.state.StartOfDayValue = startOfDayValue
}
