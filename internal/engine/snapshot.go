package engine

import (
	"context"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Snapshot is the scheduler's "daily-snapshot" job handler, run at 23:55
// local: journal portfolio value, risk counters, and a daily performance
// summary, then roll the risk engine's daily counters over.
func (e *Engine) Snapshot(ctx context.Context, now time.Time) error {
	e.portfolio.Recompute(e.state.Marks())
	snap := e.portfolio.Snapshot()
	riskState := e.risk.Snapshot()

	if err := e.storage.SaveRiskSnapshot(ctx, domain.RiskStateSnapshot{
		TS: now, DailyPnL: riskState.DailyPnL, Drawdown: riskState.DrawdownPct,
		Halted: riskState.State == domain.StateHalted, HaltReason: riskState.HaltReason,
	}); err != nil {
		return err
	}
	if err := e.storage.SaveRiskState(ctx, riskState); err != nil {
		return err
	}

	perf := dailyPerformance(now, snap, riskState, e.strategies.Version())
	if err := e.storage.SaveDailyPerformance(ctx, perf); err != nil {
		return err
	}

	e.risk.RolloverDay(snap.TotalValue)
	e.risk.UpdatePortfolioValue(snap.TotalValue)
	return nil
}

func dailyPerformance(now time.Time, snap domain.Portfolio, riskState domain.RiskState, strategyVersion string) domain.DailyPerformance {
	wins, losses := 0, 0
	var gross domain.Money
	for _, t := range snap.RecentTrades {
		if t.ClosedAt.Before(now.Add(-24 * time.Hour)) {
			continue
		}
		gross = gross.Add(t.PnL.Add(t.Fees))
		if t.PnL.IsPositive() {
			wins++
		} else if t.PnL.IsNegative() {
			losses++
		}
	}
	total := wins + losses
	winRate := 0.0
	if total > 0 {
		winRate = float64(wins) / float64(total)
	}
	expectancy := domain.Zero
	if total > 0 {
		expectancy = snap.DailyPnL.MulFloat(1.0 / float64(total))
	}
	return domain.DailyPerformance{
		Date: now, PortfolioValue: snap.TotalValue, Cash: snap.Cash,
		TotalTrades: total, Wins: wins, Losses: losses,
		GrossPnL: gross, NetPnL: snap.DailyPnL, FeesTotal: snap.FeesTotal,
		MaxDrawdownPct: riskState.DrawdownPct, WinRate: winRate, Expectancy: expectancy,
		StrategyVersion: strategyVersion,
	}
}
