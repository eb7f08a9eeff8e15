package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Reconcile runs the startup reconciliation procedure: load journaled
// state, cross-check it against the exchange's view, and in live mode
// let the exchange win every disagreement. Must be called once before
// Start.
func (e *Engine) Reconcile(ctx context.Context) error {
	positions, err := e.storage.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Reconcile: load positions: %w", err)
	}
	trades, err := e.storage.RecentTrades(ctx, 100)
	if err != nil {
		return fmt.Errorf("engine.Reconcile: load trades: %w", err)
	}
	cash, _, err := e.storage.LoadCash(ctx)
	if err != nil {
		return fmt.Errorf("engine.Reconcile: load cash: %w", err)
	}

	if e.exch.Mode() == "live" {
		positions, err = e.reconcileAgainstExchange(ctx, positions)
		if err != nil {
			return err
		}
	}

	total := cash
	var fees, dailyPnL, totalPnL domain.Money
	for _, t := range trades {
		fees = fees.Add(t.Fees)
		totalPnL = totalPnL.Add(t.PnL)
	}
	e.portfolio.Restore(domain.Portfolio{
		Cash: cash, TotalValue: total, Positions: positions, RecentTrades: trades,
		DailyPnL: dailyPnL, TotalPnL: totalPnL, FeesTotal: fees,
	})

	if riskState, ok, err := e.storage.LoadLatestRiskState(ctx); err != nil {
		return fmt.Errorf("engine.Reconcile: load risk state: %w", err)
	} else if ok {
		e.risk.Restore(riskState)
	}

	if conditionals, err := e.storage.LoadConditionalOrders(ctx); err != nil {
		return fmt.Errorf("engine.Reconcile: load conditional orders: %w", err)
	} else {
		slog.Info("engine: reconciliation loaded conditional orders", "count", len(conditionals))
	}

	e.notify.Notify(domain.NewEvent(domain.EventSystemOnline, map[string]any{
		"positions": len(positions), "mode": e.exch.Mode(),
	}))
	return nil
}

// reconcileAgainstExchange compares journaled positions to the exchange's
// balances; open orders are not consulted. A position the exchange no longer
// reflects (closed out-of-band, e.g. manually or by an exchange-side
// liquidation) is journaled as a reconciliation close instead of being
// silently dropped.
func (e *Engine) reconcileAgainstExchange(ctx context.Context, journaled []domain.OpenPosition) ([]domain.OpenPosition, error) {
	balances, err := e.exch.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.reconcileAgainstExchange: balances: %w", err)
	}

	surviving := make([]domain.OpenPosition, 0, len(journaled))
	for _, pos := range journaled {
		bal, ok := balances[string(pos.Symbol)]
		if ok && bal.GreaterOrEqual(pos.Qty) {
			surviving = append(surviving, pos)
			continue
		}

		mark, haveMark := e.state.Marks()[pos.Symbol]
		if !haveMark {
			mark = pos.AvgEntry
		}
		pnl, pnlPct := domain.ComputeClose(pos.AvgEntry, mark, pos.Qty, domain.Zero)
		trade := domain.ClosedTrade{
			ID: uuid.NewString(), Symbol: pos.Symbol, Tag: pos.Tag, Qty: pos.Qty,
			EntryPrice: pos.AvgEntry, ExitPrice: mark, PnL: pnl, PnLPct: pnlPct,
			Intent: pos.Intent, OpenedAt: pos.OpenedAt, ClosedAt: e.clock.Now(),
			CloseReason: domain.CloseReasonReconciliation,
		}
		if err := e.storage.SaveClosedTrade(ctx, trade); err != nil {
			return nil, fmt.Errorf("engine.reconcileAgainstExchange: journal reconciliation close: %w", err)
		}
		if err := e.storage.DeletePosition(ctx, pos.Key()); err != nil {
			return nil, fmt.Errorf("engine.reconcileAgainstExchange: delete stale position: %w", err)
		}
		e.notify.Notify(domain.NewEvent(domain.EventSystemError, map[string]any{
			"stage": "reconciliation", "symbol": string(pos.Symbol), "tag": pos.Tag,
			"reason": "position absent from exchange balances at startup",
		}))
	}
	return surviving, nil
}
