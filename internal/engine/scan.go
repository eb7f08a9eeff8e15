package engine

import (
	"context"
	"fmt"
	"time"
)

// scanTimeout bounds strategy.analyze() so a hung or slow strategy never
// stalls the scheduler.
const scanTimeout = 10 * time.Second

// Scan is the scheduler's "scan" job handler: gather market state,
// portfolio, and limits, ask the active strategy for signals, then gate
// and execute each one.
func (e *Engine) Scan(ctx context.Context, now time.Time) error {
	e.portfolio.Recompute(e.state.Marks())
	snap := e.portfolio.Snapshot()
	markets := e.state.SnapshotAll()

	analyzeCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	signals, err := e.strategies.Analyze(analyzeCtx, markets, snap, now)
	cancel()
	if err != nil {
		return fmt.Errorf("engine.Scan: analyze: %w", err)
	}

	marks := e.state.Marks()
	version := e.strategies.Version()
	for _, sig := range signals {
		mark, ok := marks[sig.Symbol]
		if !ok {
			continue
		}
		if err := e.admitAndExecute(ctx, sig, snap, mark, version); err != nil {
			return fmt.Errorf("engine.Scan: admit %s: %w", sig.Symbol, err)
		}
		// Re-snapshot after every execution so a batch of signals for
		// distinct symbols sees an up-to-date total_value and position
		// count for the position-count and per-position caps.
		snap = e.portfolio.Snapshot()
	}

	if err := e.strategies.PersistState(ctx); err != nil {
		return fmt.Errorf("engine.Scan: persist strategy state: %w", err)
	}
	return nil
}

// Monitor is the scheduler's "monitor" job handler, run every 30s.
func (e *Engine) Monitor(ctx context.Context, now time.Time) error {
	return e.monitor.Sweep(ctx)
}
