// Package engine wires the scheduler, market data state and ingestor,
// exchange adapter, risk gate, portfolio manager, position monitor, and
// strategy host together. Nothing outside this package knows how the
// pieces are assembled.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen-quant/autotrader/config"
	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
	"github.com/halvorsen-quant/autotrader/internal/monitor"
	"github.com/halvorsen-quant/autotrader/internal/portfolio"
	"github.com/halvorsen-quant/autotrader/internal/ports"
	"github.com/halvorsen-quant/autotrader/internal/risk"
	"github.com/halvorsen-quant/autotrader/internal/storage"
	"github.com/halvorsen-quant/autotrader/internal/strategy"
)

// Engine is the assembled control plane. It implements monitor.SignalRouter
// so the position monitor can hand a synthesized CLOSE signal straight
// back into the same admission-then-execution path a scan-originated
// signal takes.
type Engine struct {
	cfg *config.Config

	clock     clock.Clock
	scheduler *clock.Scheduler

	state    *marketdata.State
	ingestor *marketdata.Ingestor
	exch     ports.Exchange

	risk       *risk.Engine
	portfolio  *portfolio.Manager
	monitor    *monitor.Monitor
	strategies *strategy.Host

	storage ports.Storage
	notify  ports.EventSink
	lock    *storage.Lockfile

	allowed domain.Allowlist
}

// New assembles every component from config but performs no I/O — call
// Reconcile then Start to load state and begin running. mdState is built
// by the caller (cmd/engine) because a paper-mode Exchange simulates
// fills against the very same State the ingestor populates here.
func New(cfg *config.Config, clk clock.Clock, exch ports.Exchange, stream ports.TickerStream, mdState *marketdata.State, store ports.Storage, notify ports.EventSink, lock *storage.Lockfile) *Engine {
	allowed := domain.NewAllowlist(cfg.Symbols)
	symbols := allowed.Symbols()

	ingestor := marketdata.NewIngestor(stream, exch, mdState, symbols)

	riskLimits := risk.Limits{
		Allowed:                  allowed,
		MaxPositionPct:           cfg.Risk.MaxPositionPct,
		MaxPositions:             cfg.Risk.MaxPositions,
		MaxTradePct:              cfg.Risk.MaxTradePct,
		MaxDailyLossPct:          cfg.Risk.MaxDailyLossPct,
		MaxDailyTrades:           cfg.Risk.MaxDailyTrades,
		MaxDrawdownPct:           cfg.Risk.MaxDrawdownPct,
		RollbackDailyLossPct:     cfg.Risk.RollbackDailyLossPct,
		ConsecutiveLossesDisable: cfg.Risk.ConsecutiveLossesDisable,
		MinNotional:              cfg.Risk.MinNotional,
	}
	riskEngine := risk.NewEngine(riskLimits, domain.RiskState{}, clk)
	riskEngine.SetFees(domain.FeeTier{Maker: cfg.Fees.Maker, Taker: cfg.Fees.Taker})

	initialPortfolio := domain.Portfolio{Cash: domain.NewMoney(cfg.PaperBalanceUSD)}
	portfolioMgr := portfolio.NewManager(exch, store, notify, clk, initialPortfolio)

	limitsView := ports.RiskLimitsView{
		MaxTradePct: cfg.Risk.MaxTradePct, DefaultTradePct: cfg.Risk.DefaultTradePct,
		MaxPositionPct: cfg.Risk.MaxPositionPct, MaxPositions: cfg.Risk.MaxPositions,
	}
	host := strategy.NewHost(store, notify, limitsView, symbols)

	e := &Engine{
		cfg: cfg, clock: clk, scheduler: clock.NewScheduler(clk, time.Second),
		state: mdState, ingestor: ingestor, exch: exch,
		risk: riskEngine, portfolio: portfolioMgr, strategies: host,
		storage: store, notify: notify, lock: lock, allowed: allowed,
	}
	e.monitor = monitor.New(exch, mdState, store, notify, portfolioMgr, e)
	return e
}

// RouteSignal implements monitor.SignalRouter: a synthesized CLOSE signal
// from the position monitor takes exactly the same gate-then-execute
// path a strategy-originated signal does.
func (e *Engine) RouteSignal(ctx context.Context, sig domain.Signal) error {
	snap := e.portfolio.Snapshot()
	mark, ok := e.state.Marks()[sig.Symbol]
	if !ok {
		return fmt.Errorf("engine.RouteSignal: no mark for %s", sig.Symbol)
	}
	return e.admitAndExecute(ctx, sig, snap, mark, "")
}

// admitAndExecute runs one signal through the risk gate and, if admitted
// or shaped, through portfolio execution. strategyVersion is journaled on
// the resulting SignalRecord for attribution; it is empty for
// monitor-synthesized signals.
func (e *Engine) admitAndExecute(ctx context.Context, sig domain.Signal, snap domain.Portfolio, mark domain.Money, strategyVersion string) error {
	verdict := e.risk.Evaluate(sig, snap, mark)

	record := domain.SignalRecord{
		ID: uuid.NewString(), Symbol: sig.Symbol, Action: sig.Action, SizePct: sig.SizePct,
		Confidence: sig.Confidence, Intent: sig.Intent, Tag: sig.Tag, Reasoning: sig.Reasoning,
		StrategyVersion: strategyVersion, CreatedAt: e.clock.Now(),
	}

	sizePct := sig.SizePct
	switch verdict.Outcome {
	case risk.Rejected:
		record.ActedOn = false
		record.RejectedReason = verdict.RejectReason
		if err := e.storage.SaveSignal(ctx, record); err != nil {
			return err
		}
		e.notify.Notify(domain.NewEvent(domain.EventSignalRejected, map[string]any{
			"symbol": string(sig.Symbol), "reason": verdict.RejectReason,
		}))
		return nil
	case risk.Shaped:
		sizePct = verdict.ShapedSizePct
	}

	record.ActedOn = true
	record.SizePct = sizePct
	if err := e.storage.SaveSignal(ctx, record); err != nil {
		return err
	}

	res, err := e.portfolio.Execute(ctx, sig, sizePct, snap.TotalValue, mark, e.strategies)
	if err != nil {
		e.notify.Notify(domain.NewEvent(domain.EventSystemError, map[string]any{
			"stage": "execute", "symbol": string(sig.Symbol), "err": err.Error(),
		}))
		return err
	}

	var pnl *domain.Money
	if res.ClosedTrade != nil {
		pnl = &res.ClosedTrade.PnL
	}
	e.risk.RecordFill(pnl)
	return nil
}

// Shutdown persists strategy state, releases the lockfile and emits
// system_shutdown; the scheduler has already drained when Start returns.
// Open positions stay open, and unfilled limit orders are not cancelled,
// neither here nor in cmd/engine.
func (e *Engine) Shutdown(ctx context.Context) {
	if err := e.strategies.PersistState(ctx); err != nil {
		slog.Error("engine: failed to persist strategy state at shutdown", "err", err)
	}
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			slog.Error("engine: failed to release lockfile", "err", err)
		}
	}
	e.notify.Notify(domain.NewEvent(domain.EventSystemShutdown, nil))
}
