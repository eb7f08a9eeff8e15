// Package monitor is a 30s-cadence sweep over open positions that
// tracks MAE, synthesizes client-side stop/take-profit closes in paper
// mode, and reconciles exchange-native conditional orders in live mode.
package monitor

import (
	"context"
	"log/slog"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// PositionSource is the subset of portfolio.Manager the monitor needs —
// declared here so this package never imports the portfolio package
// (avoiding an import cycle with internal/engine, which wires both).
type PositionSource interface {
	Snapshot() domain.Portfolio
}

// SignalRouter is how the monitor hands a synthesized CLOSE signal back
// to the engine's admission-then-execution path.
type SignalRouter interface {
	RouteSignal(ctx context.Context, sig domain.Signal) error
}

type Monitor struct {
	exch     ports.Exchange
	state    *marketdata.State
	storage  ports.Storage
	notify   ports.EventSink
	source   PositionSource
	router   SignalRouter
}

func New(exch ports.Exchange, state *marketdata.State, storage ports.Storage, notify ports.EventSink, source PositionSource, router SignalRouter) *Monitor {
	return &Monitor{exch: exch, state: state, storage: storage, notify: notify, source: source, router: router}
}

// Sweep runs one monitor pass over every open position.
func (m *Monitor) Sweep(ctx context.Context) error {
	portfolio := m.source.Snapshot()
	marks := m.state.Marks()

	for _, pos := range portfolio.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok {
			continue
		}
		pos.UpdateMAE(mark)

		if m.exch.Mode() != "live" {
			m.checkPaperStops(ctx, pos, mark)
		}
	}

	if m.exch.Mode() == "live" {
		m.reconcileConditionals(ctx, portfolio)
	}
	return nil
}

func (m *Monitor) checkPaperStops(ctx context.Context, pos domain.OpenPosition, mark domain.Money) {
	var reason domain.CloseReason
	switch {
	case pos.StopLoss != nil && mark.LessOrEqual(*pos.StopLoss):
		reason = domain.CloseReasonStopLoss
	case pos.TakeProfit != nil && mark.GreaterOrEqual(*pos.TakeProfit):
		reason = domain.CloseReasonTakeProfit
	default:
		return
	}

	sig := domain.Signal{
		Symbol: pos.Symbol, Action: domain.ActionClose, Tag: pos.Tag,
		Intent: pos.Intent, CloseReason: reason,
	}
	if err := m.router.RouteSignal(ctx, sig); err != nil {
		slog.Error("monitor: failed to route synthesized close", "symbol", pos.Symbol, "tag", pos.Tag, "err", err)
		return
	}
	m.notify.Notify(domain.NewEvent(domain.EventStopTriggered, map[string]any{
		"symbol": string(pos.Symbol), "tag": pos.Tag, "reason": string(reason),
	}))
}

// reconcileConditionals checks exchange-native conditional orders; a
// ConditionalOrder that has transitioned to filled closes the local
// position at the exchange's fill price without waiting for an
// independent CLOSE signal — the exchange is the source of truth for
// stop triggering in live mode.
func (m *Monitor) reconcileConditionals(ctx context.Context, portfolio domain.Portfolio) {
	conditionals, err := m.storage.LoadConditionalOrders(ctx)
	if err != nil {
		slog.Error("monitor: load conditional orders", "err", err)
		return
	}
	openOrders, err := m.exch.ListOpenOrders(ctx)
	if err != nil {
		slog.Error("monitor: list open orders for reconciliation", "err", err)
		return
	}
	stillOpen := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		stillOpen[o.ID] = true
	}

	for _, c := range conditionals {
		if c.Status != domain.ConditionalActive {
			continue
		}
		if stillOpen[c.ID] {
			continue
		}
		// No longer open at the exchange and was active locally: treat as
		// filled and synthesize a reconciliation close through the normal
		// signal path so cash/position bookkeeping stays in one place.
		reason := domain.CloseReasonStopLoss
		if c.Kind == domain.ConditionalTakeProfit {
			reason = domain.CloseReasonTakeProfit
		}
		sig := domain.Signal{Symbol: c.Symbol, Action: domain.ActionClose, Tag: c.Tag, CloseReason: reason}
		if err := m.router.RouteSignal(ctx, sig); err != nil {
			slog.Error("monitor: failed to route conditional-order close", "symbol", c.Symbol, "err", err)
			continue
		}
		if err := m.storage.UpdateConditionalStatus(ctx, c.ID, domain.ConditionalFilled); err != nil {
			slog.Error("monitor: update conditional status", "err", err)
		}
	}
}
