// Package portfolio is the single authority for positions and cash, and
// the execution pipeline that turns an
// admitted signal into a fill, a journaled trade, and a strategy
// callback. Every mutation for a given symbol is serialized through a
// per-symbol mutex so two concurrently-admitted signals for the same
// symbol can never race each other's qty-weighted average entry.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// Manager owns the live Portfolio and drives execution.
type Manager struct {
	exch    ports.Exchange
	storage ports.Storage
	notify  ports.EventSink
	clock   interface{ Now() time.Time }

	mu        sync.Mutex // protects portfolio and the symbol-lock registry
	portfolio domain.Portfolio
	locks     map[domain.Symbol]*sync.Mutex
}

func NewManager(exch ports.Exchange, storage ports.Storage, notify ports.EventSink, clock interface{ Now() time.Time }, initial domain.Portfolio) *Manager {
	return &Manager{
		exch: exch, storage: storage, notify: notify, clock: clock,
		portfolio: initial,
		locks:     make(map[domain.Symbol]*sync.Mutex),
	}
}

func (m *Manager) lockFor(symbol domain.Symbol) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.locks[symbol] = l
	}
	return l
}

// Snapshot returns a copy of the current portfolio for the strategy host
// and risk gate to read. Positions/RecentTrades are copied so the caller
// never aliases internal slices.
func (m *Manager) Snapshot() domain.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.portfolio
	p.Positions = append([]domain.OpenPosition(nil), m.portfolio.Positions...)
	p.RecentTrades = append([]domain.ClosedTrade(nil), m.portfolio.RecentTrades...)
	return p
}

// Restore replaces the held portfolio wholesale. Used once at startup to
// load positions, cash, and recent trades back from storage before the
// scheduler starts ticking.
func (m *Manager) Restore(p domain.Portfolio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio = p
}

// Recompute recalculates TotalValue against the latest marks.
func (m *Manager) Recompute(marks map[domain.Symbol]domain.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio.Recompute(marks)
}

// ExecutionResult is what Execute reports back to the caller (internal/engine)
// for risk-counter updates and strategy callbacks.
type ExecutionResult struct {
	Fill        domain.Fill
	ClosedTrade *domain.ClosedTrade // non-nil for every SELL/CLOSE fill, partial or full; a partial sell leaves the position open
}

// Execute runs the size-round-place-journal-notify pipeline for one
// admitted BUY/SELL/CLOSE signal. sizePct is the gate's (possibly
// shaped) size; totalValue and
// mark are captured at admission time by the caller under the same scan.
func (m *Manager) Execute(ctx context.Context, sig domain.Signal, sizePct float64, totalValue, mark domain.Money, strat ports.Strategy) (*ExecutionResult, error) {
	lock := m.lockFor(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	key := sig.Key()

	qty, req, err := m.buildRequest(sig, sizePct, totalValue, mark, key)
	if err != nil {
		return nil, err
	}

	fill, err := m.exch.Place(ctx, req)
	if err != nil {
		return nil, m.reconcile(ctx, req, err)
	}

	result, err := m.apply(ctx, sig, key, qty, fill, strat)
	if err != nil {
		return nil, fmt.Errorf("portfolio.Manager.Execute: journal: %w", err)
	}

	if m.exch.Mode() == "live" && result.ClosedTrade == nil {
		if pos, ok := m.Snapshot().Position(key); ok {
			if _, err := m.exch.SetStops(ctx, sig.Symbol, sig.Tag, pos.StopLoss, pos.TakeProfit); err != nil {
				// Best-effort: a failed stop install doesn't unwind the
				// fill, but it must be visible to an operator.
				m.notify.Notify(domain.NewEvent(domain.EventSystemError, map[string]any{
					"stage": "set_stops", "symbol": string(sig.Symbol), "err": err.Error(),
				}))
			}
		}
	}

	return result, nil
}

func (m *Manager) buildRequest(sig domain.Signal, sizePct float64, totalValue, mark domain.Money, key domain.PositionKey) (domain.Money, domain.PlaceOrderRequest, error) {
	if sig.Action == domain.ActionClose {
		m.mu.Lock()
		pos, ok := m.portfolio.Position(key)
		qty := domain.Zero
		if ok {
			qty = pos.Qty
		}
		m.mu.Unlock()
		if !ok || qty.IsZero() {
			return domain.Zero, domain.PlaceOrderRequest{}, fmt.Errorf("portfolio.Manager: close requested for unknown position %s/%s", sig.Symbol, sig.Tag)
		}
		return qty, domain.PlaceOrderRequest{
			Symbol: sig.Symbol, Side: domain.ActionSell, Qty: qty,
			OrderType: domain.OrderTypeMarket, ClientOrderID: uuid.NewString(),
		}, nil
	}

	notional := totalValue.MulFloat(sizePct)
	if mark.IsZero() {
		return domain.Zero, domain.PlaceOrderRequest{}, fmt.Errorf("portfolio.Manager: zero mark price for %s", sig.Symbol)
	}
	qty := domain.NewMoney(notional.Div(mark))

	ctx := context.Background()
	step, err := m.exch.LotStep(ctx, sig.Symbol)
	if err != nil {
		return domain.Zero, domain.PlaceOrderRequest{}, fmt.Errorf("portfolio.Manager: %w", err)
	}
	qty = qty.FloorToStep(step)
	if qty.IsZero() || qty.IsNegative() {
		return domain.Zero, domain.PlaceOrderRequest{}, fmt.Errorf("portfolio.Manager: sized quantity rounds to zero at this lot step")
	}

	return qty, domain.PlaceOrderRequest{
		Symbol: sig.Symbol, Side: sig.Action, Qty: qty,
		OrderType: sig.OrderType, LimitPrice: sig.LimitPrice,
		ClientOrderID: uuid.NewString(),
	}, nil
}

// apply merges the fill into the position, journals the trade and cash
// delta, and invokes the strategy callbacks (steps 3, 4, 6).
func (m *Manager) apply(ctx context.Context, sig domain.Signal, key domain.PositionKey, qty domain.Money, fill domain.Fill, strat ports.Strategy) (*ExecutionResult, error) {
	m.mu.Lock()
	now := m.now()
	var closed *domain.ClosedTrade

	if sig.Action == domain.ActionBuy {
		pos, ok := m.portfolio.Position(key)
		var p domain.OpenPosition
		if ok {
			p = *pos
		} else {
			p = domain.OpenPosition{Symbol: sig.Symbol, Tag: sig.Tag, Side: domain.SideLong, Intent: sig.Intent, OpenedAt: now}
		}
		p.ApplyBuy(fill.QtyFilled, fill.AvgPrice)
		p.StopLoss = sig.StopLoss
		p.TakeProfit = sig.TakeProfit
		m.portfolio.UpsertPosition(p)
		m.portfolio.Cash = m.portfolio.Cash.Sub(fill.AvgPrice.Mul(fill.QtyFilled)).Sub(fill.Fee)
		m.portfolio.FeesTotal = m.portfolio.FeesTotal.Add(fill.Fee)
	} else {
		pos, ok := m.portfolio.Position(key)
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("portfolio.Manager.apply: no open position for %s/%s", sig.Symbol, sig.Tag)
		}
		pnl, pnlPct := domain.ComputeClose(pos.AvgEntry, fill.AvgPrice, fill.QtyFilled, fill.Fee)
		remaining := pos.Qty.Sub(fill.QtyFilled)

		reason := sig.CloseReason
		if reason == "" {
			reason = domain.CloseReasonSignal
		}
		trade := domain.ClosedTrade{
			ID: uuid.NewString(), Symbol: pos.Symbol, Tag: pos.Tag,
			Qty: fill.QtyFilled, EntryPrice: pos.AvgEntry, ExitPrice: fill.AvgPrice,
			PnL: pnl, PnLPct: pnlPct, Fees: fill.Fee, Intent: pos.Intent,
			StrategyVersion: strat.Version(), OpenedAt: pos.OpenedAt, ClosedAt: now,
			CloseReason: reason, MAECarried: pos.MAE,
		}
		m.portfolio.Cash = m.portfolio.Cash.Add(fill.AvgPrice.Mul(fill.QtyFilled)).Sub(fill.Fee)
		m.portfolio.FeesTotal = m.portfolio.FeesTotal.Add(fill.Fee)
		m.portfolio.DailyPnL = m.portfolio.DailyPnL.Add(pnl)
		m.portfolio.TotalPnL = m.portfolio.TotalPnL.Add(pnl)
		m.portfolio.PushTrade(trade)

		if remaining.IsZero() || remaining.IsNegative() {
			m.portfolio.RemovePosition(key)
		} else {
			pos.Qty = remaining
			m.portfolio.UpsertPosition(*pos)
		}
		closed = &trade
	}
	m.mu.Unlock()

	if err := m.journal(ctx, sig, qty, fill, closed); err != nil {
		return nil, err
	}

	strat.OnFill(sig.Symbol, sig.Action, fill.QtyFilled, fill.AvgPrice, sig.Intent, sig.Tag)
	if closed != nil {
		strat.OnPositionClosed(sig.Symbol, sig.Tag, closed.PnL, closed.PnLPct)
	}
	m.notify.Notify(domain.NewEvent(domain.EventTradeExecuted, map[string]any{
		"symbol": string(sig.Symbol), "side": string(sig.Action), "qty": fill.QtyFilled.String(),
	}))

	return &ExecutionResult{Fill: fill, ClosedTrade: closed}, nil
}

func (m *Manager) journal(ctx context.Context, sig domain.Signal, qty domain.Money, fill domain.Fill, closed *domain.ClosedTrade) error {
	if err := m.storage.SaveOrder(ctx, domain.OrderRecord{
		ID: fill.OrderID, ExchangeOrderID: fill.ExchangeID, Symbol: sig.Symbol,
		Side: sig.Action, Qty: qty, Status: fill.Status, CreatedAt: m.now(),
		FilledAt: &fill.FilledAt, FillPrice: fill.AvgPrice, Fee: fill.Fee,
	}); err != nil {
		return fmt.Errorf("journal order: %w", err)
	}
	if closed != nil {
		if err := m.storage.SaveClosedTrade(ctx, *closed); err != nil {
			return fmt.Errorf("journal closed trade: %w", err)
		}
	}
	if pos, ok := m.Snapshot().Position(sig.Key()); ok {
		if err := m.storage.UpsertPosition(ctx, *pos); err != nil {
			return fmt.Errorf("journal position: %w", err)
		}
	} else if closed != nil {
		if err := m.storage.DeletePosition(ctx, keyOf(*closed)); err != nil {
			return fmt.Errorf("journal position delete: %w", err)
		}
	}
	if err := m.storage.SaveCash(ctx, m.Snapshot().Cash); err != nil {
		return fmt.Errorf("journal cash: %w", err)
	}
	return nil
}

// reconcile is invoked when Place itself errored: poll the exchange for
// the order's terminal state before concluding it never
// filled. Never re-submits without proof the order did not fill.
func (m *Manager) reconcile(ctx context.Context, req domain.PlaceOrderRequest, placeErr error) error {
	open, err := m.exch.ListOpenOrders(ctx)
	if err == nil {
		for _, o := range open {
			if o.ID == req.ClientOrderID {
				// Still open at the exchange — leave it and report the
				// placement as ambiguous. The order is not journaled here,
				// and no later pass checks its state.
				return fmt.Errorf("portfolio.Manager: place ambiguous, order %s still open at exchange: %w", req.ClientOrderID, placeErr)
			}
		}
	}
	if saveErr := m.storage.SaveSignal(ctx, domain.SignalRecord{
		ID: req.ClientOrderID, Symbol: req.Symbol, Action: req.Side,
		ActedOn: false, RejectedReason: "post_place_failure", CreatedAt: m.now(),
	}); saveErr != nil {
		return fmt.Errorf("portfolio.Manager.reconcile: journal rejected signal: %w", saveErr)
	}
	return fmt.Errorf("portfolio.Manager: place failed, confirmed not filled: %w", placeErr)
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now()
	}
	return time.Now().UTC()
}

// Key returns the PositionKey a ClosedTrade corresponds to.
func keyOf(t domain.ClosedTrade) domain.PositionKey {
	return domain.PositionKey{Symbol: t.Symbol, Tag: t.Tag}
}
