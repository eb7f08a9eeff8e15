// Package exchange provides a PaperAdapter that simulates fills against
// the live market-data snapshot, and a
// LiveAdapter that talks to a real exchange. Both satisfy ports.Exchange
// identically so the engine never branches on which one it holds.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
)

// paperSlippage is applied to every simulated market fill, in the
// direction that disadvantages the trader — a buy fills slightly above
// the quoted price, a sell slightly below.
const paperSlippage = 0.0005

// limitOrderExpiry is how long an unfilled paper limit order is kept
// before ListOpenOrders reports it expired.
const limitOrderExpiry = 24 * time.Hour

type pendingLimitOrder struct {
	req       domain.PlaceOrderRequest
	createdAt time.Time
}

// PaperAdapter simulates order execution against marketdata.State quotes.
// It never touches a real exchange; Balances is purely a local ledger
// seeded at construction.
type PaperAdapter struct {
	mu sync.Mutex

	state   *marketdata.State
	clock   interface{ Now() time.Time }
	fees    domain.FeeTier
	lotStep map[domain.Symbol]domain.Money

	balances map[string]domain.Money
	open     map[string]*pendingLimitOrder
}

// NewPaperAdapter seeds the paper ledger with startCashUSD and the given
// fee schedule and lot steps. Symbols without a configured lot step
// cannot be traded — callers are expected to drop such a symbol from
// the tradeable set rather than round against a step of zero.
func NewPaperAdapter(state *marketdata.State, clock interface{ Now() time.Time }, startCashUSD domain.Money, fees domain.FeeTier, lotStep map[domain.Symbol]domain.Money) *PaperAdapter {
	return &PaperAdapter{
		state:    state,
		clock:    clock,
		fees:     fees,
		lotStep:  lotStep,
		balances: map[string]domain.Money{"USD": startCashUSD},
		open:     make(map[string]*pendingLimitOrder),
	}
}

func (p *PaperAdapter) Mode() string { return "paper" }

func (p *PaperAdapter) Quote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	snap, ok := p.state.Snapshot(symbol)
	if !ok {
		return domain.Quote{}, fmt.Errorf("exchange.PaperAdapter.Quote: no quote observed for %s", symbol)
	}
	return domain.Quote{Symbol: symbol, Price: snap.Price, Spread: snap.Spread, Volume24h: snap.Volume24h}, nil
}

func (p *PaperAdapter) Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	snap, ok := p.state.Snapshot(symbol)
	if !ok {
		return nil, nil
	}
	var src []domain.Candle
	switch tf {
	case domain.Timeframe5m:
		src = snap.Candles5m
	case domain.Timeframe1h:
		src = snap.Candles1h
	case domain.Timeframe1d:
		src = snap.Candles1d
	}
	if n > 0 && n < len(src) {
		src = src[len(src)-n:]
	}
	return src, nil
}

// Place simulates a fill. Market orders fill immediately at the current
// quote plus slippage. A limit order fills immediately if it already
// crosses the current quote, otherwise it is parked as an open order
// until Cancel, or until ListOpenOrders reports it expired. A parked order
// is never re-checked against later quotes, so it never fills.
func (p *PaperAdapter) Place(ctx context.Context, req domain.PlaceOrderRequest) (domain.Fill, error) {
	quote, err := p.Quote(ctx, req.Symbol)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("exchange.PaperAdapter.Place: %w", err)
	}

	fillNow := req.OrderType == domain.OrderTypeMarket || req.OrderType == ""
	if !fillNow && req.LimitPrice != nil {
		fillNow = limitCrosses(req.Side, *req.LimitPrice, quote.Price)
	}

	orderID := req.ClientOrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	if !fillNow {
		p.mu.Lock()
		p.open[orderID] = &pendingLimitOrder{req: req, createdAt: p.now()}
		p.mu.Unlock()
		return domain.Fill{OrderID: orderID, Status: domain.OrderStatusOpen}, nil
	}

	price := p.slippedPrice(req.Side, quote.Price)
	if req.OrderType == domain.OrderTypeLimit && req.LimitPrice != nil {
		price = *req.LimitPrice
	}

	notional := price.Mul(req.Qty)
	fee := notional.MulFloat(p.fees.Taker)

	p.mu.Lock()
	cash := p.balances["USD"]
	if req.Side == domain.ActionBuy {
		p.balances["USD"] = cash.Sub(notional).Sub(fee)
	} else {
		p.balances["USD"] = cash.Add(notional).Sub(fee)
	}
	p.mu.Unlock()

	return domain.Fill{
		OrderID:    orderID,
		ExchangeID: orderID,
		QtyFilled:  req.Qty,
		AvgPrice:   price,
		Fee:        fee,
		Status:     domain.OrderStatusFilled,
		FilledAt:   p.now(),
	}, nil
}

func limitCrosses(side domain.Action, limit, mark domain.Money) bool {
	if side == domain.ActionBuy {
		return limit.GreaterOrEqual(mark)
	}
	return limit.LessOrEqual(mark)
}

func (p *PaperAdapter) slippedPrice(side domain.Action, mark domain.Money) domain.Money {
	if side == domain.ActionBuy {
		return mark.MulFloat(1 + paperSlippage)
	}
	return mark.MulFloat(1 - paperSlippage)
}

func (p *PaperAdapter) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}

func (p *PaperAdapter) Cancel(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.open[orderID]; !ok {
		return fmt.Errorf("exchange.PaperAdapter.Cancel: unknown order %s", orderID)
	}
	delete(p.open, orderID)
	return nil
}

func (p *PaperAdapter) ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]domain.OrderRecord, 0, len(p.open))
	for id, o := range p.open {
		status := domain.OrderStatusOpen
		if now.Sub(o.createdAt) > limitOrderExpiry {
			status = domain.OrderStatusExpired
		}
		out = append(out, domain.OrderRecord{
			ID:         id,
			Symbol:     o.req.Symbol,
			Side:       o.req.Side,
			Qty:        o.req.Qty,
			LimitPrice: o.req.LimitPrice,
			Status:     status,
			CreatedAt:  o.createdAt,
		})
	}
	return out, nil
}

func (p *PaperAdapter) Balances(ctx context.Context) (map[string]domain.Money, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]domain.Money, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *PaperAdapter) LotStep(ctx context.Context, symbol domain.Symbol) (domain.Money, error) {
	step, ok := p.lotStep[symbol]
	if !ok {
		return domain.Zero, fmt.Errorf("exchange.PaperAdapter.LotStep: no lot step configured for %s", symbol)
	}
	return step, nil
}

func (p *PaperAdapter) FeeTier(ctx context.Context) (domain.FeeTier, error) {
	return p.fees, nil
}

// SetStops is a no-op in paper mode — stops are enforced client-side by
// the position monitor instead.
func (p *PaperAdapter) SetStops(ctx context.Context, symbol domain.Symbol, tag string, stopLoss, takeProfit *domain.Money) ([]domain.ConditionalOrder, error) {
	return nil, nil
}
