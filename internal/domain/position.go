package domain

import "time"

// PositionKey identifies an OpenPosition. A symbol may hold multiple
// positions with distinct tags simultaneously.
type PositionKey struct {
	Symbol Symbol
	Tag    string
}

// OpenPosition is a live long position. Created on first buy with a tag;
// additional buys with the same tag average into AvgEntry (qty-weighted);
// partial sells reduce Qty without changing AvgEntry; destroyed when Qty
// reaches zero, at which point a ClosedTrade is journaled.
type OpenPosition struct {
	Symbol    Symbol
	Tag       string
	Side      Side
	Qty       Money
	AvgEntry  Money
	OpenedAt  time.Time
	Intent    Intent
	StopLoss  *Money
	TakeProfit *Money
	// MAE is the max adverse excursion: the lowest unrealized percentage
	// seen while the position was open (negative or zero; 0 means never
	// underwater).
	MAE float64
}

func (p OpenPosition) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Tag: p.Tag}
}

// UnrealizedPct returns the unrealized return at the given mark price.
func (p OpenPosition) UnrealizedPct(mark Money) float64 {
	if p.AvgEntry.IsZero() {
		return 0
	}
	return mark.Sub(p.AvgEntry).Div(p.AvgEntry)
}

// Notional returns the position's current notional value at the given mark.
func (p OpenPosition) Notional(mark Money) Money {
	return p.Qty.Mul(mark)
}

// ApplyBuy merges a fill into the position: qty-weighted average entry.
func (p *OpenPosition) ApplyBuy(qty, price Money) {
	if p.Qty.IsZero() {
		p.AvgEntry = price
		p.Qty = qty
		return
	}
	totalCost := p.Qty.Mul(p.AvgEntry).Add(qty.Mul(price))
	newQty := p.Qty.Add(qty)
	p.AvgEntry = totalCost.Div2(newQty)
	p.Qty = newQty
}

// Div2 divides two Money values and returns a Money (rounded), unlike Div
// which returns a plain float ratio. Used for cost-basis averaging where
// both operands are monetary and the result must stay a Money.
func (m Money) Div2(o Money) Money {
	if o.IsZero() {
		return Zero
	}
	return Money{d: m.d.Div(o.d).Round(moneyScale)}
}

// UpdateMAE records the worst unrealized percentage seen so far.
func (p *OpenPosition) UpdateMAE(mark Money) {
	u := p.UnrealizedPct(mark)
	if u < p.MAE {
		p.MAE = u
	}
}

// ClosedTrade is an immutable journal record of a fully or partially
// closed position leg.
type ClosedTrade struct {
	ID              string
	Symbol          Symbol
	Tag             string
	Qty             Money
	EntryPrice      Money
	ExitPrice       Money
	PnL             Money
	PnLPct          float64
	Fees            Money
	Intent          Intent
	StrategyVersion string
	StrategyRegime  string
	OpenedAt        time.Time
	ClosedAt        time.Time
	CloseReason     CloseReason
	MAECarried      float64
}

// ComputeClose builds the pnl fields for closing qty shares at exitPrice,
// charging fees on this leg. A buy followed by a matching close at the
// same price yields pnl = -fees, never zero or positive.
func ComputeClose(entry, exit, qty, fees Money) (pnl Money, pnlPct float64) {
	gross := exit.Sub(entry).Mul(qty)
	pnl = gross.Sub(fees)
	if entry.IsZero() || qty.IsZero() {
		return pnl, 0
	}
	basis := entry.Mul(qty)
	pnlPct = pnl.Div(basis)
	return pnl, pnlPct
}
