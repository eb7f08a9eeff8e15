package domain

// Portfolio is the authoritative cash + positions snapshot. Invariant:
// TotalValue = Cash + sum(position.Qty * current_price).
type Portfolio struct {
	Cash         Money
	TotalValue   Money
	Positions    []OpenPosition
	RecentTrades []ClosedTrade // capped at 100, newest first
	DailyPnL     Money
	TotalPnL     Money
	FeesTotal    Money
}

const maxRecentTrades = 100

// PushTrade prepends a closed trade and trims to the retention cap.
func (p *Portfolio) PushTrade(t ClosedTrade) {
	p.RecentTrades = append([]ClosedTrade{t}, p.RecentTrades...)
	if len(p.RecentTrades) > maxRecentTrades {
		p.RecentTrades = p.RecentTrades[:maxRecentTrades]
	}
}

// Position looks up an open position by key.
func (p *Portfolio) Position(key PositionKey) (*OpenPosition, bool) {
	for i := range p.Positions {
		if p.Positions[i].Key() == key {
			return &p.Positions[i], true
		}
	}
	return nil, false
}

// UpsertPosition replaces or appends a position by key.
func (p *Portfolio) UpsertPosition(pos OpenPosition) {
	for i := range p.Positions {
		if p.Positions[i].Key() == pos.Key() {
			p.Positions[i] = pos
			return
		}
	}
	p.Positions = append(p.Positions, pos)
}

// RemovePosition deletes a position by key (called when qty reaches zero).
func (p *Portfolio) RemovePosition(key PositionKey) {
	for i := range p.Positions {
		if p.Positions[i].Key() == key {
			p.Positions = append(p.Positions[:i], p.Positions[i+1:]...)
			return
		}
	}
}

// Recompute recalculates TotalValue from Cash and marked positions. Callers
// supply the latest known price per symbol; a symbol with no known price
// contributes its last-stored notional of zero rather than erroring.
func (p *Portfolio) Recompute(marks map[Symbol]Money) {
	total := p.Cash
	for _, pos := range p.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok {
			continue
		}
		total = total.Add(pos.Notional(mark))
	}
	p.TotalValue = total
}
