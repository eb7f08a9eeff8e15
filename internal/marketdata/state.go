// Package marketdata holds the single in-memory source of truth for the
// latest quote and recent candle history per symbol. Writers are
// serialized through State's mutex;
// readers get a defensively-copied snapshot so a scan can never observe
// a ring buffer mid-mutation.
package marketdata

import (
	"sync"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Retention sizes the candle rings. 5m candles get the deepest history
// since strategies most often compute EMA/RSI on that tier; 1h and 1d
// need far fewer buckets for the same lookback window.
const (
	retention5m = 576 // 2 days
	retention1h = 720 // 30 days
	retention1d = 400 // ~13 months
)

type symbolState struct {
	quote   domain.Quote
	hasQuote bool
	ring5m  *domain.CandleRing
	ring1h  *domain.CandleRing
	ring1d  *domain.CandleRing
}

// State is the single-writer/many-reader market snapshot for the fixed
// symbol set the engine trades.
type State struct {
	mu      sync.RWMutex
	symbols map[domain.Symbol]*symbolState
}

// NewState preallocates per-symbol rings for every symbol in the
// allowlist; the engine never trades a symbol outside this fixed set.
func NewState(allowed domain.Allowlist) *State {
	s := &State{symbols: make(map[domain.Symbol]*symbolState, len(allowed))}
	for sym := range allowed {
		s.symbols[sym] = &symbolState{
			ring5m: domain.NewCandleRing(retention5m),
			ring1h: domain.NewCandleRing(retention1h),
			ring1d: domain.NewCandleRing(retention1d),
		}
	}
	return s
}

// UpdateQuote records the latest top-of-book for symbol. A quote for a
// symbol outside the allowlist is silently dropped — the ingestion loop
// never subscribes to one, but a stale stream message could still race
// a config reload.
func (s *State) UpdateQuote(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.symbols[q.Symbol]
	if !ok {
		return
	}
	st.quote = q
	st.hasQuote = true
}

// PushCandle appends a candle to the ring for its timeframe. Invalid
// candles (failing domain.Candle.Validate) are the caller's
// responsibility to filter before calling this.
func (s *State) PushCandle(c domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.symbols[c.Symbol]
	if !ok {
		return
	}
	switch c.Timeframe {
	case domain.Timeframe5m:
		st.ring5m.Push(c)
	case domain.Timeframe1h:
		st.ring1h.Push(c)
	case domain.Timeframe1d:
		st.ring1d.Push(c)
	}
}

// Snapshot returns a SymbolData for symbol built from the latest quote
// and current candle rings. The second return is false if no quote has
// ever been observed for symbol — callers must skip it for this scan
// rather than act on a zero-value price.
func (s *State) Snapshot(symbol domain.Symbol) (domain.SymbolData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok || !st.hasQuote {
		return domain.SymbolData{}, false
	}
	return domain.SymbolData{
		Symbol:    symbol,
		Price:     st.quote.Price,
		Spread:    st.quote.Spread,
		Volume24h: st.quote.Volume24h,
		Candles5m: st.ring5m.Slice(),
		Candles1h: st.ring1h.Slice(),
		Candles1d: st.ring1d.Slice(),
	}, true
}

// SnapshotAll returns a SymbolData for every symbol that has at least
// one observed quote, keyed by symbol.
func (s *State) SnapshotAll() map[domain.Symbol]domain.SymbolData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Symbol]domain.SymbolData, len(s.symbols))
	for sym, st := range s.symbols {
		if !st.hasQuote {
			continue
		}
		out[sym] = domain.SymbolData{
			Symbol:    sym,
			Price:     st.quote.Price,
			Spread:    st.quote.Spread,
			Volume24h: st.quote.Volume24h,
			Candles5m: st.ring5m.Slice(),
			Candles1h: st.ring1h.Slice(),
			Candles1d: st.ring1d.Slice(),
		}
	}
	return out
}

// Marks returns the latest mid price per symbol, used by Portfolio.Recompute
// and the risk engine's drawdown check.
func (s *State) Marks() map[domain.Symbol]domain.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Symbol]domain.Money, len(s.symbols))
	for sym, st := range s.symbols {
		if st.hasQuote {
			out[sym] = st.quote.Price
		}
	}
	return out
}
