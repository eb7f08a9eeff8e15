package ports

import (
	"context"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Exchange is the trading-venue capability. Both PaperAdapter and
// LiveAdapter satisfy it identically; the engine never type-switches on
// which one it holds.
type Exchange interface {
	Quote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error)
	Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, n int) ([]domain.Candle, error)
	Place(ctx context.Context, req domain.PlaceOrderRequest) (domain.Fill, error)
	Cancel(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error)
	Balances(ctx context.Context) (map[string]domain.Money, error)

	// LotStep returns the exchange's quantity rounding step for a symbol.
	// A symbol whose lot step cannot be resolved is never traded
	// unrounded: portfolio.Manager fails every BUY/SELL for it.
	LotStep(ctx context.Context, symbol domain.Symbol) (domain.Money, error)

	// FeeTier returns the maker/taker fee schedule currently in effect.
	FeeTier(ctx context.Context) (domain.FeeTier, error)

	// SetStops installs or updates exchange-native stop-loss/take-profit
	// orders for a position. LiveAdapter translates these to real
	// conditional orders; PaperAdapter is a no-op, since stops are
	// enforced client-side in paper mode.
	SetStops(ctx context.Context, symbol domain.Symbol, tag string, stopLoss, takeProfit *domain.Money) ([]domain.ConditionalOrder, error)

	// Mode reports "paper" or "live" for logging/journaling.
	Mode() string
}

// TickerStream is the streaming-ticker half of the exchange capability,
// consumed by the ingestion task. Separate from Exchange because
// PaperAdapter is fed by a PollingStream over a LiveAdapter rather than
// implementing one itself.
type TickerStream interface {
	// Stream delivers quotes until ctx is cancelled or the implementation
	// gives up. The implementation owns its reconnect/backoff; an error
	// return means it gave up, and the ingestion task restarts the same
	// stream after a cooldown. No implementation degrades to REST polling
	// on its own.
	Stream(ctx context.Context, symbols []domain.Symbol, out chan<- domain.Quote) error
}
