package domain

import "time"

// OrderStatus is the exchange-reported lifecycle of a placed order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// PlaceOrderRequest is what Portfolio/Execution asks the exchange adapter
// to do.
type PlaceOrderRequest struct {
	Symbol     Symbol
	Side       Action // ActionBuy or ActionSell only
	Qty        Money
	OrderType  OrderType
	LimitPrice *Money
	// ClientOrderID lets the caller recognize this request again when
	// reconciling via list_open_orders after a place() timeout.
	ClientOrderID string
}

// Fill is the terminal result of a placed order.
type Fill struct {
	OrderID     string
	ExchangeID  string
	QtyFilled   Money
	AvgPrice    Money
	Fee         Money
	Status      OrderStatus
	FilledAt    time.Time
}

// ConditionalKind distinguishes exchange-native stop orders (live mode
// only).
type ConditionalKind string

const (
	ConditionalStopLoss   ConditionalKind = "stop_loss"
	ConditionalTakeProfit ConditionalKind = "take_profit"
)

// ConditionalStatus mirrors the exchange-side lifecycle of a conditional
// order.
type ConditionalStatus string

const (
	ConditionalActive    ConditionalStatus = "active"
	ConditionalFilled    ConditionalStatus = "filled"
	ConditionalCancelled ConditionalStatus = "cancelled"
)

// ConditionalOrder mirrors an exchange-native stop so a restart can resume
// enforcement without re-deriving it from local position state.
type ConditionalOrder struct {
	ID           string
	Symbol       Symbol
	Tag          string
	Kind         ConditionalKind
	TriggerPrice Money
	Status       ConditionalStatus
}

// FeeTier is the maker/taker schedule currently in effect, refreshed by
// the fee-refresh job.
type FeeTier struct {
	Maker float64
	Taker float64
}

// RoundTripFee is the effective round-trip cost the risk engine compares
// against expected move, requiring the expected move to clear 3x fees
// before a take-profit target is considered worth the trade.
func (f FeeTier) RoundTripFee() float64 {
	return f.Maker + f.Taker
}
