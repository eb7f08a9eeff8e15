package exchange

import (
	"context"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// LiveAdapter talks to a real exchange over go-binance/v2's REST client,
// with a raw websocket book-ticker stream (ws.go) for TickerStream.
// Every REST call is routed through a retrier for rate limiting and
// transient-failure backoff (httpclient.go).
type LiveAdapter struct {
	client  *binance.Client
	retrier *retrier
	stream  *bookTickerStream
}

// NewLiveAdapter builds a LiveAdapter. baseURL/streamURL empty strings
// fall back to go-binance's and Binance's production defaults.
func NewLiveAdapter(apiKey, apiSecret, baseURL, streamURL string) *LiveAdapter {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if streamURL == "" {
		streamURL = "wss://stream.binance.com:9443"
	}
	return &LiveAdapter{
		client:  client,
		retrier: newRetrier(),
		stream:  newBookTickerStream(streamURL),
	}
}

func (a *LiveAdapter) Mode() string { return "live" }

func (a *LiveAdapter) Stream(ctx context.Context, symbols []domain.Symbol, out chan<- domain.Quote) error {
	return a.stream.Stream(ctx, symbols, out)
}

func (a *LiveAdapter) Quote(ctx context.Context, symbol domain.Symbol) (domain.Quote, error) {
	var tickers []*binance.BookTicker
	err := a.retrier.do(ctx, func() error {
		var err error
		tickers, err = a.client.NewListBookTickersService().Symbol(string(symbol)).Do(ctx)
		return err
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange.LiveAdapter.Quote: %w", err)
	}
	if len(tickers) == 0 {
		return domain.Quote{}, fmt.Errorf("exchange.LiveAdapter.Quote: no ticker for %s", symbol)
	}
	t := tickers[0]
	bid, errB := domain.ParseMoney(t.BidPrice)
	ask, errA := domain.ParseMoney(t.AskPrice)
	if errB != nil || errA != nil {
		return domain.Quote{}, fmt.Errorf("exchange.LiveAdapter.Quote: parse book ticker: bid=%v ask=%v", errB, errA)
	}
	mid := bid.Add(ask).MulFloat(0.5)
	return domain.Quote{Symbol: symbol, Price: mid, Spread: ask.Sub(bid)}, nil
}

func (a *LiveAdapter) Candles(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, err
	}
	var klines []*binance.Kline
	err = a.retrier.do(ctx, func() error {
		var err error
		klines, err = a.client.NewKlinesService().Symbol(string(symbol)).Interval(interval).Limit(n).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchange.LiveAdapter.Candles: %w", err)
	}
	out := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		c, perr := klineToCandle(symbol, tf, k)
		if perr != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func klineToCandle(symbol domain.Symbol, tf domain.Timeframe, k *binance.Kline) (domain.Candle, error) {
	open, err := domain.ParseMoney(k.Open)
	if err != nil {
		return domain.Candle{}, err
	}
	high, err := domain.ParseMoney(k.High)
	if err != nil {
		return domain.Candle{}, err
	}
	low, err := domain.ParseMoney(k.Low)
	if err != nil {
		return domain.Candle{}, err
	}
	closePrice, err := domain.ParseMoney(k.Close)
	if err != nil {
		return domain.Candle{}, err
	}
	volume, err := domain.ParseMoney(k.Volume)
	if err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Symbol: symbol, Timeframe: tf,
		TS:     time.UnixMilli(k.OpenTime).UTC(),
		Open:   open, High: high, Low: low, Close: closePrice, Volume: volume,
	}, nil
}

func (a *LiveAdapter) Place(ctx context.Context, req domain.PlaceOrderRequest) (domain.Fill, error) {
	side, err := binanceSide(req.Side)
	if err != nil {
		return domain.Fill{}, err
	}
	svc := a.client.NewCreateOrderService().
		Symbol(string(req.Symbol)).
		Side(binance.SideType(side)).
		Quantity(req.Qty.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	switch req.OrderType {
	case domain.OrderTypeLimit:
		if req.LimitPrice == nil {
			return domain.Fill{}, fmt.Errorf("exchange.LiveAdapter.Place: limit order missing limit_price")
		}
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(binance.TimeInForceTypeGTC).Price(req.LimitPrice.String())
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	// Order creation is sent once through the rate limiter and is not
	// retried here.
	if err := a.retrier.limiter.Wait(ctx); err != nil {
		return domain.Fill{}, fmt.Errorf("exchange.LiveAdapter.Place: rate limiter: %w", err)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("exchange.LiveAdapter.Place: %w", err)
	}
	return fillFromResponse(resp)
}

func fillFromResponse(resp *binance.CreateOrderResponse) (domain.Fill, error) {
	qty, err := domain.ParseMoney(resp.ExecutedQuantity)
	if err != nil {
		return domain.Fill{}, err
	}
	var notional domain.Money
	if resp.CummulativeQuoteQuantity != "" {
		notional, err = domain.ParseMoney(resp.CummulativeQuoteQuantity)
		if err != nil {
			return domain.Fill{}, err
		}
	}
	avgPrice := domain.Zero
	if !qty.IsZero() {
		avgPrice = domain.NewMoney(notional.Div(qty))
	}
	var fee domain.Money
	for _, f := range resp.Fills {
		fm, err := domain.ParseMoney(f.Commission)
		if err == nil {
			fee = fee.Add(fm)
		}
	}
	status := domain.OrderStatusOpen
	if string(resp.Status) == "FILLED" {
		status = domain.OrderStatusFilled
	}
	return domain.Fill{
		OrderID:    resp.ClientOrderID,
		ExchangeID: fmt.Sprintf("%d", resp.OrderID),
		QtyFilled:  qty,
		AvgPrice:   avgPrice,
		Fee:        fee,
		Status:     status,
		FilledAt:   time.Now().UTC(),
	}, nil
}

func (a *LiveAdapter) Cancel(ctx context.Context, orderID string) error {
	return a.retrier.do(ctx, func() error {
		_, err := a.client.NewCancelOrderService().OrigClientOrderID(orderID).Do(ctx)
		return err
	})
}

func (a *LiveAdapter) ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	var orders []*binance.Order
	err := a.retrier.do(ctx, func() error {
		var err error
		orders, err = a.client.NewListOpenOrdersService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchange.LiveAdapter.ListOpenOrders: %w", err)
	}
	out := make([]domain.OrderRecord, 0, len(orders))
	for _, o := range orders {
		qty, _ := domain.ParseMoney(o.OrigQuantity)
		var limit *domain.Money
		if lp, err := domain.ParseMoney(o.Price); err == nil && !lp.IsZero() {
			limit = &lp
		}
		out = append(out, domain.OrderRecord{
			ID:              o.ClientOrderID,
			ExchangeOrderID: fmt.Sprintf("%d", o.OrderID),
			Symbol:          domain.Symbol(o.Symbol),
			Qty:             qty,
			LimitPrice:      limit,
			Status:          domain.OrderStatusOpen,
			CreatedAt:       time.UnixMilli(o.Time).UTC(),
		})
	}
	return out, nil
}

func (a *LiveAdapter) Balances(ctx context.Context) (map[string]domain.Money, error) {
	var account *binance.Account
	err := a.retrier.do(ctx, func() error {
		var err error
		account, err = a.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchange.LiveAdapter.Balances: %w", err)
	}
	out := make(map[string]domain.Money, len(account.Balances))
	for _, b := range account.Balances {
		free, err := domain.ParseMoney(b.Free)
		if err != nil {
			continue
		}
		out[b.Asset] = free
	}
	return out, nil
}

func (a *LiveAdapter) LotStep(ctx context.Context, symbol domain.Symbol) (domain.Money, error) {
	var info *binance.ExchangeInfo
	err := a.retrier.do(ctx, func() error {
		var err error
		info, err = a.client.NewExchangeInfoService().Symbol(string(symbol)).Do(ctx)
		return err
	})
	if err != nil {
		return domain.Zero, fmt.Errorf("exchange.LiveAdapter.LotStep: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != string(symbol) {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			return domain.ParseMoney(f.StepSize)
		}
	}
	return domain.Zero, fmt.Errorf("exchange.LiveAdapter.LotStep: no LOT_SIZE filter for %s", symbol)
}

func (a *LiveAdapter) FeeTier(ctx context.Context) (domain.FeeTier, error) {
	var account *binance.Account
	err := a.retrier.do(ctx, func() error {
		var err error
		account, err = a.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return domain.FeeTier{}, fmt.Errorf("exchange.LiveAdapter.FeeTier: %w", err)
	}
	return domain.FeeTier{
		Maker: float64(account.MakerCommission) / 10000,
		Taker: float64(account.TakerCommission) / 10000,
	}, nil
}

// SetStops installs exchange-native OCO-style conditional orders. Binance
// spot has no single "attach stop to position" primitive, so each side is
// placed as an independent STOP_LOSS_LIMIT / TAKE_PROFIT_LIMIT order tagged
// via client order ID so the monitor can recognize and reconcile them.
func (a *LiveAdapter) SetStops(ctx context.Context, symbol domain.Symbol, tag string, stopLoss, takeProfit *domain.Money) ([]domain.ConditionalOrder, error) {
	var out []domain.ConditionalOrder
	place := func(kind domain.ConditionalKind, trigger domain.Money) error {
		orderType := binance.OrderTypeStopLossLimit
		if kind == domain.ConditionalTakeProfit {
			orderType = binance.OrderTypeTakeProfitLimit
		}
		clientID := fmt.Sprintf("%s-%s-%s", tag, kind, symbol)
		var resp *binance.CreateOrderResponse
		err := a.retrier.do(ctx, func() error {
			var err error
			resp, err = a.client.NewCreateOrderService().
				Symbol(string(symbol)).
				Side(binance.SideTypeSell).
				Type(orderType).
				TimeInForce(binance.TimeInForceTypeGTC).
				StopPrice(trigger.String()).
				Price(trigger.String()).
				NewClientOrderID(clientID).
				Do(ctx)
			return err
		})
		if err != nil {
			return err
		}
		out = append(out, domain.ConditionalOrder{
			ID: resp.ClientOrderID, Symbol: symbol, Tag: tag,
			Kind: kind, TriggerPrice: trigger, Status: domain.ConditionalActive,
		})
		return nil
	}
	if stopLoss != nil {
		if err := place(domain.ConditionalStopLoss, *stopLoss); err != nil {
			return out, fmt.Errorf("exchange.LiveAdapter.SetStops: stop_loss: %w", err)
		}
	}
	if takeProfit != nil {
		if err := place(domain.ConditionalTakeProfit, *takeProfit); err != nil {
			return out, fmt.Errorf("exchange.LiveAdapter.SetStops: take_profit: %w", err)
		}
	}
	return out, nil
}
