package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

type fakeExchange struct {
	mode  string
	price domain.Money
	step  domain.Money
	fee   domain.FeeTier
}

func (f *fakeExchange) Quote(ctx context.Context, s domain.Symbol) (domain.Quote, error) {
	return domain.Quote{Symbol: s, Price: f.price}, nil
}
func (f *fakeExchange) Candles(ctx context.Context, s domain.Symbol, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) Place(ctx context.Context, req domain.PlaceOrderRequest) (domain.Fill, error) {
	notional := f.price.Mul(req.Qty)
	fee := notional.MulFloat(f.fee.Taker)
	return domain.Fill{
		OrderID: req.ClientOrderID, ExchangeID: req.ClientOrderID,
		QtyFilled: req.Qty, AvgPrice: f.price, Fee: fee,
		Status: domain.OrderStatusFilled, FilledAt: time.Now().UTC(),
	}, nil
}
func (f *fakeExchange) Cancel(ctx context.Context, orderID string) error { return nil }
func (f *fakeExchange) ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	return nil, nil
}
func (f *fakeExchange) Balances(ctx context.Context) (map[string]domain.Money, error) {
	return nil, nil
}
func (f *fakeExchange) LotStep(ctx context.Context, s domain.Symbol) (domain.Money, error) {
	return f.step, nil
}
func (f *fakeExchange) FeeTier(ctx context.Context) (domain.FeeTier, error) { return f.fee, nil }
func (f *fakeExchange) SetStops(ctx context.Context, s domain.Symbol, tag string, sl, tp *domain.Money) ([]domain.ConditionalOrder, error) {
	return nil, nil
}
func (f *fakeExchange) Mode() string { return f.mode }

type fakeStorage struct{}

func (fakeStorage) SaveClosedTrade(ctx context.Context, t domain.ClosedTrade) error   { return nil }
func (fakeStorage) RecentTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	return nil, nil
}
func (fakeStorage) UpsertPosition(ctx context.Context, p domain.OpenPosition) error { return nil }
func (fakeStorage) DeletePosition(ctx context.Context, key domain.PositionKey) error {
	return nil
}
func (fakeStorage) LoadPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	return nil, nil
}
func (fakeStorage) SaveSignal(ctx context.Context, s domain.SignalRecord) error { return nil }
func (fakeStorage) SaveScanResult(ctx context.Context, r domain.ScanResult) error { return nil }
func (fakeStorage) SaveOrder(ctx context.Context, o domain.OrderRecord) error   { return nil }
func (fakeStorage) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	return nil
}
func (fakeStorage) SaveConditionalOrder(ctx context.Context, c domain.ConditionalOrder) error {
	return nil
}
func (fakeStorage) UpdateConditionalStatus(ctx context.Context, id string, status domain.ConditionalStatus) error {
	return nil
}
func (fakeStorage) LoadConditionalOrders(ctx context.Context) ([]domain.ConditionalOrder, error) {
	return nil, nil
}
func (fakeStorage) SaveDailyPerformance(ctx context.Context, d domain.DailyPerformance) error {
	return nil
}
func (fakeStorage) LoadDailyPerformance(ctx context.Context, from, to time.Time) ([]domain.DailyPerformance, error) {
	return nil, nil
}
func (fakeStorage) SaveCapitalEvent(ctx context.Context, e domain.CapitalEvent) error { return nil }
func (fakeStorage) LoadCapitalEvents(ctx context.Context, from, to time.Time) ([]domain.CapitalEvent, error) {
	return nil, nil
}
func (fakeStorage) SaveRiskSnapshot(ctx context.Context, s domain.RiskStateSnapshot) error {
	return nil
}
func (fakeStorage) LoadLatestRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	return domain.RiskState{}, false, nil
}
func (fakeStorage) SaveRiskState(ctx context.Context, s domain.RiskState) error { return nil }
func (fakeStorage) SaveStrategyState(ctx context.Context, version string, blob []byte) error {
	return nil
}
func (fakeStorage) LoadStrategyState(ctx context.Context, version string) ([]byte, error) {
	return nil, nil
}
func (fakeStorage) SaveCash(ctx context.Context, cash domain.Money) error { return nil }
func (fakeStorage) LoadCash(ctx context.Context) (domain.Money, bool, error) {
	return domain.Zero, false, nil
}
func (fakeStorage) Close() error { return nil }

type fakeNotifier struct{ events []domain.Event }

func (f *fakeNotifier) Notify(e domain.Event) { f.events = append(f.events, e) }

type fakeStrategy struct{ fills int; closes int }

func (f *fakeStrategy) Initialize(limits ports.RiskLimitsView, symbols []domain.Symbol) error {
	return nil
}
func (f *fakeStrategy) Analyze(ctx context.Context, markets map[domain.Symbol]domain.SymbolData, p domain.Portfolio, now time.Time) ([]domain.Signal, error) {
	return nil, nil
}
func (f *fakeStrategy) OnFill(symbol domain.Symbol, action domain.Action, qty, price domain.Money, intent domain.Intent, tag string) {
	f.fills++
}
func (f *fakeStrategy) OnPositionClosed(symbol domain.Symbol, tag string, pnl domain.Money, pnlPct float64) {
	f.closes++
}
func (f *fakeStrategy) GetState() ([]byte, error)      { return nil, nil }
func (f *fakeStrategy) LoadState(blob []byte) error    { return nil }
func (f *fakeStrategy) ScanIntervalMinutes() int       { return 5 }
func (f *fakeStrategy) Version() string                { return "test-1" }

func TestExecute_RoundTripAtSamePriceYieldsNegativePnL(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	mgr := NewManager(exch, fakeStorage{}, &fakeNotifier{}, nil, domain.Portfolio{Cash: domain.NewMoney(10000), TotalValue: domain.NewMoney(10000)})
	strat := &fakeStrategy{}

	buy := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Tag: "core", Intent: domain.IntentSwing}
	_, err := mgr.Execute(context.Background(), buy, 0.05, domain.NewMoney(10000), domain.NewMoney(100), strat)
	require.NoError(t, err)

	closeSig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionClose, Tag: "core"}
	res, err := mgr.Execute(context.Background(), closeSig, 0, domain.NewMoney(10000), domain.NewMoney(100), strat)
	require.NoError(t, err)
	require.NotNil(t, res.ClosedTrade)
	assert.True(t, res.ClosedTrade.PnL.IsNegative(), "round trip at unchanged price must cost exactly the fees")
	assert.Equal(t, 1, strat.closes)
}

func TestExecute_BuyMergesQtyWeightedAverage(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	mgr := NewManager(exch, fakeStorage{}, &fakeNotifier{}, nil, domain.Portfolio{Cash: domain.NewMoney(10000), TotalValue: domain.NewMoney(10000)})
	strat := &fakeStrategy{}

	buy := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Tag: "core"}
	_, err := mgr.Execute(context.Background(), buy, 0.05, domain.NewMoney(10000), domain.NewMoney(100), strat)
	require.NoError(t, err)

	exch.price = domain.NewMoney(200)
	_, err = mgr.Execute(context.Background(), buy, 0.05, domain.NewMoney(10000), domain.NewMoney(200), strat)
	require.NoError(t, err)

	snap := mgr.Snapshot()
	pos, ok := snap.Position(domain.PositionKey{Symbol: "BTCUSD", Tag: "core"})
	require.True(t, ok)
	assert.True(t, pos.AvgEntry.GreaterThan(domain.NewMoney(100)))
	assert.True(t, pos.AvgEntry.LessThan(domain.NewMoney(200)))
}
