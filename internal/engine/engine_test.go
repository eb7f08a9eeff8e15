package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-quant/autotrader/config"
	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
)

type fakeExchange struct {
	mode  string
	price domain.Money
	step  domain.Money
	fee   domain.FeeTier
	bals  map[string]domain.Money
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
	return f.bals, nil
}
func (f *fakeExchange) LotStep(ctx context.Context, s domain.Symbol) (domain.Money, error) {
	return f.step, nil
}
func (f *fakeExchange) FeeTier(ctx context.Context) (domain.FeeTier, error) { return f.fee, nil }
func (f *fakeExchange) SetStops(ctx context.Context, s domain.Symbol, tag string, sl, tp *domain.Money) ([]domain.ConditionalOrder, error) {
	return nil, nil
}
func (f *fakeExchange) Mode() string { return f.mode }

func (f *fakeExchange) Stream(ctx context.Context, symbols []domain.Symbol, out chan<- domain.Quote) error {
	<-ctx.Done()
	return nil
}

type fakeStorage struct {
	positions    []domain.OpenPosition
	trades       []domain.ClosedTrade
	cash         domain.Money
	signals      []domain.SignalRecord
	deleted      []domain.PositionKey
	riskSnapshots int
}

func (f *fakeStorage) SaveClosedTrade(ctx context.Context, t domain.ClosedTrade) error { return nil }
func (f *fakeStorage) RecentTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	return f.trades, nil
}
func (f *fakeStorage) UpsertPosition(ctx context.Context, p domain.OpenPosition) error { return nil }
func (f *fakeStorage) DeletePosition(ctx context.Context, key domain.PositionKey) error {
	f.deleted = append(f.deleted, key)
	return nil
}
func (f *fakeStorage) LoadPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	return f.positions, nil
}
func (f *fakeStorage) SaveSignal(ctx context.Context, s domain.SignalRecord) error {
	f.signals = append(f.signals, s)
	return nil
}
func (f *fakeStorage) SaveScanResult(ctx context.Context, r domain.ScanResult) error { return nil }
func (f *fakeStorage) SaveOrder(ctx context.Context, o domain.OrderRecord) error     { return nil }
func (f *fakeStorage) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	return nil
}
func (f *fakeStorage) SaveConditionalOrder(ctx context.Context, c domain.ConditionalOrder) error {
	return nil
}
func (f *fakeStorage) UpdateConditionalStatus(ctx context.Context, id string, status domain.ConditionalStatus) error {
	return nil
}
func (f *fakeStorage) LoadConditionalOrders(ctx context.Context) ([]domain.ConditionalOrder, error) {
	return nil, nil
}
func (f *fakeStorage) SaveDailyPerformance(ctx context.Context, d domain.DailyPerformance) error {
	return nil
}
func (f *fakeStorage) LoadDailyPerformance(ctx context.Context, from, to time.Time) ([]domain.DailyPerformance, error) {
	return nil, nil
}
func (f *fakeStorage) SaveCapitalEvent(ctx context.Context, e domain.CapitalEvent) error { return nil }
func (f *fakeStorage) LoadCapitalEvents(ctx context.Context, from, to time.Time) ([]domain.CapitalEvent, error) {
	return nil, nil
}
func (f *fakeStorage) SaveRiskSnapshot(ctx context.Context, s domain.RiskStateSnapshot) error {
	f.riskSnapshots++
	return nil
}
func (f *fakeStorage) LoadLatestRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	return domain.RiskState{}, false, nil
}
func (f *fakeStorage) SaveRiskState(ctx context.Context, s domain.RiskState) error { return nil }
func (f *fakeStorage) SaveStrategyState(ctx context.Context, version string, blob []byte) error {
	return nil
}
func (f *fakeStorage) LoadStrategyState(ctx context.Context, version string) ([]byte, error) {
	return nil, nil
}
func (f *fakeStorage) SaveCash(ctx context.Context, cash domain.Money) error { return nil }
func (f *fakeStorage) LoadCash(ctx context.Context) (domain.Money, bool, error) {
	return f.cash, true, nil
}
func (f *fakeStorage) Close() error { return nil }

type fakeNotifier struct{ events []domain.Event }

func (f *fakeNotifier) Notify(e domain.Event) { f.events = append(f.events, e) }

func (f *fakeNotifier) has(kind domain.EventKind) bool {
	for _, e := range f.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	return &config.Config{
		Mode: config.ModePaper, PaperBalanceUSD: 10000, Symbols: []string{"BTCUSD"}, Timezone: "UTC",
		Risk: config.RiskLimits{
			MaxPositionPct: 0.25, MaxPositions: 5, MaxTradePct: 0.10, DefaultTradePct: 0.05,
			MaxDailyLossPct: 0.05, MaxDailyTrades: 20, MaxDrawdownPct: 0.20,
			RollbackDailyLossPct: 0.08, MinNotional: 10,
		},
		Fees: config.FeeOverrides{Maker: 0.001, Taker: 0.001},
	}
}

func newTestEngine(t *testing.T, exch *fakeExchange, store *fakeStorage, notifier *fakeNotifier) *Engine {
	return newTestEngineWithConfig(t, testConfig(), exch, store, notifier)
}

func newTestEngineWithConfig(t *testing.T, cfg *config.Config, exch *fakeExchange, store *fakeStorage, notifier *fakeNotifier) *Engine {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mdState := marketdata.NewState(domain.NewAllowlist(cfg.Symbols))
	e := New(cfg, clk, exch, exch, mdState, store, notifier, nil)
	return e
}

func TestRouteSignal_RejectsWhenNoMarkKnown(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	store := &fakeStorage{cash: domain.NewMoney(10000)}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)

	err := e.RouteSignal(context.Background(), domain.Signal{Symbol: "BTCUSD", Action: domain.ActionClose, Tag: "core"})
	assert.Error(t, err, "no mark recorded yet for BTCUSD — RouteSignal must refuse rather than execute blind")
}

func TestAdmitAndExecute_RejectionJournalsAndNotifiesWithoutExecuting(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	store := &fakeStorage{cash: domain.NewMoney(10000)}
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.Risk.MaxPositions = 0 // force rejection of any brand-new position regardless of size
	e := newTestEngineWithConfig(t, cfg, exch, store, notifier)

	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Tag: "core", SizePct: 0.05}
	snap := domain.Portfolio{Cash: domain.NewMoney(10000), TotalValue: domain.NewMoney(10000)}
	err := e.admitAndExecute(context.Background(), sig, snap, domain.NewMoney(100), "")
	require.NoError(t, err)

	require.Len(t, store.signals, 1)
	assert.False(t, store.signals[0].ActedOn)
	assert.NotEmpty(t, store.signals[0].RejectedReason)
	assert.True(t, notifier.has(domain.EventSignalRejected))
	assert.False(t, notifier.has(domain.EventTradeExecuted))
}

func TestAdmitAndExecute_AdmittedSignalExecutesAndRecordsFill(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	store := &fakeStorage{cash: domain.NewMoney(10000)}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)

	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Tag: "core", SizePct: 0.05, Intent: domain.IntentSwing}
	snap := domain.Portfolio{Cash: domain.NewMoney(10000), TotalValue: domain.NewMoney(10000)}
	err := e.admitAndExecute(context.Background(), sig, snap, domain.NewMoney(100), "builtin-1")
	require.NoError(t, err)

	require.Len(t, store.signals, 1)
	assert.True(t, store.signals[0].ActedOn)
	assert.True(t, notifier.has(domain.EventTradeExecuted))

	pos, ok := e.portfolio.Snapshot().Position(domain.PositionKey{Symbol: "BTCUSD", Tag: "core"})
	require.True(t, ok)
	assert.True(t, pos.Qty.IsPositive())
}

func TestReconcile_RestoresPositionsAndCashFromStorage(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	existing := domain.OpenPosition{Symbol: "BTCUSD", Tag: "core", Qty: domain.NewMoney(1), AvgEntry: domain.NewMoney(90)}
	store := &fakeStorage{cash: domain.NewMoney(5000), positions: []domain.OpenPosition{existing}}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)

	require.NoError(t, e.Reconcile(context.Background()))

	snap := e.portfolio.Snapshot()
	assert.True(t, snap.Cash.Equal(domain.NewMoney(5000)))
	pos, ok := snap.Position(domain.PositionKey{Symbol: "BTCUSD", Tag: "core"})
	require.True(t, ok)
	assert.True(t, pos.Qty.Equal(domain.NewMoney(1)))
	assert.True(t, notifier.has(domain.EventSystemOnline))
}

func TestReconcile_LiveModeClosesPositionsAbsentFromBalances(t *testing.T) {
	exch := &fakeExchange{
		mode: "live", price: domain.NewMoney(100), step: domain.NewMoney(0.0001),
		fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}, bals: map[string]domain.Money{},
	}
	stale := domain.OpenPosition{Symbol: "BTCUSD", Tag: "core", Qty: domain.NewMoney(1), AvgEntry: domain.NewMoney(90)}
	store := &fakeStorage{cash: domain.NewMoney(5000), positions: []domain.OpenPosition{stale}}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)

	require.NoError(t, e.Reconcile(context.Background()))

	snap := e.portfolio.Snapshot()
	_, stillOpen := snap.Position(domain.PositionKey{Symbol: "BTCUSD", Tag: "core"})
	assert.False(t, stillOpen, "a position the exchange no longer reflects must be closed out, not silently carried")
	require.Len(t, store.deleted, 1)
}

func TestDailyPerformance_ComputesWinRateAndExpectancy(t *testing.T) {
	now := time.Date(2026, 1, 2, 23, 55, 0, 0, time.UTC)
	trades := []domain.ClosedTrade{
		{PnL: domain.NewMoney(10), Fees: domain.NewMoney(1), ClosedAt: now.Add(-time.Hour)},
		{PnL: domain.NewMoney(-5), Fees: domain.NewMoney(1), ClosedAt: now.Add(-2 * time.Hour)},
	}
	snap := domain.Portfolio{
		TotalValue: domain.NewMoney(10005), Cash: domain.NewMoney(10005),
		RecentTrades: trades, DailyPnL: domain.NewMoney(5), FeesTotal: domain.NewMoney(2),
	}
	perf := dailyPerformance(now, snap, domain.RiskState{}, "builtin-1")
	assert.Equal(t, 2, perf.TotalTrades)
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 1, perf.Losses)
	assert.InDelta(t, 0.5, perf.WinRate, 0.0001)
}

func TestScanInterval_UsesBuiltinStrategyCadenceWithNoOverride(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	store := &fakeStorage{cash: domain.NewMoney(10000)}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)
	require.NoError(t, e.strategies.LoadInitial(context.Background(), ""))

	assert.Equal(t, 5*time.Minute, e.scanInterval())
}

func TestScanInterval_ConfigOverrideWins(t *testing.T) {
	exch := &fakeExchange{mode: "paper", price: domain.NewMoney(100), step: domain.NewMoney(0.0001), fee: domain.FeeTier{Maker: 0.001, Taker: 0.001}}
	store := &fakeStorage{cash: domain.NewMoney(10000)}
	notifier := &fakeNotifier{}
	e := newTestEngine(t, exch, store, notifier)
	require.NoError(t, e.strategies.LoadInitial(context.Background(), ""))
	e.cfg.ScanIntervalMinutesOverride = 2

	assert.Equal(t, 2*time.Minute, e.scanInterval())
}
