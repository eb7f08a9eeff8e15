package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertPosition_RoundTripsThroughRestart(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	stop := domain.NewMoney(95)
	pos := domain.OpenPosition{
		Symbol: "BTCUSD", Tag: "swing-1", Side: domain.SideLong,
		Qty: domain.NewMoney(0.5), AvgEntry: domain.NewMoney(100),
		OpenedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Intent:   domain.IntentSwing, StopLoss: &stop,
	}
	require.NoError(t, s.UpsertPosition(ctx, pos))

	loaded, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, pos.Symbol, loaded[0].Symbol)
	assert.True(t, pos.Qty.Equal(loaded[0].Qty))
	assert.True(t, pos.AvgEntry.Equal(loaded[0].AvgEntry))
	require.NotNil(t, loaded[0].StopLoss)
	assert.True(t, stop.Equal(*loaded[0].StopLoss))
	assert.Nil(t, loaded[0].TakeProfit)

	pos.Qty = domain.NewMoney(0.3)
	require.NoError(t, s.UpsertPosition(ctx, pos))
	loaded, err = s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, domain.NewMoney(0.3).Equal(loaded[0].Qty))
}

func TestDeletePosition_RemovesRow(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	pos := domain.OpenPosition{Symbol: "ETHUSD", Tag: "day-1", Qty: domain.NewMoney(1), AvgEntry: domain.NewMoney(2000)}
	require.NoError(t, s.UpsertPosition(ctx, pos))
	require.NoError(t, s.DeletePosition(ctx, pos.Key()))

	loaded, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestConditionalOrders_ReconciliationMarksFilled(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := domain.ConditionalOrder{
		ID: "cond-1", Symbol: "BTCUSD", Tag: "swing-1",
		Kind: domain.ConditionalStopLoss, TriggerPrice: domain.NewMoney(95),
		Status: domain.ConditionalActive,
	}
	require.NoError(t, s.SaveConditionalOrder(ctx, c))

	loaded, err := s.LoadConditionalOrders(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.ConditionalActive, loaded[0].Status)

	require.NoError(t, s.UpdateConditionalStatus(ctx, "cond-1", domain.ConditionalFilled))
	loaded, err = s.LoadConditionalOrders(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.ConditionalFilled, loaded[0].Status)
}

func TestRiskState_SaveAndLoadLatest(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.LoadLatestRiskState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	st := domain.RiskState{
		DailyPnL: domain.NewMoney(-50), DailyTrades: 3, ConsecutiveLosses: 2,
		DrawdownPct: 0.04, PeakValue: domain.NewMoney(10500), StartOfDayValue: domain.NewMoney(10000),
		State: domain.StatePaused, HaltReason: domain.HaltReasonConsecutiveLoss, RollbackPending: false,
	}
	require.NoError(t, s.SaveRiskState(ctx, st))

	loaded, ok, err := s.LoadLatestRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatePaused, loaded.State)
	assert.Equal(t, 3, loaded.DailyTrades)
	assert.True(t, st.DailyPnL.Equal(loaded.DailyPnL))

	st.State = domain.StateHalted
	st.RollbackPending = true
	require.NoError(t, s.SaveRiskState(ctx, st))
	loaded, ok, err = s.LoadLatestRiskState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StateHalted, loaded.State)
	assert.True(t, loaded.RollbackPending)
}

func TestCash_SaveAndLoad(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.LoadCash(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCash(ctx, domain.NewMoney(9876.54)))
	cash, ok, err := s.LoadCash(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, domain.NewMoney(9876.54).Equal(cash))
}

func TestStrategyState_SaveAndLoad(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	blob, err := s.LoadStrategyState(ctx, "builtin-ema-rsi-1")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, s.SaveStrategyState(ctx, "builtin-ema-rsi-1", []byte(`{"BTCUSD":"above"}`)))
	blob, err = s.LoadStrategyState(ctx, "builtin-ema-rsi-1")
	require.NoError(t, err)
	assert.Equal(t, `{"BTCUSD":"above"}`, string(blob))
}

func TestClosedTrade_SaveAndQueryRecent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tr := domain.ClosedTrade{
			ID: string(rune('a' + i)), Symbol: "BTCUSD", Tag: "swing-1",
			Qty: domain.NewMoney(1), EntryPrice: domain.NewMoney(100), ExitPrice: domain.NewMoney(110),
			PnL: domain.NewMoney(10), Intent: domain.IntentSwing, CloseReason: domain.CloseReasonTakeProfit,
			OpenedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ClosedAt: time.Date(2026, 1, 1, 1, i, 0, 0, time.UTC),
		}
		require.NoError(t, s.SaveClosedTrade(ctx, tr))
	}

	recent, err := s.RecentTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].ClosedAt.After(recent[1].ClosedAt))
}

func TestLockfile_RejectsWhileOwnerAlive(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/engine.lock"

	l1, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.Error(t, err)

	require.NoError(t, l1.Release())
	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
