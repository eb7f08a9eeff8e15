package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

func TestState_SnapshotMissingQuote(t *testing.T) {
	st := NewState(domain.NewAllowlist([]string{"BTCUSD"}))
	_, ok := st.Snapshot("BTCUSD")
	assert.False(t, ok, "no quote observed yet")
}

func TestState_UpdateQuoteIgnoresUnknownSymbol(t *testing.T) {
	st := NewState(domain.NewAllowlist([]string{"BTCUSD"}))
	st.UpdateQuote(domain.Quote{Symbol: "ETHUSD", Price: domain.NewMoney(1000)})
	_, ok := st.Snapshot("ETHUSD")
	assert.False(t, ok, "ETHUSD is outside the allowlist and must not be tracked")
}

func TestState_SnapshotReflectsLatestQuoteAndCandles(t *testing.T) {
	st := NewState(domain.NewAllowlist([]string{"BTCUSD"}))
	st.UpdateQuote(domain.Quote{Symbol: "BTCUSD", Price: domain.NewMoney(50000), Spread: domain.NewMoney(1)})

	now := time.Now().UTC().Truncate(time.Minute)
	c := domain.Candle{
		Symbol: "BTCUSD", TS: now, Timeframe: domain.Timeframe5m,
		Open: domain.NewMoney(100), High: domain.NewMoney(110),
		Low: domain.NewMoney(90), Close: domain.NewMoney(105), Volume: domain.NewMoney(10),
	}
	require.NoError(t, c.Validate())
	st.PushCandle(c)

	snap, ok := st.Snapshot("BTCUSD")
	require.True(t, ok)
	assert.True(t, snap.Price.Equal(domain.NewMoney(50000)))
	require.Len(t, snap.Candles5m, 1)
	assert.Empty(t, snap.Candles1h)
}

func TestState_PushCandleReplacesSameBucket(t *testing.T) {
	st := NewState(domain.NewAllowlist([]string{"BTCUSD"}))
	ts := time.Now().UTC()
	base := domain.Candle{
		Symbol: "BTCUSD", TS: ts, Timeframe: domain.Timeframe5m,
		Open: domain.NewMoney(1), High: domain.NewMoney(2), Low: domain.NewMoney(1), Close: domain.NewMoney(1),
	}
	st.PushCandle(base)
	updated := base
	updated.Close = domain.NewMoney(1.5)
	st.PushCandle(updated)

	st.UpdateQuote(domain.Quote{Symbol: "BTCUSD", Price: domain.NewMoney(1)})
	snap, ok := st.Snapshot("BTCUSD")
	require.True(t, ok)
	require.Len(t, snap.Candles5m, 1, "same-TS candle must replace, not append")
	assert.True(t, snap.Candles5m[0].Close.Equal(domain.NewMoney(1.5)))
}
