package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
)

func testLimits() Limits {
	return Limits{
		Allowed:         domain.NewAllowlist([]string{"BTCUSD", "ETHUSD"}),
		MaxPositionPct:  0.25,
		MaxPositions:    10,
		MaxTradePct:     0.10,
		MaxDailyLossPct: 0.06,
		MaxDailyTrades:  20,
		MaxDrawdownPct:  0.20,
		MinNotional:     10,

		RollbackDailyLossPct: 0.04,
	}
}

func newTestEngine() *Engine {
	initial := domain.RiskState{
		State:           domain.StateRunning,
		StartOfDayValue: domain.NewMoney(10000),
		PeakValue:       domain.NewMoney(10000),
	}
	e := NewEngine(testLimits(), initial, clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	e.SetFees(domain.FeeTier{Maker: 0.001, Taker: 0.001})
	return e
}

func basePortfolio() domain.Portfolio {
	return domain.Portfolio{Cash: domain.NewMoney(10000), TotalValue: domain.NewMoney(10000)}
}

func TestEvaluate_ShapesOversizedTrade(t *testing.T) {
	e := newTestEngine()
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.5, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	require.Equal(t, Shaped, v.Outcome)
	assert.InDelta(t, 0.10, v.ShapedSizePct, 1e-9)
}

func TestEvaluate_RejectsUnknownSymbol(t *testing.T) {
	e := newTestEngine()
	sig := domain.Signal{Symbol: "DOGEUSD", Action: domain.ActionBuy, SizePct: 0.05, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	require.Equal(t, Rejected, v.Outcome)
	assert.Contains(t, v.RejectReason, "unknown symbol")
}

func TestEvaluate_ClosePermittedForUnknownSymbol(t *testing.T) {
	// A position opened while a symbol was still allow-listed must still
	// be closeable after a config change drops it from the allow-list.
	e := newTestEngine()
	sig := domain.Signal{Symbol: "DOGEUSD", Action: domain.ActionClose, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	require.Equal(t, Admitted, v.Outcome)
}

func TestEvaluate_RejectsShapeBelowMinNotional(t *testing.T) {
	e := newTestEngine()
	e.limits.MaxTradePct = 0.0001
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.5, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	assert.Equal(t, Rejected, v.Outcome)
}

func TestEvaluate_RejectsUnknownPositionCountCap(t *testing.T) {
	e := newTestEngine()
	e.limits.MaxPositions = 0
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.05, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	assert.Equal(t, Rejected, v.Outcome)
}

func TestEvaluate_DailyLossBreachHalts(t *testing.T) {
	e := newTestEngine()
	e.state.DailyPnL = domain.NewMoney(-700) // -7% of 10000, floor is -6%
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.05, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	assert.Equal(t, Rejected, v.Outcome)
	assert.Equal(t, domain.StateHalted, e.state.State)
	assert.Equal(t, domain.HaltReasonDailyLoss, e.state.HaltReason)
}

func TestEvaluate_HaltedStateAdmitsClose(t *testing.T) {
	e := newTestEngine()
	e.halt(domain.HaltReasonOperatorKill)
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionClose, Tag: "core"}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	assert.Equal(t, Admitted, v.Outcome)
}

func TestEvaluate_PausedRejectsBuyAdmitsClose(t *testing.T) {
	e := newTestEngine()
	e.Pause()
	buy := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.05, Tag: "core"}
	assert.Equal(t, Rejected, e.Evaluate(buy, basePortfolio(), domain.NewMoney(100)).Outcome)

	closeSig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionClose, Tag: "core"}
	assert.Equal(t, Admitted, e.Evaluate(closeSig, basePortfolio(), domain.NewMoney(100)).Outcome)
}

func TestEvaluate_FeeSanityRejectsThinTakeProfit(t *testing.T) {
	e := newTestEngine()
	tp := domain.NewMoney(100.1) // 0.1% move, round trip fee is 0.2%, 3x = 0.6%
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, SizePct: 0.05, Tag: "core", TakeProfit: &tp}
	v := e.Evaluate(sig, basePortfolio(), domain.NewMoney(100))
	assert.Equal(t, Rejected, v.Outcome)
}

func TestRecordFill_ConsecutiveLossesPauses(t *testing.T) {
	e := newTestEngine()
	e.limits.ConsecutiveLossesDisable = 2
	loss := domain.NewMoney(-5)
	e.RecordFill(&loss)
	assert.Equal(t, domain.StateRunning, e.state.State)
	e.RecordFill(&loss)
	assert.Equal(t, domain.StatePaused, e.state.State)
	assert.Equal(t, domain.HaltReasonConsecutiveLoss, e.state.HaltReason)
}

func TestUpdatePortfolioValue_DrawdownResetsOnNewPeak(t *testing.T) {
	e := newTestEngine()
	e.UpdatePortfolioValue(domain.NewMoney(9000))
	assert.Greater(t, e.state.DrawdownPct, 0.0)
	e.UpdatePortfolioValue(domain.NewMoney(11000))
	assert.Equal(t, 0.0, e.state.DrawdownPct)
	assert.True(t, e.state.PeakValue.Equal(domain.NewMoney(11000)))
}
