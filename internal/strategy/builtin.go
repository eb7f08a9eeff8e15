package strategy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// builtinVersion is bumped whenever the indicator logic changes; it is
// journaled with every signal and closed trade for attribution.
const builtinVersion = "builtin-ema-rsi-1"

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14

	builtinStopLossPct   = 0.05
	builtinTakeProfitPct = 0.10
	rsiOverbought        = 70.0
)

// BuiltinEMARSI is the fallback strategy loaded when the configured
// subprocess strategy fails validation or load. It is deliberately
// simple and deterministic: an EMA(12/26) crossover gated by
// RSI(14), recomputed fresh from candles every scan rather than carrying
// mutable indicator state across calls.
type BuiltinEMARSI struct {
	limits  ports.RiskLimitsView
	symbols []domain.Symbol

	// regimeBySymbol is the one piece of state GetState/LoadState persist:
	// whether each symbol was last seen above or below its slow EMA, so a
	// restart doesn't immediately re-fire a signal for a crossover that
	// already happened before the restart.
	regimeBySymbol map[domain.Symbol]string
}

func NewBuiltinEMARSI() *BuiltinEMARSI {
	return &BuiltinEMARSI{regimeBySymbol: make(map[domain.Symbol]string)}
}

func (s *BuiltinEMARSI) Initialize(limits ports.RiskLimitsView, symbols []domain.Symbol) error {
	s.limits = limits
	s.symbols = symbols
	return nil
}

func (s *BuiltinEMARSI) Analyze(ctx context.Context, markets map[domain.Symbol]domain.SymbolData, portfolio domain.Portfolio, now time.Time) ([]domain.Signal, error) {
	var signals []domain.Signal
	for _, sym := range s.symbols {
		data, ok := markets[sym]
		if !ok || len(data.Candles5m) < emaSlowPeriod+1 {
			continue
		}
		closes := closePrices(data.Candles5m)
		fast := ema(closes, emaFastPeriod)
		slow := ema(closes, emaSlowPeriod)
		r := rsi(closes, rsiPeriod)

		regime := "below"
		if fast > slow {
			regime = "above"
		}
		prevRegime := s.regimeBySymbol[sym]
		s.regimeBySymbol[sym] = regime

		crossedUp := prevRegime == "below" && regime == "above"
		if !crossedUp || r >= rsiOverbought {
			continue
		}

		_, hasPosition := portfolio.Position(domain.PositionKey{Symbol: sym, Tag: "builtin"})
		if hasPosition {
			continue
		}

		stop := data.Price.MulFloat(1 - builtinStopLossPct)
		take := data.Price.MulFloat(1 + builtinTakeProfitPct)
		signals = append(signals, domain.Signal{
			Symbol: sym, Action: domain.ActionBuy, SizePct: s.limits.DefaultTradePct,
			OrderType: domain.OrderTypeMarket, StopLoss: &stop, TakeProfit: &take,
			Intent: domain.IntentSwing, Tag: "builtin", Confidence: 0.5,
			Reasoning: "ema(12) crossed above ema(26) with rsi below overbought",
		})
	}
	return signals, nil
}

func (s *BuiltinEMARSI) OnFill(symbol domain.Symbol, action domain.Action, qty, price domain.Money, intent domain.Intent, tag string) {
}

func (s *BuiltinEMARSI) OnPositionClosed(symbol domain.Symbol, tag string, pnl domain.Money, pnlPct float64) {
}

func (s *BuiltinEMARSI) GetState() ([]byte, error) {
	return json.Marshal(s.regimeBySymbol)
}

func (s *BuiltinEMARSI) LoadState(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	regimes := make(map[domain.Symbol]string)
	if err := json.Unmarshal(blob, &regimes); err != nil {
		return err
	}
	s.regimeBySymbol = regimes
	return nil
}

func (s *BuiltinEMARSI) ScanIntervalMinutes() int { return 5 }

func (s *BuiltinEMARSI) Version() string { return builtinVersion }

func closePrices(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.Float64()
	}
	return out
}

// ema computes the exponential moving average over the last `period`
// values of closes, seeding with a simple average of the first window.
func ema(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window[:period] {
		sum += v
	}
	avg := sum / float64(period)
	k := 2.0 / float64(period+1)
	result := avg
	for _, v := range closes[len(closes)-period+1:] {
		result = v*k + result*(1-k)
	}
	return result
}

// rsi computes the Relative Strength Index over `period` deltas.
func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	window := closes[len(closes)-period-1:]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
