package exchange

import (
	"fmt"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// binanceInterval maps a domain.Timeframe to the kline interval string
// the Binance REST/WS API expects.
func binanceInterval(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.Timeframe5m:
		return "5m", nil
	case domain.Timeframe1h:
		return "1h", nil
	case domain.Timeframe1d:
		return "1d", nil
	default:
		return "", fmt.Errorf("exchange: unsupported timeframe %q", tf)
	}
}

func binanceSide(a domain.Action) (string, error) {
	switch a {
	case domain.ActionBuy:
		return "BUY", nil
	case domain.ActionSell, domain.ActionClose:
		return "SELL", nil
	default:
		return "", fmt.Errorf("exchange: unsupported side %q", a)
	}
}
