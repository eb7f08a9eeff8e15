package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// PollingStream implements ports.TickerStream by polling an Exchange's
// REST Quote endpoint on a fixed interval. cmd/engine uses it, over a
// LiveAdapter, as the quote stream in paper mode, whether or not live
// credentials are configured, so simulated fills still track real market
// quotes. Live mode does not fall back to it; there the websocket stream
// is the only quote feed.
type PollingStream struct {
	quoter   ports.Exchange
	interval time.Duration
}

func NewPollingStream(quoter ports.Exchange, interval time.Duration) *PollingStream {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingStream{quoter: quoter, interval: interval}
}

// Stream polls every symbol once per tick until ctx is cancelled. A
// per-symbol quote error is logged by the caller via the returned error
// only if every symbol fails in the same tick; isolated failures are
// skipped so one bad symbol never stalls the rest.
func (s *PollingStream) Stream(ctx context.Context, symbols []domain.Symbol, out chan<- domain.Quote) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			failures := 0
			for _, sym := range symbols {
				q, err := s.quoter.Quote(ctx, sym)
				if err != nil {
					failures++
					continue
				}
				select {
				case out <- q:
				case <-ctx.Done():
					return nil
				}
			}
			if len(symbols) > 0 && failures == len(symbols) {
				return fmt.Errorf("exchange.PollingStream: all %d symbols failed this tick", len(symbols))
			}
		}
	}
}
