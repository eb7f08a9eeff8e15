package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// Ingestor drains a TickerStream into a State, and separately polls
// candles on each timeframe's own cadence. The stream owns its own
// reconnect/backoff; Ingestor only restarts it after it returns, with a
// short cooldown so a persistently-failing adapter can't spin hot.
type Ingestor struct {
	stream  ports.TickerStream
	exch    ports.Exchange
	state   *State
	symbols []domain.Symbol
}

func NewIngestor(stream ports.TickerStream, exch ports.Exchange, state *State, symbols []domain.Symbol) *Ingestor {
	return &Ingestor{stream: stream, exch: exch, state: state, symbols: symbols}
}

// RunQuotes consumes the ticker stream until ctx is cancelled, restarting
// it on a transient error. Each reconnect is logged as a
// websocket_feed_lost event by the caller (internal/engine wires Notify).
func (in *Ingestor) RunQuotes(ctx context.Context, onDrop func()) {
	out := make(chan domain.Quote, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case q := <-out:
				in.state.UpdateQuote(q)
			}
		}
	}()

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := in.stream.Stream(ctx, in.symbols, out)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("marketdata: ticker stream dropped, reconnecting", "err", err, "backoff", backoff)
			if onDrop != nil {
				onDrop()
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// RefreshCandles pulls the latest candles for every symbol/timeframe
// combination from the exchange adapter and pushes any new buckets into
// state. Called on a schedule by the engine (scan cadence for 5m, a
// slower cadence for 1h/1d).
func (in *Ingestor) RefreshCandles(ctx context.Context, tf domain.Timeframe, n int) error {
	for _, sym := range in.symbols {
		candles, err := in.exch.Candles(ctx, sym, tf, n)
		if err != nil {
			slog.Warn("marketdata: candle refresh failed", "symbol", sym, "timeframe", tf, "err", err)
			continue
		}
		for _, c := range candles {
			if err := c.Validate(); err != nil {
				slog.Warn("marketdata: dropping invalid candle", "symbol", sym, "err", err)
				continue
			}
			in.state.PushCandle(c)
		}
	}
	return nil
}
