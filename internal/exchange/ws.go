package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// wsDegradeAfter is the number of consecutive dial failures after which
// the ticker stream gives up and returns an error. Nothing switches to
// PollingStream in live mode: the ingestion task restarts this same
// websocket stream after a cooldown.
const wsDegradeAfter = 5

// bookTickerStream maintains a raw websocket connection to Binance's
// combined book-ticker stream, reconnecting with jittered backoff on any
// drop. Grounded on the dial-then-read-loop-then-reconnect shape used
// against Binance futures streams elsewhere in this codebase.
type bookTickerStream struct {
	baseURL string
}

func newBookTickerStream(baseURL string) *bookTickerStream {
	return &bookTickerStream{baseURL: baseURL}
}

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerPayload struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// Stream implements ports.TickerStream. It returns nil only when ctx is
// cancelled; any other return is an error meaning wsDegradeAfter
// consecutive dial attempts failed.
func (b *bookTickerStream) Stream(ctx context.Context, symbols []domain.Symbol, out chan<- domain.Quote) error {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(string(s))+"@bookTicker")
	}
	url := b.baseURL + "/stream?streams=" + strings.Join(streams, "/")

	failures := 0
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			failures++
			if failures >= wsDegradeAfter {
				return fmt.Errorf("exchange: book-ticker stream failed %d times: %w", failures, err)
			}
			slog.Warn("exchange: book-ticker dial failed, retrying", "err", err, "attempt", failures)
			select {
			case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))): // up to +50% jitter
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
			continue
		}

		failures = 0
		backoff = time.Second
		readErr := b.readLoop(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if readErr != nil {
			slog.Warn("exchange: book-ticker read loop ended, reconnecting", "err", readErr)
		}
	}
}

func (b *bookTickerStream) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.Quote) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg combinedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		var tick bookTickerPayload
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			continue
		}
		bid, errB := strconv.ParseFloat(tick.BidPrice, 64)
		ask, errA := strconv.ParseFloat(tick.AskPrice, 64)
		if errB != nil || errA != nil {
			continue
		}
		mid := (bid + ask) / 2
		q := domain.Quote{
			Symbol: domain.Symbol(strings.ToUpper(tick.Symbol)),
			Price:  domain.NewMoney(mid),
			Spread: domain.NewMoney(ask - bid),
		}
		select {
		case out <- q:
		case <-ctx.Done():
			return nil
		}
	}
}
