package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Rate limits are set conservatively below Binance's documented spot
// limits (1200 req/min weight-based) to leave headroom for burst reads
// by the market-data poller and the order-placement path at once.
const (
	restRatePerSec = 15
	maxRetries     = 3
	baseRetryWait  = 500 * time.Millisecond
)

// retrier wraps outbound REST calls with a token-bucket limiter and
// exponential backoff (0.5s, 1s, 2s between attempts, no jitter), mirroring the pattern used against
// rate-limited HTTP APIs elsewhere in this codebase.
type retrier struct {
	limiter *rate.Limiter
}

func newRetrier() *retrier {
	return &retrier{limiter: rate.NewLimiter(restRatePerSec, 20)}
}

// do runs fn, retrying transient failures (detected via isTransient) up
// to maxRetries times with exponential backoff.
func (r *retrier) do(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("exchange: rate limiter: %w", err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !isTransient(err) {
			return fmt.Errorf("exchange: request failed after %d attempts: %w", attempt+1, err)
		}
		slog.Warn("exchange: transient request failure, retrying", "attempt", attempt+1, "err", err)
		r.sleep(ctx, attempt)
	}
	return fmt.Errorf("exchange: exhausted %d retries", maxRetries)
}

func (r *retrier) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// isTransient treats every non-nil error as transient: no error class,
// 4xx client errors included, is exempt from retry.
func isTransient(err error) bool {
	return err != nil
}
