package engine

import (
	"context"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// scanFloor is the minimum scan cadence regardless of strategy or config
// override, so a misconfigured strategy can never busy-loop the engine.
const scanFloor = time.Minute

// Start registers the four scheduler jobs and kicks off market data
// ingestion, then blocks until ctx is cancelled. Reconcile
// must be called first.
func (e *Engine) Start(ctx context.Context, binaryPath string) error {
	if err := e.strategies.LoadInitial(ctx, binaryPath); err != nil {
		return err
	}

	loc, err := time.LoadLocation(e.cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	e.scheduler.Register("scan", clock.Schedule{Interval: e.scanInterval()}, e.Scan)
	e.scheduler.Register("monitor", clock.Schedule{Interval: 30 * time.Second}, e.Monitor)
	dailyAt := time.Date(0, 1, 1, 23, 55, 0, 0, time.UTC)
	e.scheduler.Register("daily-snapshot", clock.Schedule{DailyAt: &dailyAt, Location: loc}, e.Snapshot)
	e.scheduler.Register("fee-refresh", clock.Schedule{Interval: 24 * time.Hour}, e.RefreshFees)

	go e.ingestor.RunQuotes(ctx, func() {
		e.notify.Notify(domain.NewEvent(domain.EventWebsocketLost, nil))
	})
	go e.runCandleRefresh(ctx)

	go e.strategies.Watch(ctx, binaryPath)

	e.scheduler.Run(ctx)
	return nil
}

func (e *Engine) scanInterval() time.Duration {
	if override := e.cfg.ScanInterval(); override > 0 {
		return override
	}
	minutes := e.strategies.ScanIntervalMinutes()
	if minutes <= 0 {
		return scanFloor
	}
	interval := time.Duration(minutes) * time.Minute
	if interval < scanFloor {
		return scanFloor
	}
	return interval
}

// runCandleRefresh keeps 5m candles warm on the scan cadence and 1h/1d
// candles warm on slower cadences, since strategies read whichever
// timeframes they declared interest in from the same State.
func (e *Engine) runCandleRefresh(ctx context.Context) {
	fast := time.NewTicker(e.scanInterval())
	slow := time.NewTicker(time.Hour)
	defer fast.Stop()
	defer slow.Stop()

	_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe5m, 200)
	_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe1h, 200)
	_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe1d, 200)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe5m, 200)
		case <-slow.C:
			_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe1h, 200)
			_ = e.ingestor.RefreshCandles(ctx, domain.Timeframe1d, 200)
		}
	}
}
