package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// RefreshFees is the scheduler's "fee-refresh" job handler, run every
// 24h: pull the exchange's current maker/taker schedule so the risk
// gate's fee-aware take-profit check uses live fees instead of the config
// defaults indefinitely. Sizing and the minimum-notional check do not
// use fees.
func (e *Engine) RefreshFees(ctx context.Context, now time.Time) error {
	tier, err := e.exch.FeeTier(ctx)
	if err != nil {
		return fmt.Errorf("engine.RefreshFees: %w", err)
	}
	e.risk.SetFees(tier)
	e.notify.Notify(domain.NewEvent(domain.EventFeesRefreshed, map[string]any{
		"maker": tier.Maker, "taker": tier.Taker,
	}))
	return nil
}
