package ports

import (
	"context"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Storage is the persistence capability. Every state transition in the
// risk engine, portfolio and strategy host is journaled
// through this interface before being acknowledged.
type Storage interface {
	SaveClosedTrade(ctx context.Context, t domain.ClosedTrade) error
	RecentTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error)

	UpsertPosition(ctx context.Context, p domain.OpenPosition) error
	DeletePosition(ctx context.Context, key domain.PositionKey) error
	LoadPositions(ctx context.Context) ([]domain.OpenPosition, error)

	SaveSignal(ctx context.Context, s domain.SignalRecord) error

	SaveScanResult(ctx context.Context, r domain.ScanResult) error

	SaveOrder(ctx context.Context, o domain.OrderRecord) error
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error

	SaveConditionalOrder(ctx context.Context, c domain.ConditionalOrder) error
	UpdateConditionalStatus(ctx context.Context, id string, status domain.ConditionalStatus) error
	LoadConditionalOrders(ctx context.Context) ([]domain.ConditionalOrder, error)

	SaveDailyPerformance(ctx context.Context, d domain.DailyPerformance) error
	LoadDailyPerformance(ctx context.Context, from, to time.Time) ([]domain.DailyPerformance, error)

	SaveCapitalEvent(ctx context.Context, e domain.CapitalEvent) error
	LoadCapitalEvents(ctx context.Context, from, to time.Time) ([]domain.CapitalEvent, error)

	SaveRiskSnapshot(ctx context.Context, s domain.RiskStateSnapshot) error
	LoadLatestRiskState(ctx context.Context) (domain.RiskState, bool, error)
	SaveRiskState(ctx context.Context, s domain.RiskState) error

	SaveStrategyState(ctx context.Context, version string, blob []byte) error
	LoadStrategyState(ctx context.Context, version string) ([]byte, error)

	SaveCash(ctx context.Context, cash domain.Money) error
	LoadCash(ctx context.Context) (domain.Money, bool, error)

	Close() error
}
