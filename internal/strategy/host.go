package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/enginerr"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// Host owns the active strategy, enforces the purity contract before a
// subprocess swap, persists get_state()/load_state() around every scan
// and at shutdown, and falls back to the builtin strategy if loading the
// subprocess fails. It never pauses the engine: a builtin whose persisted
// state fails to load starts from zero state.
type Host struct {
	mu      sync.RWMutex
	current ports.Strategy
	fallback ports.Strategy

	storage ports.Storage
	notify  ports.EventSink
	limits  ports.RiskLimitsView
	symbols []domain.Symbol
	allowed domain.Allowlist

	watcher *fsnotify.Watcher
}

// ErrNeedsPause is returned by LoadInitial only when the builtin
// fallback's Initialize fails. Engine.Start returns it as an error; the
// engine does not enter PAUSED.
var ErrNeedsPause = fmt.Errorf("strategy host: no loadable strategy, engine must pause")

func NewHost(storage ports.Storage, notify ports.EventSink, limits ports.RiskLimitsView, symbols []domain.Symbol) *Host {
	allowed := make(domain.Allowlist, len(symbols))
	for _, s := range symbols {
		allowed[s] = struct{}{}
	}
	return &Host{
		storage: storage, notify: notify, limits: limits, symbols: symbols, allowed: allowed,
		fallback: NewBuiltinEMARSI(),
	}
}

// LoadInitial loads binaryPath at startup if set, otherwise goes straight
// to the builtin strategy. On any failure it falls back to the builtin.
// If the builtin's own persisted state fails to load, it logs a warning
// and starts the builtin from zero state; ErrNeedsPause is returned only
// if the builtin's Initialize fails.
func (h *Host) LoadInitial(ctx context.Context, binaryPath string) error {
	if binaryPath != "" {
		if err := h.trySwap(ctx, binaryPath); err == nil {
			return nil
		} else {
			slog.Warn("strategy: subprocess load failed, falling back to builtin", "err", err)
		}
	}

	if err := h.fallback.Initialize(h.limits, h.symbols); err != nil {
		return fmt.Errorf("%w: %v", ErrNeedsPause, err)
	}
	if blob, err := h.storage.LoadStrategyState(ctx, h.fallback.Version()); err == nil && len(blob) > 0 {
		if err := h.fallback.LoadState(blob); err != nil {
			slog.Warn("strategy: builtin load_state failed, starting from zero state", "err", err)
		}
	}
	h.mu.Lock()
	h.current = h.fallback
	h.mu.Unlock()
	return nil
}

// trySwap attempts to load and validate a subprocess strategy at
// binaryPath, swapping it in only on full success. A failure here never
// touches the previously active strategy — a violation at load time
// aborts the swap and keeps the previous strategy running.
func (h *Host) trySwap(ctx context.Context, binaryPath string) error {
	src, err := os.ReadFile(binaryPath + ".go")
	if err == nil {
		if perr := CheckPurity(binaryPath+".go", src); perr != nil {
			return fmt.Errorf("purity check: %w", perr)
		}
	}

	proc, err := NewSubprocess(ctx, binaryPath, binaryPath)
	if err != nil {
		return err
	}
	if err := proc.Initialize(h.limits, h.symbols); err != nil {
		proc.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	if blob, err := h.storage.LoadStrategyState(ctx, proc.Version()); err == nil && len(blob) > 0 {
		if err := proc.LoadState(blob); err != nil {
			proc.Close()
			return fmt.Errorf("load_state: %w", err)
		}
	}

	h.mu.Lock()
	prev := h.current
	h.current = proc
	h.mu.Unlock()

	if closer, ok := prev.(interface{ Close() error }); ok && prev != nil {
		_ = closer.Close()
	}
	h.notify.Notify(domain.NewEvent(domain.EventScanComplete, map[string]any{"strategy_swap": proc.Version()}))
	return nil
}

// Watch starts an fsnotify watch on the strategy binary's path, hot
// swapping whenever it is rewritten by an external deploy.
func (h *Host) Watch(ctx context.Context, binaryPath string) error {
	if binaryPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("strategy.Host.Watch: %w", err)
	}
	if err := watcher.Add(binaryPath); err != nil {
		watcher.Close()
		return fmt.Errorf("strategy.Host.Watch: add %s: %w", binaryPath, err)
	}
	h.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := h.trySwap(ctx, binaryPath); err != nil {
					slog.Error("strategy: hot swap failed, keeping previous strategy", "err", err)
					h.notify.Notify(domain.NewEvent(domain.EventSystemError, map[string]any{"stage": "strategy_hot_swap", "err": err.Error()}))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("strategy: watcher error", "err", err)
			}
		}
	}()
	return nil
}

// Analyze delegates to the active strategy and re-validates the returned
// batch against the allowlist, independent of any validation the
// strategy implementation performs itself.
func (h *Host) Analyze(ctx context.Context, markets map[domain.Symbol]domain.SymbolData, portfolio domain.Portfolio, now time.Time) ([]domain.Signal, error) {
	h.mu.RLock()
	current := h.current
	h.mu.RUnlock()

	signals, err := current.Analyze(ctx, markets, portfolio, now)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBatch(signals, h.allowed); err != nil {
		return nil, enginerr.New(enginerr.StrategyContractViolation, "analyze batch", err)
	}
	return signals, nil
}

func (h *Host) OnFill(symbol domain.Symbol, action domain.Action, qty, price domain.Money, intent domain.Intent, tag string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.current.OnFill(symbol, action, qty, price, intent, tag)
}

func (h *Host) OnPositionClosed(symbol domain.Symbol, tag string, pnl domain.Money, pnlPct float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.current.OnPositionClosed(symbol, tag, pnl, pnlPct)
}

func (h *Host) Version() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Version()
}

func (h *Host) ScanIntervalMinutes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.ScanIntervalMinutes()
}

// PersistState calls get_state on the active strategy and journals it —
// called every scan and at shutdown.
func (h *Host) PersistState(ctx context.Context) error {
	h.mu.RLock()
	current := h.current
	h.mu.RUnlock()

	blob, err := current.GetState()
	if err != nil {
		return fmt.Errorf("strategy.Host.PersistState: get_state: %w", err)
	}
	if err := h.storage.SaveStrategyState(ctx, current.Version(), blob); err != nil {
		return enginerr.New(enginerr.JournalWriteFailure, "save strategy state", err)
	}
	return nil
}

// Initialize satisfies ports.Strategy for callers that want to treat the
// Host itself as a strategy (the engine does, so it never special-cases
// "host vs strategy").
func (h *Host) Initialize(limits ports.RiskLimitsView, symbols []domain.Symbol) error {
	return nil // the active strategy was already initialized by LoadInitial/trySwap
}

func (h *Host) GetState() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.GetState()
}

func (h *Host) LoadState(blob []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.LoadState(blob)
}
