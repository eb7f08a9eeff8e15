package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/halvorsen-quant/autotrader/config"
	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/engine"
	"github.com/halvorsen-quant/autotrader/internal/exchange"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
	"github.com/halvorsen-quant/autotrader/internal/notify"
	"github.com/halvorsen-quant/autotrader/internal/ports"
	"github.com/halvorsen-quant/autotrader/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	modeOverride := flag.String("mode", "", "override config mode: paper|live")
	dryRun := flag.Bool("dry-run", false, "force paper mode regardless of config")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *modeOverride != "" {
		cfg.Mode = config.Mode(*modeOverride)
	}
	if *dryRun {
		cfg.Mode = config.ModePaper
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("autotrader starting",
		"config", *configPath, "mode", cfg.Mode, "symbols", cfg.Symbols)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	lockPath := filepath.Join(cfg.Storage.DataDir, "engine.lock")
	lock, err := storage.Acquire(lockPath)
	if err != nil {
		slog.Error("failed to acquire lockfile — another instance may be running", "err", err, "path", lockPath)
		os.Exit(1)
	}

	allowed := domain.NewAllowlist(cfg.Symbols)
	mdState := marketdata.NewState(allowed)
	exch, stream := buildExchange(cfg, mdState)

	console := notify.NewConsole()
	bus := notify.NewBus(console)

	clk := clock.Real{}
	e := engine.New(cfg, clk, exch, stream, mdState, store, bus, lock)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Reconcile(ctx); err != nil {
		slog.Error("startup reconciliation failed", "err", err)
		if relErr := lock.Release(); relErr != nil {
			slog.Error("failed to release lockfile", "err", relErr)
		}
		os.Exit(1)
	}

	bus.Notify(domain.NewEvent(domain.EventSystemOnline, map[string]any{"mode": string(cfg.Mode)}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := e.Start(ctx, cfg.Strategy.BinaryPath); err != nil {
			slog.Error("engine exited with error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	e.Shutdown(shutdownCtx)

	slog.Info("autotrader stopped cleanly")
}

// buildExchange selects the exchange adapter per config mode. Paper mode
// still builds a LiveAdapter purely as a market-data source — quotes
// (through a PollingStream), lot steps and fee schedule — and seeds
// PaperAdapter's simulated fills from those real quotes. Candles do not
// come from the LiveAdapter in paper mode: candle refresh goes through
// the PaperAdapter, which serves only candles already held in mdState.
func buildExchange(cfg *config.Config, mdState *marketdata.State) (ports.Exchange, ports.TickerStream) {
	apiKey := os.Getenv(cfg.Exchange.APIKeyEnv)
	apiSecret := os.Getenv(cfg.Exchange.APISecretEnv)
	live := exchange.NewLiveAdapter(apiKey, apiSecret, cfg.Exchange.BaseURL, cfg.Exchange.StreamURL)

	if cfg.Mode == config.ModeLive {
		return live, live
	}

	allowed := domain.NewAllowlist(cfg.Symbols)
	symbols := allowed.Symbols()

	lotSteps := make(map[domain.Symbol]domain.Money, len(symbols))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, sym := range symbols {
		step, err := live.LotStep(ctx, sym)
		if err != nil {
			slog.Warn("paper mode: could not resolve lot step, symbol will be untradeable", "symbol", sym, "err", err)
			continue
		}
		lotSteps[sym] = step
	}

	fees := domain.FeeTier{Maker: cfg.Fees.Maker, Taker: cfg.Fees.Taker}
	if tier, err := live.FeeTier(ctx); err == nil {
		fees = tier
	}

	paper := exchange.NewPaperAdapter(mdState, clock.Real{}, domain.NewMoney(cfg.PaperBalanceUSD), fees, lotSteps)
	pollInterval := time.Duration(cfg.Exchange.PollFallbackSeconds) * time.Second
	return paper, exchange.NewPollingStream(live, pollInterval)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
