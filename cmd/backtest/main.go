// Command backtest replays historical 5m candles bar-by-bar through the
// same strategy contract, risk gate, and portfolio execution path the
// live engine uses, backed by a synthetic PaperAdapter instead of a real
// exchange. It shares every core package with cmd/engine — the only
// thing it replaces is time and the source of candles.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/halvorsen-quant/autotrader/config"
	"github.com/halvorsen-quant/autotrader/internal/clock"
	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/exchange"
	"github.com/halvorsen-quant/autotrader/internal/marketdata"
	"github.com/halvorsen-quant/autotrader/internal/notify"
	"github.com/halvorsen-quant/autotrader/internal/portfolio"
	"github.com/halvorsen-quant/autotrader/internal/ports"
	"github.com/halvorsen-quant/autotrader/internal/risk"
	"github.com/halvorsen-quant/autotrader/internal/storage"
	"github.com/halvorsen-quant/autotrader/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	candlesCSV := flag.String("candles", "", "CSV file of historical 5m candles: symbol,ts,open,high,low,close,volume")
	outputDSN := flag.String("out", ":memory:", "SQLite DSN for backtest journal output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *candlesCSV == "" {
		slog.Error("-candles is required")
		os.Exit(1)
	}

	candles, err := loadCandlesCSV(*candlesCSV)
	if err != nil {
		slog.Error("failed to load candles", "err", err, "path", *candlesCSV)
		os.Exit(1)
	}
	slog.Info("backtest loaded candles", "count", len(candles), "path", *candlesCSV)

	store, err := storage.NewSQLiteStorage(*outputDSN)
	if err != nil {
		slog.Error("failed to open output storage", "err", err, "dsn", *outputDSN)
		os.Exit(1)
	}
	defer store.Close()

	fakeClock := clock.NewFake(firstTimestamp(candles))
	allowed := domain.NewAllowlist(cfg.Symbols)
	mdState := marketdata.NewState(allowed)

	lotSteps := make(map[domain.Symbol]domain.Money, len(cfg.Symbols))
	for _, sym := range allowed.Symbols() {
		lotSteps[sym] = domain.NewMoney(0.00001) // backtest lot step: effectively unrounded
	}
	fees := domain.FeeTier{Maker: cfg.Fees.Maker, Taker: cfg.Fees.Taker}
	paperExch := exchange.NewPaperAdapter(mdState, fakeClock, domain.NewMoney(cfg.PaperBalanceUSD), fees, lotSteps)

	riskLimits := risk.Limits{
		Allowed:        allowed,
		MaxPositionPct: cfg.Risk.MaxPositionPct, MaxPositions: cfg.Risk.MaxPositions,
		MaxTradePct: cfg.Risk.MaxTradePct, MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		MaxDailyTrades: cfg.Risk.MaxDailyTrades, MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
		RollbackDailyLossPct: cfg.Risk.RollbackDailyLossPct,
		ConsecutiveLossesDisable: cfg.Risk.ConsecutiveLossesDisable,
		MinNotional: cfg.Risk.MinNotional,
	}
	riskEngine := risk.NewEngine(riskLimits, domain.RiskState{}, fakeClock)
	riskEngine.SetFees(fees)

	console := notify.NewConsole()
	initialPortfolio := domain.Portfolio{Cash: domain.NewMoney(cfg.PaperBalanceUSD)}
	portfolioMgr := portfolio.NewManager(paperExch, store, console, fakeClock, initialPortfolio)

	limitsView := ports.RiskLimitsView{
		MaxTradePct: cfg.Risk.MaxTradePct, DefaultTradePct: cfg.Risk.DefaultTradePct,
		MaxPositionPct: cfg.Risk.MaxPositionPct, MaxPositions: cfg.Risk.MaxPositions,
	}
	host := strategy.NewHost(store, console, limitsView, allowed.Symbols())
	ctx := context.Background()
	if err := host.LoadInitial(ctx, cfg.Strategy.BinaryPath); err != nil {
		slog.Error("failed to load strategy", "err", err)
		os.Exit(1)
	}

	grouped := groupByTimestamp(candles)
	var lastDay time.Time
	for _, ts := range sortedTimestamps(grouped) {
		fakeClock.Set(ts)
		for _, c := range grouped[ts] {
			mdState.PushCandle(c)
			mdState.UpdateQuote(domain.Quote{Symbol: c.Symbol, Price: c.Close})
		}

		portfolioMgr.Recompute(mdState.Marks())
		snap := portfolioMgr.Snapshot()
		markets := mdState.SnapshotAll()

		signals, err := host.Analyze(ctx, markets, snap, ts)
		if err != nil {
			slog.Warn("backtest: analyze failed, skipping bar", "ts", ts, "err", err)
			continue
		}

		marks := mdState.Marks()
		for _, sig := range signals {
			mark, ok := marks[sig.Symbol]
			if !ok {
				continue
			}
			verdict := riskEngine.Evaluate(sig, snap, mark)
			if verdict.Outcome == risk.Rejected {
				continue
			}
			sizePct := sig.SizePct
			if verdict.Outcome == risk.Shaped {
				sizePct = verdict.ShapedSizePct
			}
			res, err := portfolioMgr.Execute(ctx, sig, sizePct, snap.TotalValue, mark, host)
			if err != nil {
				slog.Warn("backtest: execute failed", "symbol", sig.Symbol, "err", err)
				continue
			}
			var pnl *domain.Money
			if res.ClosedTrade != nil {
				pnl = &res.ClosedTrade.PnL
			}
			riskEngine.RecordFill(pnl)
			snap = portfolioMgr.Snapshot()
		}

		if !ts.Truncate(24 * time.Hour).Equal(lastDay) {
			if !lastDay.IsZero() {
				riskEngine.RolloverDay(snap.TotalValue)
			}
			lastDay = ts.Truncate(24 * time.Hour)
		}
		riskEngine.UpdatePortfolioValue(snap.TotalValue)
	}

	final := portfolioMgr.Snapshot()
	fmt.Printf("backtest complete: %d bars, final total_value=%s, total_pnl=%s, trades=%d\n",
		len(grouped), final.TotalValue, final.TotalPnL, len(final.RecentTrades))
}

func loadCandlesCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "symbol" {
			continue // header
		}
		if len(row) < 7 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: parse ts: %w", i, err)
		}
		c := domain.Candle{
			Symbol: domain.Symbol(row[0]), TS: ts,
			Open: parseMoney(row[2]), High: parseMoney(row[3]),
			Low: parseMoney(row[4]), Close: parseMoney(row[5]),
			Volume: parseMoney(row[6]), Timeframe: domain.Timeframe5m,
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseMoney(s string) domain.Money {
	f, _ := strconv.ParseFloat(s, 64)
	return domain.NewMoney(f)
}

func firstTimestamp(candles []domain.Candle) time.Time {
	if len(candles) == 0 {
		return time.Now().UTC()
	}
	earliest := candles[0].TS
	for _, c := range candles[1:] {
		if c.TS.Before(earliest) {
			earliest = c.TS
		}
	}
	return earliest
}

func groupByTimestamp(candles []domain.Candle) map[time.Time][]domain.Candle {
	grouped := make(map[time.Time][]domain.Candle)
	for _, c := range candles {
		grouped[c.TS] = append(grouped[c.TS], c)
	}
	return grouped
}

func sortedTimestamps(grouped map[time.Time][]domain.Candle) []time.Time {
	ts := make([]time.Time, 0, len(grouped))
	for t := range grouped {
		ts = append(ts, t)
	}
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
	return ts
}
