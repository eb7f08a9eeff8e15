// Package storage is a single-writer SQLite journal for every state
// transition the engine makes, plus a read-only handle so
// dashboards/backtests never contend with the live writer.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/enginerr"
)

// SQLiteStorage implements ports.Storage over modernc.org/sqlite (pure
// Go, no cgo). Writes go through a single connection — SQLite is a
// single-writer database, and serializing through one *sql.DB with
// SetMaxOpenConns(1) is simpler and just as correct as a mutex around a
// bigger pool. Reads that don't need read-your-writes consistency (e.g.
// a future dashboard) can open a second *sql.DB against the same file
// with ?mode=ro&_txlock=deferred without touching this one.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies
// the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// NewReadOnlyHandle opens a second, read-only connection against the
// same file for callers that must never block behind the writer — a
// read replica for dashboards/backtests.
func NewReadOnlyHandle(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_txlock=deferred")
	if err != nil {
		return nil, fmt.Errorf("storage.NewReadOnlyHandle: open %q: %w", path, err)
	}
	return db, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func journalErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return enginerr.New(enginerr.JournalWriteFailure, op, err)
}

func nullMoney(m *domain.Money) any {
	if m == nil {
		return nil
	}
	return m.String()
}

func scanOptionalMoney(ns sql.NullString) (*domain.Money, error) {
	if !ns.Valid {
		return nil, nil
	}
	m, err := domain.ParseMoney(ns.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// --- trades ---

func (s *SQLiteStorage) SaveClosedTrade(ctx context.Context, t domain.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, tag, side, qty, entry_price, exit_price, pnl, pnl_pct,
			fees, intent, strategy_version, strategy_regime, close_reason, opened_at, closed_at, mae)
		VALUES (?, ?, ?, 'long', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pnl = excluded.pnl, pnl_pct = excluded.pnl_pct, exit_price = excluded.exit_price,
			closed_at = excluded.closed_at, mae = excluded.mae
	`,
		t.ID, string(t.Symbol), t.Tag, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPct,
		t.Fees, string(t.Intent), t.StrategyVersion, t.StrategyRegime, string(t.CloseReason),
		t.OpenedAt.UTC(), t.ClosedAt.UTC(), t.MAECarried,
	)
	return journalErr("storage.SaveClosedTrade", err)
}

func (s *SQLiteStorage) RecentTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, tag, qty, entry_price, exit_price, pnl, pnl_pct, fees, intent,
			strategy_version, strategy_regime, close_reason, opened_at, closed_at, mae
		FROM trades ORDER BY closed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Tag, &t.Qty, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.PnLPct, &t.Fees, &t.Intent, &t.StrategyVersion, &t.StrategyRegime,
			&t.CloseReason, &t.OpenedAt, &t.ClosedAt, &t.MAECarried); err != nil {
			return nil, fmt.Errorf("storage.RecentTrades: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- positions ---

func (s *SQLiteStorage) UpsertPosition(ctx context.Context, p domain.OpenPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, tag, side, qty, avg_entry, opened_at, intent, stop_loss, take_profit, mae)
		VALUES (?, ?, 'long', ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, tag) DO UPDATE SET
			qty = excluded.qty, avg_entry = excluded.avg_entry, intent = excluded.intent,
			stop_loss = excluded.stop_loss, take_profit = excluded.take_profit, mae = excluded.mae
	`,
		string(p.Symbol), p.Tag, p.Qty, p.AvgEntry, p.OpenedAt.UTC(), string(p.Intent),
		nullMoney(p.StopLoss), nullMoney(p.TakeProfit), p.MAE,
	)
	return journalErr("storage.UpsertPosition", err)
}

func (s *SQLiteStorage) DeletePosition(ctx context.Context, key domain.PositionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ? AND tag = ?`,
		string(key.Symbol), key.Tag)
	return journalErr("storage.DeletePosition", err)
}

func (s *SQLiteStorage) LoadPositions(ctx context.Context) ([]domain.OpenPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, tag, qty, avg_entry, opened_at, intent, stop_loss, take_profit, mae
		FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OpenPosition
	for rows.Next() {
		var p domain.OpenPosition
		var stopLoss, takeProfit sql.NullString
		p.Side = domain.SideLong
		if err := rows.Scan(&p.Symbol, &p.Tag, &p.Qty, &p.AvgEntry, &p.OpenedAt, &p.Intent,
			&stopLoss, &takeProfit, &p.MAE); err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: scan: %w", err)
		}
		sl, err := scanOptionalMoney(stopLoss)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: stop_loss: %w", err)
		}
		tp, err := scanOptionalMoney(takeProfit)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: take_profit: %w", err)
		}
		p.StopLoss, p.TakeProfit = sl, tp
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- signals ---

func (s *SQLiteStorage) SaveSignal(ctx context.Context, r domain.SignalRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, action, size_pct, confidence, intent, tag, reasoning,
			strategy_version, strategy_regime, acted_on, rejected_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, string(r.Symbol), string(r.Action), r.SizePct, r.Confidence, string(r.Intent),
		r.Tag, r.Reasoning, r.StrategyVersion, r.StrategyRegime, boolToInt(r.ActedOn),
		r.RejectedReason, r.CreatedAt.UTC(),
	)
	return journalErr("storage.SaveSignal", err)
}

// --- scan results ---

func (s *SQLiteStorage) SaveScanResult(ctx context.Context, r domain.ScanResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_results (ts, symbol, price, ema_fast, ema_slow, rsi, volume_ratio,
			spread, strategy_regime, signal_generated, signal_action, signal_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.TS.UTC(), string(r.Symbol), r.Price, r.EMAFast, r.EMASlow, r.RSI, r.VolumeRatio,
		r.Spread, r.StrategyRegime, boolToInt(r.SignalGenerated), string(r.SignalAction), r.SignalConfidence,
	)
	return journalErr("storage.SaveScanResult", err)
}

// --- orders ---

func (s *SQLiteStorage) SaveOrder(ctx context.Context, o domain.OrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, symbol, side, qty, limit_price, status,
			created_at, filled_at, fill_price, fee)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id, status = excluded.status,
			filled_at = excluded.filled_at, fill_price = excluded.fill_price, fee = excluded.fee
	`,
		o.ID, o.ExchangeOrderID, string(o.Symbol), string(o.Side), o.Qty, nullMoney(o.LimitPrice),
		string(o.Status), o.CreatedAt.UTC(), nullTime(o.FilledAt), o.FillPrice, o.Fee,
	)
	return journalErr("storage.SaveOrder", err)
}

func (s *SQLiteStorage) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(status), id)
	return journalErr("storage.UpdateOrderStatus", err)
}

// --- conditional orders ---

func (s *SQLiteStorage) SaveConditionalOrder(ctx context.Context, c domain.ConditionalOrder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conditional_orders (id, symbol, tag, kind, trigger_price, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, trigger_price = excluded.trigger_price
	`, c.ID, string(c.Symbol), c.Tag, string(c.Kind), c.TriggerPrice, string(c.Status))
	return journalErr("storage.SaveConditionalOrder", err)
}

func (s *SQLiteStorage) UpdateConditionalStatus(ctx context.Context, id string, status domain.ConditionalStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conditional_orders SET status = ? WHERE id = ?`, string(status), id)
	return journalErr("storage.UpdateConditionalStatus", err)
}

func (s *SQLiteStorage) LoadConditionalOrders(ctx context.Context) ([]domain.ConditionalOrder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, tag, kind, trigger_price, status FROM conditional_orders`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadConditionalOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ConditionalOrder
	for rows.Next() {
		var c domain.ConditionalOrder
		if err := rows.Scan(&c.ID, &c.Symbol, &c.Tag, &c.Kind, &c.TriggerPrice, &c.Status); err != nil {
			return nil, fmt.Errorf("storage.LoadConditionalOrders: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- daily performance ---

func (s *SQLiteStorage) SaveDailyPerformance(ctx context.Context, d domain.DailyPerformance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_performance (date, portfolio_value, cash, total_trades, wins, losses,
			gross_pnl, net_pnl, fees_total, max_drawdown_pct, win_rate, expectancy, strategy_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			portfolio_value = excluded.portfolio_value, cash = excluded.cash,
			total_trades = excluded.total_trades, wins = excluded.wins, losses = excluded.losses,
			gross_pnl = excluded.gross_pnl, net_pnl = excluded.net_pnl, fees_total = excluded.fees_total,
			max_drawdown_pct = excluded.max_drawdown_pct, win_rate = excluded.win_rate,
			expectancy = excluded.expectancy, strategy_version = excluded.strategy_version
	`,
		d.Date.UTC(), d.PortfolioValue, d.Cash, d.TotalTrades, d.Wins, d.Losses, d.GrossPnL,
		d.NetPnL, d.FeesTotal, d.MaxDrawdownPct, d.WinRate, d.Expectancy, d.StrategyVersion,
	)
	return journalErr("storage.SaveDailyPerformance", err)
}

func (s *SQLiteStorage) LoadDailyPerformance(ctx context.Context, from, to time.Time) ([]domain.DailyPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, portfolio_value, cash, total_trades, wins, losses, gross_pnl, net_pnl,
			fees_total, max_drawdown_pct, win_rate, expectancy, strategy_version
		FROM daily_performance WHERE date BETWEEN ? AND ? ORDER BY date ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.LoadDailyPerformance: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyPerformance
	for rows.Next() {
		var d domain.DailyPerformance
		if err := rows.Scan(&d.Date, &d.PortfolioValue, &d.Cash, &d.TotalTrades, &d.Wins, &d.Losses,
			&d.GrossPnL, &d.NetPnL, &d.FeesTotal, &d.MaxDrawdownPct, &d.WinRate, &d.Expectancy,
			&d.StrategyVersion); err != nil {
			return nil, fmt.Errorf("storage.LoadDailyPerformance: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- capital events ---

func (s *SQLiteStorage) SaveCapitalEvent(ctx context.Context, e domain.CapitalEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO capital_events (id, ts, kind, amount) VALUES (?, ?, ?, ?)`,
		e.ID, e.TS.UTC(), string(e.Kind), e.Amount)
	return journalErr("storage.SaveCapitalEvent", err)
}

func (s *SQLiteStorage) LoadCapitalEvents(ctx context.Context, from, to time.Time) ([]domain.CapitalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ts, kind, amount FROM capital_events WHERE ts BETWEEN ? AND ? ORDER BY ts ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.LoadCapitalEvents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CapitalEvent
	for rows.Next() {
		var e domain.CapitalEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.Amount); err != nil {
			return nil, fmt.Errorf("storage.LoadCapitalEvents: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- risk state ---

func (s *SQLiteStorage) SaveRiskSnapshot(ctx context.Context, sn domain.RiskStateSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state_snapshots (ts, daily_pnl, drawdown_pct, halted, halt_reason)
		VALUES (?, ?, ?, ?, ?)
	`, sn.TS.UTC(), sn.DailyPnL, sn.Drawdown, boolToInt(sn.Halted), string(sn.HaltReason))
	return journalErr("storage.SaveRiskSnapshot", err)
}

func (s *SQLiteStorage) SaveRiskState(ctx context.Context, st domain.RiskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state_current (id, daily_pnl, daily_trades, consecutive_losses,
			drawdown_pct, peak_value, start_of_day_value, state, halt_reason, rollback_pending)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_pnl = excluded.daily_pnl, daily_trades = excluded.daily_trades,
			consecutive_losses = excluded.consecutive_losses, drawdown_pct = excluded.drawdown_pct,
			peak_value = excluded.peak_value, start_of_day_value = excluded.start_of_day_value,
			state = excluded.state, halt_reason = excluded.halt_reason,
			rollback_pending = excluded.rollback_pending
	`,
		st.DailyPnL, st.DailyTrades, st.ConsecutiveLosses, st.DrawdownPct, st.PeakValue,
		st.StartOfDayValue, string(st.State), string(st.HaltReason), boolToInt(st.RollbackPending),
	)
	return journalErr("storage.SaveRiskState", err)
}

func (s *SQLiteStorage) LoadLatestRiskState(ctx context.Context) (domain.RiskState, bool, error) {
	var st domain.RiskState
	var rollback int
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_pnl, daily_trades, consecutive_losses, drawdown_pct, peak_value,
			start_of_day_value, state, halt_reason, rollback_pending
		FROM risk_state_current WHERE id = 1
	`).Scan(&st.DailyPnL, &st.DailyTrades, &st.ConsecutiveLosses, &st.DrawdownPct, &st.PeakValue,
		&st.StartOfDayValue, &st.State, &st.HaltReason, &rollback)
	if err == sql.ErrNoRows {
		return domain.RiskState{}, false, nil
	}
	if err != nil {
		return domain.RiskState{}, false, fmt.Errorf("storage.LoadLatestRiskState: %w", err)
	}
	st.RollbackPending = rollback == 1
	return st, true, nil
}

// --- strategy state ---

func (s *SQLiteStorage) SaveStrategyState(ctx context.Context, version string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_state (strategy_version, blob, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(strategy_version) DO UPDATE SET blob = excluded.blob, saved_at = excluded.saved_at
	`, version, blob, time.Now().UTC())
	return journalErr("storage.SaveStrategyState", err)
}

func (s *SQLiteStorage) LoadStrategyState(ctx context.Context, version string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM strategy_state WHERE strategy_version = ?`, version).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LoadStrategyState: %w", err)
	}
	return blob, nil
}

// --- cash ---

func (s *SQLiteStorage) SaveCash(ctx context.Context, cash domain.Money) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_ledger (id, cash) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET cash = excluded.cash
	`, cash)
	return journalErr("storage.SaveCash", err)
}

func (s *SQLiteStorage) LoadCash(ctx context.Context) (domain.Money, bool, error) {
	var m domain.Money
	err := s.db.QueryRowContext(ctx, `SELECT cash FROM cash_ledger WHERE id = 1`).Scan(&m)
	if err == sql.ErrNoRows {
		return domain.Zero, false, nil
	}
	if err != nil {
		return domain.Zero, false, fmt.Errorf("storage.LoadCash: %w", err)
	}
	return m, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
