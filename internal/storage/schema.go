package storage

// schema is applied once at startup via db.Exec. Every table mirrors a
// domain record type 1:1 so journaling never needs an intermediate
// mapping layer beyond the query itself. Money columns are
// TEXT: domain.Money implements driver.Valuer/Scanner over its decimal
// string form, never SQLite's REAL, so nothing gets reread through a float.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id               TEXT PRIMARY KEY,
    symbol           TEXT NOT NULL,
    tag              TEXT NOT NULL,
    side             TEXT NOT NULL,
    qty              TEXT NOT NULL,
    entry_price      TEXT NOT NULL,
    exit_price       TEXT NOT NULL,
    pnl              TEXT NOT NULL,
    pnl_pct          REAL NOT NULL DEFAULT 0,
    fees             TEXT NOT NULL,
    intent           TEXT NOT NULL,
    strategy_version TEXT NOT NULL DEFAULT '',
    strategy_regime  TEXT NOT NULL DEFAULT '',
    close_reason     TEXT NOT NULL DEFAULT '',
    opened_at        DATETIME NOT NULL,
    closed_at        DATETIME NOT NULL,
    mae              REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_symbol    ON trades(symbol);

CREATE TABLE IF NOT EXISTS positions (
    symbol      TEXT NOT NULL,
    tag         TEXT NOT NULL,
    side        TEXT NOT NULL,
    qty         TEXT NOT NULL,
    avg_entry   TEXT NOT NULL,
    opened_at   DATETIME NOT NULL,
    intent      TEXT NOT NULL,
    stop_loss   TEXT,
    take_profit TEXT,
    mae         REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, tag)
);

CREATE TABLE IF NOT EXISTS signals (
    id               TEXT PRIMARY KEY,
    symbol           TEXT NOT NULL,
    action           TEXT NOT NULL,
    size_pct         REAL NOT NULL DEFAULT 0,
    confidence       REAL NOT NULL DEFAULT 0,
    intent           TEXT NOT NULL,
    tag              TEXT NOT NULL,
    reasoning        TEXT NOT NULL DEFAULT '',
    strategy_version TEXT NOT NULL DEFAULT '',
    strategy_regime  TEXT NOT NULL DEFAULT '',
    acted_on         INTEGER NOT NULL DEFAULT 0,
    rejected_reason  TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at DESC);

CREATE TABLE IF NOT EXISTS scan_results (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    ts                DATETIME NOT NULL,
    symbol            TEXT NOT NULL,
    price             TEXT NOT NULL,
    ema_fast          REAL NOT NULL DEFAULT 0,
    ema_slow          REAL NOT NULL DEFAULT 0,
    rsi               REAL NOT NULL DEFAULT 0,
    volume_ratio      REAL NOT NULL DEFAULT 0,
    spread            TEXT NOT NULL DEFAULT '0',
    strategy_regime   TEXT NOT NULL DEFAULT '',
    signal_generated  INTEGER NOT NULL DEFAULT 0,
    signal_action     TEXT NOT NULL DEFAULT '',
    signal_confidence REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scan_results_ts ON scan_results(ts DESC);

CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    exchange_order_id TEXT NOT NULL DEFAULT '',
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    qty               TEXT NOT NULL,
    limit_price       TEXT,
    status            TEXT NOT NULL,
    created_at        DATETIME NOT NULL,
    filled_at         DATETIME,
    fill_price        TEXT NOT NULL DEFAULT '0',
    fee               TEXT NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC);

CREATE TABLE IF NOT EXISTS conditional_orders (
    id            TEXT PRIMARY KEY,
    symbol        TEXT NOT NULL,
    tag           TEXT NOT NULL,
    kind          TEXT NOT NULL,
    trigger_price TEXT NOT NULL,
    status        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conditional_status ON conditional_orders(status);

CREATE TABLE IF NOT EXISTS daily_performance (
    date             DATETIME PRIMARY KEY,
    portfolio_value  TEXT NOT NULL,
    cash             TEXT NOT NULL,
    total_trades     INTEGER NOT NULL DEFAULT 0,
    wins             INTEGER NOT NULL DEFAULT 0,
    losses           INTEGER NOT NULL DEFAULT 0,
    gross_pnl        TEXT NOT NULL DEFAULT '0',
    net_pnl          TEXT NOT NULL DEFAULT '0',
    fees_total       TEXT NOT NULL DEFAULT '0',
    max_drawdown_pct REAL NOT NULL DEFAULT 0,
    win_rate         REAL NOT NULL DEFAULT 0,
    expectancy       TEXT NOT NULL DEFAULT '0',
    strategy_version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS capital_events (
    id     TEXT PRIMARY KEY,
    ts     DATETIME NOT NULL,
    kind   TEXT NOT NULL,
    amount TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capital_events_ts ON capital_events(ts DESC);

CREATE TABLE IF NOT EXISTS risk_state_snapshots (
    ts          DATETIME PRIMARY KEY,
    daily_pnl   TEXT NOT NULL,
    drawdown_pct REAL NOT NULL DEFAULT 0,
    halted      INTEGER NOT NULL DEFAULT 0,
    halt_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS risk_state_current (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    daily_pnl          TEXT NOT NULL,
    daily_trades       INTEGER NOT NULL DEFAULT 0,
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    drawdown_pct       REAL NOT NULL DEFAULT 0,
    peak_value         TEXT NOT NULL,
    start_of_day_value TEXT NOT NULL,
    state              TEXT NOT NULL,
    halt_reason        TEXT NOT NULL DEFAULT '',
    rollback_pending   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS strategy_state (
    strategy_version TEXT PRIMARY KEY,
    blob             BLOB NOT NULL,
    saved_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cash_ledger (
    id   INTEGER PRIMARY KEY CHECK (id = 1),
    cash TEXT NOT NULL
);
`
