// Package config loads the engine's typed configuration from YAML plus an
// optional .env overlay for secrets. Unknown fields are a load error, not
// a warning — a typed configuration record catches drift at load time
// instead of silently ignoring a renamed or misspelled key.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/halvorsen-quant/autotrader/internal/enginerr"
)

// Mode selects the exchange adapter variant.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config is the engine's full typed configuration.
type Config struct {
	Mode                       Mode     `yaml:"mode"`
	PaperBalanceUSD            float64  `yaml:"paper_balance_usd"`
	Symbols                    []string `yaml:"symbols"`
	Timezone                   string   `yaml:"timezone"`
	ScanIntervalMinutesOverride int     `yaml:"scan_interval_minutes_override"`

	Risk    RiskLimits    `yaml:"risk"`
	Fees    FeeOverrides  `yaml:"fees"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Strategy StrategyConfig `yaml:"strategy"`
}

// RiskLimits are the risk gate's fixed policy parameters.
type RiskLimits struct {
	MaxPositionPct           float64 `yaml:"max_position_pct"`
	MaxPositions             int     `yaml:"max_positions"`
	MaxTradePct              float64 `yaml:"max_trade_pct"`
	DefaultTradePct          float64 `yaml:"default_trade_pct"`
	MaxDailyLossPct          float64 `yaml:"max_daily_loss_pct"`
	MaxDailyTrades           int     `yaml:"max_daily_trades"`
	MaxDrawdownPct           float64 `yaml:"max_drawdown_pct"`
	RollbackDailyLossPct     float64 `yaml:"rollback_daily_loss_pct"`
	ConsecutiveLossesDisable int     `yaml:"consecutive_losses_disable"`
	DefaultStopLossPct       float64 `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct     float64 `yaml:"default_take_profit_pct"`
	MinNotional              float64 `yaml:"min_notional"`
}

// FeeOverrides are used when the exchange fee-refresh query is unavailable.
type FeeOverrides struct {
	Maker float64 `yaml:"maker"`
	Taker float64 `yaml:"taker"`
}

// StorageConfig controls where persisted state lives.
type StorageConfig struct {
	DSN      string `yaml:"dsn"`       // path to the SQLite file, or ":memory:"
	DataDir  string `yaml:"data_dir"`  // directory holding the PID lockfile
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ExchangeConfig holds live-adapter connection settings.
type ExchangeConfig struct {
	BaseURL            string `yaml:"base_url"`
	StreamURL          string `yaml:"stream_url"`
	APIKeyEnv          string `yaml:"api_key_env"`    // env var name holding the API key
	APISecretEnv       string `yaml:"api_secret_env"` // env var name holding the API secret
	PollFallbackSeconds int   `yaml:"poll_fallback_seconds"`
}

// StrategyConfig locates the pluggable strategy implementation.
type StrategyConfig struct {
	BinaryPath   string `yaml:"binary_path"`
	FallbackKind string `yaml:"fallback_kind"` // defaults to "builtin"; not read: strategy.Host always falls back to BuiltinEMARSI
}

// Load reads the YAML config at path, overlays .env, validates, and
// applies defaults. Unknown YAML keys are a ConfigInvalid error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // silently ignore a missing .env

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, enginerr.New(enginerr.ConfigInvalid, fmt.Sprintf("read %q", path), err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, enginerr.New(enginerr.ConfigInvalid, "parse YAML (strict)", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, enginerr.New(enginerr.ConfigInvalid, "validate", err)
	}
	return &cfg, nil
}

// ScanInterval returns the configured clamp, if any, as a Duration. A
// value of zero means "no override" — the strategy's own
// ScanIntervalMinutes() governs.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutesOverride) * time.Minute
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ENGINE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	if cfg.PaperBalanceUSD <= 0 {
		cfg.PaperBalanceUSD = 10000
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Risk.MaxTradePct <= 0 {
		cfg.Risk.MaxTradePct = 0.10
	}
	if cfg.Risk.DefaultTradePct <= 0 {
		cfg.Risk.DefaultTradePct = 0.05
	}
	if cfg.Risk.MaxPositionPct <= 0 {
		cfg.Risk.MaxPositionPct = 0.25
	}
	if cfg.Risk.MaxPositions <= 0 {
		cfg.Risk.MaxPositions = 10
	}
	if cfg.Risk.MaxDailyTrades <= 0 {
		cfg.Risk.MaxDailyTrades = 20
	}
	if cfg.Risk.MaxDailyLossPct <= 0 {
		cfg.Risk.MaxDailyLossPct = 0.06
	}
	if cfg.Risk.MaxDrawdownPct <= 0 {
		cfg.Risk.MaxDrawdownPct = 0.20
	}
	if cfg.Risk.RollbackDailyLossPct <= 0 {
		cfg.Risk.RollbackDailyLossPct = 0.04
	}
	if cfg.Risk.DefaultStopLossPct <= 0 {
		cfg.Risk.DefaultStopLossPct = 0.05
	}
	if cfg.Risk.DefaultTakeProfitPct <= 0 {
		cfg.Risk.DefaultTakeProfitPct = 0.10
	}
	if cfg.Risk.MinNotional <= 0 {
		cfg.Risk.MinNotional = 10
	}
	if cfg.Fees.Maker <= 0 {
		cfg.Fees.Maker = 0.0025
	}
	if cfg.Fees.Taker <= 0 {
		cfg.Fees.Taker = 0.0040
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "engine.db"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "."
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Exchange.PollFallbackSeconds <= 0 {
		cfg.Exchange.PollFallbackSeconds = 5
	}
	if cfg.Strategy.FallbackKind == "" {
		cfg.Strategy.FallbackKind = "builtin"
	}
}

// Validate checks cross-field invariants the YAML schema alone can't
// express. The engine is driven by exactly one max_daily_loss_pct value,
// the one in the risk block. Config has no top-level field of that name,
// so Load's strict decoding rejects a top-level key as unknown
// (ConfigInvalid) before Validate runs, whether or not it agrees with the
// nested value.
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModePaper, ModeLive, c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	if c.Risk.MaxTradePct <= 0 || c.Risk.MaxTradePct > 1 {
		return fmt.Errorf("config: max_trade_pct must be in (0,1], got %v", c.Risk.MaxTradePct)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("config: max_daily_loss_pct must be in (0,1], got %v", c.Risk.MaxDailyLossPct)
	}
	if c.Mode == ModeLive {
		if c.Exchange.BaseURL == "" {
			return fmt.Errorf("config: exchange.base_url required in live mode")
		}
		if c.Exchange.APIKeyEnv == "" || os.Getenv(c.Exchange.APIKeyEnv) == "" {
			return fmt.Errorf("config: exchange.api_key_env %q must name a populated environment variable in live mode", c.Exchange.APIKeyEnv)
		}
	}
	return nil
}
