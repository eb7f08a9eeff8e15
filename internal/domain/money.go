// Package domain holds the engine's core entities: money, symbols, candles,
// signals, positions, trades, portfolios, risk state and the persisted
// record types. Nothing here depends on storage, exchange, or strategy
// packages — those depend on domain, never the reverse.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// moneyScale is the fixed number of fractional digits every Money value is
// rounded to. Balances and prices are never IEEE-754 floats.
const moneyScale = 8

// Money is a fixed-point decimal with 8 fractional digits. It wraps
// shopspring/decimal rather than float64 so that repeated arithmetic over a
// position's lifetime (averaging entries, accruing fees, computing pnl)
// never accumulates binary rounding error.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// NewMoney builds a Money from a float64, e.g. a literal config value. Not
// for use on exchange fill amounts — prefer ParseMoney on wire strings.
func NewMoney(f float64) Money {
	return Money{d: decimal.NewFromFloat(f).Round(moneyScale)}
}

// ParseMoney parses a decimal string, as received from an exchange's JSON
// wire format (exchanges send prices/sizes as strings to avoid float
// ambiguity, and so does this engine internally).
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("domain.ParseMoney: %w", err)
	}
	return Money{d: d.Round(moneyScale)}, nil
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d).Round(moneyScale)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d).Round(moneyScale)} }
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d).Round(moneyScale)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// MulFloat multiplies by a plain ratio (e.g. a size_pct or slippage factor).
func (m Money) MulFloat(f float64) Money {
	return Money{d: m.d.Mul(decimal.NewFromFloat(f)).Round(moneyScale)}
}

// Div divides by another Money, returning a plain ratio (e.g. pnl_pct).
func (m Money) Div(o Money) float64 {
	if o.d.IsZero() {
		return 0
	}
	f, _ := m.d.Div(o.d).Round(moneyScale + 2).Float64()
	return f
}

func (m Money) GreaterThan(o Money) bool      { return m.d.GreaterThan(o.d) }
func (m Money) GreaterOrEqual(o Money) bool   { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool         { return m.d.LessThan(o.d) }
func (m Money) LessOrEqual(o Money) bool      { return m.d.LessThanOrEqual(o.d) }
func (m Money) Equal(o Money) bool            { return m.d.Equal(o.d) }
func (m Money) IsZero() bool                  { return m.d.IsZero() }
func (m Money) IsNegative() bool              { return m.d.IsNegative() }
func (m Money) IsPositive() bool              { return m.d.IsPositive() }
func (m Money) Float64() float64              { f, _ := m.d.Float64(); return f }
func (m Money) String() string                { return m.d.StringFixed(moneyScale) }

// Abs returns the absolute value.
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// FloorToStep rounds m down to the nearest multiple of step (the
// exchange's lot size), never up — a position is never sized larger than
// requested due to rounding. A zero or negative step is a no-op.
func (m Money) FloorToStep(step Money) Money {
	if step.d.IsZero() || step.d.IsNegative() {
		return m
	}
	units := m.d.Div(step.d).Floor()
	return Money{d: units.Mul(step.d).Round(moneyScale)}
}

// MarshalJSON encodes as a decimal string, matching the strategy IO
// contract — signals and market data cross the process boundary as JSON
// and must never round-trip through a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.StringFixed(moneyScale) + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*m = Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("domain.Money.UnmarshalJSON: %w", err)
	}
	*m = Money{d: d.Round(moneyScale)}
	return nil
}

// Value implements driver.Valuer so Money stores as TEXT in SQLite —
// preserving exact decimal precision rather than SQLite's REAL float.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(moneyScale), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("domain.Money.Scan: %w", err)
		}
		*m = Money{d: d.Round(moneyScale)}
		return nil
	case []byte:
		return m.Scan(string(v))
	case float64:
		*m = Money{d: decimal.NewFromFloat(v).Round(moneyScale)}
		return nil
	case int64:
		*m = Money{d: decimal.NewFromInt(v)}
		return nil
	case nil:
		*m = Zero
		return nil
	default:
		return fmt.Errorf("domain.Money.Scan: unsupported type %T", src)
	}
}
