// Package money provides the arbitrary-precision decimal types used on every
// settlement path in the engine. No float64 is ever used for an amount.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal is the engine's arithmetic type. It is a thin alias so that
// settlement code reads as domain vocabulary ("money.Decimal") instead of a
// third-party import, while still being a shopspring/decimal.Decimal under
// the hood.
type Decimal = decimal.Decimal

// Zero is the additive identity, exported so call sites never need to reach
// for decimal.Zero directly.
var Zero = decimal.Zero

// NewFromString parses a decimal amount from its canonical string form.
// Providers must never hand the engine a float-formatted amount; this is the
// only accepted entry point for provider-supplied amounts.
func NewFromString(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("money: empty amount")
	}
	return decimal.NewFromString(s)
}

// Currency is a normalised asset identifier: an upper-cased symbol plus
// whether it settles as fiat.
type Currency struct {
	Symbol  string
	IsFiat  bool
}

// NewCurrency normalises sym to upper-case and records whether it is fiat.
func NewCurrency(sym string, isFiat bool) Currency {
	return Currency{Symbol: strings.ToUpper(strings.TrimSpace(sym)), IsFiat: isFiat}
}

func (c Currency) String() string { return c.Symbol }

// Money pairs a decimal amount with its currency. Arithmetic across two
// Money values of different currencies is a programmer error and panics,
// mirroring the engine-wide rule that settlement paths never silently mix
// assets.
type Money struct {
	Amount   Decimal
	Currency Currency
}

// New builds a Money value.
func New(amount Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add returns m + other. Panics if the currencies differ.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Sub returns m - other. Panics if the currencies differ.
func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) mustMatch(other Money) {
	if m.Currency.Symbol != other.Currency.Symbol {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.Currency.Symbol, other.Currency.Symbol))
	}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Currency.Symbol)
}

// WithinTolerance reports whether |a - b| <= tolerance * max(|a|, |b|, 1).
// Used by the processor to compare cross-source variance against a
// per-source tolerance percentage expressed as a decimal fraction (e.g.
// 0.005 for Kraken's warn threshold of 0.5%).
func WithinTolerance(a, b, tolerance Decimal) bool {
	diff := a.Sub(b).Abs()
	base := a.Abs()
	if b.Abs().GreaterThan(base) {
		base = b.Abs()
	}
	if base.LessThan(decimal.NewFromInt(1)) {
		base = decimal.NewFromInt(1)
	}
	return diff.LessThanOrEqual(base.Mul(tolerance))
}
