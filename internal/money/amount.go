// Package money provides the exact-decimal Amount type shared by every
// mandate and ledger entry. No monetary value in the signed path is ever
// represented as a binary float.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned whenever two Amounts are compared or
// combined across different ISO-4217 currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Amount is a decimal value paired with its ISO-4217 currency code.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// New builds an Amount from a decimal string.
func New(value string, currency string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid value %q: %w", value, err)
	}
	return Amount{Value: d, Currency: currency}, nil
}

// MustNew panics on invalid input; used for fixtures and constants.
func MustNew(value string, currency string) Amount {
	a, err := New(value, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero reports whether the amount is exactly zero.
func (a Amount) Zero() bool {
	return a.Value.IsZero()
}

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool {
	return a.Value.IsPositive()
}

// Add returns a+b, failing if currencies differ.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, ErrCurrencyMismatch
	}
	return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency}, nil
}

// Equal reports exact equality of value and currency.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Value.Equal(b.Value)
}

// LessThanOrEqual reports a<=b, failing (false, err) on currency mismatch.
func (a Amount) LessThanOrEqual(b Amount) (bool, error) {
	if a.Currency != b.Currency {
		return false, ErrCurrencyMismatch
	}
	return a.Value.LessThanOrEqual(b.Value), nil
}

// String renders the amount as "<value> <currency>" for logging.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), a.Currency)
}

// CanonicalString returns the shortest round-trip decimal string used by
// the canonicalizer (internal/canonical) when hashing/signing an Amount.
func (a Amount) CanonicalString() string {
	return a.Value.String()
}
