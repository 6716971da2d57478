// Package money converts between the major units used at the API edge and
// the integer minor units stored by the ledger. It is the only place in the
// codebase that knows the scale factor.
package money

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits of every supported currency.
const MinorDigits = 2

var (
	ErrTooPrecise      = errors.New("amount has more than 2 fractional digits")
	ErrOutOfRange      = errors.New("amount out of range")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter ISO-4217 code")

	scale        = decimal.New(1, MinorDigits)
	maxMinor     = decimal.NewFromInt(1<<62 - 1)
	currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ToMinor converts a major-unit amount (e.g. 49.99) into minor units (4999).
func ToMinor(major decimal.Decimal) (int64, error) {
	minor := major.Mul(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrOutOfRange
	}
	return minor.IntPart(), nil
}

// PositiveMinor is ToMinor that additionally rejects zero and negative amounts.
func PositiveMinor(major decimal.Decimal) (int64, error) {
	minor, err := ToMinor(major)
	if err != nil {
		return 0, err
	}
	if minor <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrOutOfRange)
	}
	return minor, nil
}

// FromMinor converts minor units back to major units for display.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorDigits)
}

// Parse reads a major-unit amount from its decimal string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// ValidCurrency reports whether code looks like an ISO-4217 code.
func ValidCurrency(code string) bool {
	return currencyCode.MatchString(code)
}

// Format renders minor units as a fixed two-digit major-unit string.
func Format(minor int64, currency string) string {
	return FromMinor(minor).StringFixed(MinorDigits) + " " + currency
}
