// Package money converts between the gateway's integer minor units and the
// major-unit decimals stored in the ledger.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the subdivision factor for every currency the platform settles in (NGN, GHS, ZAR, USD, KES).
const MinorPerMajor = 100

var minorFactor = decimal.NewFromInt(MinorPerMajor)

// MaxMajor is the largest amount a NUMERIC(14,2) ledger column holds.
var MaxMajor = decimal.RequireFromString("999999999999.99")

// ErrOutOfRange is returned for amounts the ledger cannot store.
var ErrOutOfRange = errors.New("money: amount out of range")

// Minor is an amount in the currency's smallest unit (kobo, cents).
type Minor int64

// FromMajor converts a major-unit decimal into minor units, rounding half away from zero.
func FromMajor(d decimal.Decimal) Minor {
	return Minor(d.Mul(minorFactor).Round(0).IntPart())
}

// CheckedFromMajor is FromMajor for untrusted input. Amounts beyond
// ±MaxMajor fail instead of wrapping around int64.
func CheckedFromMajor(d decimal.Decimal) (Minor, error) {
	if d.Abs().GreaterThan(MaxMajor) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return FromMajor(d), nil
}

// ParseMajor parses a decimal string such as "100.50".
func ParseMajor(s string) (Minor, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return CheckedFromMajor(d)
}

// Major returns the amount as a two-place decimal in major units.
func (m Minor) Major() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).DivRound(minorFactor, 2)
}

func (m Minor) String() string {
	return m.Major().StringFixed(2)
}

// Split applies rate to gross and returns the fee and the remainder.
// fee is rounded half away from zero; net is always gross - fee.
func Split(gross Minor, rate decimal.Decimal) (fee, net Minor) {
	fee = Minor(decimal.NewFromInt(int64(gross)).Mul(rate).Round(0).IntPart())
	if fee > gross {
		fee = gross
	}
	if fee < 0 {
		fee = 0
	}
	return fee, gross - fee
}
