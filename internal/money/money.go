// Package money converts catalog decimal prices to integer minor units and
// applies rates without ever going through float64.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places of the minor unit (cents).
const MinorUnitExponent = 2

// ToMinor rounds amount to two decimal places and returns it in cents.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Round(MinorUnitExponent).Shift(MinorUnitExponent).IntPart()
}

// ParseMinor parses a decimal string such as "19.99" into cents.
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToMinor(d), nil
}

// ApplyRate returns cents × rate rounded half away from zero to whole cents.
func ApplyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// Format renders cents as a plain decimal string, e.g. 7001 -> "70.01".
func Format(cents int64) string {
	return decimal.New(cents, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
