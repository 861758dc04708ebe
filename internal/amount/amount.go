// Package amount converts between integer base units and decimal token
// strings such as "12.5" for a 6-decimal mint.
package amount

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var maxBase = decimal.NewFromUint64(math.MaxInt64)

// Parse turns a decimal string into base units. Fractions finer than the
// token's decimals are rejected rather than rounded.
func Parse(s string, decimals int32) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	base := d.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if base.GreaterThan(maxBase) {
		return 0, fmt.Errorf("amount %q is too large", s)
	}
	return uint64(base.IntPart()), nil
}

// Format renders base units with exactly decimals fractional digits.
func Format(units uint64, decimals int32) string {
	return decimal.NewFromUint64(units).Shift(-decimals).StringFixed(decimals)
}

// Bps returns units * bps / 10000, rounded down.
func Bps(units uint64, bps int) uint64 {
	if bps <= 0 {
		return 0
	}
	return uint64(decimal.NewFromUint64(units).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(10000)).
		Floor().
		IntPart())
}
