package domain

import (
	"math"
	"math/big"
	"strconv"
)

var (
	hundred = big.NewRat(100, 1)
	half    = big.NewRat(1, 2)
)

// Percent converts a 0..1 fraction into a whole percentage. Rounding is
// half up on the shortest decimal form of the value, so 0.755 yields 76
// even though its binary form is slightly below. The result is clamped to 0..100.
func Percent(fraction float64) int {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if math.IsInf(fraction, 1) {
		return 100
	}

	r, ok := new(big.Rat).SetString(strconv.FormatFloat(fraction, 'f', -1, 64))
	if !ok {
		return 0
	}
	r.Mul(r, hundred)
	r.Add(r, half)

	// r is positive, so the truncated quotient is the floor.
	n := new(big.Int).Quo(r.Num(), r.Denom())
	if !n.IsInt64() || n.Int64() > 100 {
		return 100
	}
	return int(n.Int64())
}

// FormatPercent renders Percent(fraction) as a payload.
func FormatPercent(fraction float64) string {
	return strconv.Itoa(Percent(fraction))
}

// FormatFloat renders a reading in its shortest decimal form.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
