package domain

import (
	"math"
	"strconv"
)

// RoundDown truncates v to the given number of decimals. Quantities and
// prices are always rounded toward zero so an order can never exceed the
// intended size or cross to the wrong side of a level.
func RoundDown(v float64, precision int) float64 {
	if precision <= 0 {
		return math.Floor(v)
	}
	f := math.Pow10(precision)
	// The epsilon absorbs float artifacts like 0.1234*10000 = 1233.9999...
	return math.Floor(v*f+1e-9) / f
}

// TickSize is the smallest price increment at a quote precision.
func TickSize(quotePrecision int) float64 {
	if quotePrecision <= 0 {
		return 1
	}
	return math.Pow10(-quotePrecision)
}

// FormatAt renders a value for the venue wire, truncated and
// zero-padded to exactly the symbol's precision.
func FormatAt(v float64, precision int) string {
	if precision <= 0 {
		return strconv.FormatFloat(RoundDown(v, 0), 'f', 0, 64)
	}
	return strconv.FormatFloat(RoundDown(v, precision), 'f', precision, 64)
}
