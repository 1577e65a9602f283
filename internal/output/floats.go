package output

import (
	"math"
	"strconv"
	"strings"
)

// RoundFloat rounds to 6 decimal places. Every score the gate compares or
// stores goes through it.
func RoundFloat(f float64) float64 {
	const multiplier = 1e6
	r := math.Round(f*multiplier) / multiplier
	if r == 0 {
		return 0 // no negative zero
	}
	return r
}

// FormatFloat formats a rounded float with no trailing zeros
func FormatFloat(f float64) string {
	str := strconv.FormatFloat(RoundFloat(f), 'f', 6, 64)
	str = strings.TrimRight(str, "0")
	return strings.TrimSuffix(str, ".")
}
