package util

import (
	"cmp"
	"math"
)

// Clamp clamps val to the range [min, max] for any ordered type.
func Clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// ClampFraction clamps a progress fraction into [0, 1]. NaN becomes 0.
func ClampFraction(fraction float64) float64 {
	if math.IsNaN(fraction) {
		return 0
	}
	return Clamp(fraction, 0, 1)
}
