// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToIncrement rounds x to the nearest strike increment using
// round-half-away-from-zero. For example, with increment=5, 582.5 becomes 585.
func RoundToIncrement(x, increment float64) float64 {
	if increment <= 0 {
		return x
	}
	return math.Round(x/increment) * increment
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Floor(x/tick) * tick
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Ceil(x/tick) * tick
}

// Clamp bounds x to the [lo, hi] interval.
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
