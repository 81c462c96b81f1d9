// Package strategy contains the signal-generation pipeline: expected-move
// math, strike selection with its source fallback chain, and credit pricing.
package strategy

import "math"

// tradingDaysPerYear is the annualization base for the volatility proxy.
const tradingDaysPerYear = 252.0

// minMoveFraction floors the expected move at 0.5% of spot so degenerate
// volatility prints cannot collapse the strike band to zero.
const minMoveFraction = 0.005

// ExpectedMove converts an annualized volatility percentage into a dollar
// move over n trading days: S * (v/100) * sqrt(n/252), floored at 0.5% of S.
func ExpectedMove(spot, volPct float64, tradingDays float64) float64 {
	if spot <= 0 {
		return 0
	}
	if tradingDays < 0 {
		tradingDays = 0
	}
	move := spot * (volPct / 100.0) * math.Sqrt(tradingDays/tradingDaysPerYear)
	floor := minMoveFraction * spot
	return math.Max(move, floor)
}
