package core

import "math"

const (
	economicWeight   = 0.6
	governanceWeight = 0.4
	conditionsFactor = 0.05
)

// CalculateSynergy adds weighted economic and governance activity to initial.
// The result is never negative.
func CalculateSynergy(initial, economicActivity, governanceActivity float64) float64 {
	gain := economicActivity*economicWeight + governanceActivity*governanceWeight
	return math.Max(initial+gain, 0)
}

// ApplyPenalty subtracts penalty from synergy, floored at zero.
func ApplyPenalty(synergy, penalty float64) float64 {
	return math.Max(synergy-penalty, 0)
}

// SynergyToTokens converts synergy at rate.
func SynergyToTokens(synergy, rate float64) float64 {
	return synergy * rate
}

// AdjustConversionRate scales rate by 5% per unit of network conditions.
func AdjustConversionRate(rate, networkConditions float64) float64 {
	return rate * (1 + networkConditions*conditionsFactor)
}
