package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// RR is reward over risk for a planned trade. Zero when the stop sits on
// the entry.
func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// PlannedRisk is the cash lost if the stop is hit.
func PlannedRisk(size, entry, stop float64) float64 {
	return size * abs(entry-stop)
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}
