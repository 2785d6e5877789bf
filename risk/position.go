package risk

// PositionSize returns the base-asset size that loses balance*riskPct when
// the stop is hit. Zero when the stop distance is zero or inputs are
// non-positive.
func PositionSize(balance, riskPct, entry, stop float64) float64 {
	dist := abs(entry - stop)
	if balance <= 0 || riskPct <= 0 || dist == 0 {
		return 0
	}
	return balance * riskPct / dist
}
