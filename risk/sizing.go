package risk

import "math"

// SafeRiskPct scales base by the account's streaks, the signal strength
// and its drawdown, then clamps the result so a single losing trade
// cannot push the account through its next loss cutoff.
func (m *Manager) SafeRiskPct(base, signalStrength float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if math.IsNaN(base) || base <= 0 {
		return 0
	}
	l, st := m.limits, &m.st
	r := base

	if p := st.profit(); p > l.AccelerationThresholdPct && st.ConsecutiveWins >= 2 {
		r *= math.Min(1.4, 1+2*p)
	}
	if w := st.ConsecutiveWins; w >= 3 {
		r *= math.Min(1.2, 1+0.05*float64(w))
	}
	if n := st.ConsecutiveLosses; n >= 2 {
		r *= math.Max(0.6, 1-0.15*float64(n))
	}

	s := math.Abs(signalStrength)
	switch {
	case s >= l.VeryStrongSignal:
		r *= 1.15
	case s >= l.StrongSignal:
		r *= 1.10
	case s <= l.WeakSignal:
		r *= 0.85
	}

	if st.overallLoss() > l.DrawdownProtectionPct || st.ConsecutiveLosses >= 3 {
		r *= 0.6
	}

	r = math.Min(r, l.MaxRiskPerTrade)

	daily := l.DailyLossCutoffPct - st.dailyLoss()
	overall := l.OverallLossCutoffPct - st.overallLoss()
	r = math.Min(r, math.Min(daily, overall)*(1-l.SafetyMargin))

	return math.Max(0, r)
}
