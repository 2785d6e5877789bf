package risk

import "fmt"

// Limits bounds what the Manager lets the account do. Every *Pct field is
// a fraction of the initial balance (0.02 = 2%).
type Limits struct {
	// Compliance hard limits
	MaxDailyLossPct   float64 // 0.04
	MaxOverallLossPct float64 // 0.10

	// Circuit breakers
	DailyLossCutoffPct   float64 // 0.015
	OverallLossCutoffPct float64 // 0.05
	DailyEmergencyPct    float64 // 0.01

	// Exposure
	MaxRiskPerTrade      float64 // 0.02 hard cap
	MaxDailyRiskBudget   float64 // 0.06
	MaxTradesPerDay      int     // 10
	MaxConsecutiveLosses int     // 4

	// Challenge
	ProfitTargetPct float64 // 0.20
	MinTradingDays  int

	// Sizing adjustments
	AlertThresholdPct        float64 // 0.01
	SafetyMargin             float64 // 0.2
	AccelerationThresholdPct float64 // 0.02
	DrawdownProtectionPct    float64 // 0.03
	VeryStrongSignal         float64 // 6
	StrongSignal             float64 // 5
	WeakSignal               float64 // 3
}

const (
	ProfileConservative = "conservative"
	ProfileModerate     = "moderate"
	ProfileAggressive   = "aggressive"
)

// DefaultLimits is the moderate profile.
func DefaultLimits() Limits {
	l, _ := ProfileLimits(ProfileModerate)
	return l
}

// ProfileLimits returns the preset limits for a named risk profile.
func ProfileLimits(name string) (Limits, error) {
	l := Limits{
		MaxTradesPerDay:          10,
		MinTradingDays:           0,
		AlertThresholdPct:        0.01,
		SafetyMargin:             0.2,
		AccelerationThresholdPct: 0.02,
		DrawdownProtectionPct:    0.03,
		VeryStrongSignal:         6,
		StrongSignal:             5,
		WeakSignal:               3,
	}

	switch name {
	case ProfileConservative:
		l.MaxDailyLossPct, l.MaxOverallLossPct = 0.03, 0.08
		l.DailyLossCutoffPct, l.OverallLossCutoffPct, l.DailyEmergencyPct = 0.01, 0.04, 0.005
		l.MaxRiskPerTrade, l.MaxDailyRiskBudget = 0.015, 0.04
		l.MaxConsecutiveLosses = 3
		l.ProfitTargetPct = 0.15
	case ProfileModerate, "":
		l.MaxDailyLossPct, l.MaxOverallLossPct = 0.04, 0.10
		l.DailyLossCutoffPct, l.OverallLossCutoffPct, l.DailyEmergencyPct = 0.015, 0.05, 0.01
		l.MaxRiskPerTrade, l.MaxDailyRiskBudget = 0.02, 0.06
		l.MaxConsecutiveLosses = 4
		l.ProfitTargetPct = 0.20
	case ProfileAggressive:
		l.MaxDailyLossPct, l.MaxOverallLossPct = 0.06, 0.12
		l.DailyLossCutoffPct, l.OverallLossCutoffPct, l.DailyEmergencyPct = 0.02, 0.06, 0.015
		l.MaxRiskPerTrade, l.MaxDailyRiskBudget = 0.03, 0.08
		l.MaxConsecutiveLosses = 5
		l.ProfitTargetPct = 0.25
	default:
		return Limits{}, fmt.Errorf("unknown risk profile %q", name)
	}
	return l, nil
}

// Validate rejects limits the Manager cannot work with.
func (l Limits) Validate() error {
	if l.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("max risk per trade must be > 0")
	}
	if l.MaxDailyRiskBudget < l.MaxRiskPerTrade {
		return fmt.Errorf("daily risk budget %.4f below per-trade cap %.4f", l.MaxDailyRiskBudget, l.MaxRiskPerTrade)
	}
	if l.DailyLossCutoffPct <= 0 || l.OverallLossCutoffPct <= 0 || l.DailyEmergencyPct <= 0 {
		return fmt.Errorf("loss cutoffs must be > 0")
	}
	if l.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max trades per day must be > 0")
	}
	if l.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max consecutive losses must be > 0")
	}
	if l.SafetyMargin < 0 || l.SafetyMargin >= 1 {
		return fmt.Errorf("safety margin must be in [0,1)")
	}
	return nil
}
