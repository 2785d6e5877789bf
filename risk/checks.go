package risk

import "fmt"

// Denial codes reported by CanOpenPosition, in evaluation order.
const (
	CodeOverallEmergencyStop = "OVERALL_EMERGENCY_STOP"
	CodeDailyEmergencyStop   = "DAILY_EMERGENCY_STOP"
	CodeDailyCutoff          = "DAILY_CUTOFF"
	CodeMaxTradesPerDay      = "MAX_TRADES_PER_DAY"
	CodeDailyRiskBudget      = "DAILY_RISK_BUDGET"
	CodeConsecutiveLosses    = "CONSECUTIVE_LOSSES"
	CodeRiskPerTradeCap      = "RISK_PER_TRADE_CAP"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	RiskPct float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason is the first failing check, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Msg
}

// Code is the code of the first failing check, or "" when allowed.
func (d Decision) Code() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// CanOpenPosition evaluates every gate independently and reports all
// failures. A denial is a value, not an error.
func (m *Manager) CanOpenPosition(riskPct float64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return evaluate(m.limits, &m.st, riskPct)
}

func evaluate(l Limits, st *State, riskPct float64) Decision {
	d := Decision{Allowed: true, RiskPct: riskPct}

	if st.OverallEmergencyStop {
		d.add(CodeOverallEmergencyStop, "overall emergency stop active")
	}
	if st.DailyEmergencyStop {
		d.add(CodeDailyEmergencyStop, "daily emergency stop active")
	}
	if !st.CanTradeToday && !st.DailyEmergencyStop {
		d.add(CodeDailyCutoff,
			fmt.Sprintf("daily loss %.2f%% reached cutoff %.2f%%",
				100*st.dailyLoss(), 100*l.DailyLossCutoffPct))
	}
	if st.TradesToday >= l.MaxTradesPerDay {
		d.add(CodeMaxTradesPerDay,
			fmt.Sprintf("trades today %d >= max %d", st.TradesToday, l.MaxTradesPerDay))
	}
	if st.RiskBudgetUsedToday+riskPct > l.MaxDailyRiskBudget+budgetEpsilon {
		d.add(CodeDailyRiskBudget,
			fmt.Sprintf("daily risk budget exceeded (%.2f%% + %.2f%% > %.2f%%)",
				100*st.RiskBudgetUsedToday, 100*riskPct, 100*l.MaxDailyRiskBudget))
	}
	if st.ConsecutiveLosses >= l.MaxConsecutiveLosses {
		d.add(CodeConsecutiveLosses,
			fmt.Sprintf("too many consecutive losses (%d >= %d)", st.ConsecutiveLosses, l.MaxConsecutiveLosses))
	}
	if riskPct > l.MaxRiskPerTrade {
		d.add(CodeRiskPerTradeCap,
			fmt.Sprintf("risk per trade %.2f%% exceeds cap %.2f%%", 100*riskPct, 100*l.MaxRiskPerTrade))
	}
	return d
}

// budgetEpsilon absorbs float accumulation when the budget is filled exactly.
const budgetEpsilon = 1e-12
