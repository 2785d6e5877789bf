package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStateCorrupt is returned when the account reaches a state the
// simulation cannot continue from.
var ErrStateCorrupt = errors.New("risk state corrupt")

// State is the day-scoped account state tracked by a Manager. Loss and
// budget figures are fractions of the initial balance.
type State struct {
	Day time.Time // UTC midnight of the current trading day

	InitialBalance       float64
	CurrentBalance       float64
	DailyStartingBalance float64
	MaxBalanceToday      float64
	MaxBalanceEver       float64

	ConsecutiveWins     int
	ConsecutiveLosses   int
	TradesToday         int
	RiskBudgetUsedToday float64
	TradingDays         int

	CanTradeToday        bool
	DailyEmergencyStop   bool
	OverallEmergencyStop bool // sticky

	WorstDailyLoss   float64
	WorstOverallLoss float64
}

func (s *State) dailyLoss() float64 {
	return (s.DailyStartingBalance - s.CurrentBalance) / s.InitialBalance
}

func (s *State) overallLoss() float64 {
	return (s.InitialBalance - s.CurrentBalance) / s.InitialBalance
}

func (s *State) profit() float64 {
	return (s.CurrentBalance - s.InitialBalance) / s.InitialBalance
}

// DailyLossPct is the loss since the start of the day. Negative when up.
func (s State) DailyLossPct() float64 { return s.dailyLoss() }

// OverallLossPct is the loss since the start of the run. Negative when up.
func (s State) OverallLossPct() float64 { return s.overallLoss() }

// Event is a timestamped alert or violation.
type Event struct {
	Time    time.Time
	Code    string
	Msg     string
	Balance float64
}

type Outcome int

const (
	Breakeven Outcome = iota
	Win
	Loss
)

func OutcomeOf(pnl float64) Outcome {
	switch {
	case pnl > 0:
		return Win
	case pnl < 0:
		return Loss
	default:
		return Breakeven
	}
}

func (o Outcome) String() string {
	switch o {
	case Win:
		return "WIN"
	case Loss:
		return "LOSS"
	default:
		return "BREAKEVEN"
	}
}

// Manager gates every prospective trade against the account's loss
// budgets. All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	st     State
	log    zerolog.Logger

	lastTradeDay time.Time
	alerts       []Event
	violations   []Event
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(initial float64, limits Limits, opts ...Option) (*Manager, error) {
	if !(initial > 0) || math.IsInf(initial, 0) {
		return nil, fmt.Errorf("initial balance must be > 0, got %v", initial)
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}

	m := &Manager{
		limits: limits,
		log:    zerolog.Nop(),
		st: State{
			InitialBalance:       initial,
			CurrentBalance:       initial,
			DailyStartingBalance: initial,
			MaxBalanceToday:      initial,
			MaxBalanceEver:       initial,
			CanTradeToday:        true,
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Manager) Limits() Limits { return m.limits }

// RollDay starts a new trading day when t falls on a later UTC date than
// the current one. It reports whether a reset happened; calling it again
// for the same date is a no-op.
func (m *Manager) RollDay(t time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollDay(t)
}

func (m *Manager) rollDay(t time.Time) bool {
	day := t.UTC().Truncate(24 * time.Hour)
	if !m.st.Day.IsZero() && !day.After(m.st.Day) {
		return false
	}

	m.st.Day = day
	m.st.DailyStartingBalance = m.st.CurrentBalance
	m.st.MaxBalanceToday = m.st.CurrentBalance
	m.st.TradesToday = 0
	m.st.RiskBudgetUsedToday = 0
	m.st.DailyEmergencyStop = false
	m.st.CanTradeToday = true
	return true
}

// UpdateBalance records a new balance and re-evaluates the circuit
// breakers.
func (m *Manager) UpdateBalance(balance float64, t time.Time) error {
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		return fmt.Errorf("%w: balance %v at %s", ErrStateCorrupt, balance, t.Format(time.RFC3339))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay(t)
	st := &m.st
	st.CurrentBalance = balance
	st.MaxBalanceToday = math.Max(st.MaxBalanceToday, balance)
	st.MaxBalanceEver = math.Max(st.MaxBalanceEver, balance)

	dl, ol := st.dailyLoss(), st.overallLoss()
	st.WorstDailyLoss = math.Max(st.WorstDailyLoss, dl)
	st.WorstOverallLoss = math.Max(st.WorstOverallLoss, ol)

	if dl >= m.limits.DailyEmergencyPct {
		if !st.DailyEmergencyStop {
			st.DailyEmergencyStop = true
			st.CanTradeToday = false
			m.violate(t, CodeDailyEmergencyStop, fmt.Sprintf("daily emergency stop triggered: %.2f%% loss", 100*dl))
		}
	} else if dl >= m.limits.DailyLossCutoffPct && st.CanTradeToday {
		st.CanTradeToday = false
		m.alert(t, CodeDailyCutoff, fmt.Sprintf("daily trading stopped: %.2f%% loss reached cutoff", 100*dl))
	}

	if ol >= m.limits.OverallLossCutoffPct && !st.OverallEmergencyStop {
		st.OverallEmergencyStop = true
		m.violate(t, CodeOverallEmergencyStop, fmt.Sprintf("overall emergency stop triggered: %.2f%% loss", 100*ol))
	}
	return nil
}

// RegisterTradeOpen commits riskPct of the daily budget.
func (m *Manager) RegisterTradeOpen(riskPct float64, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay(t)
	m.st.TradesToday++
	m.st.RiskBudgetUsedToday += riskPct
	if !m.st.Day.Equal(m.lastTradeDay) {
		m.lastTradeDay = m.st.Day
		m.st.TradingDays++
	}
}

// RegisterTradeClose updates the win/loss streaks.
func (m *Manager) RegisterTradeClose(pnl float64, outcome Outcome, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch outcome {
	case Win:
		m.st.ConsecutiveWins++
		m.st.ConsecutiveLosses = 0
	case Loss:
		m.st.ConsecutiveWins = 0
		m.st.ConsecutiveLosses++
	}

	pct := pnl / m.st.InitialBalance
	if math.Abs(pct) > m.limits.AlertThresholdPct {
		kind := "loss"
		if pnl > 0 {
			kind = "gain"
		}
		m.alert(t, "LARGE_"+outcome.String(), fmt.Sprintf("large %s: %+.2f%%", kind, 100*pct))
	}
}

// ResetEmergencyStop clears the sticky overall stop. Nothing else does.
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.OverallEmergencyStop {
		m.log.Warn().Float64("balance", m.st.CurrentBalance).Msg("overall emergency stop reset by operator")
	}
	m.st.OverallEmergencyStop = false
}

// Drawdown is the decline from the highest balance seen, as a fraction of
// that balance.
func (m *Manager) Drawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.MaxBalanceEver <= 0 {
		return 0
	}
	return (m.st.MaxBalanceEver - m.st.CurrentBalance) / m.st.MaxBalanceEver
}

// ChallengePassed reports whether the profit target was reached on at
// least MinTradingDays distinct trading days.
func (m *Manager) ChallengePassed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.profit() >= m.limits.ProfitTargetPct && m.st.TradingDays >= m.limits.MinTradingDays
}

// CheckCompliance compares the worst losses seen against the hard limits
// and lists every recorded violation.
func (m *Manager) CheckCompliance() (bool, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var issues []string
	if m.st.WorstDailyLoss >= m.limits.MaxDailyLossPct {
		issues = append(issues, fmt.Sprintf("daily loss limit exceeded: %.2f%% >= %.2f%%",
			100*m.st.WorstDailyLoss, 100*m.limits.MaxDailyLossPct))
	}
	if m.st.WorstOverallLoss >= m.limits.MaxOverallLossPct {
		issues = append(issues, fmt.Sprintf("overall loss limit exceeded: %.2f%% >= %.2f%%",
			100*m.st.WorstOverallLoss, 100*m.limits.MaxOverallLossPct))
	}
	for _, v := range m.violations {
		issues = append(issues, fmt.Sprintf("%s: %s", v.Time.UTC().Format("2006-01-02"), v.Msg))
	}
	return len(issues) == 0, issues
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *Manager) Alerts() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.alerts...)
}

func (m *Manager) Violations() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.violations...)
}

func (m *Manager) alert(t time.Time, code, msg string) {
	m.alerts = append(m.alerts, Event{Time: t, Code: code, Msg: msg, Balance: m.st.CurrentBalance})
	m.log.Info().Time("time", t).Str("code", code).Float64("balance", m.st.CurrentBalance).Msg(msg)
}

func (m *Manager) violate(t time.Time, code, msg string) {
	ev := Event{Time: t, Code: code, Msg: msg, Balance: m.st.CurrentBalance}
	m.violations = append(m.violations, ev)
	m.alerts = append(m.alerts, ev)
	m.log.Warn().Time("time", t).Str("code", code).Float64("balance", m.st.CurrentBalance).Msg(msg)
}
