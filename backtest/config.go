package backtest

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/risk"
)

// ModeCadence selects how often the mode adapter is evaluated.
type ModeCadence string

const (
	// CadenceBar evaluates on every processed bar.
	CadenceBar ModeCadence = "bar"
	// CadenceDay keys evaluations by UTC day; later bars of the same day
	// replace the day's evaluation.
	CadenceDay ModeCadence = "day"
)

// Trailing moves the stop behind price in ATR units. It never loosens.
type Trailing struct {
	Enabled       bool
	ATRMultiplier float64
	OnlyInProfit  bool
}

// Config for one instrument. Percentages are fractions.
type Config struct {
	RunID      string
	Instrument string

	InitialBalance float64
	BaseRiskPct    float64 // 0.01 = 1% of balance per trade before multipliers

	ATRPeriod           int
	StopATRMultiplier   float64
	TargetATRMultiplier float64
	MinRewardRisk       float64

	SlippageBps   float64 // adverse move on each leg, basis points of price
	CommissionPct float64 // of notional, on each leg

	Trailing Trailing

	// WarmupBars is the minimum number of valid bars seen before the
	// first entry. ATR readiness is always required as well.
	WarmupBars    int
	CycleLookback int
	ModeCadence   ModeCadence

	// StopOnChallengePass ends the run once the challenge is passed and
	// the book is flat.
	StopOnChallengePass bool

	Risk risk.Limits
	Mode mode.Config
}

func DefaultConfig() Config {
	return Config{
		Instrument:          "BTC_USD",
		InitialBalance:      100_000,
		BaseRiskPct:         0.01,
		ATRPeriod:           14,
		StopATRMultiplier:   2.0,
		TargetATRMultiplier: 5.0,
		MinRewardRisk:       1.4,
		SlippageBps:         5,
		CommissionPct:       0.001,
		Trailing:            Trailing{Enabled: true, ATRMultiplier: 1.2, OnlyInProfit: true},
		CycleLookback:       30,
		ModeCadence:         CadenceBar,
		Risk:                risk.DefaultLimits(),
		Mode:                mode.DefaultConfig(),
	}
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("backtest: "+format, args...))
	}

	if c.Instrument == "" {
		add("Instrument is required")
	}
	if !(c.InitialBalance > 0) {
		add("InitialBalance must be > 0, got %v", c.InitialBalance)
	}
	if !(c.BaseRiskPct > 0) || c.BaseRiskPct >= 1 {
		add("BaseRiskPct must be in (0,1), got %v", c.BaseRiskPct)
	}
	if c.ATRPeriod <= 0 {
		add("ATRPeriod must be > 0, got %d", c.ATRPeriod)
	}
	if !(c.StopATRMultiplier > 0) || !(c.TargetATRMultiplier > 0) {
		add("ATR multipliers must be > 0")
	}
	if c.MinRewardRisk < 0 {
		add("MinRewardRisk must be >= 0")
	}
	if c.SlippageBps < 0 || c.CommissionPct < 0 {
		add("costs must be >= 0")
	}
	if c.Trailing.Enabled && !(c.Trailing.ATRMultiplier > 0) {
		add("Trailing.ATRMultiplier must be > 0 when trailing is enabled")
	}
	if c.WarmupBars < 0 || c.CycleLookback < 0 {
		add("WarmupBars and CycleLookback must be >= 0")
	}
	switch c.ModeCadence {
	case "", CadenceBar, CadenceDay:
	default:
		add("unknown ModeCadence %q", c.ModeCadence)
	}
	if err := c.Risk.Validate(); err != nil {
		add("risk: %w", err)
	}
	if err := c.Mode.Validate(); err != nil {
		add("mode: %w", err)
	}
	return errors.Join(errs...)
}

// BlockedModes lists the modes whose scaled stop and target can never
// meet MinRewardRisk. An engine in one of them opens no positions.
func (c Config) BlockedModes() []mode.Mode {
	var out []mode.Mode
	for _, m := range mode.Modes() {
		p := mode.BaseParams(m)
		rr := (c.TargetATRMultiplier * p.TargetMult) / (c.StopATRMultiplier * p.StopMult)
		if rr < c.MinRewardRisk {
			out = append(out, m)
		}
	}
	return out
}
