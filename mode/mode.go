// Package mode classifies the account's operating posture from its
// drawdown, recent performance and external market regime readings.
package mode

import (
	"fmt"
	"time"
)

type Mode string

const (
	Conservative Mode = "conservative"
	Standard     Mode = "standard"
	Aggressive   Mode = "aggressive"
	AltSeason    Mode = "alt_season"
	Recovery     Mode = "recovery"
	Hibernation  Mode = "hibernation"
)

var modes = []Mode{Conservative, Standard, Aggressive, AltSeason, Recovery, Hibernation}

// Modes returns every trading mode.
func Modes() []Mode {
	return append([]Mode(nil), modes...)
}

func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown trading mode %q", s)
}

// Params are the multipliers a mode applies to the simulator.
type Params struct {
	PositionMult    float64
	RiskMult        float64
	SignalThreshold float64
	MaxTradesPerDay int
	StopMult        float64
	TargetMult      float64

	// Seasonal is the calendar multiplier already folded into
	// PositionMult and RiskMult.
	Seasonal float64
}

var table = map[Mode]Params{
	Conservative: {PositionMult: 0.6, RiskMult: 0.7, SignalThreshold: 3, MaxTradesPerDay: 3, StopMult: 0.8, TargetMult: 1.5},
	Standard:     {PositionMult: 1.0, RiskMult: 1.0, SignalThreshold: 2, MaxTradesPerDay: 5, StopMult: 1.0, TargetMult: 1.0},
	Aggressive:   {PositionMult: 1.4, RiskMult: 1.3, SignalThreshold: 2, MaxTradesPerDay: 8, StopMult: 1.1, TargetMult: 0.8},
	AltSeason:    {PositionMult: 1.6, RiskMult: 1.4, SignalThreshold: 1, MaxTradesPerDay: 10, StopMult: 1.2, TargetMult: 0.7},
	Recovery:     {PositionMult: 0.4, RiskMult: 0.5, SignalThreshold: 4, MaxTradesPerDay: 2, StopMult: 0.6, TargetMult: 2.0},
	Hibernation:  {PositionMult: 0.1, RiskMult: 0.3, SignalThreshold: 5, MaxTradesPerDay: 1, StopMult: 0.5, TargetMult: 3.0},
}

// BaseParams returns the fixed parameters of m without the seasonal
// adjustment.
func BaseParams(m Mode) Params {
	p, ok := table[m]
	if !ok {
		p = table[Standard]
	}
	p.Seasonal = 1
	return p
}

// SeasonalMultiplier is 1.2 in Feb, Aug, Sep and Nov, 0.8 in Jun, Jul and
// Dec, and 1 otherwise.
func SeasonalMultiplier(month time.Month) float64 {
	switch month {
	case time.February, time.August, time.September, time.November:
		return 1.2
	case time.June, time.July, time.December:
		return 0.8
	default:
		return 1.0
	}
}
