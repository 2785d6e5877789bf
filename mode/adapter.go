package mode

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the transition thresholds. Drawdown and loss figures are
// fractions.
type Config struct {
	Initial             Mode
	DrawdownThreshold   float64 // 0.15
	HibernationRatio    float64 // 0.7
	AltSeasonThreshold  float64 // 42.0 dominance
	AltSeasonStreak     int     // 3
	CycleLookback       int     // 30
	PerformanceWindow   int     // 10 records kept
	RecentRecords       int     // 5 summed for recent P&L
	ConservativeLossPct float64 // 0.05 of initial balance
}

func DefaultConfig() Config {
	return Config{
		Initial:             Standard,
		DrawdownThreshold:   0.15,
		HibernationRatio:    0.7,
		AltSeasonThreshold:  42.0,
		AltSeasonStreak:     3,
		CycleLookback:       30,
		PerformanceWindow:   10,
		RecentRecords:       5,
		ConservativeLossPct: 0.05,
	}
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Initial)); err != nil {
		return err
	}
	if c.DrawdownThreshold <= 0 || c.DrawdownThreshold >= 1 {
		return fmt.Errorf("drawdown threshold must be in (0,1)")
	}
	if c.HibernationRatio <= 0 || c.HibernationRatio >= 1 {
		return fmt.Errorf("hibernation ratio must be in (0,1)")
	}
	if c.AltSeasonStreak <= 0 {
		return fmt.Errorf("alt season streak must be > 0")
	}
	if c.RecentRecords <= 0 || c.PerformanceWindow < c.RecentRecords {
		return fmt.Errorf("performance window %d must hold %d recent records", c.PerformanceWindow, c.RecentRecords)
	}
	return nil
}

// Inputs is one evaluation. Time is the evaluation key: a second
// evaluation with the same Time replaces the first.
type Inputs struct {
	Time           time.Time
	Balance        float64
	InitialBalance float64
	PnL            float64 // realized since the previous evaluation key
	TradesToday    int
	Closes         []float64
}

// Change is one entry of the mode history.
type Change struct {
	Time     time.Time
	From     Mode
	To       Mode
	Reason   string
	Balance  float64
	Drawdown float64 // fraction of peak balance
}

type record struct {
	time    time.Time
	pnl     float64
	balance float64
	trades  int
}

// evalBase is the state before the latest key was first evaluated.
type evalBase struct {
	streak int
	peak   float64
}

// Adapter is the trading-mode state machine. It is not safe for
// concurrent use; each simulator run owns one.
type Adapter struct {
	cfg    Config
	regime RegimeSource
	log    zerolog.Logger

	mode    Mode
	history []Change
	records []record
	streak  int
	peak    float64
	cycle   Cycle

	lastKey time.Time
	hasKey  bool
	base    evalBase

	regimeFallbacks int
}

type Option func(*Adapter)

func WithRegime(src RegimeSource) Option {
	return func(a *Adapter) { a.regime = src }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func NewAdapter(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Initial == "" {
		cfg.Initial = Standard
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mode config: %w", err)
	}
	a := &Adapter{
		cfg:   cfg,
		log:   zerolog.Nop(),
		mode:  cfg.Initial,
		cycle: Accumulation,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Adapter) Mode() Mode { return a.mode }

func (a *Adapter) Cycle() Cycle { return a.cycle }

// Streak is the number of consecutive evaluations below the alt-season
// dominance threshold. Evaluations decided by drawdown or hibernation
// leave it unchanged.
func (a *Adapter) Streak() int { return a.streak }

func (a *Adapter) RegimeFallbacks() int { return a.regimeFallbacks }

func (a *Adapter) History() []Change {
	return append([]Change(nil), a.history...)
}

// Params returns the current mode's parameters with the seasonal
// multiplier for t applied.
func (a *Adapter) Params(t time.Time) Params {
	p := BaseParams(a.mode)
	s := SeasonalMultiplier(t.Month())
	p.PositionMult *= s
	p.RiskMult *= s
	p.Seasonal = s
	return p
}

// Update evaluates the transition rules and reports whether the mode
// changed. Re-evaluating with the same inputs never reports a change.
func (a *Adapter) Update(in Inputs) bool {
	repeat := a.hasKey && in.Time.Equal(a.lastKey)
	if repeat {
		a.streak, a.peak = a.base.streak, a.base.peak
		a.records = a.records[:len(a.records)-1]
	} else {
		a.base = evalBase{streak: a.streak, peak: a.peak}
		a.lastKey, a.hasKey = in.Time, true
	}

	a.peak = math.Max(a.peak, math.Max(in.Balance, in.InitialBalance))
	a.records = append(a.records, record{time: in.Time, pnl: in.PnL, balance: in.Balance, trades: in.TradesToday})
	if n := a.cfg.PerformanceWindow; len(a.records) > n {
		a.records = append(a.records[:0], a.records[len(a.records)-n:]...)
	}

	drawdown := 0.0
	if a.peak > 0 {
		drawdown = (a.peak - in.Balance) / a.peak
	}
	dominance := a.dominance(in.Time)
	a.cycle = ClassifyCycle(in.Closes, a.cfg.CycleLookback)

	next, reason := a.decide(in, drawdown, dominance)
	if next == a.mode {
		return false
	}

	ch := Change{
		Time:     in.Time,
		From:     a.mode,
		To:       next,
		Reason:   reason,
		Balance:  in.Balance,
		Drawdown: drawdown,
	}
	a.history = append(a.history, ch)
	a.mode = next
	a.log.Info().
		Time("time", in.Time).
		Str("from", string(ch.From)).
		Str("to", string(ch.To)).
		Float64("balance", in.Balance).
		Float64("drawdown", drawdown).
		Msg(reason)
	return true
}

// decide applies the rules in order. The dominance streak only moves on
// evaluations that get past the drawdown and hibernation rules.
func (a *Adapter) decide(in Inputs, drawdown, dominance float64) (Mode, string) {
	if drawdown > a.cfg.DrawdownThreshold {
		return Recovery, fmt.Sprintf("high drawdown (%.1f%%), switching to recovery", 100*drawdown)
	}
	if in.Balance < in.InitialBalance*a.cfg.HibernationRatio {
		return Hibernation, "extreme losses, minimizing risk exposure"
	}

	if dominance < a.cfg.AltSeasonThreshold {
		a.streak++
	} else {
		a.streak = 0
	}
	if a.streak >= a.cfg.AltSeasonStreak {
		return AltSeason, fmt.Sprintf("alt season detected (dominance %.1f%% for %d evaluations)", dominance, a.streak)
	}

	recent := a.recentPnL()
	seasonal := SeasonalMultiplier(in.Time.Month())
	switch {
	case recent > 0 && seasonal > 1:
		if a.cycle == Markup || a.cycle == Accumulation {
			return Aggressive, fmt.Sprintf("favorable conditions (%s, seasonal %.1f), increasing aggression", a.cycle, seasonal)
		}
		return Standard, fmt.Sprintf("profitable but %s cycle", a.cycle)
	case recent < -a.cfg.ConservativeLossPct*in.InitialBalance:
		return Conservative, fmt.Sprintf("recent losses (%.2f), reducing risk", recent)
	default:
		return Standard, "standard market conditions"
	}
}

func (a *Adapter) recentPnL() float64 {
	rs := a.records
	if n := a.cfg.RecentRecords; len(rs) > n {
		rs = rs[len(rs)-n:]
	}
	var sum float64
	for _, r := range rs {
		sum += r.pnl
	}
	return sum
}

func (a *Adapter) dominance(t time.Time) float64 {
	if a.regime == nil {
		return NeutralRegime
	}
	v, err := a.regime.Dominance(t)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite dominance %v", v)
	}
	if err != nil {
		a.regimeFallbacks++
		a.log.Warn().Err(err).Time("time", t).Msg("regime unavailable, using neutral")
		return NeutralRegime
	}
	return v
}
