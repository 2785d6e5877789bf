// Package config loads the run configuration from YAML (or JSON) and
// translates it into the component configs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/propsim/backtest"
	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/risk"
	"github.com/rustyeddy/propsim/signal"
)

// Config is the complete configuration of a backtest run. Every *_pct
// value is a fraction (0.01 = 1%).
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Data      DataConfig      `json:"data" yaml:"data"`
	Signal    SignalConfig    `json:"signal" yaml:"signal"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Mode      ModeConfig      `json:"mode" yaml:"mode"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id" default:"SIM-001"`
	Currency string  `json:"currency" yaml:"currency" default:"USD" validate:"required"`
	Balance  float64 `json:"balance" yaml:"balance" default:"100000" validate:"gt=0"`
}

// DataConfig locates the bar file. .xz and .lzma files are decompressed.
type DataConfig struct {
	Instrument string `json:"instrument" yaml:"instrument" default:"BTC_USD" validate:"required"`
	BarsFile   string `json:"bars_file" yaml:"bars_file"`
	Timeframe  string `json:"timeframe" yaml:"timeframe" default:"H1"`
}

// SignalConfig selects the score source: the built-in EMA cross or a
// CSV file of precomputed scores.
type SignalConfig struct {
	Type     string                `json:"type" yaml:"type" default:"ema_cross" validate:"oneof=ema_cross csv"`
	File     string                `json:"file,omitempty" yaml:"file,omitempty"`
	EMACross signal.EMACrossConfig `json:"ema_cross" yaml:"ema_cross"`
}

// RiskConfig picks a profile and optionally overrides parts of it. Zero
// overrides keep the profile value.
type RiskConfig struct {
	Profile     string  `json:"profile" yaml:"profile" default:"moderate" validate:"oneof=conservative moderate aggressive"`
	BaseRiskPct float64 `json:"base_risk_pct" yaml:"base_risk_pct" default:"0.01" validate:"gt=0,lt=1"`

	MaxRiskPerTrade      float64 `json:"max_risk_per_trade,omitempty" yaml:"max_risk_per_trade,omitempty" validate:"gte=0,lt=1"`
	MaxDailyRiskBudget   float64 `json:"max_daily_risk_budget,omitempty" yaml:"max_daily_risk_budget,omitempty" validate:"gte=0,lt=1"`
	DailyLossCutoffPct   float64 `json:"daily_loss_cutoff_pct,omitempty" yaml:"daily_loss_cutoff_pct,omitempty" validate:"gte=0,lt=1"`
	OverallLossCutoffPct float64 `json:"overall_loss_cutoff_pct,omitempty" yaml:"overall_loss_cutoff_pct,omitempty" validate:"gte=0,lt=1"`
	DailyEmergencyPct    float64 `json:"daily_emergency_pct,omitempty" yaml:"daily_emergency_pct,omitempty" validate:"gte=0,lt=1"`
	MaxTradesPerDay      int     `json:"max_trades_per_day,omitempty" yaml:"max_trades_per_day,omitempty" validate:"gte=0"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses,omitempty" yaml:"max_consecutive_losses,omitempty" validate:"gte=0"`
	ProfitTargetPct      float64 `json:"profit_target_pct,omitempty" yaml:"profit_target_pct,omitempty" validate:"gte=0"`
	MinTradingDays       int     `json:"min_trading_days,omitempty" yaml:"min_trading_days,omitempty" validate:"gte=0"`
}

type TrailingConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled" default:"true"`
	ATRMultiplier float64 `json:"atr_multiplier" yaml:"atr_multiplier" default:"1.2" validate:"gte=0"`
	OnlyInProfit  bool    `json:"only_in_profit" yaml:"only_in_profit" default:"true"`
}

// ExecutionConfig controls stops, targets and costs.
type ExecutionConfig struct {
	ATRPeriod           int            `json:"atr_period" yaml:"atr_period" default:"14" validate:"gt=0"`
	StopATRMultiplier   float64        `json:"stop_atr_multiplier" yaml:"stop_atr_multiplier" default:"2.0" validate:"gt=0"`
	TargetATRMultiplier float64        `json:"target_atr_multiplier" yaml:"target_atr_multiplier" default:"5.0" validate:"gt=0"`
	MinRewardRisk       float64        `json:"min_reward_risk" yaml:"min_reward_risk" default:"1.4" validate:"gte=0"`
	SlippageBps         float64        `json:"slippage_bps" yaml:"slippage_bps" default:"5" validate:"gte=0"`
	CommissionPct       float64        `json:"commission_pct" yaml:"commission_pct" default:"0.001" validate:"gte=0,lt=1"`
	WarmupBars          int            `json:"warmup_bars" yaml:"warmup_bars" validate:"gte=0"`
	StopOnChallengePass bool           `json:"stop_on_challenge_pass" yaml:"stop_on_challenge_pass"`
	Trailing            TrailingConfig `json:"trailing" yaml:"trailing"`
}

// ModeConfig controls the trading-mode adapter.
type ModeConfig struct {
	Initial            string  `json:"initial" yaml:"initial" default:"standard" validate:"oneof=conservative standard aggressive alt_season recovery hibernation"`
	Cadence            string  `json:"cadence" yaml:"cadence" default:"bar" validate:"oneof=bar day"`
	DrawdownThreshold  float64 `json:"drawdown_threshold" yaml:"drawdown_threshold" default:"0.15" validate:"gt=0,lt=1"`
	HibernationRatio   float64 `json:"hibernation_ratio" yaml:"hibernation_ratio" default:"0.7" validate:"gt=0,lt=1"`
	AltSeasonThreshold float64 `json:"alt_season_threshold" yaml:"alt_season_threshold" default:"42"`
	AltSeasonStreak    int     `json:"alt_season_streak" yaml:"alt_season_streak" default:"3" validate:"gt=0"`
	CycleLookback      int     `json:"cycle_lookback" yaml:"cycle_lookback" default:"30" validate:"gte=2"`
	// RegimeFile holds "time,dominance" rows. Empty means neutral regime.
	RegimeFile string `json:"regime_file,omitempty" yaml:"regime_file,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type" default:"none" validate:"oneof=none csv sqlite"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	ModesFile  string `json:"modes_file,omitempty" yaml:"modes_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" default:"info" validate:"oneof=trace debug info warn error disabled"`
	Format string `json:"format" yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `json:"output" yaml:"output" default:"stderr" validate:"required"`
}

// MetricsConfig writes run metrics in the Prometheus text format when
// TextFile is set.
type MetricsConfig struct {
	TextFile string `json:"text_file,omitempty" yaml:"text_file,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml field names in errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// LoadFromFile loads configuration from a file (YAML, falling back to
// JSON). Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	data, err := c.Marshal(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Marshal encodes c as JSON for ".json" and YAML otherwise.
func (c *Config) Marshal(ext string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(ext, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Validate checks the struct tags first, then the rules that span
// several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Signal.Type == "csv" && c.Signal.File == "" {
		return fmt.Errorf("signal.file required for csv signal type")
	}
	if c.Journal.Type == "csv" && (c.Journal.TradesFile == "" || c.Journal.EquityFile == "") {
		return fmt.Errorf("journal trades_file and equity_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	if c.Execution.Trailing.Enabled && c.Execution.Trailing.ATRMultiplier <= 0 {
		return fmt.Errorf("execution.trailing.atr_multiplier must be positive when trailing is enabled")
	}

	limits, err := c.RiskLimits()
	if err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Risk.BaseRiskPct > limits.MaxRiskPerTrade {
		return fmt.Errorf("risk.base_risk_pct %.4f above max_risk_per_trade %.4f", c.Risk.BaseRiskPct, limits.MaxRiskPerTrade)
	}
	return nil
}

// describe renders a validator error using the yaml path of the field.
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", ns)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", ns, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", ns, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", ns, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", ns, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", ns, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", ns, fe.Tag())
	}
}

// RiskLimits returns the profile limits with the overrides applied.
func (c *Config) RiskLimits() (risk.Limits, error) {
	l, err := risk.ProfileLimits(c.Risk.Profile)
	if err != nil {
		return risk.Limits{}, err
	}
	r := c.Risk
	setF := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	setI := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setF(&l.MaxRiskPerTrade, r.MaxRiskPerTrade)
	setF(&l.MaxDailyRiskBudget, r.MaxDailyRiskBudget)
	setF(&l.DailyLossCutoffPct, r.DailyLossCutoffPct)
	setF(&l.OverallLossCutoffPct, r.OverallLossCutoffPct)
	setF(&l.DailyEmergencyPct, r.DailyEmergencyPct)
	setI(&l.MaxTradesPerDay, r.MaxTradesPerDay)
	setI(&l.MaxConsecutiveLosses, r.MaxConsecutiveLosses)
	setF(&l.ProfitTargetPct, r.ProfitTargetPct)
	setI(&l.MinTradingDays, r.MinTradingDays)
	return l, nil
}

func (c *Config) ModeConfig() (mode.Config, error) {
	initial, err := mode.ParseMode(c.Mode.Initial)
	if err != nil {
		return mode.Config{}, err
	}
	mc := mode.DefaultConfig()
	mc.Initial = initial
	mc.DrawdownThreshold = c.Mode.DrawdownThreshold
	mc.HibernationRatio = c.Mode.HibernationRatio
	mc.AltSeasonThreshold = c.Mode.AltSeasonThreshold
	mc.AltSeasonStreak = c.Mode.AltSeasonStreak
	mc.CycleLookback = c.Mode.CycleLookback
	return mc, nil
}

// EngineConfig builds the simulator configuration for runID.
func (c *Config) EngineConfig(runID string) (backtest.Config, error) {
	limits, err := c.RiskLimits()
	if err != nil {
		return backtest.Config{}, err
	}
	mc, err := c.ModeConfig()
	if err != nil {
		return backtest.Config{}, err
	}
	x := c.Execution
	return backtest.Config{
		RunID:               runID,
		Instrument:          c.Data.Instrument,
		InitialBalance:      c.Account.Balance,
		BaseRiskPct:         c.Risk.BaseRiskPct,
		ATRPeriod:           x.ATRPeriod,
		StopATRMultiplier:   x.StopATRMultiplier,
		TargetATRMultiplier: x.TargetATRMultiplier,
		MinRewardRisk:       x.MinRewardRisk,
		SlippageBps:         x.SlippageBps,
		CommissionPct:       x.CommissionPct,
		Trailing: backtest.Trailing{
			Enabled:       x.Trailing.Enabled,
			ATRMultiplier: x.Trailing.ATRMultiplier,
			OnlyInProfit:  x.Trailing.OnlyInProfit,
		},
		WarmupBars:          x.WarmupBars,
		CycleLookback:       c.Mode.CycleLookback,
		ModeCadence:         backtest.ModeCadence(c.Mode.Cadence),
		StopOnChallengePass: x.StopOnChallengePass,
		Risk:                limits,
		Mode:                mc,
	}, nil
}
