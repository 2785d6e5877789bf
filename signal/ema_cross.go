package signal

import (
	"fmt"

	"github.com/rustyeddy/propsim/indicators"
	"github.com/rustyeddy/propsim/market"
)

// EMACrossConfig configures the reference EMA-cross source.
type EMACrossConfig struct {
	FastPeriod   int     `json:"fast_period" yaml:"fast_period" default:"12" validate:"gt=0"`
	SlowPeriod   int     `json:"slow_period" yaml:"slow_period" default:"26" validate:"gtfield=FastPeriod"`
	ADXPeriod    int     `json:"adx_period" yaml:"adx_period" default:"14" validate:"gte=0"`       // 0 disables the ADX boost
	ADXThreshold float64 `json:"adx_threshold" yaml:"adx_threshold" default:"20" validate:"gte=0"` // e.g. 20 or 25
}

func DefaultEMACrossConfig() EMACrossConfig {
	return EMACrossConfig{FastPeriod: 12, SlowPeriod: 26, ADXPeriod: 14, ADXThreshold: 20}
}

// EMACross scores the bar where the fast EMA crosses the slow one.
// Crossing up is positive, crossing down negative; every other bar is 0.
// Conviction starts at 2 and gains a point for each of: ADX at or above
// the threshold, DI agreeing with the cross, ADX at twice the threshold.
type EMACross struct {
	cfg    EMACrossConfig
	scores []float64
}

func NewEMACross(bars []market.Bar, cfg EMACrossConfig) (*EMACross, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("ema periods must be > 0")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.ADXPeriod > 0 && cfg.ADXThreshold <= 0 {
		cfg.ADXThreshold = 20
	}

	x := &EMACross{cfg: cfg, scores: make([]float64, len(bars))}
	fast := indicators.NewEMA(cfg.FastPeriod)
	slow := indicators.NewEMA(cfg.SlowPeriod)
	var adx *indicators.ADX
	if cfg.ADXPeriod > 0 {
		adx = indicators.NewADX(cfg.ADXPeriod)
	}

	// prevRel: -1 fast below slow, +1 above, 0 unknown
	prevRel := 0
	for i, b := range bars {
		fast.Update(b)
		slow.Update(b)
		if adx != nil {
			adx.Update(b)
		}
		if !fast.Ready() || !slow.Ready() {
			continue
		}

		rel := 0
		switch diff := fast.Value() - slow.Value(); {
		case diff > 0:
			rel = +1
		case diff < 0:
			rel = -1
		}
		if rel == 0 {
			continue
		}
		if prevRel != 0 && rel != prevRel {
			x.scores[i] = float64(rel) * x.conviction(adx, rel)
		}
		prevRel = rel
	}
	return x, nil
}

func (x *EMACross) conviction(adx *indicators.ADX, rel int) float64 {
	c := 2.0
	if adx == nil || !adx.Ready() {
		return c
	}
	v := adx.Value()
	if v >= x.cfg.ADXThreshold {
		c++
	}
	plus, minus := adx.DI()
	if (rel > 0 && plus > minus) || (rel < 0 && minus > plus) {
		c++
	}
	if v >= 2*x.cfg.ADXThreshold {
		c++
	}
	return c
}

func (x *EMACross) Name() string {
	return fmt.Sprintf("EMA_CROSS(%d,%d,ADX%d@%.1f)",
		x.cfg.FastPeriod, x.cfg.SlowPeriod, x.cfg.ADXPeriod, x.cfg.ADXThreshold)
}

func (x *EMACross) Score(idx int) (float64, error) {
	if idx < 0 || idx >= len(x.scores) {
		return NeutralScore, ErrNoScore
	}
	return x.scores[idx], nil
}
