// Package indicators provides streaming technical indicators over bars.
package indicators

import "github.com/rustyeddy/propsim/market"

// Indicator computes a single streaming value from bars.
// It is deterministic and safe to use in replays and backtests.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value returns the current value, or 0 before Ready().
	Value() float64
}

var (
	_ Indicator = (*ExponentialMA)(nil)
	_ Indicator = (*ATR)(nil)
	_ Indicator = (*ADX)(nil)
)
