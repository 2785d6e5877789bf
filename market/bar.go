package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedBar is wrapped by Bar.Validate.
var ErrMalformedBar = errors.New("malformed bar")

// Bar is one OHLCV time step. Bars are immutable once loaded.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Validate checks that prices are finite and positive and that the high
// and low bracket the open and close.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: zero time", ErrMalformedBar)
	}
	for _, p := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if !finitePositive(p) {
			return fmt.Errorf("%w: %s price %v", ErrMalformedBar, b.Time.Format(time.RFC3339), p)
		}
	}
	if b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("%w: %s high/low %v/%v do not bracket open/close %v/%v",
			ErrMalformedBar, b.Time.Format(time.RFC3339), b.High, b.Low, b.Open, b.Close)
	}
	if b.Volume < 0 || math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
		return fmt.Errorf("%w: %s volume %v", ErrMalformedBar, b.Time.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// Closes returns the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
