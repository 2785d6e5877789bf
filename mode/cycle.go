package mode

import "math"

type Cycle string

const (
	Accumulation Cycle = "accumulation"
	Markup       Cycle = "markup"
	Distribution Cycle = "distribution"
	Markdown     Cycle = "markdown"
)

// ClassifyCycle looks at the last lookback closes. Trend is the percent
// change over the window and volatility the sample deviation of the
// per-bar percent changes. Fewer than lookback closes is accumulation.
func ClassifyCycle(closes []float64, lookback int) Cycle {
	if lookback < 2 || len(closes) < lookback {
		return Accumulation
	}
	w := closes[len(closes)-lookback:]
	if w[0] <= 0 {
		return Accumulation
	}

	trend := (w[len(w)-1]/w[0] - 1) * 100
	vol := pctChangeStd(w) * 100

	switch {
	case trend > 15 && vol < 5:
		return Markup
	case trend > 5 && vol > 8:
		return Distribution
	case trend < -15 && vol < 5:
		return Markdown
	default:
		return Accumulation
	}
}

func pctChangeStd(w []float64) float64 {
	chg := make([]float64, 0, len(w)-1)
	for i := 1; i < len(w); i++ {
		if w[i-1] == 0 {
			continue
		}
		chg = append(chg, w[i]/w[i-1]-1)
	}
	if len(chg) < 2 {
		return 0
	}

	var sum float64
	for _, c := range chg {
		sum += c
	}
	mean := sum / float64(len(chg))
	var ss float64
	for _, c := range chg {
		ss += (c - mean) * (c - mean)
	}
	return math.Sqrt(ss / float64(len(chg)-1))
}
