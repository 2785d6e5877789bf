package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/propsim/market"
)

// ADX implements Wilder's Average Directional Index (trend strength).
// Usage:
//
//	adx := indicators.NewADX(14)
//	adx.Update(bar)
//	if adx.Ready() && adx.Value() >= 20 { ... }
type ADX struct {
	period int

	prev     market.Bar
	havePrev bool

	// Wilder-smoothed values after warmup
	trS  float64
	pdmS float64
	mdmS float64

	pdi, mdi float64

	adx   float64
	dxSum float64

	// bars processed, including the first prev seed
	count int
	ready bool
}

func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.period) }

// Warmup is 2*period+1: period bars seed TR/DM, then period DX values
// seed the ADX.
func (a *ADX) Warmup() int { return 2*a.period + 1 }

func (a *ADX) Reset() { *a = ADX{period: a.period} }

func (a *ADX) Ready() bool { return a.ready }

func (a *ADX) Value() float64 {
	if !a.ready {
		return 0
	}
	return a.adx
}

// DI returns the latest +DI and -DI.
func (a *ADX) DI() (plus, minus float64) { return a.pdi, a.mdi }

func (a *ADX) Update(b market.Bar) {
	if !a.havePrev {
		a.prev = b
		a.havePrev = true
		a.count = 1
		return
	}

	upMove := b.High - a.prev.High
	downMove := a.prev.Low - b.Low

	var pdm, mdm float64
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		mdm = downMove
	}
	tr := trueRange(b, a.prev)

	a.prev = b
	a.count++

	p := float64(a.period)
	if a.count <= a.period+1 {
		a.trS += tr
		a.pdmS += pdm
		a.mdmS += mdm
		if a.count == a.period+1 {
			a.trS /= p
			a.pdmS /= p
			a.mdmS /= p
		}
		return
	}

	a.trS = (a.trS*(p-1) + tr) / p
	a.pdmS = (a.pdmS*(p-1) + pdm) / p
	a.mdmS = (a.mdmS*(p-1) + mdm) / p
	if a.trS == 0 {
		return
	}

	a.pdi = 100 * a.pdmS / a.trS
	a.mdi = 100 * a.mdmS / a.trS
	den := a.pdi + a.mdi
	if den == 0 {
		return
	}
	dx := 100 * math.Abs(a.pdi-a.mdi) / den

	if !a.ready {
		a.dxSum += dx
		if a.count == 2*a.period+1 {
			a.adx = a.dxSum / p
			a.ready = true
		}
		return
	}
	a.adx = (a.adx*(p-1) + dx) / p
}
