// Package perf reduces a trade ledger and an equity trajectory to
// risk-adjusted statistics. It holds no state.
package perf

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/propsim/ledger"
)

// Options control annualisation.
type Options struct {
	RiskFreeRate   float64 // annual, 0.02 = 2%
	PeriodsPerYear float64 // daily samples per year, 365 for crypto, 252 for equities
}

func DefaultOptions() Options {
	return Options{RiskFreeRate: 0.02, PeriodsPerYear: 365}
}

// MonthStat is the P&L breakdown for one calendar month (by exit time).
type MonthStat struct {
	Month     string // "2006-01"
	PnL       float64
	Trades    int
	Wins      int
	ReturnPct float64 // percent of the balance at the start of the month
}

// Metrics is the bundle produced by Analyze.
// Fields named *Pct are percent points; WinRate is a fraction.
type Metrics struct {
	InitialBalance float64
	FinalBalance   float64
	NetPL          float64

	TotalReturnPct      float64
	AnnualizedReturnPct float64
	MaxDrawdownPct      float64
	Volatility          float64 // annualised, percent

	Sharpe         float64
	Sortino        float64
	Calmar         float64
	RecoveryFactor float64

	TotalTrades  int
	Wins         int
	Losses       int
	Breakevens   int // PnL exactly 0; counted in TotalTrades only
	WinRate      float64
	ProfitFactor float64
	GrossProfit  float64
	GrossLoss    float64 // positive magnitude
	AvgWin       float64
	AvgLoss      float64 // positive magnitude
	Expectancy   float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	Monthly []MonthStat
}

// Analyze computes Metrics. When equity is empty the realized curve is
// rebuilt from the trades.
func Analyze(trades []ledger.Trade, equity []ledger.EquityPoint, initial float64, opts Options) Metrics {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultOptions().PeriodsPerYear
	}

	m := Metrics{InitialBalance: initial, FinalBalance: initial}
	tradeStats(&m, trades)
	m.FinalBalance = initial + m.NetPL
	if initial > 0 {
		m.TotalReturnPct = m.NetPL / initial * 100
	}

	if len(equity) == 0 {
		equity = realizedCurve(trades, initial)
	}

	m.MaxDrawdownPct = MaxDrawdownPct(equity)
	m.AnnualizedReturnPct = annualizedReturnPct(equity, initial, m.FinalBalance)

	rets := Returns(DailyCloses(equity))
	if len(rets) >= 2 {
		sd := stddev(rets)
		m.Volatility = sd * math.Sqrt(opts.PeriodsPerYear) * 100
		m.Sharpe = Sharpe(rets, opts)
		m.Sortino = Sortino(rets, opts)
	}
	if m.MaxDrawdownPct > 0 {
		m.Calmar = m.AnnualizedReturnPct / m.MaxDrawdownPct
		m.RecoveryFactor = m.TotalReturnPct / m.MaxDrawdownPct
	}

	m.Monthly = Monthly(trades, initial)
	return m
}

// tradeStats classifies trades the way risk.OutcomeOf does: a breakeven
// trade is neither a win nor a loss and leaves both streaks alone.
func tradeStats(m *Metrics, trades []ledger.Trade) {
	m.TotalTrades = len(trades)
	winStreak, lossStreak := 0, 0
	for _, t := range trades {
		m.NetPL += t.PnL
		switch {
		case t.PnL > 0:
			m.Wins++
			m.GrossProfit += t.PnL
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			m.Losses++
			m.GrossLoss += -t.PnL
			lossStreak++
			winStreak = 0
		default:
			m.Breakevens++
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, winStreak)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, lossStreak)
	}
	if m.TotalTrades == 0 {
		return
	}

	n := float64(m.TotalTrades)
	m.WinRate = float64(m.Wins) / n
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = m.GrossLoss / float64(m.Losses)
	}
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}
	m.Expectancy = m.WinRate*m.AvgWin - float64(m.Losses)/n*m.AvgLoss
}

// realizedCurve sums net P&L in trade order, starting at initial on the
// first entry.
func realizedCurve(trades []ledger.Trade, initial float64) []ledger.EquityPoint {
	if len(trades) == 0 {
		return nil
	}
	out := make([]ledger.EquityPoint, 0, len(trades)+1)
	out = append(out, ledger.EquityPoint{Time: trades[0].EntryTime, Equity: initial})
	bal := initial
	for _, t := range trades {
		bal += t.PnL
		out = append(out, ledger.EquityPoint{Time: t.ExitTime, Equity: bal})
	}
	return out
}

// MaxDrawdownPct returns the largest peak-to-trough decline in percent of
// the running peak.
func MaxDrawdownPct(equity []ledger.EquityPoint) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst * 100
}

// DailyCloses keeps the last equity value of each UTC calendar day.
func DailyCloses(equity []ledger.EquityPoint) []float64 {
	var out []float64
	var day time.Time
	for i, p := range equity {
		d := p.Time.UTC().Truncate(24 * time.Hour)
		if i == 0 || !d.Equal(day) {
			out = append(out, p.Equity)
			day = d
			continue
		}
		out[len(out)-1] = p.Equity
	}
	return out
}

// Returns converts a value series into simple period returns.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Sharpe is the annualised mean excess return over its sample deviation.
func Sharpe(rets []float64, opts Options) float64 {
	if len(rets) < 2 {
		return 0
	}
	rf := opts.RiskFreeRate / opts.PeriodsPerYear
	excess := make([]float64, len(rets))
	for i, r := range rets {
		excess[i] = r - rf
	}
	sd := stddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(opts.PeriodsPerYear)
}

// Sortino uses the downside deviation of excess returns (target 0).
// With no downside and a positive mean it is +Inf.
func Sortino(rets []float64, opts Options) float64 {
	if len(rets) < 2 {
		return 0
	}
	rf := opts.RiskFreeRate / opts.PeriodsPerYear
	var sumSq, sum float64
	for _, r := range rets {
		x := r - rf
		sum += x
		if x < 0 {
			sumSq += x * x
		}
	}
	avg := sum / float64(len(rets))
	dd := math.Sqrt(sumSq / float64(len(rets)))
	if dd == 0 {
		if avg > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return avg / dd * math.Sqrt(opts.PeriodsPerYear)
}

func annualizedReturnPct(equity []ledger.EquityPoint, initial, final float64) float64 {
	if len(equity) < 2 || initial <= 0 || final <= 0 {
		return 0
	}
	days := equity[len(equity)-1].Time.Sub(equity[0].Time).Hours() / 24
	if days <= 0 {
		return 0
	}
	years := days / 365.25
	return (math.Pow(final/initial, 1/years) - 1) * 100
}

// Monthly groups trades by the month they closed in.
func Monthly(trades []ledger.Trade, initial float64) []MonthStat {
	byMonth := map[string]*MonthStat{}
	startBal := map[string]float64{}
	bal := initial

	for _, t := range trades {
		key := t.ExitTime.UTC().Format("2006-01")
		ms, ok := byMonth[key]
		if !ok {
			ms = &MonthStat{Month: key}
			byMonth[key] = ms
			startBal[key] = bal
		}
		ms.PnL += t.PnL
		ms.Trades++
		if t.PnL > 0 {
			ms.Wins++
		}
		bal += t.PnL
	}

	out := make([]MonthStat, 0, len(byMonth))
	for key, ms := range byMonth {
		if sb := startBal[key]; sb > 0 {
			ms.ReturnPct = ms.PnL / sb * 100
		}
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the sample standard deviation (n-1).
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
