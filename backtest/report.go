package backtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/propsim/journal"
)

// Summary converts the result into a persisted run record. Strategy,
// dataset and config are filled in by the caller.
func (res *Result) Summary(cfg Config) journal.BacktestRun {
	m := res.Metrics
	return journal.BacktestRun{
		RunID:           res.RunID,
		Created:         time.Now().UTC(),
		Instrument:      res.Instrument,
		RiskPct:         cfg.BaseRiskPct,
		StopATR:         cfg.StopATRMultiplier,
		TargetATR:       cfg.TargetATRMultiplier,
		Start:           res.Start,
		End:             res.End,
		Trades:          m.TotalTrades,
		Wins:            m.Wins,
		Losses:          m.Losses,
		StartBalance:    m.InitialBalance,
		EndBalance:      m.FinalBalance,
		NetPL:           m.NetPL,
		ReturnPct:       m.TotalReturnPct,
		WinRate:         m.WinRate,
		ProfitFactor:    m.ProfitFactor,
		MaxDDPct:        m.MaxDrawdownPct,
		Sharpe:          m.Sharpe,
		Sortino:         m.Sortino,
		FinalMode:       string(res.FinalMode),
		ChallengePassed: res.ChallengePassed,
		Compliant:       res.Compliant,
		Violations:      len(res.Violations),
		Notes:           res.Observations(),
	}
}

// Observations lists the things a reviewer should look at first.
func (res *Result) Observations() []string {
	var out []string
	if res.SkippedBars > 0 {
		out = append(out, fmt.Sprintf("%d malformed or out-of-order bars skipped", res.SkippedBars))
	}
	if res.SignalFallbacks > 0 {
		out = append(out, fmt.Sprintf("signal fell back to neutral on %d bars", res.SignalFallbacks))
	}
	if res.RegimeFallbacks > 0 {
		out = append(out, fmt.Sprintf("regime fell back to neutral %d times", res.RegimeFallbacks))
	}
	if res.Risk.OverallEmergencyStop {
		out = append(out, "overall emergency stop is still active")
	}
	if !res.Compliant {
		out = append(out, fmt.Sprintf("%d compliance issues", len(res.ComplianceIssues)))
	}
	if res.StoppedEarly {
		out = append(out, "run stopped early after passing the challenge")
	}
	if res.TradesOpened == 0 {
		out = append(out, "no trades were opened")
	}
	return out
}

func money(x float64) string {
	return decimal.NewFromFloat(x).Round(2).StringFixed(2)
}

func ratio(x float64) string {
	if math.IsInf(x, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", x)
}

// PrintResult writes a human-readable report of res.
func PrintResult(w io.Writer, res *Result) {
	m := res.Metrics

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Run ID:        %s\n", res.RunID)
	fmt.Fprintf(w, "Instrument:    %s\n", res.Instrument)
	fmt.Fprintf(w, "Final Mode:    %s\n", res.FinalMode)
	fmt.Fprintf(w, "Final Cycle:   %s\n", res.FinalCycle)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", res.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", res.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Bars:          %d (skipped %d, last index %d)\n", res.Bars, res.SkippedBars, res.LastIndex)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", m.TotalTrades)
	fmt.Fprintf(w, "Wins:          %d\n", m.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", m.Losses)
	fmt.Fprintf(w, "Breakeven:     %d\n", m.Breakevens)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Avg Win:       %s\n", money(m.AvgWin))
	fmt.Fprintf(w, "Avg Loss:      %s\n", money(m.AvgLoss))
	fmt.Fprintf(w, "Expectancy:    %s\n", money(m.Expectancy))
	fmt.Fprintf(w, "Streaks:       %d wins / %d losses\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %s\n", money(m.InitialBalance))
	fmt.Fprintf(w, "End Balance:   %s\n", money(m.FinalBalance))
	fmt.Fprintf(w, "Net P/L:       %s\n", money(m.NetPL))
	fmt.Fprintf(w, "Return:        %.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(w, "Annualized:    %.2f%%\n", m.AnnualizedReturnPct)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(w, "Profit Factor: %s\n", ratio(m.ProfitFactor))
	fmt.Fprintf(w, "Sharpe:        %s\n", ratio(m.Sharpe))
	fmt.Fprintf(w, "Sortino:       %s\n", ratio(m.Sortino))
	fmt.Fprintf(w, "Calmar:        %s\n", ratio(m.Calmar))

	if len(m.Monthly) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Monthly")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, ms := range m.Monthly {
			fmt.Fprintf(w, "%s  %12s  %3d trades  %6.2f%%\n", ms.Month, money(ms.PnL), ms.Trades, ms.ReturnPct)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Risk")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Challenge:     %s\n", passFail(res.ChallengePassed))
	fmt.Fprintf(w, "Compliant:     %s\n", passFail(res.Compliant))
	fmt.Fprintf(w, "Day Loss:      %.2f%%\n", res.Risk.DailyLossPct()*100)
	fmt.Fprintf(w, "Overall Loss:  %.2f%%\n", res.Risk.OverallLossPct()*100)
	fmt.Fprintf(w, "Worst Day:     %.2f%%\n", res.Risk.WorstDailyLoss*100)
	fmt.Fprintf(w, "Worst Overall: %.2f%%\n", res.Risk.WorstOverallLoss*100)
	fmt.Fprintf(w, "Trading Days:  %d\n", res.Risk.TradingDays)
	fmt.Fprintf(w, "R:R Rejected:  %d\n", res.RejectedRR)
	if len(res.Denials) > 0 {
		codes := make([]string, 0, len(res.Denials))
		for c := range res.Denials {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		for _, c := range codes {
			fmt.Fprintf(w, "Denied:        %-24s %d\n", c, res.Denials[c])
		}
	}
	for _, issue := range res.ComplianceIssues {
		fmt.Fprintf(w, "- %s\n", issue)
	}

	if len(res.ModeHistory) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Mode Changes")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, ch := range res.ModeHistory {
			fmt.Fprintf(w, "%s  %s -> %s: %s\n", ch.Time.Format("2006-01-02 15:04"), ch.From, ch.To, ch.Reason)
		}
	}

	if notes := res.Observations(); len(notes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Observations")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, note := range notes {
			fmt.Fprintf(w, "- %s\n", note)
		}
	}

	fmt.Fprintln(w)
}

func passFail(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
