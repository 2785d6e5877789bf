package journal

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"text/template"
	"time"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID     string
	Created   time.Time
	Timeframe string
	Dataset   string

	// Instrument traded in this backtest
	Instrument string
	Strategy   string
	Config     []byte // YAML of the effective configuration

	// Risk Management
	RiskProfile string
	RiskPct     float64 // base risk per trade, 0.01 = 1%
	StopATR     float64 // stop distance in ATRs
	TargetATR   float64 // target distance in ATRs

	Start time.Time
	End   time.Time

	// Results
	Trades int
	Wins   int
	Losses int

	StartBalance float64
	EndBalance   float64

	NetPL        float64
	ReturnPct    float64 // percent points
	WinRate      float64 // fraction
	ProfitFactor float64
	MaxDDPct     float64 // percent points
	Sharpe       float64
	Sortino      float64

	FinalMode       string
	ChallengePassed bool
	Compliant       bool
	Violations      int

	GitCommit string
	OrgPath   string

	Notes       []string
	NextActions []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"ratio": func(x float64) string {
		if math.IsInf(x, 1) {
			return "inf"
		}
		return fmt.Sprintf("%.2f", x)
	},
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

// FormatBacktestOrg renders the run as an Org-mode entry.
func (v *BacktestRun) FormatBacktestOrg() (string, error) {
	t, err := template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := t.Execute(buf, v); err != nil {
		return "", fmt.Errorf("journal: render org for %s: %w", v.RunID, err)
	}
	return buf.String(), nil
}

// WriteBacktestOrg writes the Org entry to v.OrgPath.
func (v *BacktestRun) WriteBacktestOrg() error {
	if v.OrgPath == "" {
		return fmt.Errorf("journal: run %s has no org path", v.RunID)
	}
	s, err := v.FormatBacktestOrg()
	if err != nil {
		return err
	}
	return os.WriteFile(v.OrgPath, []byte(s), 0644)
}

const BacktestOrgTemplate = `
* BACKTEST: {{if .Strategy}}{{.Strategy}}{{else}}(strategy?){{end}} {{.Instrument}} {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:STRATEGY:    {{.Strategy}}
:TIMEFRAME:   {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:INSTRUMENT:  {{.Instrument}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:PROFILE:     {{.RiskProfile}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:PROFIT_FAC:  {{ratio .ProfitFactor}}
:SHARPE:      {{ratio .Sharpe}}
:SORTINO:     {{ratio .Sortino}}
:FINAL_MODE:  {{.FinalMode}}
:CHALLENGE:   {{if .ChallengePassed}}passed{{else}}not passed{{end}}
:COMPLIANT:   {{if .Compliant}}yes{{else}}no{{end}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Strategy Parameters
| Parameter        | Value |
|------------------+-------|
| Stop (ATR)       | {{printf "%.2f" .StopATR}} |
| Target (ATR)     | {{printf "%.2f" .TargetATR}} |
| Risk per Trade % | {{printf "%.2f" (mul100 .RiskPct)}} |
{{- if .Config }}

#+begin_src yaml
{{printf "%s" .Config}}
#+end_src
{{- end }}

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{ratio .ProfitFactor}}*
- Violations:       *{{.Violations}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |

{{- if .Notes }}
** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}

{{- if .NextActions }}
** Notes / Next Actions
{{- range .NextActions }}
- [ ] {{.}}
{{- end }}
{{- end }}
`
