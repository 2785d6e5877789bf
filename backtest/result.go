package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/propsim/ledger"
	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/perf"
	"github.com/rustyeddy/propsim/risk"
)

// Denial codes added by the simulator on top of the risk manager's.
const (
	CodeModeTradeCap = "MODE_TRADE_CAP"
	CodeNoRiskBuffer = "NO_RISK_BUFFER"
)

// Counters audit what the run skipped, denied or degraded.
type Counters struct {
	Bars            int // processed
	SkippedBars     int
	SignalFallbacks int
	RegimeFallbacks int
	RejectedRR      int
	TradesOpened    int
	StopsTrailed    int
	Denials         map[string]int
}

// Result of one run. LastIndex is the index of the last bar fully
// processed, or -1 when none was.
type Result struct {
	RunID      string
	Instrument string
	Start      time.Time
	End        time.Time

	Trades      []ledger.Trade
	Equity      []ledger.EquityPoint
	Metrics     perf.Metrics
	ModeHistory []mode.Change
	FinalMode   mode.Mode
	FinalCycle  mode.Cycle

	Risk             risk.State
	Alerts           []risk.Event
	Violations       []risk.Event
	Compliant        bool
	ComplianceIssues []string

	Counters

	ChallengePassed bool
	StoppedEarly    bool
	LastIndex       int
}

// InvariantError halts a run. It wraps risk.ErrStateCorrupt or
// ledger.ErrInvariant.
type InvariantError struct {
	Index int
	Time  time.Time
	Msg   string
	Err   error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("backtest: invariant violated at bar %d (%s): %s",
		e.Index, e.Time.UTC().Format(time.RFC3339), e.Msg)
}

func (e *InvariantError) Unwrap() error { return e.Err }

func invariant(idx int, t time.Time, err error, format string, args ...any) *InvariantError {
	return &InvariantError{Index: idx, Time: t, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsInvariant reports whether err halted a run because of corrupt state.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
