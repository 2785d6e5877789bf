package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Side: +1 long, -1 short
type Side int8

const (
	Long  Side = +1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// SideOf returns the side implied by the sign of a signal score.
// A zero score has no side.
func SideOf(score float64) (Side, bool) {
	switch {
	case score > 0:
		return Long, true
	case score < 0:
		return Short, true
	default:
		return 0, false
	}
}

type ExitReason string

const (
	StopLoss       ExitReason = "stop-loss"
	TakeProfit     ExitReason = "take-profit"
	OpposingSignal ExitReason = "opposing-signal"
	EndOfData      ExitReason = "end-of-data"
)

// ErrInvariant is returned when a closed trade fails the ledger invariants.
var ErrInvariant = errors.New("ledger invariant violated")

// pnlTolerance is relative to the trade notional.
const pnlTolerance = 1e-9

// Trade is a closed trade. It is never mutated after it is appended.
type Trade struct {
	ID         string
	Instrument string
	Side       Side

	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Size       float64 // base-asset units, always positive

	Stop   float64 // stop at exit (after trailing)
	Target float64

	GrossPnL   float64
	Commission float64
	Slippage   float64
	PnL        float64 // net of commission and slippage

	RiskPct float64
	Mode    string
	Reason  ExitReason
}

// Recompute derives net P&L from prices, size and costs.
func (t Trade) Recompute() float64 {
	return float64(t.Side)*(t.ExitPrice-t.EntryPrice)*t.Size - t.Commission - t.Slippage
}

// Check verifies the invariants of a closed trade.
func (t Trade) Check() error {
	if !t.ExitTime.After(t.EntryTime) {
		return fmt.Errorf("%w: trade %s exit %s not after entry %s",
			ErrInvariant, t.ID, t.ExitTime.Format(time.RFC3339), t.EntryTime.Format(time.RFC3339))
	}
	if t.Size <= 0 {
		return fmt.Errorf("%w: trade %s size %.8f", ErrInvariant, t.ID, t.Size)
	}
	notional := math.Max(1, (t.EntryPrice+t.ExitPrice)*t.Size)
	if diff := math.Abs(t.Recompute() - t.PnL); diff > pnlTolerance*notional {
		return fmt.Errorf("%w: trade %s pnl %.8f, recomputed %.8f", ErrInvariant, t.ID, t.PnL, t.Recompute())
	}
	return nil
}

// EquityPoint is one sample of the account value.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// Ledger is an append-only list of closed trades.
type Ledger struct {
	trades []Trade
}

// Append checks t and adds it to the ledger.
func (l *Ledger) Append(t Trade) error {
	if err := t.Check(); err != nil {
		return err
	}
	l.trades = append(l.trades, t)
	return nil
}

// Trades returns a copy of the recorded trades.
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) Len() int { return len(l.trades) }

// NetPnL sums the net P&L of every trade.
func (l *Ledger) NetPnL() float64 {
	var sum float64
	for _, t := range l.trades {
		sum += t.PnL
	}
	return sum
}

// EquityCurve rebuilds the realized equity curve from the ledger by
// cumulative summation, starting at initial.
func (l *Ledger) EquityCurve(initial float64) []EquityPoint {
	out := make([]EquityPoint, 0, len(l.trades)+1)
	bal := initial
	if len(l.trades) > 0 {
		out = append(out, EquityPoint{Time: l.trades[0].EntryTime, Equity: bal})
	}
	for _, t := range l.trades {
		bal += t.PnL
		out = append(out, EquityPoint{Time: t.ExitTime, Equity: bal})
	}
	return out
}
