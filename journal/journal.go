package journal

import (
	"errors"
	"time"

	"github.com/rustyeddy/propsim/ledger"
)

// TradeRecord is a closed trade as persisted by a Journal.
type TradeRecord struct {
	RunID      string
	TradeID    string
	Instrument string
	Side       string
	Units      float64
	EntryPrice float64
	ExitPrice  float64
	Stop       float64
	Target     float64
	OpenTime   time.Time
	CloseTime  time.Time
	GrossPL    float64
	Commission float64
	Slippage   float64
	RealizedPL float64
	RiskPct    float64
	Mode       string
	Reason     string
}

// TradeFromLedger maps a ledger trade onto a record for run runID.
func TradeFromLedger(runID string, t ledger.Trade) TradeRecord {
	return TradeRecord{
		RunID:      runID,
		TradeID:    t.ID,
		Instrument: t.Instrument,
		Side:       t.Side.String(),
		Units:      t.Size,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Stop:       t.Stop,
		Target:     t.Target,
		OpenTime:   t.EntryTime,
		CloseTime:  t.ExitTime,
		GrossPL:    t.GrossPnL,
		Commission: t.Commission,
		Slippage:   t.Slippage,
		RealizedPL: t.PnL,
		RiskPct:    t.RiskPct,
		Mode:       t.Mode,
		Reason:     string(t.Reason),
	}
}

// EquitySnapshot is the account value at the close of one bar.
// Balance is realized, Equity is marked to market.
type EquitySnapshot struct {
	RunID   string
	Time    time.Time
	Balance float64
	Equity  float64
}

// ModeChange records a trading-mode transition.
type ModeChange struct {
	RunID    string
	Time     time.Time
	From     string
	To       string
	Reason   string
	Balance  float64
	Drawdown float64
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordModeChange(ModeChange) error
	Close() error
}

// Tee fans every record out to each journal in order. Errors are joined.
func Tee(js ...Journal) Journal {
	return tee(js)
}

type tee []Journal

func (t tee) RecordTrade(r TradeRecord) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordTrade(r))
	}
	return errors.Join(errs...)
}

func (t tee) RecordEquity(e EquitySnapshot) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordEquity(e))
	}
	return errors.Join(errs...)
}

func (t tee) RecordModeChange(m ModeChange) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordModeChange(m))
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}
