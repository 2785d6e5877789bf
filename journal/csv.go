package journal

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CSVJournal writes trades, equity and mode changes to separate files.
// The mode file is optional.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	modes  *csv.Writer
	files  []io.Closer
}

var (
	tradeHeader = []string{"run_id", "trade_id", "instrument", "side", "units", "entry_price", "exit_price",
		"stop", "target", "open_time", "close_time", "gross_pl", "commission", "slippage", "realized_pl",
		"risk_pct", "mode", "reason"}
	equityHeader = []string{"run_id", "time", "balance", "equity"}
	modeHeader   = []string{"run_id", "time", "from", "to", "reason", "balance", "drawdown"}
)

func NewCSV(tradesPath, equityPath, modesPath string) (*CSVJournal, error) {
	j := &CSVJournal{}

	open := func(path string, header []string) (*csv.Writer, error) {
		fh, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, fh)
		w := csv.NewWriter(fh)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.trades, err = open(tradesPath, tradeHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.equity, err = open(equityPath, equityHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if modesPath != "" {
		if j.modes, err = open(modesPath, modeHeader); err != nil {
			j.closeFiles()
			return nil, err
		}
	}
	return j, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return write(j.trades, []string{
		t.RunID,
		t.TradeID,
		t.Instrument,
		t.Side,
		f(t.Units),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.Stop),
		f(t.Target),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		cash(t.GrossPL),
		cash(t.Commission),
		cash(t.Slippage),
		cash(t.RealizedPL),
		f(t.RiskPct),
		t.Mode,
		t.Reason,
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return write(j.equity, []string{
		e.RunID,
		e.Time.UTC().Format(time.RFC3339),
		cash(e.Balance),
		cash(e.Equity),
	})
}

func (j *CSVJournal) RecordModeChange(m ModeChange) error {
	if j.modes == nil {
		return nil
	}
	return write(j.modes, []string{
		m.RunID,
		m.Time.UTC().Format(time.RFC3339),
		m.From,
		m.To,
		m.Reason,
		cash(m.Balance),
		f(m.Drawdown),
	})
}

func (j *CSVJournal) Close() error {
	for _, w := range []*csv.Writer{j.trades, j.equity, j.modes} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil {
			j.closeFiles()
			return err
		}
	}
	return j.closeFiles()
}

func (j *CSVJournal) closeFiles() error {
	var first error
	for _, c := range j.files {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.files = nil
	return first
}

func write(w *csv.Writer, rec []string) error {
	if err := w.Write(rec); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return ""
	}
	return strconv.FormatFloat(x, 'f', 6, 64)
}

// cash rounds half away from zero to cents.
func cash(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return ""
	}
	return decimal.NewFromFloat(x).Round(2).StringFixed(2)
}
