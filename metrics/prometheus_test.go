package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/propsim/backtest"
	"github.com/rustyeddy/propsim/ledger"
	"github.com/rustyeddy/propsim/mode"
)

var _ backtest.Hook = (*Recorder)(nil)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := New("BTC_USD", "RUN1")
	ts := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	r.BarProcessed(ts, 100000, 100250)
	r.BarProcessed(ts.Add(time.Hour), 100100, 100100)
	r.BarSkipped()
	r.SignalFallback()
	r.RegimeFallback()
	r.RegimeFallback()
	r.EntryDenied("MAX_TRADES_PER_DAY")
	r.TradeOpened(ledger.Long, 0.01)
	r.TradeClosed(ledger.Trade{PnL: -850, Reason: ledger.StopLoss})
	r.TradeClosed(ledger.Trade{PnL: 0, Reason: ledger.EndOfData})
	r.StopTrailed(95, 97)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.bars.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bars.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("signal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("regime")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.denials.WithLabelValues("MAX_TRADES_PER_DAY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.opened.WithLabelValues("long")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.closed.WithLabelValues("stop-loss", "loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.closed.WithLabelValues(string(ledger.EndOfData), "breakeven")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stopsTrailed))
	assert.Equal(t, 100100.0, testutil.ToFloat64(r.balance))
	assert.Equal(t, float64(ts.Add(time.Hour).Unix()), testutil.ToFloat64(r.lastBar))
}

func TestRecorderModes(t *testing.T) {
	t.Parallel()

	r := New("BTC_USD", "RUN1")
	r.SetMode(mode.Standard)
	r.ModeChanged(mode.Change{From: mode.Standard, To: mode.Conservative, Drawdown: 0.16})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.mode.WithLabelValues("standard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mode.WithLabelValues("conservative")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.modeChanges.WithLabelValues("standard", "conservative")))
	assert.InDelta(t, 0.16, testutil.ToFloat64(r.drawdown), 1e-12)
}

func TestRecordersAreIndependent(t *testing.T) {
	t.Parallel()

	a := New("BTC_USD", "A")
	b := New("BTC_USD", "B")
	a.BarSkipped()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.bars.WithLabelValues("skipped")))
}

func TestWriteToTextfile(t *testing.T) {
	t.Parallel()

	r := New("ETH_USD", "RUN2")
	r.TradeOpened(ledger.Short, 0.005)
	r.EntryDenied("DAILY_LOSS_CUTOFF")

	path := filepath.Join(t.TempDir(), "propsim.prom")
	require.NoError(t, r.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `propsim_trades_opened_total{instrument="ETH_USD",run_id="RUN2",side="short"} 1`)
	assert.Contains(t, out, `propsim_entries_denied_total{code="DAILY_LOSS_CUTOFF",instrument="ETH_USD",run_id="RUN2"} 1`)
	assert.Contains(t, out, "propsim_trade_risk_ratio_bucket")

	require.Error(t, r.WriteToTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}
