// Package metrics exposes a backtest run as Prometheus metrics.
package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rustyeddy/propsim/ledger"
	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/risk"
)

// Recorder implements backtest.Hook using Prometheus. Every recorder owns
// its registry so concurrent runs do not share series.
type Recorder struct {
	reg *prometheus.Registry

	bars         *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	denials      *prometheus.CounterVec
	opened       *prometheus.CounterVec
	closed       *prometheus.CounterVec
	stopsTrailed prometheus.Counter
	modeChanges  *prometheus.CounterVec

	balance  prometheus.Gauge
	equity   prometheus.Gauge
	lastBar  prometheus.Gauge
	drawdown prometheus.Gauge
	mode     *prometheus.GaugeVec

	riskPct *prometheus.HistogramVec
	pnl     prometheus.Histogram
}

// New creates a recorder. Every series carries the instrument and run
// labels.
func New(instrument, runID string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"instrument": instrument, "run_id": runID}

	return &Recorder{
		reg: reg,
		bars: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_bars_total",
			Help:        "Bars seen by the simulator",
			ConstLabels: labels,
		}, []string{"result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_fallbacks_total",
			Help:        "Collaborator failures replaced by a neutral value",
			ConstLabels: labels,
		}, []string{"source"}),
		denials: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_entries_denied_total",
			Help:        "Entries refused, by reason code",
			ConstLabels: labels,
		}, []string{"code"}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_trades_opened_total",
			Help:        "Positions opened",
			ConstLabels: labels,
		}, []string{"side"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_trades_closed_total",
			Help:        "Positions closed",
			ConstLabels: labels,
		}, []string{"reason", "outcome"}),
		stopsTrailed: f.NewCounter(prometheus.CounterOpts{
			Name:        "propsim_stops_trailed_total",
			Help:        "Protective stop adjustments",
			ConstLabels: labels,
		}),
		modeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "propsim_mode_changes_total",
			Help:        "Trading mode transitions",
			ConstLabels: labels,
		}, []string{"from", "to"}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name:        "propsim_balance",
			Help:        "Realized account balance",
			ConstLabels: labels,
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name:        "propsim_equity",
			Help:        "Balance plus open position value",
			ConstLabels: labels,
		}),
		lastBar: f.NewGauge(prometheus.GaugeOpts{
			Name:        "propsim_last_bar_timestamp_seconds",
			Help:        "Time of the last processed bar",
			ConstLabels: labels,
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Name:        "propsim_mode_drawdown_ratio",
			Help:        "Drawdown from peak at the last mode change",
			ConstLabels: labels,
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "propsim_mode",
			Help:        "1 for the active trading mode",
			ConstLabels: labels,
		}, []string{"mode"}),
		riskPct: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "propsim_trade_risk_ratio",
			Help:        "Fraction of balance risked per entry",
			ConstLabels: labels,
			Buckets:     []float64{0.0025, 0.005, 0.0075, 0.01, 0.015, 0.02, 0.03},
		}, []string{"side"}),
		pnl: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "propsim_trade_pnl",
			Help:        "Net P&L per closed trade",
			ConstLabels: labels,
			Buckets:     []float64{-5000, -2000, -1000, -500, -100, 0, 100, 500, 1000, 2000, 5000},
		}),
	}
}

// Registry returns the registry holding the recorder's series.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) BarProcessed(t time.Time, balance, equity float64) {
	r.bars.WithLabelValues("processed").Inc()
	r.balance.Set(balance)
	r.equity.Set(equity)
	r.lastBar.Set(float64(t.Unix()))
}

func (r *Recorder) BarSkipped() { r.bars.WithLabelValues("skipped").Inc() }

func (r *Recorder) SignalFallback() { r.fallbacks.WithLabelValues("signal").Inc() }

func (r *Recorder) RegimeFallback() { r.fallbacks.WithLabelValues("regime").Inc() }

func (r *Recorder) EntryDenied(code string) { r.denials.WithLabelValues(code).Inc() }

func (r *Recorder) TradeOpened(side ledger.Side, riskPct float64) {
	r.opened.WithLabelValues(side.String()).Inc()
	r.riskPct.WithLabelValues(side.String()).Observe(riskPct)
}

func (r *Recorder) TradeClosed(t ledger.Trade) {
	outcome := strings.ToLower(risk.OutcomeOf(t.PnL).String())
	r.closed.WithLabelValues(string(t.Reason), outcome).Inc()
	r.pnl.Observe(t.PnL)
}

func (r *Recorder) StopTrailed(from, to float64) { r.stopsTrailed.Inc() }

func (r *Recorder) ModeChanged(c mode.Change) {
	r.modeChanges.WithLabelValues(string(c.From), string(c.To)).Inc()
	r.mode.WithLabelValues(string(c.From)).Set(0)
	r.mode.WithLabelValues(string(c.To)).Set(1)
	r.drawdown.Set(c.Drawdown)
}

// SetMode marks m as the active mode without counting a transition.
func (r *Recorder) SetMode(m mode.Mode) { r.mode.WithLabelValues(string(m)).Set(1) }

// WriteToTextfile writes every series in the text exposition format, for
// the node exporter textfile collector.
func (r *Recorder) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
