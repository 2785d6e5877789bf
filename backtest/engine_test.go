package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/propsim/id"
	"github.com/rustyeddy/propsim/journal"
	"github.com/rustyeddy/propsim/ledger"
	"github.com/rustyeddy/propsim/market"
	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/risk"
	"github.com/rustyeddy/propsim/signal"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }

func mkBar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{Time: at(i), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

// flat bars with a true range of exactly 5 around 100.
func flat(i int) market.Bar { return mkBar(i, 100, 102.5, 97.5, 100) }

// testConfig gives ATR 5 after three flat bars, a stop 5 below entry and
// a target 12 above it, with no costs and no trailing.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RunID = "TEST"
	cfg.ATRPeriod = 2
	cfg.StopATRMultiplier = 1
	cfg.TargetATRMultiplier = 2.4
	cfg.SlippageBps = 0
	cfg.CommissionPct = 0
	cfg.Trailing.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, bars []market.Bar, scores signal.Source, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIDs(id.NewGenerator(1))}, opts...)
	e, err := NewEngine(bars, scores, cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestStopLossScenario(t *testing.T) {
	t.Parallel()

	// Long entered at 100 with stop 95 and target 112; next low is 94.
	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	scores := signal.Slice{0, 0, 2, 0, 0}

	res, err := newTestEngine(t, bars, scores, testConfig()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ledger.Long, tr.Side)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 95.0, tr.ExitPrice)
	assert.InDelta(t, 112.0, tr.Target, 1e-9)
	assert.Equal(t, ledger.StopLoss, tr.Reason)
	assert.True(t, tr.ExitTime.Equal(at(3)))

	// 100k * 0.85% (weak signal) / 5
	assert.InDelta(t, 170.0, tr.Size, 1e-9)
	assert.InDelta(t, -850.0, tr.PnL, 1e-9)
	assert.Equal(t, string(mode.Standard), tr.Mode)

	assert.Equal(t, 4, res.LastIndex)
	assert.Equal(t, 5, res.Bars)
	assert.Len(t, res.Equity, 5)
	assert.InDelta(t, 99_150.0, res.Metrics.FinalBalance, 1e-9)
	assert.Equal(t, 1, res.Metrics.TotalTrades)
	assert.Equal(t, 1, res.Risk.ConsecutiveLosses)
}

func TestStopFirstOnSimultaneousBreach(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 113, 94, 100), flat(4)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, testConfig()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ledger.StopLoss, res.Trades[0].Reason)
	assert.Equal(t, 95.0, res.Trades[0].ExitPrice)
}

func TestExitReasons(t *testing.T) {
	t.Parallel()

	t.Run("take profit", func(t *testing.T) {
		t.Parallel()
		bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 113, 99, 110), flat(4)}
		res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, testConfig()).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Trades, 1)
		assert.Equal(t, ledger.TakeProfit, res.Trades[0].Reason)
		assert.InDelta(t, 112.0, res.Trades[0].ExitPrice, 1e-9)
		assert.InDelta(t, 12*170.0, res.Trades[0].PnL, 1e-6)
	})

	t.Run("opposing signal then end of data", func(t *testing.T) {
		t.Parallel()
		bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 99, 100), mkBar(4, 100, 101, 99, 100)}
		res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, -2, 0}, testConfig()).Run(context.Background())
		require.NoError(t, err)

		// The opposing bar closes the long and opens a short.
		require.Len(t, res.Trades, 2)
		assert.Equal(t, ledger.OpposingSignal, res.Trades[0].Reason)
		assert.Equal(t, 100.0, res.Trades[0].ExitPrice)
		assert.Equal(t, ledger.Short, res.Trades[1].Side)
		assert.Equal(t, ledger.EndOfData, res.Trades[1].Reason)
		assert.True(t, res.Trades[1].ExitTime.Equal(at(4)))
	})

	t.Run("no entry on the last bar", func(t *testing.T) {
		t.Parallel()
		bars := []market.Bar{flat(0), flat(1), flat(2)}
		res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2}, testConfig()).Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Trades)
		assert.Equal(t, 0, res.TradesOpened)
	})
}

func TestCostsOnBothLegs(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SlippageBps = 5
	cfg.CommissionPct = 0.001

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	turnover := (100.0 + 95.0) * 170.0
	assert.InDelta(t, turnover*5/1e4, tr.Slippage, 1e-9)
	assert.InDelta(t, turnover*0.001, tr.Commission, 1e-9)
	assert.InDelta(t, -850-tr.Slippage-tr.Commission, tr.PnL, 1e-9)
	assert.NoError(t, tr.Check())
}

func TestLedgerConsistency(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SlippageBps = 3
	cfg.CommissionPct = 0.0005

	// A long that stops out, then a short that runs to end of data.
	bars := []market.Bar{
		flat(0), flat(1), flat(2),
		mkBar(3, 100, 101, 94, 96),
		mkBar(4, 96, 97, 95, 96),
		mkBar(5, 96, 97, 94, 95),
		mkBar(6, 95, 96, 93, 94),
	}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, -3, 0, 0}, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	var sum float64
	for _, tr := range res.Trades {
		assert.InDelta(t, tr.Recompute(), tr.PnL, 1e-9)
		assert.True(t, tr.ExitTime.After(tr.EntryTime))
		sum += tr.PnL
	}
	assert.InDelta(t, cfg.InitialBalance+sum, res.Metrics.FinalBalance, 1e-6)
	// Flat at the end, so the last equity point is the realized balance.
	assert.InDelta(t, res.Metrics.FinalBalance, res.Equity[len(res.Equity)-1].Equity, 1e-6)
}

type recordingHook struct {
	nopHook
	trails    [][2]float64
	skipped   int
	fallbacks int
	closed    int
	bars      int
}

func (h *recordingHook) StopTrailed(from, to float64) {
	h.trails = append(h.trails, [2]float64{from, to})
}
func (h *recordingHook) BarSkipped()                              { h.skipped++ }
func (h *recordingHook) SignalFallback()                          { h.fallbacks++ }
func (h *recordingHook) TradeClosed(ledger.Trade)                 { h.closed++ }
func (h *recordingHook) BarProcessed(time.Time, float64, float64) { h.bars++ }

func TestTrailingStopIsMonotonic(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TargetATRMultiplier = 20
	cfg.Trailing = Trailing{Enabled: true, ATRMultiplier: 1, OnlyInProfit: true}

	bars := []market.Bar{flat(0), flat(1), flat(2)}
	c := 100.0
	for i := 3; i < 12; i++ {
		if i == 7 {
			c -= 1 // a small pullback must not loosen the stop
		} else {
			c += 3
		}
		bars = append(bars, mkBar(i, c-0.5, c+1, c-1, c))
	}
	scores := make(signal.Slice, len(bars))
	scores[2] = 2

	hook := &recordingHook{}
	res, err := newTestEngine(t, bars, scores, cfg, WithHook(hook)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	require.NotEmpty(t, hook.trails)
	prev := 95.0
	for _, mv := range hook.trails {
		assert.Greater(t, mv[1], mv[0])
		assert.GreaterOrEqual(t, mv[0], prev)
		prev = mv[1]
	}
	assert.Equal(t, len(hook.trails), res.StopsTrailed)
	assert.Equal(t, prev, res.Trades[0].Stop)
	assert.Greater(t, res.Trades[0].Stop, 95.0)
	assert.Equal(t, ledger.EndOfData, res.Trades[0].Reason)
}

func TestSkipsMalformedBars(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{
		flat(0),
		mkBar(1, 100, 99, 97.5, 100), // high below close
		flat(1),
		flat(1), // duplicate time
		flat(2),
		flat(3),
	}
	hook := &recordingHook{}
	res, err := newTestEngine(t, bars, make(signal.Slice, len(bars)), testConfig(), WithHook(hook)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.SkippedBars)
	assert.Equal(t, 2, hook.skipped)
	assert.Equal(t, 4, res.Bars)
	assert.Equal(t, 4, hook.bars)
	assert.Equal(t, 5, res.LastIndex)
}

func TestSignalFallbacksAreCounted(t *testing.T) {
	t.Parallel()

	src := signal.Func(func(idx int) (float64, error) {
		switch idx {
		case 1:
			return 0, errors.New("feed down")
		case 2:
			panic("boom")
		}
		return 0, nil
	})
	bars := []market.Bar{flat(0), flat(1), flat(2), flat(3)}
	hook := &recordingHook{}
	res, err := newTestEngine(t, bars, src, testConfig(), WithHook(hook)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.SignalFallbacks)
	assert.Equal(t, 2, hook.fallbacks)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 3, res.LastIndex)
}

type errRegime struct{}

func (errRegime) Dominance(time.Time) (float64, error) { return 0, mode.ErrNoRegime }

func TestRegimeFallbacksAreCounted(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{flat(0), flat(1), flat(2)}
	res, err := newTestEngine(t, bars, make(signal.Slice, 3), testConfig(), WithRegime(errRegime{})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RegimeFallbacks)
	assert.Equal(t, mode.Standard, res.FinalMode)
}

func TestInvariantHaltsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SlippageBps = 1e7 // costs larger than the account

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, cfg).Run(context.Background())
	require.Error(t, err)

	var ie *InvariantError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 3, ie.Index)
	assert.True(t, errors.Is(err, risk.ErrStateCorrupt))
	assert.True(t, IsInvariant(err))

	require.NotNil(t, res)
	assert.Equal(t, 2, res.LastIndex)
	assert.Empty(t, res.Trades)
}

func TestInvariantErrorWrapsLedger(t *testing.T) {
	t.Parallel()

	err := invariant(7, at(7), ledger.ErrInvariant, "trade %s", "X")
	assert.True(t, errors.Is(err, ledger.ErrInvariant))
	assert.Contains(t, err.Error(), "bar 7")
	assert.False(t, IsInvariant(errors.New("other")))
}

func TestRiskDenialsAreCounted(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Risk.MaxTradesPerDay = 1

	// Long stops out, then a new signal the same day is refused.
	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), mkBar(4, 96, 98, 95, 97), flat(5)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 2, 0}, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Trades, 1)
	assert.Equal(t, 1, res.Denials[risk.CodeMaxTradesPerDay])
}

func TestRiskBudgetNeverExceeded(t *testing.T) {
	t.Parallel()

	// Signals on every bar; alternating closes make every trade reverse.
	cfg := testConfig()
	n := 60
	bars := make([]market.Bar, 0, n)
	scores := make(signal.Slice, n)
	for i := 0; i < n; i++ {
		bars = append(bars, flat(i))
		if i%2 == 0 {
			scores[i] = 3
		} else {
			scores[i] = -3
		}
	}
	res, err := newTestEngine(t, bars, scores, cfg).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	perDay := map[time.Time]float64{}
	for _, tr := range res.Trades {
		perDay[tr.EntryTime.UTC().Truncate(24*time.Hour)] += tr.RiskPct
	}
	for day, used := range perDay {
		assert.LessOrEqual(t, used, cfg.Risk.MaxDailyRiskBudget+1e-12, day.String())
	}
}

func TestChallengeStopsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StopOnChallengePass = true
	cfg.Risk.ProfitTargetPct = 0.01
	cfg.Risk.MinTradingDays = 1

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 113, 99, 110), flat(4), flat(5)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0, 0}, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.ChallengePassed)
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 3, res.LastIndex)
	assert.Contains(t, res.Observations(), "run stopped early after passing the challenge")
}

type memJournal struct {
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
	modes  []journal.ModeChange
}

func (m *memJournal) RecordTrade(t journal.TradeRecord) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memJournal) RecordEquity(e journal.EquitySnapshot) error {
	m.equity = append(m.equity, e)
	return nil
}

func (m *memJournal) RecordModeChange(c journal.ModeChange) error {
	m.modes = append(m.modes, c)
	return nil
}

func (m *memJournal) Close() error { return nil }

func TestJournalReceivesRecords(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	j := &memJournal{}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, testConfig(), WithJournal(j)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, j.trades, 1)
	assert.Equal(t, "TEST", j.trades[0].RunID)
	assert.Equal(t, res.Trades[0].ID, j.trades[0].TradeID)
	assert.Equal(t, "stop-loss", j.trades[0].Reason)
	assert.Len(t, j.equity, res.Bars)
	assert.Len(t, j.modes, len(res.ModeHistory))
}

func TestModeCadenceDay(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ModeCadence = CadenceDay

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	res, err := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Trades, 1)
	assert.Equal(t, mode.Standard, res.FinalMode)
	assert.Empty(t, res.ModeHistory)
}

func TestRunIsRepeatable(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{flat(0), flat(1), flat(2), mkBar(3, 100, 101, 94, 96), flat(4)}
	e := newTestEngine(t, bars, signal.Slice{0, 0, 2, 0, 0}, testConfig())

	a, err := e.Run(context.Background())
	require.NoError(t, err)
	b, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Metrics.NetPL, b.Metrics.NetPL)
	assert.Equal(t, len(a.Trades), len(b.Trades))
	assert.Equal(t, a.Risk.TradesToday, b.Risk.TradesToday)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bars := []market.Bar{flat(0), flat(1), flat(2)}
	res, err := newTestEngine(t, bars, make(signal.Slice, 3), testConfig()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, res.LastIndex)
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{flat(0)}
	_, err := NewEngine(nil, signal.Static(0), testConfig())
	assert.Error(t, err)
	_, err = NewEngine(bars, nil, testConfig())
	assert.Error(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no instrument", func(c *Config) { c.Instrument = "" }},
		{"zero balance", func(c *Config) { c.InitialBalance = 0 }},
		{"risk pct", func(c *Config) { c.BaseRiskPct = 1.5 }},
		{"atr period", func(c *Config) { c.ATRPeriod = 0 }},
		{"cadence", func(c *Config) { c.ModeCadence = "hourly" }},
		{"trailing", func(c *Config) { c.Trailing = Trailing{Enabled: true} }},
		{"risk limits", func(c *Config) { c.Risk.MaxRiskPerTrade = 0 }},
		{"mode", func(c *Config) { c.Mode.Initial = "yolo" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(bars, signal.Static(0), cfg)
			assert.Error(t, err)
		})
	}
}

func TestAltSeasonOpensPositions(t *testing.T) {
	t.Parallel()

	bars := make([]market.Bar, 60)
	scores := make(signal.Slice, len(bars))
	for i := range bars {
		bars[i] = flat(i)
		scores[i] = 5
	}

	cfg := DefaultConfig()
	cfg.RunID = "ALT"
	res, err := newTestEngine(t, bars, scores, cfg, WithRegime(mode.StaticRegime(30))).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, mode.AltSeason, res.FinalMode)
	assert.Zero(t, res.RejectedRR)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, string(mode.AltSeason), res.Trades[0].Mode)
}

func TestBlockedModes(t *testing.T) {
	t.Parallel()

	assert.Empty(t, DefaultConfig().BlockedModes())

	// 5*0.7 / (2*1.2) is just under 1.5.
	cfg := DefaultConfig()
	cfg.MinRewardRisk = 1.5
	assert.Equal(t, []mode.Mode{mode.AltSeason}, cfg.BlockedModes())

	bars := make([]market.Bar, 60)
	scores := make(signal.Slice, len(bars))
	for i := range bars {
		bars[i] = flat(i)
		scores[i] = 5
	}
	res, err := newTestEngine(t, bars, scores, cfg, WithRegime(mode.StaticRegime(30))).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mode.AltSeason, res.FinalMode)
	assert.Empty(t, res.Trades)
	assert.Positive(t, res.RejectedRR)
}
