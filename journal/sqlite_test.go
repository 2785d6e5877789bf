package journal

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func sampleTrade(id, runID string, open time.Time) TradeRecord {
	return TradeRecord{
		RunID:      runID,
		TradeID:    id,
		Instrument: "BTC_USD",
		Side:       "long",
		Units:      0.5,
		EntryPrice: 40000,
		ExitPrice:  41000,
		Stop:       39000,
		Target:     42500,
		OpenTime:   open,
		CloseTime:  open.Add(6 * time.Hour),
		GrossPL:    500,
		Commission: 40.5,
		Slippage:   20.25,
		RealizedPL: 439.25,
		RiskPct:    0.01,
		Mode:       "standard",
		Reason:     "take-profit",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"trades", "equity", "mode_changes", "backtest_runs"} {
		assert.True(t, found[table], "table %s", table)
	}
}

func TestSQLiteRecordTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	open := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := sampleTrade("T1", "R1", open)
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("T1")
	require.NoError(t, err)

	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, rec.Instrument, got.Instrument)
	assert.Equal(t, rec.Side, got.Side)
	assert.InDelta(t, rec.Units, got.Units, 1e-9)
	assert.InDelta(t, rec.Stop, got.Stop, 1e-9)
	assert.InDelta(t, rec.RealizedPL, got.RealizedPL, 1e-9)
	assert.True(t, got.OpenTime.Equal(rec.OpenTime))
	assert.True(t, got.CloseTime.Equal(rec.CloseTime))
	assert.Equal(t, rec.Mode, got.Mode)
	assert.Equal(t, rec.Reason, got.Reason)

	// Trade IDs are unique.
	assert.Error(t, j.RecordTrade(rec))
}

func TestSQLiteEquityAndModes(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	ts := time.Date(2024, 2, 3, 4, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.RecordEquity(EquitySnapshot{
			RunID:   "R1",
			Time:    ts.Add(time.Duration(i) * time.Hour),
			Balance: 1000,
			Equity:  1000 + float64(i),
		}))
	}
	require.NoError(t, j.RecordEquity(EquitySnapshot{RunID: "R2", Time: ts, Balance: 5, Equity: 5}))

	eq, err := j.ListEquityByRunID(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, eq, 3)
	assert.InDelta(t, 1002.0, eq[2].Equity, 1e-9)

	all, err := j.ListEquityBetween(ts, ts.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3) // R1 at +0h and +1h, R2 at +0h

	require.NoError(t, j.RecordModeChange(ModeChange{
		RunID: "R1", Time: ts, From: "standard", To: "recovery", Reason: "drawdown 16.0%", Balance: 840, Drawdown: 0.16,
	}))
	modes, err := j.ListModeChangesByRunID(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, modes, 1)
	assert.Equal(t, "recovery", modes[0].To)
	assert.InDelta(t, 0.16, modes[0].Drawdown, 1e-12)
}

func TestSQLiteBacktestRun(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := BacktestRun{
		RunID:           "R1",
		Created:         created,
		Timeframe:       "H1",
		Dataset:         "btc.csv",
		Instrument:      "BTC_USD",
		Strategy:        "EMA_CROSS(12,26,ADX14@20.0)",
		Config:          []byte("risk:\n  profile: moderate\n"),
		RiskProfile:     "moderate",
		RiskPct:         0.01,
		StopATR:         2,
		TargetATR:       5,
		Start:           created.Add(-30 * 24 * time.Hour),
		End:             created,
		Trades:          4,
		Wins:            4,
		StartBalance:    10000,
		EndBalance:      10800,
		NetPL:           800,
		ReturnPct:       8,
		WinRate:         1,
		ProfitFactor:    math.Inf(1),
		MaxDDPct:        1.5,
		Sharpe:          2.1,
		Sortino:         math.Inf(1),
		FinalMode:       "standard",
		ChallengePassed: true,
		Compliant:       true,
		Notes:           []string{"no losing trades", "short sample"},
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	older := run
	older.RunID = "R0"
	older.Created = created.Add(-time.Hour)
	older.Notes = nil
	require.NoError(t, j.RecordBacktest(ctx, older))

	got, err := j.GetBacktestRun(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, run.Strategy, got.Strategy)
	assert.Equal(t, run.Config, got.Config)
	assert.True(t, math.IsInf(got.ProfitFactor, 1))
	assert.True(t, math.IsInf(got.Sortino, 1))
	assert.InDelta(t, 2.1, got.Sharpe, 1e-12)
	assert.True(t, got.ChallengePassed)
	assert.True(t, got.Compliant)
	assert.Equal(t, run.Notes, got.Notes)
	assert.Nil(t, got.NextActions)
	assert.True(t, got.Start.Equal(run.Start))

	runs, err := j.ListBacktestRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "R1", runs[0].RunID)
	assert.Equal(t, "R0", runs[1].RunID)

	runs, err = j.ListBacktestRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = j.GetBacktestRun(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
