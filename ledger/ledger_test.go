package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedTrade(side Side, entry, exit, size float64) Trade {
	open := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t := Trade{
		ID:         "T1",
		Instrument: "BTC_USD",
		Side:       side,
		EntryTime:  open,
		ExitTime:   open.Add(time.Hour),
		EntryPrice: entry,
		ExitPrice:  exit,
		Size:       size,
		Commission: 1.5,
		Slippage:   0.5,
	}
	t.GrossPnL = float64(side) * (exit - entry) * size
	t.PnL = t.GrossPnL - t.Commission - t.Slippage
	return t
}

func TestSideOf(t *testing.T) {
	t.Parallel()

	s, ok := SideOf(2.5)
	assert.True(t, ok)
	assert.Equal(t, Long, s)

	s, ok = SideOf(-1)
	assert.True(t, ok)
	assert.Equal(t, Short, s)

	_, ok = SideOf(0)
	assert.False(t, ok)
}

func TestTradeRecompute(t *testing.T) {
	t.Parallel()

	long := closedTrade(Long, 100, 110, 2)
	assert.InDelta(t, 18.0, long.Recompute(), 1e-12)
	assert.NoError(t, long.Check())

	short := closedTrade(Short, 100, 110, 2)
	assert.InDelta(t, -22.0, short.Recompute(), 1e-12)
	assert.NoError(t, short.Check())
}

func TestTradeCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Trade)
	}{
		{"exit before entry", func(tr *Trade) { tr.ExitTime = tr.EntryTime.Add(-time.Minute) }},
		{"exit equals entry", func(tr *Trade) { tr.ExitTime = tr.EntryTime }},
		{"zero size", func(tr *Trade) { tr.Size = 0 }},
		{"pnl mismatch", func(tr *Trade) { tr.PnL += 1 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := closedTrade(Long, 100, 105, 1)
			tt.mutate(&tr)
			err := tr.Check()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariant))
		})
	}
}

func TestLedgerAppendAndEquity(t *testing.T) {
	t.Parallel()

	var l Ledger
	a := closedTrade(Long, 100, 110, 1)
	b := closedTrade(Short, 100, 104, 1)
	b.ID = "T2"
	b.EntryTime = a.ExitTime.Add(time.Hour)
	b.ExitTime = b.EntryTime.Add(time.Hour)

	require.NoError(t, l.Append(a))
	require.NoError(t, l.Append(b))

	bad := closedTrade(Long, 100, 110, 1)
	bad.PnL = 0
	require.Error(t, l.Append(bad))

	assert.Equal(t, 2, l.Len())
	assert.InDelta(t, a.PnL+b.PnL, l.NetPnL(), 1e-12)

	curve := l.EquityCurve(1000)
	require.Len(t, curve, 3)
	assert.Equal(t, 1000.0, curve[0].Equity)
	assert.InDelta(t, 1000+a.PnL, curve[1].Equity, 1e-12)
	assert.InDelta(t, 1000+a.PnL+b.PnL, curve[2].Equity, 1e-12)

	// Trades returns a copy.
	trades := l.Trades()
	trades[0].PnL = 999
	assert.NotEqual(t, 999.0, l.Trades()[0].PnL)
}
