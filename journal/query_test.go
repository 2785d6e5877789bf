package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetTrade("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	day := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	// Close times: 06:00, 12:00, 18:00 on the 10th.
	for i, id := range []string{"A", "B", "C"} {
		rec := sampleTrade(id, "R1", day.Add(time.Duration(i)*6*time.Hour))
		require.NoError(t, j.RecordTrade(rec))
	}

	got, err := j.ListTradesClosedBetween(day.Add(6*time.Hour), day.Add(18*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].TradeID)
	assert.Equal(t, "B", got[1].TradeID)

	got, err = j.ListTradesClosedBetween(day.Add(48*time.Hour), day.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListTradesByRunID(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	open := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(sampleTrade("A", "R1", open)))
	require.NoError(t, j.RecordTrade(sampleTrade("B", "R2", open)))
	require.NoError(t, j.RecordTrade(sampleTrade("C", "R1", open.Add(time.Hour))))

	got, err := j.ListTradesByRunID(context.Background(), "R1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].TradeID)
	assert.Equal(t, "C", got[1].TradeID)
}
