package signal

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/propsim/market"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time: t0.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c,
		}
	}
	return bars
}

func TestGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     Source
		want    float64
		wantErr bool
	}{
		{"ok", Static(3), 3, false},
		{"error", Func(func(int) (float64, error) { return 9, errors.New("boom") }), NeutralScore, true},
		{"nan", Static(math.NaN()), NeutralScore, true},
		{"inf", Static(math.Inf(-1)), NeutralScore, true},
		{"panic", Func(func(int) (float64, error) { panic("bad index") }), NeutralScore, true},
		{"out of range", Slice{1, 2}, NeutralScore, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Guard(tt.src, 5)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestMemoCallsSourceOnce(t *testing.T) {
	t.Parallel()

	calls := map[int]int{}
	src := Func(func(idx int) (float64, error) {
		calls[idx]++
		if idx == 2 {
			return 0, ErrNoScore
		}
		return float64(idx), nil
	})

	var buf bytes.Buffer
	m := NewMemo(src, zerolog.New(&buf))

	for i := 0; i < 3; i++ {
		s, fb := m.Score(1)
		assert.Equal(t, 1.0, s)
		assert.False(t, fb)
	}
	s, fb := m.Score(2)
	assert.Equal(t, NeutralScore, s)
	assert.True(t, fb)
	s, fb = m.Score(2)
	assert.Equal(t, NeutralScore, s)
	assert.False(t, fb)

	assert.Equal(t, 1, calls[1])
	assert.Equal(t, 1, calls[2])
	assert.Equal(t, 1, m.Fallbacks())
	assert.Equal(t, 2, m.Len())
	assert.Contains(t, buf.String(), "signal fallback")

	m.Reset()
	assert.Zero(t, m.Len())
	assert.Zero(t, m.Fallbacks())
	m.Score(1)
	assert.Equal(t, 2, calls[1])
}

func TestEMACrossScoresCrossBarsOnly(t *testing.T) {
	t.Parallel()

	closes := []float64{10, 10, 10, 10, 9, 8, 7, 6, 7, 9, 12, 15, 18, 16, 12, 8, 5}
	bars := barsFromCloses(closes)
	x, err := NewEMACross(bars, EMACrossConfig{FastPeriod: 2, SlowPeriod: 4})
	require.NoError(t, err)
	assert.Equal(t, "EMA_CROSS(2,4,ADX0@0.0)", x.Name())

	var ups, downs int
	for i := range bars {
		s, err := x.Score(i)
		require.NoError(t, err)
		switch {
		case s > 0:
			ups++
			assert.Equal(t, 2.0, s)
		case s < 0:
			downs++
			assert.Equal(t, -2.0, s)
		}
	}
	assert.Equal(t, 1, ups)
	assert.Equal(t, 1, downs)

	_, err = x.Score(len(bars))
	assert.ErrorIs(t, err, ErrNoScore)
}

func TestEMACrossConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := NewEMACross(nil, EMACrossConfig{FastPeriod: 5, SlowPeriod: 5})
	assert.Error(t, err)
	_, err = NewEMACross(nil, EMACrossConfig{FastPeriod: 0, SlowPeriod: 5})
	assert.Error(t, err)
}

func TestSeriesAlignsByTime(t *testing.T) {
	t.Parallel()

	bars := barsFromCloses([]float64{10, 11, 12, 13})
	in := "time,score\n" +
		"2024-02-01T01:00:00Z,2.5\n" +
		"2024-02-01T03:00:00Z,-4\n" +
		"2024-03-01T00:00:00Z,7\n"

	s, err := ReadSeries(strings.NewReader(in), bars)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Unmatched)

	v, err := s.Score(1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	v, err = s.Score(3)
	require.NoError(t, err)
	assert.Equal(t, -4.0, v)
	_, err = s.Score(0)
	assert.ErrorIs(t, err, ErrNoScore)

	_, err = ReadSeries(strings.NewReader("time,score\n2024-02-01T00:00:00Z,abc\n"), bars)
	assert.Error(t, err)
}

func TestWriteSeriesRoundTrip(t *testing.T) {
	t.Parallel()

	bars := barsFromCloses([]float64{10, 11, 12})
	var buf bytes.Buffer
	require.NoError(t, WriteSeries(&buf, bars, Slice{1, -2}))

	s, err := ReadSeries(&buf, bars)
	require.NoError(t, err)
	for i, want := range []float64{1, -2, NeutralScore} {
		got, err := s.Score(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
