package mode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/propsim/market"
)

// NeutralRegime is the dominance reading used when no regime is
// available. It sits above the default alt-season threshold.
const NeutralRegime = 45.0

// ErrNoRegime is returned when a source has no reading for a time.
var ErrNoRegime = errors.New("no regime reading")

// RegimeSource reports the dominant asset's market share (percent) as of t.
type RegimeSource interface {
	Dominance(t time.Time) (float64, error)
}

// StaticRegime always reports the same dominance.
type StaticRegime float64

func (s StaticRegime) Dominance(time.Time) (float64, error) { return float64(s), nil }

// Reading is one regime observation.
type Reading struct {
	Time  time.Time
	Value float64
}

// SeriesRegime answers with the latest reading at or before t.
type SeriesRegime struct {
	readings []Reading
}

func NewSeriesRegime(readings []Reading) *SeriesRegime {
	rs := append([]Reading(nil), readings...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })
	return &SeriesRegime{readings: rs}
}

func (s *SeriesRegime) Dominance(t time.Time) (float64, error) {
	i := sort.Search(len(s.readings), func(i int) bool { return s.readings[i].Time.After(t) })
	if i == 0 {
		return 0, fmt.Errorf("%w at %s", ErrNoRegime, t.Format(time.RFC3339))
	}
	return s.readings[i-1].Value, nil
}

func (s *SeriesRegime) Len() int { return len(s.readings) }

// LoadSeriesRegime reads "time,value" rows from path (plain, .xz or .lzma).
func LoadSeriesRegime(path string) (*SeriesRegime, error) {
	rc, err := market.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s, err := ReadSeriesRegime(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

func ReadSeriesRegime(r io.Reader) (*SeriesRegime, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rs []Reading
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want time,value", line+1)
		}
		ts, err := market.ParseTime(rec[0])
		if err != nil {
			if line == 0 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line+1, err)
		}
		rs = append(rs, Reading{Time: ts, Value: v})
	}
	return NewSeriesRegime(rs), nil
}
