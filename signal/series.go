package signal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/propsim/market"
)

// Series serves precomputed scores read from a "time,score" CSV and
// aligned to a bar sequence by timestamp. Bars without a row have no
// score.
type Series struct {
	byIdx     map[int]float64
	Unmatched int
}

// LoadSeries opens path (plain, .xz or .lzma) and aligns it to bars.
func LoadSeries(path string, bars []market.Bar) (*Series, error) {
	rc, err := market.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s, err := ReadSeries(rc, bars)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

func ReadSeries(r io.Reader, bars []market.Bar) (*Series, error) {
	index := make(map[int64]int, len(bars))
	for i, b := range bars {
		index[b.Time.UnixNano()] = i
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	s := &Series{byIdx: make(map[int]float64)}
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want time,score", line+1)
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
			return nil, fmt.Errorf("line %d: score: %w", line+1, err)
		}

		idx, ok := index[ts.UnixNano()]
		if !ok {
			s.Unmatched++
			continue
		}
		s.byIdx[idx] = v
	}
	return s, nil
}

func (s *Series) Score(idx int) (float64, error) {
	v, ok := s.byIdx[idx]
	if !ok {
		return NeutralScore, ErrNoScore
	}
	return v, nil
}

func (s *Series) Len() int { return len(s.byIdx) }

// seriesTime is the layout WriteSeries uses.
const seriesTime = time.RFC3339

// WriteSeries writes one "time,score" row per bar using src. Bars whose
// score fails are written as NeutralScore.
func WriteSeries(w io.Writer, bars []market.Bar, src Source) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "score"}); err != nil {
		return err
	}
	for i, b := range bars {
		v, _ := Guard(src, i)
		if err := cw.Write([]string{b.Time.UTC().Format(seriesTime), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
