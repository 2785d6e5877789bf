package market

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Stats summarises a CSV ingest.
type Stats struct {
	Rows       int
	Bars       int
	BadLines   int
	Duplicates int
	OutOfOrder int
}

// LoadCSV reads bars from path. Files ending in .xz or .lzma are
// decompressed on the fly.
func LoadCSV(path string) ([]Bar, Stats, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer rc.Close()

	bars, st, err := ReadCSV(rc)
	if err != nil {
		return nil, st, fmt.Errorf("read %s: %w", path, err)
	}
	return bars, st, nil
}

type readCloser struct {
	io.Reader
	f *os.File
}

func (r readCloser) Close() error { return r.f.Close() }

// Open opens path, wrapping it in an xz or lzma reader by extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xz":
		r, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz %s: %w", path, err)
		}
		return readCloser{Reader: r, f: f}, nil
	case ".lzma":
		r, err := lzma.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("lzma %s: %w", path, err)
		}
		return readCloser{Reader: r, f: f}, nil
	default:
		return f, nil
	}
}

// ReadCSV parses time,open,high,low,close[,volume] records separated by
// commas or semicolons. A header line is optional. Bars come back sorted
// by time; on duplicate timestamps the first row wins.
func ReadCSV(r io.Reader) ([]Bar, Stats, error) {
	br := bufio.NewReader(r)
	comma, err := sniffComma(br)
	if err != nil {
		return nil, Stats{}, err
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		st   Stats
		bars []Bar
	)
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				st.BadLines++
				continue
			}
			return nil, st, err
		}
		if line == 0 && looksLikeHeader(rec) {
			continue
		}
		st.Rows++

		b, err := parseRecord(rec)
		if err != nil {
			st.BadLines++
			continue
		}
		if n := len(bars); n > 0 && !b.Time.After(bars[n-1].Time) {
			st.OutOfOrder++
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && b.Time.Equal(out[n-1].Time) {
			st.Duplicates++
			continue
		}
		out = append(out, b)
	}
	st.Bars = len(out)
	return out, st, nil
}

func sniffComma(br *bufio.Reader) (rune, error) {
	peek, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, err
	}
	first := string(peek)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if strings.Contains(first, ";") && !strings.Contains(first, ",") {
		return ';', nil
	}
	return ',', nil
}

func looksLikeHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := ParseTime(rec[0])
	return err != nil
}

func parseRecord(rec []string) (Bar, error) {
	if len(rec) < 5 {
		return Bar{}, fmt.Errorf("want at least 5 fields, got %d", len(rec))
	}
	ts, err := ParseTime(rec[0])
	if err != nil {
		return Bar{}, err
	}

	var px [4]float64
	for i := range px {
		if px[i], err = parseFloat(rec[i+1]); err != nil {
			return Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}

	b := Bar{Time: ts, Open: px[0], High: px[1], Low: px[2], Close: px[3]}
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		if b.Volume, err = parseFloat(rec[5]); err != nil {
			return Bar{}, fmt.Errorf("volume: %w", err)
		}
	}
	return b, nil
}
