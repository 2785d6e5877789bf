// Package logger builds the zerolog logger used across propsim.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string // trace, debug, info, warn, error, disabled
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New opens cfg.Output and returns a logger writing to it. The closer
// releases the log file; it is a no-op for stdout and stderr.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("could not open log file: %w", err)
		}
		out, closer = f, f
	}

	l, err := NewWriter(cfg, out)
	if err != nil {
		_ = closer.Close()
		return zerolog.Nop(), nil, err
	}
	return l, closer, nil
}

// NewWriter is New with the destination already open.
func NewWriter(cfg Config, out io.Writer) (zerolog.Logger, error) {
	lvl := cfg.Level
	if lvl == "" {
		lvl = "info"
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339
	}

	switch cfg.Format {
	case "console", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf, NoColor: true}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
