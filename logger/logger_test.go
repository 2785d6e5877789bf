package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := NewWriter(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Str("code", "NO_RISK_BUFFER").Msg("entry denied")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "entry denied", rec["message"])
	assert.Equal(t, "NO_RISK_BUFFER", rec["code"])
	assert.Contains(t, rec, "time")
}

func TestNewWriterConsole(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := NewWriter(Config{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)

	l.Debug().Int("bar", 7).Msg("bar skipped")
	assert.Contains(t, buf.String(), "bar skipped")
	assert.Contains(t, buf.String(), "bar=7")
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"bad level", Config{Level: "loud"}, "invalid log level"},
		{"bad format", Config{Format: "xml"}, "invalid log format"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWriter(tt.cfg, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNewFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "propsim.log")
	l, closer, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info().Msg("run started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run started")

	_, _, err = New(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
