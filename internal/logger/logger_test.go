package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/muxhttp/v2/internal/config"
)

// decodeLines parses each non-empty line of buf as a JSON object.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		entries = append(entries, m)
	}
	return entries
}

func TestNewLogger_NilConfig(t *testing.T) {
	_, err := NewLogger(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging configuration cannot be nil")
}

func TestLogger_LevelFiltering(t *testing.T) {
	testCases := []struct {
		level    config.LogLevel
		expected []string
	}{
		{config.LogLevelDebug, []string{"debug", "info", "warn", "error"}},
		{config.LogLevelInfo, []string{"info", "warn", "error"}},
		{config.LogLevelWarning, []string{"warn", "error"}},
		{config.LogLevelError, []string{"error"}},
		{"", []string{"info", "warn", "error"}},
	}
	for _, tc := range testCases {
		t.Run(string(tc.level), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, nil, tc.level, "json")
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			var levels []string
			for _, e := range decodeLines(t, &buf) {
				levels = append(levels, e["level"].(string))
			}
			assert.Equal(t, tc.expected, levels)
		})
	}
}

func TestLogger_FieldsAndWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil, config.LogLevelDebug, "json")
	child := l.With(LogFields{"stream_id": 5})
	child.Info("headers sent", LogFields{"frame_len": 42}, LogFields{"fin": true})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "headers sent", e["message"])
	assert.EqualValues(t, 5, e["stream_id"])
	assert.EqualValues(t, 42, e["frame_len"])
	assert.Equal(t, true, e["fin"])
	assert.Contains(t, e, "time")
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil, config.LogLevelInfo, "console")
	l.Warn("stale completion discarded", LogFields{"generation": 3})

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "stale completion discarded")
	assert.Contains(t, out, "generation=3")
}

func TestLogger_Access(t *testing.T) {
	var errBuf, accessBuf bytes.Buffer
	l := New(&errBuf, &accessBuf, config.LogLevelError, "json")
	l.Access(AccessEntry{
		Method:        "GET",
		URL:           "https://example.com/index.html",
		Protocol:      "http/2+quic/39",
		StreamID:      5,
		Status:        200,
		Pushed:        true,
		BytesSent:     120,
		BytesReceived: 2048,
		Duration:      1500 * time.Millisecond,
		Err:           errors.New("boom"),
	})

	entries := decodeLines(t, &accessBuf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "GET", e["method"])
	assert.Equal(t, "https://example.com/index.html", e["url"])
	assert.Equal(t, "http/2+quic/39", e["protocol"])
	assert.EqualValues(t, 5, e["stream_id"])
	assert.EqualValues(t, 200, e["status"])
	assert.Equal(t, true, e["pushed"])
	assert.EqualValues(t, 120, e["bytes_sent"])
	assert.EqualValues(t, 2048, e["bytes_received"])
	assert.Equal(t, "2.0 kB", e["size"])
	assert.EqualValues(t, 1500, e["duration_ms"])
	assert.Equal(t, "boom", e["error"])
	assert.Empty(t, errBuf.String(), "access entries must not reach the error log")
}

func TestLogger_AccessDisabled(t *testing.T) {
	var errBuf bytes.Buffer
	l := New(&errBuf, nil, config.LogLevelDebug, "json")
	l.Access(AccessEntry{Method: "GET", Status: 200})
	assert.Empty(t, errBuf.String())
}

func TestNewDiscardLogger(t *testing.T) {
	l := NewDiscardLogger()
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())
	// None of these may panic.
	l.Debug("x")
	l.Info("x", LogFields{"a": 1})
	l.Warn("x")
	l.Error("x")
	l.Access(AccessEntry{})
	l.With(LogFields{"k": "v"}).Info("y")
	l.CloseLogFiles()
}

func TestNewLogger_FileTargets(t *testing.T) {
	dir := t.TempDir()
	errPath := filepath.Join(dir, "error.log")
	accessPath := filepath.Join(dir, "access.log")
	enabled := true
	cfg := &config.LoggingConfig{
		LogLevel:  config.LogLevelInfo,
		Format:    "json",
		ErrorLog:  &config.ErrorLogConfig{Target: errPath},
		AccessLog: &config.AccessLogConfig{Enabled: &enabled, Target: accessPath},
	}

	l, err := NewLogger(cfg)
	require.NoError(t, err)
	l.Info("started", LogFields{"peer": "127.0.0.1:443"})
	l.Access(AccessEntry{Method: "POST", URL: "https://example.com/upload", Status: 201})
	l.CloseLogFiles()

	errData, err := os.ReadFile(errPath)
	require.NoError(t, err)
	assert.Contains(t, string(errData), `"message":"started"`)
	assert.Contains(t, string(errData), `"peer":"127.0.0.1:443"`)

	accessData, err := os.ReadFile(accessPath)
	require.NoError(t, err)
	assert.Contains(t, string(accessData), `"method":"POST"`)
	assert.Contains(t, string(accessData), `"status":201`)
}

func TestNewLogger_AccessLogDisabledByConfig(t *testing.T) {
	dir := t.TempDir()
	accessPath := filepath.Join(dir, "access.log")
	disabled := false
	cfg := &config.LoggingConfig{
		ErrorLog:  &config.ErrorLogConfig{Target: filepath.Join(dir, "error.log")},
		AccessLog: &config.AccessLogConfig{Enabled: &disabled, Target: accessPath},
	}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	defer l.CloseLogFiles()

	l.Access(AccessEntry{Method: "GET"})
	_, err = os.Stat(accessPath)
	assert.True(t, os.IsNotExist(err), "disabled access log must not create its file")
}

func TestNewLogger_UnopenableFile(t *testing.T) {
	cfg := &config.LoggingConfig{
		ErrorLog: &config.ErrorLogConfig{Target: filepath.Join(t.TempDir(), "missing", "dir", "error.log")},
	}
	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open error log")
}
