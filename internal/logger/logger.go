package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"example.com/muxhttp/v2/internal/config"
)

// LogFields carries structured key/value pairs for a log entry.
type LogFields map[string]interface{}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	errorLog  zerolog.Logger
	accessLog *zerolog.Logger // nil when access logging is disabled

	mu    sync.Mutex
	files []*os.File // owned file targets, closed by CloseLogFiles
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	l := &Logger{}
	errorTarget := "stderr"
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != "" {
		errorTarget = cfg.ErrorLog.Target
	}
	errorOut, err := l.openTarget(errorTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	var accessOut io.Writer
	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		accessTarget := "stdout"
		if cfg.AccessLog.Target != "" {
			accessTarget = cfg.AccessLog.Target
		}
		accessOut, err = l.openTarget(accessTarget)
		if err != nil {
			l.CloseLogFiles()
			return nil, fmt.Errorf("failed to open access log: %w", err)
		}
	}

	l.init(errorOut, accessOut, cfg.LogLevel, cfg.Format)
	return l, nil
}

// New builds a Logger over explicit writers. accessOut may be nil to disable
// the access log. format is "json" or "console".
func New(errorOut, accessOut io.Writer, level config.LogLevel, format string) *Logger {
	l := &Logger{}
	l.init(errorOut, accessOut, level, format)
	return l
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	l := &Logger{errorLog: zerolog.Nop()}
	return l
}

func (l *Logger) init(errorOut, accessOut io.Writer, level config.LogLevel, format string) {
	l.errorLog = zerolog.New(formatWriter(errorOut, format)).
		Level(zerologLevel(level)).
		With().Timestamp().Logger()
	if accessOut != nil {
		al := zerolog.New(formatWriter(accessOut, format)).With().Timestamp().Logger()
		l.accessLog = &al
	}
}

func (l *Logger) openTarget(target string) (io.Writer, error) {
	switch target {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if !config.IsFilePath(target) {
		return nil, fmt.Errorf("invalid log target: %s", target)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	l.mu.Lock()
	l.files = append(l.files, f)
	l.mu.Unlock()
	return f, nil
}

func formatWriter(w io.Writer, format string) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return w
}

// zerologLevel maps the configured level; unknown values fall back to INFO.
func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelInfo:
		return zerolog.InfoLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger that adds fields to every error log entry.
// The access log is shared with the parent.
func (l *Logger) With(fields LogFields) *Logger {
	return &Logger{
		errorLog:  l.errorLog.With().Fields(map[string]interface{}(fields)).Logger(),
		accessLog: l.accessLog,
	}
}

func (l *Logger) emit(e *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		e = e.Fields(map[string]interface{}(f))
	}
	e.Msg(msg)
}

// Convenience methods on the main Logger
func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.emit(l.errorLog.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.emit(l.errorLog.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.emit(l.errorLog.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.emit(l.errorLog.Error(), msg, fields)
}

// DebugEnabled reports whether debug entries are written, so callers can
// skip building expensive fields.
func (l *Logger) DebugEnabled() bool {
	return l.errorLog.GetLevel() <= zerolog.DebugLevel
}

// AccessEntry describes one completed request.
type AccessEntry struct {
	Method        string
	URL           string
	Protocol      string
	StreamID      uint32
	Status        int
	Pushed        bool
	BytesSent     int64
	BytesReceived int64
	Duration      time.Duration
	Err           error
}

// Access writes an access log entry. It is a no-op when the access log is
// disabled.
func (l *Logger) Access(e AccessEntry) {
	if l.accessLog == nil {
		return
	}
	ev := l.accessLog.Log().
		Str("method", e.Method).
		Str("url", e.URL).
		Uint32("stream_id", e.StreamID).
		Int("status", e.Status).
		Int64("bytes_sent", e.BytesSent).
		Int64("bytes_received", e.BytesReceived).
		Str("size", humanize.Bytes(uint64(e.BytesReceived))).
		Int64("duration_ms", e.Duration.Milliseconds())
	if e.Protocol != "" {
		ev = ev.Str("protocol", e.Protocol)
	}
	if e.Pushed {
		ev = ev.Bool("pushed", true)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Send()
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
