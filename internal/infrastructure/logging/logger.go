package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/substation-core/internal/infrastructure/config"
)

const (
	serviceName = "substation"
	redacted    = "[REDACTED]"
)

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"token":         true,
	"secret":        true,
	"authorization": true,
}

// Logger is the process-wide structured logger. The embedded slog.Logger
// carries service and version on every record.
type Logger struct {
	*slog.Logger

	sink io.Closer
}

// New builds a Logger from cfg. An output of "file" writes to a rolling
// file managed by lumberjack; anything else goes to stdout or stderr.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, sink := openOutput(cfg)
	l := NewWithWriter(w, cfg, version)
	l.sink = sink
	return l
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		roll := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return roll, roll
	default:
		return os.Stdout, nil
	}
}

// NewWithWriter builds a Logger that writes to w. cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       levelOf(cfg.Level),
		ReplaceAttr: scrub,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(h).With("service", serviceName, "version", version),
	}
}

// scrub normalises record timestamps to UTC and masks sensitive values.
func scrub(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.Time(slog.TimeKey, a.Value.Time().UTC())
	}
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// levelOf maps a configured level name onto slog. Unknown names log at info.
func levelOf(name string) slog.Level {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger sharing the parent's output.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), sink: l.sink}
}

// Close flushes and closes the rolling file. It is a no-op for stream output.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Default is the bootstrap logger used until configuration has loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard drops every record.
func Discard() *Logger {
	return NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}
