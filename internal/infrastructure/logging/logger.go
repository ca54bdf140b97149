package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

const serviceName = "p2plant-ioc"

// Logger is the IOC's structured logger. Every record carries the service
// name and build version.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml, writing to
// stdout unless output is "stderr".
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
// Format "text" selects logfmt-style output, anything else JSON. At debug
// level records also carry their source location.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("version", version),
	)}
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LevelForVerbosity maps a repeated -v flag count onto a level name.
// Zero keeps the configured level.
func LevelForVerbosity(configured string, verbosity int) string {
	switch {
	case verbosity <= 0:
		return configured
	case verbosity == 1:
		return "info"
	default:
		return "debug"
	}
}

// With returns a child logger carrying extra attributes.
//
//	log.With("component", "plant").Info("connected")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the text logger used until configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
