package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerOption configures logger creation.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	level  slog.Level
	format string
	out    io.Writer
}

// WithFormat selects the handler: "json" or "text" (the default).
func WithFormat(format string) LoggerOption {
	return func(cfg *loggerConfig) {
		cfg.format = strings.ToLower(strings.TrimSpace(format))
	}
}

// WithWriter overrides the output writer; mainly useful for tests.
func WithWriter(w io.Writer) LoggerOption {
	return func(cfg *loggerConfig) {
		if w != nil {
			cfg.out = w
		}
	}
}

// WithLevel overrides the level parsed from the level name.
func WithLevel(level slog.Level) LoggerOption {
	return func(cfg *loggerConfig) {
		cfg.level = level
	}
}

// NewLogger builds the process logger. level accepts any slog level name,
// case-insensitive, plus WARNING; unknown names fall back to INFO.
func NewLogger(level string, opts ...LoggerOption) *slog.Logger {
	cfg := loggerConfig{
		level: parseLevel(level),
		out:   os.Stderr,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}
	if cfg.format == "json" {
		return slog.New(slog.NewJSONHandler(cfg.out, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(cfg.out, handlerOpts))
}

// Component scopes logger to one part of the agent.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}

// NoOpLogger provides a logger that discards all output.
func NoOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func parseLevel(name string) slog.Level {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "WARNING") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
