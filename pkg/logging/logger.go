// Package logging provides structured logging configuration and utilities.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	Level  string    `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool      `yaml:"pretty"`
	Output io.Writer `yaml:"-"`
}

// NewLogger builds a slog logger. Records are JSON; in pretty mode the JSON
// lines are rendered for humans by zerolog's console writer.
func NewLogger(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(out),
		}
		opts.ReplaceAttr = consoleKeys
	}

	return slog.New(slog.NewJSONHandler(out, opts))
}

// ParseLevel maps a zerolog level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return slog.LevelInfo
	}
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return slog.LevelDebug
	case zerolog.WarnLevel:
		return slog.LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleKeys renames slog's top-level keys to the ones zerolog's console
// writer looks for.
func consoleKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		a.Key = zerolog.MessageFieldName
	case slog.TimeKey:
		a.Key = zerolog.TimestampFieldName
	case slog.LevelKey:
		a.Key = zerolog.LevelFieldName
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(zerologLevel(level))
		}
	}
	return a
}

func zerologLevel(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return zerolog.LevelDebugValue
	case level < slog.LevelWarn:
		return zerolog.LevelInfoValue
	case level < slog.LevelError:
		return zerolog.LevelWarnValue
	default:
		return zerolog.LevelErrorValue
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// Validate normalises the level name and rejects unknown ones.
func (c *Config) Validate() error {
	level := strings.ToLower(strings.TrimSpace(c.Level))
	if level == "" {
		level = "info"
	}
	switch level {
	case "trace", "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: trace, debug, info, warn, error", c.Level)
	}
}
