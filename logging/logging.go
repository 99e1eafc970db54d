// Package logging wires log/slog for the daemon.
//
// Each package keeps its own component logger:
//
//	var logger = logging.Logger("store")
//
// Component loggers resolve slog.Default() on every call, so Setup may run
// after package initialisation.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Setup installs the process-wide handler. format is "text" or "json".
func Setup(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}

// ComponentLogger logs through the current default logger with a fixed
// component attribute.
type ComponentLogger struct {
	component string
}

// Logger returns the logger for a component.
func Logger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

func (l *ComponentLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

func (l *ComponentLogger) Debug(msg string, args ...any) { l.base().Debug(msg, args...) }
func (l *ComponentLogger) Info(msg string, args ...any)  { l.base().Info(msg, args...) }
func (l *ComponentLogger) Warn(msg string, args ...any)  { l.base().Warn(msg, args...) }
func (l *ComponentLogger) Error(msg string, args ...any) { l.base().Error(msg, args...) }

// With returns a slog.Logger carrying the component plus args.
func (l *ComponentLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}
