// Package logging builds the slog loggers used across hkg.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Off disables logging entirely.
const Off = "off"

// ParseLevel maps a level name to a charmbracelet/log level. Off reports
// ok=false with no error.
func ParseLevel(raw string) (level log.Level, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return log.DebugLevel, true, nil
	case "", "info":
		return log.InfoLevel, true, nil
	case "warn", "warning":
		return log.WarnLevel, true, nil
	case "error":
		return log.ErrorLevel, true, nil
	case Off, "none":
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("unknown log level %q (want debug, info, warn, error or off)", raw)
}

// New returns a logger writing human-readable lines to w at the given level.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl, ok, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Discard(), nil
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix: "hkg",
		Level:  lvl,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
