// Package slogutil builds the loggers used by qgate: a line-oriented handler
// for the console, optional size-rotated file output, and the level rules
// tying config and CLI flags together.
package slogutil

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelSilent sits above every level the engine logs at.
const LevelSilent = slog.Level(100)

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel reads a configured level name. Besides slog's own syntax
// ("debug", "INFO", "warn+2") it accepts "warning" and "silent".
func ParseLevel(s string) (slog.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "warning":
		return slog.LevelWarn, nil
	case "silent", "off":
		return LevelSilent, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Flags are the logging switches given on the command line. The zero value
// defers to configuration.
type Flags struct {
	Verbose int  // each -v lowers the threshold one step below warn
	Quiet   bool // wins over Verbose
}

// Level maps the flags to a threshold, or reports false when none was given.
func (fl Flags) Level() (slog.Level, bool) {
	switch {
	case fl.Quiet:
		return LevelSilent, true
	case fl.Verbose <= 0:
		return 0, false
	case fl.Verbose == 1:
		return slog.LevelInfo, true
	}
	return slog.LevelDebug, true
}
