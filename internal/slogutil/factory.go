package slogutil

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"

	"qgate/internal/config"
)

// LoggerFactory builds the process logger. The threshold comes from the CLI
// flags when given, then logging.level, then info.
type LoggerFactory struct {
	root  string
	cfg   config.LoggingConfig
	flags Flags
	files []io.Closer
}

// NewLoggerFactory creates a factory for the repository at root. A nil cfg
// uses the defaults.
func NewLoggerFactory(root string, cfg *config.Config, flags Flags) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{root: root, cfg: cfg.Logging, flags: flags}
}

// Logger returns a logger on console, duplicated into logging.file when one
// is configured. File problems never block console logging; they are
// reported once through the returned logger instead.
func (f *LoggerFactory) Logger(console io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: f.Level()}
	handler := slog.Handler(NewLineHandler(console, opts))

	path := f.LogFilePath()
	if path == "" {
		return slog.New(handler)
	}
	rf, err := openRotating(path, f.cfg.MaxSize, f.cfg.MaxBackups)
	if err != nil {
		logger := slog.New(handler)
		logger.Warn("file logging disabled", "path", path, "error", err)
		return logger
	}
	f.files = append(f.files, rf)
	return slog.New(Tee(handler, NewLineHandler(rf, opts)))
}

// Level is the threshold loggers from this factory use. An unparsable
// logging.level falls back to info.
func (f *LoggerFactory) Level() slog.Level {
	if l, ok := f.flags.Level(); ok {
		return l
	}
	if f.cfg.Level == "" {
		return slog.LevelInfo
	}
	l, _ := ParseLevel(f.cfg.Level)
	return l
}

// LogFilePath resolves logging.file against the repository root; "" when
// file logging is off.
func (f *LoggerFactory) LogFilePath() string {
	p := f.cfg.File
	if p == "" || f.root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.root, p)
}

// Close releases every log file opened by Logger.
func (f *LoggerFactory) Close() error {
	var errs []error
	for _, c := range f.files {
		errs = append(errs, c.Close())
	}
	f.files = nil
	return errors.Join(errs...)
}
