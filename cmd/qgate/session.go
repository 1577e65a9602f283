package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"qgate/internal/config"
	"qgate/internal/metriccache"
	"qgate/internal/slogutil"
	"qgate/internal/storage"
	"qgate/internal/telemetry"
)

// session holds what every command needs for one repository.
type session struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	factory *slogutil.LoggerFactory
	metrics *telemetry.Metrics
	store   *storage.MetricStore
}

// openSession loads the configuration of root and builds the logger. Log
// records go to stderr so stdout carries only the report.
func openSession(root string, stderr io.Writer) (*session, error) {
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	factory := slogutil.NewLoggerFactory(root, cfg, slogutil.Flags{Verbose: verbosity, Quiet: quiet})
	return &session{
		root:    root,
		cfg:     cfg,
		logger:  factory.Logger(stderr),
		factory: factory,
		metrics: telemetry.New(),
	}, nil
}

// openStore opens the persistent metric store. Failure only costs
// persistence, so it is logged and nil is returned.
func (s *session) openStore() *storage.MetricStore {
	if s.store != nil || !s.cfg.Cache.Persist {
		return s.store
	}
	store, err := storage.OpenMetricStore(s.cfg.CacheDir(s.root), s.logger)
	if err != nil {
		s.logger.Warn("persistent cache unavailable, continuing in memory", "error", err.Error())
		return nil
	}
	s.store = store
	return store
}

// cache builds the two-tier metric cache for this session.
func (s *session) cache() *metriccache.Cache {
	opts := metriccache.Options{
		Capacity: s.cfg.Cache.Capacity,
		Logger:   s.logger,
		Metrics:  s.metrics,
	}
	if store := s.openStore(); store != nil {
		opts.Store = store
	}
	return metriccache.New(opts)
}

// writeMetrics exports the run's metrics when a textfile path is configured.
func (s *session) writeMetrics() {
	path := s.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	if err := s.metrics.WriteTextfile(path); err != nil {
		s.logger.Warn("failed to write metrics textfile", "path", path, "error", err.Error())
	}
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close metric store", "error", err.Error())
		}
	}
	_ = s.factory.Close()
}

// getRepoRoot returns the repository root directory.
func getRepoRoot() (string, error) {
	if repoFlag != "" {
		return filepath.Abs(repoFlag)
	}
	return os.Getwd()
}

// mustGetRepoRoot returns the repository root or exits on error.
func mustGetRepoRoot() string {
	repoRoot, err := getRepoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	return repoRoot
}

// newContext returns a context cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
