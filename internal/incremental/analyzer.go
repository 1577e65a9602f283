package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"qgate/internal/errors"
	"qgate/internal/metriccache"
	"qgate/internal/quality"
	"qgate/internal/risk"
	"qgate/internal/slogutil"
	"qgate/internal/telemetry"
	"qgate/internal/version"
)

// Result is the outcome of one Analyze call.
type Result struct {
	Base        *quality.State
	Head        *quality.State
	Changes     []ChangedFile
	Mode        Mode
	ChangeRatio float64
	Stats       Stats
}

// Analyzer materializes quality states through the metric cache.
type Analyzer struct {
	repo     Repository
	provider MetricProvider
	cache    *metriccache.Cache
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewAnalyzer creates an analyzer. A nil cache means an unbounded-lifetime
// in-memory cache private to this analyzer.
func NewAnalyzer(repo Repository, provider MetricProvider, cache *metriccache.Cache, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Analyzer {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if cache == nil {
		cache = metriccache.New(metriccache.Options{Logger: logger, Metrics: metrics})
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.IncrementalThreshold <= 0 {
		cfg.IncrementalThreshold = DefaultConfig().IncrementalThreshold
	}
	if cfg.ProviderRetries < 0 {
		cfg.ProviderRetries = 0
	}
	return &Analyzer{
		repo:     repo,
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

type counters struct {
	reused, memory, persistent, computed, degraded, retries atomic.Int64
}

// Analyze builds the base and head states. Cancellation discards all work and
// returns a CANCELLED error.
func (a *Analyzer) Analyze(ctx context.Context, baseRev, headRev string) (*Result, error) {
	start := time.Now()
	var c counters

	base, err := a.buildFull(ctx, baseRev, &c)
	if err != nil {
		return nil, err
	}

	res := &Result{Base: base, Mode: ModeFull}
	changes, err := a.repo.Changes(ctx, baseRev, headRev)
	switch {
	case ctx.Err() != nil:
		return nil, cancelled(ctx)
	case err != nil:
		a.logger.Info("change detection failed, falling back to full scan",
			"base", baseRev, "head", headRev, "error", err.Error())
	default:
		res.Changes = relevantChanges(DeduplicateChanges(changes), a.provider.Accepts)
		if base.Len() > 0 {
			res.ChangeRatio = float64(len(res.Changes)) / float64(base.Len())
			if res.ChangeRatio < a.cfg.IncrementalThreshold {
				res.Mode = ModeIncremental
			}
		}
	}

	if res.Mode == ModeIncremental {
		res.Head, err = a.buildIncremental(ctx, base, headRev, res.Changes, &c)
	} else {
		res.Head, err = a.buildFull(ctx, headRev, &c)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	res.Stats = Stats{
		BaseFiles:      base.Len(),
		HeadFiles:      res.Head.Len(),
		Reused:         int(c.reused.Load()),
		MemoryHits:     int(c.memory.Load()),
		PersistentHits: int(c.persistent.Load()),
		Computed:       int(c.computed.Load()),
		Degraded:       int(c.degraded.Load()),
		Retries:        int(c.retries.Load()),
		DurationMs:     elapsed.Milliseconds(),
	}
	a.metrics.AnalysisDone(string(res.Mode), elapsed)
	a.metrics.FilesAnalyzed("reused", res.Stats.Reused)
	a.metrics.FilesAnalyzed("cached", res.Stats.MemoryHits+res.Stats.PersistentHits)
	a.metrics.FilesAnalyzed("computed", res.Stats.Computed)
	a.metrics.FilesAnalyzed("degraded", res.Stats.Degraded)

	a.logger.Info("analysis complete",
		"mode", res.Mode,
		"base_files", res.Stats.BaseFiles,
		"head_files", res.Stats.HeadFiles,
		"changed", len(res.Changes),
		"reused", res.Stats.Reused,
		"computed", res.Stats.Computed,
		"degraded", res.Stats.Degraded,
		"duration_ms", res.Stats.DurationMs,
	)
	return res, nil
}

// Build materializes the full state of one revision.
func (a *Analyzer) Build(ctx context.Context, rev string) (*quality.State, error) {
	var c counters
	return a.buildFull(ctx, rev, &c)
}

func (a *Analyzer) buildFull(ctx context.Context, rev string, c *counters) (*quality.State, error) {
	all, err := a.repo.Snapshot(ctx, rev)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, errors.New(errors.ProviderError, fmt.Sprintf("cannot list files at %s", rev), err)
	}
	var paths []string
	for _, p := range all {
		if a.provider.Accepts(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	files, err := a.scan(ctx, rev, paths, c)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, rev, files, c)
}

func (a *Analyzer) buildIncremental(ctx context.Context, base *quality.State, rev string, changes []ChangedFile, c *counters) (*quality.State, error) {
	headPaths, recompute := applyChanges(base.SortedPaths(), changes, a.provider.Accepts)

	var files []quality.FileMetrics
	var todo []string
	for _, p := range headPaths {
		if fm, ok := base.Get(p); ok && !recompute[p] && !fm.Degraded {
			files = append(files, fm)
			c.reused.Add(1)
			continue
		}
		todo = append(todo, p)
	}

	computed, err := a.scan(ctx, rev, todo, c)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, rev, append(files, computed...), c)
}

// scan analyzes paths on the bounded worker pool.
func (a *Analyzer) scan(ctx context.Context, rev string, paths []string, c *counters) ([]quality.FileMetrics, error) {
	out := make([]quality.FileMetrics, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for i, p := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			fm, err := a.analyzeFile(gctx, rev, p, c)
			if err != nil {
				return err
			}
			out[i] = fm
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) analyzeFile(ctx context.Context, rev, path string, c *counters) (quality.FileMetrics, error) {
	var content []byte
	err := a.withRetry(ctx, path, c, func(ctx context.Context) error {
		var err error
		content, err = a.repo.ReadFile(ctx, rev, path)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return quality.FileMetrics{}, cancelled(ctx)
		}
		return a.degrade(path, "", "read failed: "+err.Error(), c), nil
	}

	hash := metriccache.HashContent(content)
	key := metriccache.Key{
		ContentHash:      hash,
		MetricSetVersion: a.provider.MetricSetVersion(),
		EngineVersion:    version.EngineVersion(),
	}
	v, src, err := a.cache.GetOrCompute(ctx, key, func(ctx context.Context) (risk.Vector, error) {
		var v risk.Vector
		err := a.withRetry(ctx, path, c, func(ctx context.Context) error {
			var err error
			v, err = a.provider.Extract(ctx, Input{Path: path, Revision: rev, Content: content, ContentHash: hash})
			return err
		})
		return v, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return quality.FileMetrics{}, cancelled(ctx)
		}
		return a.degrade(path, hash, err.Error(), c), nil
	}

	switch src {
	case metriccache.SourceMemory:
		c.memory.Add(1)
	case metriccache.SourcePersistent:
		c.persistent.Add(1)
	default:
		c.computed.Add(1)
	}
	return quality.FileMetrics{Path: path, ContentHash: hash, Risk: v}, nil
}

// withRetry runs op once plus up to ProviderRetries retries, each attempt
// under its own deadline.
func (a *Analyzer) withRetry(ctx context.Context, path string, c *counters, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= a.cfg.ProviderRetries; attempt++ {
		if attempt > 0 {
			c.retries.Add(1)
			a.metrics.ProviderRetried()
			a.logger.Debug("retrying provider call", "path", path, "attempt", attempt, "error", err.Error())
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if a.cfg.ProviderTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, a.cfg.ProviderTimeout)
		}
		err = op(actx)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (a *Analyzer) degrade(path, hash, reason string, c *counters) quality.FileMetrics {
	c.degraded.Add(1)
	a.logger.Warn("file degraded, excluded from scoring", "path", path, "reason", reason)
	return quality.FileMetrics{Path: path, ContentHash: hash, Degraded: true, DegradedReason: reason}
}

// finish overlays per-revision signals and assembles the state.
func (a *Analyzer) finish(ctx context.Context, rev string, files []quality.FileMetrics, c *counters) (*quality.State, error) {
	rp, ok := a.provider.(RevisionProvider)
	if !ok {
		return quality.NewState(rev, files), nil
	}

	var paths []string
	for _, fm := range files {
		if !fm.Degraded {
			paths = append(paths, fm.Path)
		}
	}

	var signals map[string]risk.Vector
	err := a.withRetry(ctx, rev, c, func(ctx context.Context) error {
		var err error
		signals, err = rp.RevisionSignals(ctx, rev, paths)
		return err
	})
	if err != nil && ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	dims := rp.RevisionDimensions()
	for i, fm := range files {
		if fm.Degraded {
			continue
		}
		if err != nil {
			files[i] = a.degrade(fm.Path, fm.ContentHash, "revision signals unavailable: "+err.Error(), c)
			continue
		}
		v := fm.Risk
		for _, d := range dims {
			v = v.With(d, signals[fm.Path].At(d))
		}
		if verr := v.Validate(); verr != nil {
			files[i] = a.degrade(fm.Path, fm.ContentHash, "invalid revision signals: "+verr.Error(), c)
			continue
		}
		files[i].Risk = v
	}
	return quality.NewState(rev, files), nil
}

func cancelled(ctx context.Context) error {
	return errors.New(errors.Cancelled, "analysis cancelled", ctx.Err())
}
