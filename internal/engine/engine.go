// Package engine runs the admission pipeline end to end: stratification
// guard, incremental analysis through the metric cache, admission
// evaluation and, on failure, witness generation.
package engine

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qgate/internal/admission"
	"qgate/internal/errors"
	"qgate/internal/incremental"
	"qgate/internal/metriccache"
	"qgate/internal/modules"
	"qgate/internal/policy"
	"qgate/internal/slogutil"
	"qgate/internal/stratify"
	"qgate/internal/telemetry"
)

// Options wires the engine's collaborators.
type Options struct {
	Root     string // target work tree; used for self-target detection and MODULES.toml
	Repo     incremental.Repository
	Provider incremental.MetricProvider
	Cache    *metriccache.Cache // nil = private in-memory cache
	Analysis incremental.Config
	MaxLevel int // highest stratification level; 0 takes each request's policy
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	// SelfModules overrides the module paths treated as the engine's own source.
	SelfModules []string
}

// Engine evaluates base/head pairs. One Engine carries one stratification
// ladder, so level 2 is reachable only after a level-1 run on it completed.
type Engine struct {
	opts   Options
	ladder *stratify.Ladder
	logger *slog.Logger
	now    func() time.Time
}

// Request is one evaluation.
type Request struct {
	BaseRev string
	HeadRev string
	Policy  *policy.Policy

	// Level is the stratification level requested. 0 on the engine's own
	// source tree is promoted to 1.
	Level int
	// AsOf judges exemption expiry; zero means now.
	AsOf time.Time
}

// Analysis summarizes how the states were built.
type Analysis struct {
	Mode        incremental.Mode  `json:"mode"`
	ChangeRatio float64           `json:"changeRatio"`
	Changed     int               `json:"changed"`
	Stats       incremental.Stats `json:"stats"`
}

// Report is the result of one evaluation. RunID and DurationMs vary between
// runs; everything that decides admission is in Decision.
type Report struct {
	RunID      string              `json:"runId"`
	Level      int                 `json:"level"`
	BaseRev    string              `json:"baseRev"`
	HeadRev    string              `json:"headRev"`
	AsOf       time.Time           `json:"asOf"`
	Decision   *admission.Decision `json:"decision"`
	Analysis   Analysis            `json:"analysis"`
	Meta       *MetaResult         `json:"meta,omitempty"`
	DurationMs int64               `json:"durationMs"`
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	if opts.MaxLevel < 0 {
		opts.MaxLevel = 0
	}
	if opts.Cache == nil {
		opts.Cache = metriccache.New(metriccache.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	return &Engine{
		opts:   opts,
		ladder: stratify.NewLadder(stratify.NewGuard(cmp.Or(opts.MaxLevel, policy.Default().MaxStratificationLevel))),
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Ladder exposes the engine's stratification state.
func (e *Engine) Ladder() *stratify.Ladder {
	return e.ladder
}

// Evaluate runs the pipeline for req. Self-targeted runs pass the
// stratification guard before any analysis starts.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Report, error) {
	if req.Policy == nil {
		return nil, errors.New(errors.ConfigurationError, "a policy is required", nil)
	}
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}

	guard, err := e.guard(req.Policy)
	if err != nil {
		return nil, err
	}
	level, err := e.level(guard, req.Level)
	if err != nil {
		return nil, err
	}
	if level > 0 {
		if err := e.ladder.EnterUnder(guard, level); err != nil {
			e.record(nil, err)
			return nil, err
		}
	}

	rep, err := e.run(ctx, req, level, e.opts.Cache)
	if level > 0 {
		if err != nil {
			e.ladder.Abandon(level)
		} else {
			e.ladder.Complete(level)
		}
	}
	if err != nil {
		e.record(nil, err)
		return nil, err
	}
	e.record(rep.Decision, nil)
	return rep, nil
}

// guard bounds the ladder by the policy's maxStratificationLevel. An engine
// built with an explicit MaxLevel refuses policies that disagree with it.
func (e *Engine) guard(p *policy.Policy) (stratify.Guard, error) {
	if e.opts.MaxLevel > 0 && e.opts.MaxLevel != p.MaxStratificationLevel {
		return stratify.Guard{}, errors.Newf(errors.ConfigurationError,
			"policy maxStratificationLevel %d does not match the engine's %d", p.MaxStratificationLevel, e.opts.MaxLevel)
	}
	return stratify.NewGuard(p.MaxStratificationLevel), nil
}

// level resolves the effective stratification level of a request.
func (e *Engine) level(guard stratify.Guard, requested int) (int, error) {
	if requested < 0 {
		return 0, guard.CheckTransition(e.ladder.Current(), requested)
	}
	if requested > 0 || e.opts.Root == "" {
		return requested, nil
	}
	self, err := stratify.IsSelfTarget(e.opts.Root, e.opts.SelfModules...)
	if err != nil {
		return 0, errors.New(errors.ConfigurationError, "cannot read target go.mod", err)
	}
	if self {
		e.logger.Info("target is the engine's own source, analysing at level 1", "root", e.opts.Root)
		return 1, nil
	}
	return 0, nil
}

func (e *Engine) run(ctx context.Context, req Request, level int, cache *metriccache.Cache) (*Report, error) {
	start := e.now()
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = start
	}
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "level", level)

	partitioner, err := modules.NewPartitioner(req.Policy.Partition, e.opts.Root)
	if err != nil {
		return nil, errors.New(errors.ConfigurationError, "cannot load module declarations", err)
	}

	cfg := e.opts.Analysis
	cfg.ProviderRetries = req.Policy.ProviderRetries
	analyzer := incremental.NewAnalyzer(e.opts.Repo, e.opts.Provider, cache, cfg, logger, e.opts.Metrics)
	res, err := analyzer.Analyze(ctx, req.BaseRev, req.HeadRev)
	if err != nil {
		return nil, err
	}

	if req.Policy.Partition.Kind == policy.PartitionManifest {
		files, err := e.opts.Repo.Snapshot(ctx, req.HeadRev)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.New(errors.Cancelled, "analysis cancelled", ctx.Err())
			}
			return nil, errors.New(errors.ProviderError, "cannot list manifests at "+req.HeadRev, err)
		}
		partitioner.LocateManifests(files)
	}

	decision, err := admission.NewEvaluator(partitioner, logger).Evaluate(ctx, res.Base, res.Head, req.Policy, asOf)
	if err != nil {
		return nil, err
	}

	return &Report{
		RunID:    runID,
		Level:    level,
		BaseRev:  req.BaseRev,
		HeadRev:  req.HeadRev,
		AsOf:     asOf.UTC(),
		Decision: decision,
		Analysis: Analysis{
			Mode:        res.Mode,
			ChangeRatio: res.ChangeRatio,
			Changed:     len(res.Changes),
			Stats:       res.Stats,
		},
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) record(d *admission.Decision, err error) {
	passed := d != nil && d.Passed
	outcome := errors.Classify(passed, err)
	if d == nil {
		e.opts.Metrics.Decision(string(outcome), false, 0, 0)
		return
	}
	e.opts.Metrics.Decision(string(outcome), true, d.DeltaQ, d.PCQHead)
}
