// Package signals is the reference metric provider for Go repositories.
//
// Complexity and defect-marker density are derived from file content alone
// and go through the metric cache. Churn (commit history) and coverage gap
// (a coverage profile keyed by path) are overlaid per revision.
package signals

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"qgate/internal/complexity"
	"qgate/internal/config"
	"qgate/internal/incremental"
	"qgate/internal/risk"
)

// History is the part of the VCS provider churn needs.
type History interface {
	ChangeCounts(ctx context.Context, rev string, window time.Duration) (map[string]int, error)
}

// Options are the provider knobs.
type Options struct {
	ComplexityCap    int           // max cyclomatic complexity that saturates the dimension
	ChurnCap         int           // commits within ChurnWindow that saturate churn
	ChurnWindow      time.Duration // 0 = whole history
	Markers          []string
	MarkerDensityCap float64 // markers per 100 lines that saturate the dimension
	Coverage         *CoverageProfile
}

// OptionsFromConfig maps the signals config section onto Options. The
// coverage profile is loaded separately.
func OptionsFromConfig(cfg config.SignalsConfig) Options {
	return Options{
		ComplexityCap:    cfg.ComplexityCap,
		ChurnCap:         cfg.ChurnCap,
		ChurnWindow:      time.Duration(cfg.ChurnWindowDays) * 24 * time.Hour,
		Markers:          cfg.Markers,
		MarkerDensityCap: cfg.MarkerDensityCap,
	}
}

// Provider implements incremental.MetricProvider and incremental.RevisionProvider.
type Provider struct {
	opts       Options
	history    History
	complexity *complexity.Analyzer // nil without cgo
	version    string
}

var (
	_ incremental.MetricProvider   = (*Provider)(nil)
	_ incremental.RevisionProvider = (*Provider)(nil)
)

// New creates a provider. A nil history scores churn 0 everywhere.
func New(opts Options, history History) *Provider {
	p := &Provider{opts: opts, history: history, complexity: complexity.NewAnalyzer()}
	p.version = p.computeVersion()
	return p
}

// computeVersion fingerprints every knob that changes content-derived output.
func (p *Provider) computeVersion() string {
	knobs, _ := json.Marshal(struct {
		ComplexityCap    int
		Markers          []string
		MarkerDensityCap float64
		TreeSitter       bool
	}{p.opts.ComplexityCap, p.opts.Markers, p.opts.MarkerDensityCap, complexity.IsAvailable()})
	sum := blake2b.Sum256(knobs)
	return "signals-v1-" + hex.EncodeToString(sum[:6])
}

// MetricSetVersion identifies the extraction rules.
func (p *Provider) MetricSetVersion() string {
	return p.version
}

// Accepts selects non-test Go sources outside vendor and testdata trees.
func (p *Provider) Accepts(file string) bool {
	if path.Ext(file) != ".go" || strings.HasSuffix(file, "_test.go") {
		return false
	}
	for _, seg := range strings.Split(path.Dir(file), "/") {
		if seg == "vendor" || seg == "testdata" {
			return false
		}
	}
	return true
}

// Extract computes the content-derived dimensions of one file.
func (p *Provider) Extract(ctx context.Context, in incremental.Input) (risk.Vector, error) {
	var v risk.Vector
	if p.complexity != nil {
		fc, err := p.complexity.AnalyzeSource(ctx, in.Path, in.Content)
		if err != nil {
			return risk.Vector{}, err
		}
		v.Complexity = risk.Normalize(float64(fc.MaxCyclomatic()), float64(p.opts.ComplexityCap))
	}
	v.DefectMarkers = risk.Normalize(MarkerDensity(in.Content, p.opts.Markers), p.opts.MarkerDensityCap)
	return v, nil
}

// RevisionDimensions lists the dimensions overlaid per revision.
func (p *Provider) RevisionDimensions() []risk.Dimension {
	return []risk.Dimension{risk.Churn, risk.CoverageGap}
}

// RevisionSignals computes churn at rev and the coverage gap per path.
func (p *Provider) RevisionSignals(ctx context.Context, rev string, paths []string) (map[string]risk.Vector, error) {
	var counts map[string]int
	if p.history != nil {
		var err error
		if counts, err = p.history.ChangeCounts(ctx, rev, p.opts.ChurnWindow); err != nil {
			return nil, err
		}
	}

	out := make(map[string]risk.Vector, len(paths))
	for _, file := range paths {
		out[file] = risk.Vector{
			Churn:       risk.Normalize(float64(counts[file]), float64(p.opts.ChurnCap)),
			CoverageGap: p.opts.Coverage.Gap(file),
		}
	}
	return out, nil
}
