package admission

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"qgate/internal/errors"
	"qgate/internal/policy"
	"qgate/internal/quality"
	"qgate/internal/risk"
	"qgate/internal/witness"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func complexityPolicy(t *testing.T, mutate func(s *policy.Spec)) *policy.Policy {
	t.Helper()
	spec := policy.DefaultSpec()
	spec.Weights = map[string]float64{"complexity": 100}
	spec.Baseline = map[string]float64{"complexity": 0.1}
	spec.Penalty = policy.PenaltySpec{Kind: "none"}
	spec.HardConstraints = nil
	spec.Exemptions = nil
	spec.Tau = 0.8
	spec.Epsilon = 0.3
	spec.WitnessSize = 3
	spec.Partition = policy.PartitionSpec{Kind: "directory", Depth: 1}
	if mutate != nil {
		mutate(&spec)
	}
	p, err := policy.New(spec)
	if err != nil {
		t.Fatalf("policy.New() error = %v", err)
	}
	return p
}

func state(rev string, complexity map[string]float64) *quality.State {
	var files []quality.FileMetrics
	for path, c := range complexity {
		files = append(files, quality.FileMetrics{Path: path, ContentHash: rev + path, Risk: risk.Vector{Complexity: c}})
	}
	return quality.NewState(rev, files)
}

func evaluate(t *testing.T, base, head *quality.State, p *policy.Policy) *Decision {
	t.Helper()
	d, err := NewEvaluator(nil, nil).Evaluate(context.Background(), base, head, p, asOf)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return d
}

func TestEvaluate_PassesWhenAllCriteriaHold(t *testing.T) {
	p := complexityPolicy(t, nil)
	base := state("base", map[string]float64{"a/1.go": 0.3, "b/1.go": 0.3})
	head := state("head", map[string]float64{"a/1.go": 0.1, "b/1.go": 0.15})

	d := evaluate(t, base, head, p)
	if !d.Passed {
		t.Fatalf("Passed = false, violations = %+v", d.Violations)
	}
	if d.DeltaQ != 17.5 {
		t.Errorf("DeltaQ = %v, want 17.5", d.DeltaQ)
	}
	if len(d.Witness) != 0 || len(d.Violations) != 0 {
		t.Errorf("passing decision carries witness %v / violations %v", d.Witness, d.Violations)
	}
	if d.PolicyDigest != p.Digest() {
		t.Errorf("PolicyDigest = %q, want %q", d.PolicyDigest, p.Digest())
	}
}

// Global score improves while one module sinks below tau.
func TestEvaluate_RejectsOnModuleBottleneck(t *testing.T) {
	p := complexityPolicy(t, nil)
	paths := []string{"a/1.go", "b/1.go", "b/2.go", "c/1.go"}
	baseRisk := make(map[string]float64)
	for _, path := range paths {
		baseRisk[path] = 0.248
	}
	base := state("base", baseRisk)
	head := state("head", map[string]float64{
		"a/1.go": 0.18,
		"b/1.go": 0.30,
		"b/2.go": 0.12,
		"c/1.go": 0.12,
	})

	d := evaluate(t, base, head, p)
	if d.Passed {
		t.Fatal("Passed = true, want rejection on PCQ")
	}
	if d.QBase != 75.2 || d.QHead != 82 || d.DeltaQ != 6.8 {
		t.Errorf("QBase/QHead/DeltaQ = %v/%v/%v, want 75.2/82/6.8", d.QBase, d.QHead, d.DeltaQ)
	}
	if d.PCQHead != 0.79 || d.Bottleneck != "b" {
		t.Errorf("PCQHead = %v at %q, want 0.79 at b", d.PCQHead, d.Bottleneck)
	}
	if len(d.Violations) != 1 || d.Violations[0].Kind != ViolationPCQ {
		t.Fatalf("Violations = %+v, want a single pcq violation", d.Violations)
	}
	if len(d.Witness) == 0 || len(d.Witness) > 3 {
		t.Fatalf("len(Witness) = %d, want 1..3", len(d.Witness))
	}
	for _, e := range d.Witness {
		if e.Module != "b" {
			t.Errorf("witness %s in module %q, want b", e.Target, e.Module)
		}
	}
	if d.Witness[0].Target != "b/1.go" {
		t.Errorf("Witness[0].Target = %q, want b/1.go", d.Witness[0].Target)
	}
}

// A hard constraint vetoes regardless of how much the score improves.
func TestEvaluate_HardConstraintVeto(t *testing.T) {
	p := complexityPolicy(t, func(s *policy.Spec) {
		s.Tau = 0
		s.HardConstraints = []policy.ConstraintSpec{
			{Name: "no-extreme-complexity", Dimension: "complexity", Metric: "max", Limit: 0.95},
		}
	})
	base := state("base", map[string]float64{"a.go": 0.99, "b.go": 0.99, "c.go": 0.99})
	head := state("head", map[string]float64{"a.go": 0.1, "b.go": 0.1, "c.go": 0.97})

	d := evaluate(t, base, head, p)
	if d.Passed {
		t.Fatal("Passed = true, want hard constraint veto")
	}
	if d.DeltaQ < p.Epsilon {
		t.Errorf("DeltaQ = %v, want improvement above epsilon", d.DeltaQ)
	}
	got := d.Failed(ViolationHardConstraint)
	if len(got) != 1 || got[0].Name != "no-extreme-complexity" || got[0].Actual != 0.97 {
		t.Fatalf("hard constraint violations = %+v", got)
	}
	if len(d.Violations) != 1 {
		t.Errorf("Violations = %+v, want only the constraint", d.Violations)
	}
	if len(d.Witness) != 1 || d.Witness[0].Target != "c.go" {
		t.Fatalf("Witness = %+v, want c.go", d.Witness)
	}
	if d.Witness[0].Criteria[0] != witness.ConstraintCriterion("no-extreme-complexity") {
		t.Errorf("Criteria = %v", d.Witness[0].Criteria)
	}
}

func TestEvaluate_DeltaBelowEpsilon(t *testing.T) {
	p := complexityPolicy(t, func(s *policy.Spec) { s.Tau = 0 })
	base := state("base", map[string]float64{"a.go": 0.4, "b.go": 0.2})
	head := state("head", map[string]float64{"a.go": 0.4, "b.go": 0.2})

	d := evaluate(t, base, head, p)
	if d.Passed {
		t.Fatal("unchanged code must not clear a positive epsilon")
	}
	if v := d.Failed(ViolationDeltaQ); len(v) != 1 || v[0].Actual != 0 || v[0].Required != 0.3 {
		t.Errorf("delta violations = %+v", v)
	}
	if d.Witness[0].Target != "a.go" {
		t.Errorf("Witness[0].Target = %q, want a.go", d.Witness[0].Target)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	p := complexityPolicy(t, nil)
	ok := state("s", map[string]float64{"a.go": 0.1})

	broken := complexityPolicy(t, nil)
	broken.Tau = 2

	degradedFiles := []quality.FileMetrics{
		{Path: "a.go", Risk: risk.Vector{Complexity: 0.1}},
		{Path: "b.go", Degraded: true, DegradedReason: "timeout"},
	}
	degraded := quality.NewState("head", degradedFiles)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		base     *quality.State
		head     *quality.State
		policy   *policy.Policy
		wantCode errors.ErrorCode
	}{
		{"invalid policy", context.Background(), ok, ok, broken, errors.ConfigurationError},
		{"missing base", context.Background(), nil, ok, p, errors.ConfigurationError},
		{"too many degraded", context.Background(), ok, degraded, p, errors.AnalysisUnreliable},
		{"cancelled", cancelled, ok, ok, p, errors.Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewEvaluator(nil, nil).Evaluate(tt.ctx, tt.base, tt.head, tt.policy, asOf)
			if err == nil {
				t.Fatalf("Evaluate() = %+v, want error", d)
			}
			if d != nil {
				t.Error("a decision was returned alongside an error")
			}
			if got := errors.CodeOf(err); got != tt.wantCode {
				t.Errorf("CodeOf(err) = %s, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestEvaluate_DegradedWithinTolerance(t *testing.T) {
	p := complexityPolicy(t, func(s *policy.Spec) { s.MaxDegradedRatio = 0.5; s.Tau = 0; s.Epsilon = 0 })
	head := quality.NewState("head", []quality.FileMetrics{
		{Path: "a.go", Risk: risk.Vector{Complexity: 0.1}},
		{Path: "b.go", Degraded: true, DegradedReason: "parse error"},
	})
	base := state("base", map[string]float64{"a.go": 0.1})

	d := evaluate(t, base, head, p)
	if !d.Passed {
		t.Errorf("Passed = false, violations = %+v", d.Violations)
	}
	if len(d.Degraded) != 1 || d.Degraded[0] != "b.go" {
		t.Errorf("Degraded = %v, want [b.go]", d.Degraded)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	p := complexityPolicy(t, nil)
	base := state("base", map[string]float64{"a/1.go": 0.2, "b/1.go": 0.5, "b/2.go": 0.6})
	head := state("head", map[string]float64{"a/1.go": 0.3, "b/1.go": 0.7, "b/2.go": 0.1})

	first := evaluate(t, base, head, p).Digest()
	if first == "" {
		t.Fatal("Digest() is empty")
	}
	for i := 0; i < 10; i++ {
		if got := evaluate(t, base, head, p).Digest(); got != first {
			t.Fatalf("run %d: digest %s, want %s", i, got, first)
		}
	}
}

// Lowering any risk value on an admitted head never turns it into a rejection.
func TestEvaluate_MonotonicAdmission(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := complexityPolicy(t, func(s *policy.Spec) {
		s.Weights = map[string]float64{"complexity": 40, "churn": 20, "defect_markers": 10, "coverage_gap": 20}
		s.Penalty = policy.PenaltySpec{Kind: "outlier", Threshold: 0.8, Weight: 10}
		s.Tau = 0.3
		s.Epsilon = 0
		s.HardConstraints = []policy.ConstraintSpec{
			{Name: "cap", Dimension: "complexity", Metric: "max", Limit: 0.9},
			{Name: "markers", Dimension: "defect_markers", Metric: "count_above", Threshold: 0.7, Limit: 2},
		}
	})
	paths := []string{"a/1.go", "a/2.go", "b/1.go", "b/2.go", "c/1.go"}
	randomVector := func() risk.Vector {
		return risk.Vector{Complexity: rng.Float64(), Churn: rng.Float64(), DefectMarkers: rng.Float64(), CoverageGap: rng.Float64()}
	}

	admitted := 0
	for trial := 0; trial < 200; trial++ {
		var baseFiles, headFiles, betterFiles []quality.FileMetrics
		for _, path := range paths {
			bv, hv := randomVector(), randomVector()
			better := hv
			for _, d := range risk.AllDimensions() {
				better = better.With(d, hv.At(d)*rng.Float64())
			}
			baseFiles = append(baseFiles, quality.FileMetrics{Path: path, Risk: bv})
			headFiles = append(headFiles, quality.FileMetrics{Path: path, Risk: hv})
			betterFiles = append(betterFiles, quality.FileMetrics{Path: path, Risk: better})
		}
		base := quality.NewState("base", baseFiles)
		d := evaluate(t, base, quality.NewState("head", headFiles), p)
		if !d.Passed {
			continue
		}
		admitted++
		if d2 := evaluate(t, base, quality.NewState("better", betterFiles), p); !d2.Passed {
			t.Fatalf("trial %d: improved head rejected with %+v", trial, d2.Violations)
		}
	}
	if admitted == 0 {
		t.Fatal("no trial was admitted; the property was never exercised")
	}
}
