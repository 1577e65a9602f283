package witness

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"qgate/internal/policy"
	"qgate/internal/quality"
	"qgate/internal/risk"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func testPolicy(t *testing.T, mutate func(s *policy.Spec)) *policy.Policy {
	t.Helper()
	spec := policy.DefaultSpec()
	spec.Weights = map[string]float64{"complexity": 50, "coverage_gap": 50}
	spec.Baseline = map[string]float64{"complexity": 0.1, "coverage_gap": 0.2}
	spec.Penalty = policy.PenaltySpec{Kind: "none"}
	spec.Exemptions = nil
	spec.HardConstraints = nil
	if mutate != nil {
		mutate(&spec)
	}
	p, err := policy.New(spec)
	if err != nil {
		t.Fatalf("policy.New() error = %v", err)
	}
	return p
}

func fm(path string, complexity, coverageGap float64) quality.FileMetrics {
	return quality.FileMetrics{
		Path:        path,
		ContentHash: "h-" + path,
		Risk:        risk.Vector{Complexity: complexity, CoverageGap: coverageGap},
	}
}

func TestGenerate_PCQTargetsFailingModule(t *testing.T) {
	head := quality.NewState("head", []quality.FileMetrics{
		fm("good/a.go", 0.9, 0.9), // bad file, but in a passing module
		fm("weak/x.go", 0.5, 0.6),
		fm("weak/y.go", 0.2, 0.2),
		fm("weak/z.go", 0.1, 0.2),
	})
	mods := []quality.Module{
		{Name: "good", Paths: []string{"good/a.go"}},
		{Name: "weak", Paths: []string{"weak/x.go", "weak/y.go", "weak/z.go"}},
	}

	entries := Generate(Input{
		Head:           head,
		Policy:         testPolicy(t, nil),
		AsOf:           asOf,
		Modules:        mods,
		FailingModules: []string{"weak"},
	}, 3)

	// z.go sits at baseline and is dropped
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2: %+v", len(entries), entries)
	}
	// x.go: 50·0.4/3 + 50·0.4/3 = 13.333333
	if entries[0].Target != "weak/x.go" || entries[0].EstimatedDeltaQ != 13.333333 {
		t.Errorf("entries[0] = %+v, want weak/x.go at 13.333333", entries[0])
	}
	if entries[1].Target != "weak/y.go" {
		t.Errorf("entries[1].Target = %q, want weak/y.go", entries[1].Target)
	}
	for _, e := range entries {
		if e.Module != "weak" {
			t.Errorf("entry %s module = %q, want weak", e.Target, e.Module)
		}
		if !reflect.DeepEqual(e.Criteria, []string{CriterionPCQ}) {
			t.Errorf("entry %s criteria = %v, want [pcq]", e.Target, e.Criteria)
		}
	}
}

func TestGenerate_DeltaQUsesWholeState(t *testing.T) {
	head := quality.NewState("head", []quality.FileMetrics{
		fm("a.go", 0.6, 0.2),
		fm("b.go", 0.1, 0.7),
	})

	entries := Generate(Input{Head: head, Policy: testPolicy(t, nil), AsOf: asOf, DeltaQShortfall: true}, 5)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// a.go: 50·0.5/2 = 12.5 on complexity; b.go: 50·0.5/2 = 12.5 on coverage gap
	if entries[0].Target != "a.go" || entries[1].Target != "b.go" {
		t.Errorf("targets = %s, %s; want lexicographic tie-break", entries[0].Target, entries[1].Target)
	}
	if entries[0].Dimension != risk.Complexity || entries[1].Dimension != risk.CoverageGap {
		t.Errorf("dimensions = %v, %v", entries[0].Dimension, entries[1].Dimension)
	}
	if !strings.Contains(entries[1].Action, "add tests") {
		t.Errorf("Action = %q, want coverage hint", entries[1].Action)
	}
}

func TestGenerate_HardConstraintEvenWithoutWeight(t *testing.T) {
	p := testPolicy(t, func(s *policy.Spec) {
		s.HardConstraints = []policy.ConstraintSpec{
			{Name: "markers", Dimension: "defect_markers", Metric: "count_above", Threshold: 0.5, Limit: 0},
		}
	})
	head := quality.NewState("head", []quality.FileMetrics{
		{Path: "a.go", Risk: risk.Vector{DefectMarkers: 0.9}},
		{Path: "b.go", Risk: risk.Vector{DefectMarkers: 0.4}},
	})
	failed := quality.CheckConstraints(head, p, asOf)

	entries := Generate(Input{Head: head, Policy: p, AsOf: asOf, FailedConstraints: failed}, 3)
	if len(entries) != 1 || entries[0].Target != "a.go" {
		t.Fatalf("entries = %+v, want only a.go", entries)
	}
	if entries[0].Criteria[0] != ConstraintCriterion("markers") {
		t.Errorf("Criteria = %v, want hard_constraint:markers", entries[0].Criteria)
	}
	if entries[0].Dimension != risk.DefectMarkers {
		t.Errorf("Dimension = %v, want defect_markers", entries[0].Dimension)
	}
	if entries[0].EstimatedDeltaQ != 0 {
		t.Errorf("EstimatedDeltaQ = %v, want 0 for an unweighted dimension", entries[0].EstimatedDeltaQ)
	}
}

func TestGenerate_MergesCriteria(t *testing.T) {
	head := quality.NewState("head", []quality.FileMetrics{
		fm("m/a.go", 0.9, 0.2),
		fm("m/b.go", 0.1, 0.2),
		fm("n/c.go", 0.1, 0.2),
	})
	mods := []quality.Module{
		{Name: "m", Paths: []string{"m/a.go", "m/b.go"}},
		{Name: "n", Paths: []string{"n/c.go"}},
	}

	entries := Generate(Input{
		Head:            head,
		Policy:          testPolicy(t, nil),
		AsOf:            asOf,
		Modules:         mods,
		FailingModules:  []string{"m"},
		DeltaQShortfall: true,
	}, 3)

	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if !reflect.DeepEqual(e.Criteria, []string{CriterionDeltaQ, CriterionPCQ}) {
		t.Errorf("Criteria = %v, want [delta_q pcq]", e.Criteria)
	}
	// module scope (n=2) gives the larger estimate: 50·0.8/2 = 20
	if e.EstimatedDeltaQ != 20 {
		t.Errorf("EstimatedDeltaQ = %v, want 20", e.EstimatedDeltaQ)
	}
}

func TestGenerate_SkipsDegradedAndExempt(t *testing.T) {
	p := testPolicy(t, func(s *policy.Spec) {
		s.Exemptions = []policy.ExemptionSpec{{Pattern: "gen/**"}}
	})
	broken := fm("broken.go", 1, 1)
	broken.Degraded = true
	head := quality.NewState("head", []quality.FileMetrics{broken, fm("gen/x.go", 1, 1), fm("ok.go", 0.5, 0.5)})

	entries := Generate(Input{Head: head, Policy: p, AsOf: asOf, DeltaQShortfall: true}, 5)
	if len(entries) != 1 || entries[0].Target != "ok.go" {
		t.Errorf("entries = %+v, want only ok.go", entries)
	}
}

func TestGenerate_Bounded(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p := testPolicy(t, nil)

	var files []quality.FileMetrics
	var paths []string
	for i := 0; i < 50; i++ {
		path := "pkg/" + string(rune('A'+i)) + ".go"
		files = append(files, fm(path, rng.Float64(), rng.Float64()))
		paths = append(paths, path)
	}
	head := quality.NewState("head", files)
	mods := []quality.Module{{Name: "pkg", Paths: paths}}

	for _, k := range []int{0, 1, 3, 10, 100} {
		entries := Generate(Input{
			Head: head, Policy: p, AsOf: asOf, Modules: mods,
			FailingModules: []string{"pkg"}, DeltaQShortfall: true,
		}, k)
		if len(entries) > k {
			t.Errorf("k=%d: len(entries) = %d", k, len(entries))
		}
		for i, e := range entries {
			if _, ok := head.Get(e.Target); !ok {
				t.Errorf("k=%d: entry %q is not in the state", k, e.Target)
			}
			if i > 0 && entries[i-1].EstimatedDeltaQ < e.EstimatedDeltaQ {
				t.Errorf("k=%d: entries not sorted by estimate", k)
			}
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	head := quality.NewState("head", []quality.FileMetrics{
		fm("c.go", 0.5, 0.5), fm("a.go", 0.5, 0.5), fm("b.go", 0.5, 0.5),
	})
	in := Input{Head: head, Policy: testPolicy(t, nil), AsOf: asOf, DeltaQShortfall: true}

	first := Generate(in, 2)
	for i := 0; i < 10; i++ {
		if got := Generate(in, 2); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: Generate() = %+v, want %+v", i, got, first)
		}
	}
	if first[0].Target != "a.go" || first[1].Target != "b.go" {
		t.Errorf("targets = %s, %s; want a.go, b.go", first[0].Target, first[1].Target)
	}
}
