package signals

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/tools/cover"

	"qgate/internal/complexity"
	"qgate/internal/incremental"
	"qgate/internal/risk"
)

type fakeHistory struct {
	counts map[string]int
	err    error
	window time.Duration
}

func (h *fakeHistory) ChangeCounts(ctx context.Context, rev string, window time.Duration) (map[string]int, error) {
	h.window = window
	return h.counts, h.err
}

func testOptions() Options {
	return Options{
		ComplexityCap:    10,
		ChurnCap:         4,
		ChurnWindow:      30 * 24 * time.Hour,
		Markers:          []string{"TODO", "FIXME"},
		MarkerDensityCap: 10,
	}
}

func TestProvider_Accepts(t *testing.T) {
	p := New(testOptions(), nil)
	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"internal/x/y.go", true},
		{"internal/x/y_test.go", false},
		{"vendor/github.com/a/b.go", false},
		{"internal/testdata/fixture.go", false},
		{"README.md", false},
		{"cmd/vendored.go", true},
	}
	for _, tt := range tests {
		if got := p.Accepts(tt.path); got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestProvider_MetricSetVersion(t *testing.T) {
	a := New(testOptions(), nil)
	b := New(testOptions(), nil)
	if a.MetricSetVersion() != b.MetricSetVersion() {
		t.Error("equal options must give equal versions")
	}

	changed := testOptions()
	changed.Markers = append(changed.Markers, "HACK")
	if New(changed, nil).MetricSetVersion() == a.MetricSetVersion() {
		t.Error("marker change did not change the metric set version")
	}

	// churn and coverage are overlays and do not affect cached values
	overlay := testOptions()
	overlay.ChurnCap = 99
	overlay.Coverage = &CoverageProfile{}
	if New(overlay, nil).MetricSetVersion() != a.MetricSetVersion() {
		t.Error("overlay knobs changed the metric set version")
	}
}

func TestProvider_Extract(t *testing.T) {
	src := []byte(`package x

// TODO: split this up
func f(a, b bool) int {
	if a && b { // FIXME
		return 1
	}
	return 0
}
`)
	p := New(testOptions(), nil)
	v, err := p.Extract(context.Background(), incremental.Input{Path: "x.go", Content: src})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	// 2 markers over 10 lines = 20 per 100, capped at 10
	if v.DefectMarkers != 1 {
		t.Errorf("DefectMarkers = %v, want 1", v.DefectMarkers)
	}
	if v.Churn != 0 || v.CoverageGap != 0 {
		t.Errorf("overlay dimensions set by Extract: %+v", v)
	}
	if complexity.IsAvailable() && v.Complexity != 0.3 {
		t.Errorf("Complexity = %v, want 0.3 (cyclomatic 3 of cap 10)", v.Complexity)
	}
	if err := v.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestProvider_RevisionSignals(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "cover.out")
	data := "mode: set\n" +
		"example.com/m/a.go:3.10,5.2 3 1\n" +
		"example.com/m/a.go:7.10,9.2 1 0\n"
	if err := os.WriteFile(profile, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cov, err := LoadCoverageProfile(profile, "example.com/m")
	if err != nil {
		t.Fatalf("LoadCoverageProfile() error = %v", err)
	}

	opts := testOptions()
	opts.Coverage = cov
	h := &fakeHistory{counts: map[string]int{"a.go": 2, "b.go": 9, "other.go": 1}}
	p := New(opts, h)

	got, err := p.RevisionSignals(context.Background(), "head", []string{"a.go", "b.go", "c.go"})
	if err != nil {
		t.Fatalf("RevisionSignals() error = %v", err)
	}
	want := map[string]risk.Vector{
		"a.go": {Churn: 0.5, CoverageGap: 0.25},
		"b.go": {Churn: 1, CoverageGap: 1},
		"c.go": {CoverageGap: 1},
	}
	for path, w := range want {
		if got[path] != w {
			t.Errorf("%s = %+v, want %+v", path, got[path], w)
		}
	}
	if _, ok := got["other.go"]; ok {
		t.Error("signals returned for a path that was not requested")
	}
	if h.window != opts.ChurnWindow {
		t.Errorf("window = %v, want %v", h.window, opts.ChurnWindow)
	}

	h.err = stderrors.New("git log failed")
	if _, err := p.RevisionSignals(context.Background(), "head", []string{"a.go"}); err == nil {
		t.Error("history failure was swallowed")
	}
}

func TestMarkerDensity(t *testing.T) {
	markers := []string{"TODO", "FIXME", "XXX"}
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"empty", "", 0},
		{"none", "package x\nfunc f() {}\n", 0},
		{"one in four lines", "package x\n// TODO: fix\nfunc f() {}\n", 25},
		{"outside comment ignored", "package x\nvar TODO = 1\n", 0},
		{"whole words only", "// TODOS and XXXL and MYTODO\n", 0},
		{"several on one line", "// TODO FIXME XXX\n", 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkerDensity([]byte(tt.content), markers)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MarkerDensity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoverageProfile_Gap(t *testing.T) {
	var nilProfile *CoverageProfile
	if nilProfile.Gap("a.go") != 0 || nilProfile.Files() != 0 {
		t.Error("nil profile should report nothing")
	}

	if _, err := LoadCoverageProfile(filepath.Join(t.TempDir(), "missing.out"), ""); err == nil {
		t.Error("LoadCoverageProfile() on a missing file should fail")
	}

	profile := newCoverageProfile([]*cover.Profile{
		{FileName: "example.com/m/a.go", Blocks: []cover.ProfileBlock{{NumStmt: 4, Count: 1}, {NumStmt: 4, Count: 0}}},
		{FileName: "example.com/m/types.go"},
		{FileName: "example.com/m/cold.go", Blocks: []cover.ProfileBlock{{NumStmt: 2, Count: 0}}},
	}, "example.com/m")
	tests := []struct {
		path string
		want float64
	}{
		{"a.go", 0.5},
		{"types.go", 0},
		{"cold.go", 1},
		{"untested.go", 1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := profile.Gap(tt.path); got != tt.want {
				t.Errorf("Gap(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
