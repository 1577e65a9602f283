package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"qgate/internal/admission"
	"qgate/internal/engine"
	"qgate/internal/errors"
	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/quality"
	"qgate/internal/risk"
	"qgate/internal/witness"
)

func rejectedReport() *engine.Report {
	return &engine.Report{
		RunID:   "run-1",
		Level:   0,
		BaseRev: "0123456789abcdef0123",
		HeadRev: "fedcba9876543210fedc",
		Decision: &admission.Decision{
			Passed:     false,
			DeltaQ:     -2.5,
			QBase:      80,
			QHead:      77.5,
			PCQHead:    0.4,
			QMax:       100,
			Tau:        0.6,
			Bottleneck: "internal/db",
			Violations: []admission.Violation{
				{Kind: admission.ViolationPCQ, Name: "internal/db", Message: "module internal/db is below tau", Actual: 0.4, Required: 0.6},
			},
			Witness: []witness.Entry{
				{Target: "internal/db/conn.go", Module: "internal/db", Dimension: risk.Complexity, Action: "reduce complexity", EstimatedDeltaQ: 1.25, Criteria: []string{witness.CriterionPCQ}},
			},
			Constraints: []quality.ConstraintResult{
				{Name: "no-extreme-complexity", Dimension: risk.Complexity, Metric: policy.MetricMax, Actual: 0.7, Limit: 0.95, Passed: true},
			},
			Degraded:     []string{"internal/db/gen.go"},
			PolicyDigest: "abcdefabcdefabcdefabcdef",
		},
		Analysis: engine.Analysis{Mode: "incremental", ChangeRatio: 0.05, Changed: 2},
	}
}

func TestFormatReportHuman(t *testing.T) {
	got := formatReportHuman(rejectedReport())

	for _, want := range []string{
		"REJECTED",
		"Base: 0123456789ab  Head: fedcba987654",
		"Delta Q:  -2.5",
		"bottleneck internal/db",
		"✓ no-extreme-complexity: complexity max = 0.7 (limit 0.95)",
		"[pcq] module internal/db is below tau",
		"1. internal/db/conn.go (internal/db)",
		"reduce complexity, est. +1.25 Q [pcq]",
		"Degraded: 1 files",
		"Policy: abcdefabcdef",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("human output missing %q\n%s", want, got)
		}
	}
}

func TestFormatReportHuman_Admitted(t *testing.T) {
	rep := rejectedReport()
	rep.Decision = &admission.Decision{Passed: true, DeltaQ: 1, QMax: 100}
	rep.Meta = &engine.MetaResult{Level: 2, Reproduced: true}

	got := formatReportHuman(rep)
	if !strings.Contains(got, "ADMITTED") {
		t.Errorf("human output missing verdict\n%s", got)
	}
	if strings.Contains(got, "Fix First") {
		t.Error("admitted report should have no witness section")
	}
	if !strings.Contains(got, "Meta-check (level 2): reproduced") {
		t.Errorf("human output missing meta-check\n%s", got)
	}
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, rejectedReport(), output.FormatJSON); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	decision, ok := decoded["decision"].(map[string]interface{})
	if !ok {
		t.Fatalf("decision missing: %v", decoded)
	}
	if decision["passed"] != false {
		t.Errorf("decision.passed = %v, want false", decision["passed"])
	}
	if decision["bottleneck"] != "internal/db" {
		t.Errorf("decision.bottleneck = %v, want internal/db", decision["bottleneck"])
	}
}

func TestWriteReport_UnsupportedFormat(t *testing.T) {
	err := writeReport(&bytes.Buffer{}, rejectedReport(), output.Format("xml"))
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("writeReport(xml) error = %v, want unsupported format", err)
	}
}

func TestFormatErrorHuman(t *testing.T) {
	err := errors.New(errors.ConfigurationError, "policy: tau out of range", nil)
	got := formatErrorHuman(errors.OutcomeMisconfigured, err, err)

	if !strings.Contains(got, "misconfigured") {
		t.Errorf("missing outcome in %q", got)
	}
	if !strings.Contains(got, "try: qgate policy validate") {
		t.Errorf("missing suggested fix in %q", got)
	}
}

func TestSigned(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "+1.5"},
		{-0.25, "-0.25"},
		{0, "0"},
		{1e-9, "0"},
	}
	for _, tt := range tests {
		if got := signed(tt.in); got != tt.want {
			t.Errorf("signed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
