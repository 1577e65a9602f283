package risk

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseDimension(t *testing.T) {
	tests := []struct {
		input   string
		want    Dimension
		wantErr bool
	}{
		{"complexity", Complexity, false},
		{"CHURN", Churn, false},
		{"defect-markers", DefectMarkers, false},
		{" coverage_gap ", CoverageGap, false},
		{"coverage", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDimension(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDimension(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDimension(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDimensionRoundTripsThroughNames(t *testing.T) {
	for _, d := range AllDimensions() {
		parsed, err := ParseDimension(d.String())
		if err != nil || parsed != d {
			t.Errorf("ParseDimension(%q) = %v, %v; want %v", d.String(), parsed, err, d)
		}
	}
	if len(AllDimensions()) != DimensionCount {
		t.Errorf("AllDimensions() has %d entries, want %d", len(AllDimensions()), DimensionCount)
	}
}

func TestDimensionJSONKeys(t *testing.T) {
	data, err := json.Marshal(map[Dimension]float64{Churn: 0.5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"churn":0.5}` {
		t.Errorf("Marshal = %s, want {\"churn\":0.5}", data)
	}
}

func TestVectorAtWith(t *testing.T) {
	var v Vector
	for i, d := range AllDimensions() {
		v = v.With(d, float64(i+1)/10)
	}
	for i, d := range AllDimensions() {
		if got := v.At(d); got != float64(i+1)/10 {
			t.Errorf("At(%v) = %v, want %v", d, got, float64(i+1)/10)
		}
	}
}

func TestVectorPeak(t *testing.T) {
	v := Vector{Complexity: 0.3, Churn: 0.7, DefectMarkers: 0.7, CoverageGap: 0.1}
	d, val := v.Peak()
	if d != Churn || val != 0.7 {
		t.Errorf("Peak() = %v, %v; want churn, 0.7", d, val)
	}

	d, val = Vector{}.Peak()
	if d != Complexity || val != 0 {
		t.Errorf("Peak() of zero vector = %v, %v; want complexity, 0", d, val)
	}
}

func TestVectorValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       Vector
		wantErr bool
	}{
		{"zero", Vector{}, false},
		{"ones", Vector{1, 1, 1, 1}, false},
		{"negative", Vector{Churn: -0.1}, true},
		{"above one", Vector{CoverageGap: 1.01}, true},
		{"nan", Vector{Complexity: math.NaN()}, true},
		{"inf", Vector{DefectMarkers: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.v.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw, cap, want float64
	}{
		{0, 10, 0},
		{5, 10, 0.5},
		{10, 10, 1},
		{25, 10, 1},
		{5, 0, 0},
		{-3, 10, 0},
	}

	for _, tt := range tests {
		if got := Normalize(tt.raw, tt.cap); got != tt.want {
			t.Errorf("Normalize(%v, %v) = %v, want %v", tt.raw, tt.cap, got, tt.want)
		}
	}
}
