// Package risk defines the normalized per-file risk dimensions the admission
// engine scores. A RiskVector is produced by an external metric provider; the
// engine only relies on every component lying in [0,1].
package risk

import (
	"fmt"
	"math"
	"strings"
)

// Dimension identifies one normalized risk signal.
// The numeric order is the canonical fold order used everywhere.
type Dimension int

const (
	Complexity Dimension = iota
	Churn
	DefectMarkers
	CoverageGap

	// DimensionCount is the number of risk dimensions
	DimensionCount = 4
)

var dimensionNames = [DimensionCount]string{
	Complexity:    "complexity",
	Churn:         "churn",
	DefectMarkers: "defect_markers",
	CoverageGap:   "coverage_gap",
}

// AllDimensions returns every dimension in canonical order.
func AllDimensions() []Dimension {
	return []Dimension{Complexity, Churn, DefectMarkers, CoverageGap}
}

// String returns the stable wire name of the dimension.
func (d Dimension) String() string {
	if d < 0 || int(d) >= DimensionCount {
		return fmt.Sprintf("dimension(%d)", int(d))
	}
	return dimensionNames[d]
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	return d >= 0 && int(d) < DimensionCount
}

// ParseDimension resolves a wire name (case-insensitive, '-' accepted for '_').
func ParseDimension(s string) (Dimension, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range dimensionNames {
		if n == name {
			return Dimension(i), nil
		}
	}
	return 0, fmt.Errorf("unknown risk dimension %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Dimension) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid risk dimension %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Vector is the per-file tuple of normalized risk dimensions.
type Vector struct {
	Complexity    float64 `json:"complexity" yaml:"complexity" mapstructure:"complexity"`
	Churn         float64 `json:"churn" yaml:"churn" mapstructure:"churn"`
	DefectMarkers float64 `json:"defect_markers" yaml:"defect_markers" mapstructure:"defect_markers"`
	CoverageGap   float64 `json:"coverage_gap" yaml:"coverage_gap" mapstructure:"coverage_gap"`
}

// At returns the component for d.
func (v Vector) At(d Dimension) float64 {
	switch d {
	case Complexity:
		return v.Complexity
	case Churn:
		return v.Churn
	case DefectMarkers:
		return v.DefectMarkers
	case CoverageGap:
		return v.CoverageGap
	default:
		return 0
	}
}

// With returns a copy of v with component d set to value.
func (v Vector) With(d Dimension, value float64) Vector {
	switch d {
	case Complexity:
		v.Complexity = value
	case Churn:
		v.Churn = value
	case DefectMarkers:
		v.DefectMarkers = value
	case CoverageGap:
		v.CoverageGap = value
	}
	return v
}

// Peak returns the largest component and its dimension. Ties resolve to the
// dimension that comes first in canonical order.
func (v Vector) Peak() (Dimension, float64) {
	best, bestVal := Complexity, v.Complexity
	for _, d := range AllDimensions()[1:] {
		if val := v.At(d); val > bestVal {
			best, bestVal = d, val
		}
	}
	return best, bestVal
}

// Validate checks that every component is a finite number in [0,1].
func (v Vector) Validate() error {
	for _, d := range AllDimensions() {
		val := v.At(d)
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s is not a finite number", d)
		}
		if val < 0 || val > 1 {
			return fmt.Errorf("%s = %v outside [0,1]", d, val)
		}
	}
	return nil
}

// Normalize maps a raw non-negative measurement onto [0,1] against a cap.
// Values at or above the cap saturate at 1.
func Normalize(raw, cap float64) float64 {
	if cap <= 0 || raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	if raw >= cap {
		return 1
	}
	return raw / cap
}
