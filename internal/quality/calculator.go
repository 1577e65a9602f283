package quality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/risk"
)

// Result is the outcome of a Q-score calculation.
type Result struct {
	Q          float64     `json:"q"`
	Aggregates risk.Vector `json:"aggregates"`
	Penalty    float64     `json:"penalty"`
	Scored     int         `json:"scored"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Calculate computes Q = QMax - Σ wᵢ·x̄ᵢ - Φ over the healthy files of s.
//
// Degraded files are skipped. A file matching an active exemption does not
// contribute to the exempted dimensions. Exemptions whose expiry is at or
// before asOf are ignored and reported in Warnings. An empty state scores QMax.
func Calculate(s *State, p *policy.Policy, asOf time.Time) Result {
	ex := resolveExemptions(p, asOf)
	files := s.Healthy()

	var res Result
	res.Warnings = ex.warnings

	var weighted float64
	for _, d := range risk.AllDimensions() {
		agg := aggregate(p.Aggregate, ex.values(files, d))
		res.Aggregates = res.Aggregates.With(d, output.RoundFloat(agg))
		weighted += p.Weights.At(d) * agg
	}

	var excessSum float64
	for _, fm := range files {
		peak, ok := ex.peak(fm)
		if !ok {
			continue
		}
		res.Scored++
		if p.Penalty.Kind == policy.PenaltyOutlier && peak > p.Penalty.Threshold {
			excessSum += (peak - p.Penalty.Threshold) / (1 - p.Penalty.Threshold)
		}
	}
	var phi float64
	if p.Penalty.Kind == policy.PenaltyOutlier && res.Scored > 0 {
		phi = p.Penalty.Weight * excessSum / float64(res.Scored)
	}
	res.Penalty = output.RoundFloat(phi)
	res.Q = math.Max(0, output.RoundFloat(p.QMax-weighted-phi))
	return res
}

// aggregate folds values that are already in canonical path order.
// No values aggregates to 0.
func aggregate(kind policy.Aggregate, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch kind {
	case policy.AggregateMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case policy.AggregateP90:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		rank := int(math.Ceil(0.9 * float64(len(sorted))))
		return sorted[rank-1]
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

type exemptionSet struct {
	active   []policy.Exemption
	warnings []string
}

func resolveExemptions(p *policy.Policy, asOf time.Time) exemptionSet {
	var set exemptionSet
	for _, e := range p.Exemptions {
		if e.Expired(asOf) {
			set.warnings = append(set.warnings, fmt.Sprintf(
				"exemption %q expired at %s and is no longer applied", e.Pattern, e.Expires.UTC().Format(time.RFC3339)))
			continue
		}
		set.active = append(set.active, e)
	}
	return set
}

func (set exemptionSet) exempt(path string, d risk.Dimension) bool {
	for _, e := range set.active {
		if e.Covers(d) && e.Matches(path) {
			return true
		}
	}
	return false
}

// values returns the non-exempt values of d in the order of files.
func (set exemptionSet) values(files []FileMetrics, d risk.Dimension) []float64 {
	out := make([]float64, 0, len(files))
	for _, fm := range files {
		if !set.exempt(fm.Path, d) {
			out = append(out, fm.Risk.At(d))
		}
	}
	return out
}

// peak returns the largest non-exempt component of fm. ok is false when every
// dimension of the file is exempt.
func (set exemptionSet) peak(fm FileMetrics) (float64, bool) {
	peak, ok := 0.0, false
	for _, d := range risk.AllDimensions() {
		if set.exempt(fm.Path, d) {
			continue
		}
		if v := fm.Risk.At(d); !ok || v > peak {
			peak = v
		}
		ok = true
	}
	return peak, ok
}
