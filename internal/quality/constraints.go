package quality

import (
	"time"

	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/risk"
)

// ConstraintResult is the outcome of one hard constraint.
type ConstraintResult struct {
	Name      string         `json:"name"`
	Dimension risk.Dimension `json:"dimension"`
	Metric    policy.Metric  `json:"metric"`
	Actual    float64        `json:"actual"`
	Limit     float64        `json:"limit"`
	Passed    bool           `json:"passed"`
}

// CheckConstraints evaluates every hard constraint of p against s, in
// policy order. A constraint passes iff the measured value is <= its limit.
// Degraded and exempt files are filtered exactly as in Calculate.
func CheckConstraints(s *State, p *policy.Policy, asOf time.Time) []ConstraintResult {
	ex := resolveExemptions(p, asOf)
	files := s.Healthy()

	results := make([]ConstraintResult, 0, len(p.HardConstraints))
	for _, hc := range p.HardConstraints {
		values := ex.values(files, hc.Dimension)

		var actual float64
		switch hc.Metric {
		case policy.MetricCountAbove:
			for _, v := range values {
				if v > hc.Threshold {
					actual++
				}
			}
		case policy.MetricMax:
			actual = aggregate(policy.AggregateMax, values)
		default:
			actual = aggregate(policy.AggregateMean, values)
		}
		actual = output.RoundFloat(actual)

		results = append(results, ConstraintResult{
			Name:      hc.Name,
			Dimension: hc.Dimension,
			Metric:    hc.Metric,
			Actual:    actual,
			Limit:     hc.Limit,
			Passed:    actual <= hc.Limit,
		})
	}
	return results
}

// AllPassed reports whether every constraint result passed.
func AllPassed(results []ConstraintResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
