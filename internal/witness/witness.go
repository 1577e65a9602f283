// Package witness builds the bounded repair list offered when admission fails.
//
// The generator is a greedy heuristic: every file gets a local estimate of how
// much fixing it would move the unmet criterion, entries are ranked by that
// estimate and the top k are returned. It does not search for a minimal
// repair set.
package witness

import (
	"fmt"
	"sort"
	"time"

	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/quality"
	"qgate/internal/risk"
)

const (
	// CriterionDeltaQ marks entries that help the score delta reach epsilon
	CriterionDeltaQ = "delta_q"
	// CriterionPCQ marks entries inside a module below tau
	CriterionPCQ = "pcq"
)

// ConstraintCriterion names the criterion for a failed hard constraint.
func ConstraintCriterion(name string) string {
	return "hard_constraint:" + name
}

// Entry is one ranked repair target.
type Entry struct {
	Target          string         `json:"target"`
	Module          string         `json:"module,omitempty"`
	Dimension       risk.Dimension `json:"dimension"`
	Action          string         `json:"action"`
	EstimatedDeltaQ float64        `json:"estimatedDeltaQ"`
	Criteria        []string       `json:"criteria"`
}

// Input describes which admission criteria failed on head.
type Input struct {
	Head   *quality.State
	Policy *policy.Policy
	AsOf   time.Time

	// Modules is the head partition; it labels entries and scopes PCQ estimates.
	Modules []quality.Module
	// FailingModules are the modules whose ratio is below tau.
	FailingModules []string
	// DeltaQShortfall is set when Q(head) - Q(base) < epsilon.
	DeltaQShortfall bool
	// FailedConstraints are the hard constraints that did not hold.
	FailedConstraints []quality.ConstraintResult
}

type candidate struct {
	entry    Entry
	level    float64
	criteria map[string]bool
}

// Generate returns at most k entries ranked by estimated ΔQ (descending),
// ties broken by target path. Every target is a healthy file of in.Head.
func Generate(in Input, k int) []Entry {
	if k <= 0 || in.Head == nil || in.Policy == nil {
		return nil
	}

	moduleOf := make(map[string]string)
	for _, m := range in.Modules {
		for _, p := range m.Paths {
			moduleOf[p] = m.Name
		}
	}
	est := newEstimator(in.Policy, in.AsOf)
	candidates := make(map[string]*candidate)

	add := func(fm quality.FileMetrics, d risk.Dimension, level, estimate float64, criterion string) {
		c, ok := candidates[fm.Path]
		if !ok {
			c = &candidate{
				entry:    Entry{Target: fm.Path, Module: moduleOf[fm.Path], Dimension: d, EstimatedDeltaQ: estimate},
				level:    level,
				criteria: make(map[string]bool),
			}
			candidates[fm.Path] = c
		} else if estimate > c.entry.EstimatedDeltaQ {
			c.entry.EstimatedDeltaQ = estimate
			c.entry.Dimension = d
			c.level = level
		}
		c.criteria[criterion] = true
	}

	healthy := in.Head.Healthy()

	// Files over a failed constraint's limit are listed even at estimate 0.
	for _, hc := range in.FailedConstraints {
		limit := constraintBaseline(in.Policy, hc)
		n := est.counts(healthy)[hc.Dimension]
		for _, fm := range healthy {
			if est.exempt(fm.Path, hc.Dimension) {
				continue
			}
			excess := fm.Risk.At(hc.Dimension) - limit
			if excess <= 0 {
				continue
			}
			add(fm, hc.Dimension, limit, in.Policy.Weights.At(hc.Dimension)*excess/float64(n), ConstraintCriterion(hc.Name))
		}
	}

	if in.DeltaQShortfall {
		counts := est.counts(healthy)
		for _, fm := range healthy {
			if d, estimate := est.estimate(fm, counts); estimate > 0 {
				add(fm, d, in.Policy.Baseline.At(d), estimate, CriterionDeltaQ)
			}
		}
	}

	failing := make(map[string]bool, len(in.FailingModules))
	for _, name := range in.FailingModules {
		failing[name] = true
	}
	for _, m := range in.Modules {
		if !failing[m.Name] {
			continue
		}
		scope := in.Head.Restrict(m.Paths).Healthy()
		counts := est.counts(scope)
		for _, fm := range scope {
			if d, estimate := est.estimate(fm, counts); estimate > 0 {
				add(fm, d, in.Policy.Baseline.At(d), estimate, CriterionPCQ)
			}
		}
	}

	entries := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		e := c.entry
		e.EstimatedDeltaQ = output.RoundFloat(e.EstimatedDeltaQ)
		for crit := range c.criteria {
			e.Criteria = append(e.Criteria, crit)
		}
		sort.Strings(e.Criteria)
		fm, _ := in.Head.Get(e.Target)
		e.Action = actionHint(e.Dimension, fm.Risk.At(e.Dimension), c.level)
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EstimatedDeltaQ != entries[j].EstimatedDeltaQ {
			return entries[i].EstimatedDeltaQ > entries[j].EstimatedDeltaQ
		}
		return entries[i].Target < entries[j].Target
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// constraintBaseline is the level a file must reach to stop contributing to
// a failed constraint.
func constraintBaseline(p *policy.Policy, hc quality.ConstraintResult) float64 {
	for _, c := range p.HardConstraints {
		if c.Name != hc.Name {
			continue
		}
		switch c.Metric {
		case policy.MetricCountAbove:
			return c.Threshold
		case policy.MetricMax:
			return c.Limit
		}
	}
	return p.Baseline.At(hc.Dimension)
}

var actionHints = map[risk.Dimension]string{
	risk.Complexity:    "split or simplify the most complex functions",
	risk.Churn:         "stabilize the file by moving frequently edited logic behind a narrower interface",
	risk.DefectMarkers: "resolve the TODO/FIXME markers",
	risk.CoverageGap:   "add tests that exercise this file",
}

func actionHint(d risk.Dimension, current, target float64) string {
	return fmt.Sprintf("%s (%s %s, target %s)",
		actionHints[d], d, output.FormatFloat(current), output.FormatFloat(target))
}

// estimator computes Σ wᵢ·max(0, xᵢ - baselineᵢ)/nᵢ(scope) per file.
type estimator struct {
	policy *policy.Policy
	active []policy.Exemption
}

func newEstimator(p *policy.Policy, asOf time.Time) *estimator {
	e := &estimator{policy: p}
	for _, ex := range p.Exemptions {
		if !ex.Expired(asOf) {
			e.active = append(e.active, ex)
		}
	}
	return e
}

func (e *estimator) exempt(path string, d risk.Dimension) bool {
	for _, ex := range e.active {
		if ex.Covers(d) && ex.Matches(path) {
			return true
		}
	}
	return false
}

// counts returns, per dimension, the number of files in scope contributing to it.
func (e *estimator) counts(scope []quality.FileMetrics) [risk.DimensionCount]int {
	var n [risk.DimensionCount]int
	for _, fm := range scope {
		for _, d := range risk.AllDimensions() {
			if !e.exempt(fm.Path, d) {
				n[d]++
			}
		}
	}
	return n
}

// estimate returns the total estimate for fm given the scope's per-dimension
// counts, and the dimension contributing most to it.
func (e *estimator) estimate(fm quality.FileMetrics, counts [risk.DimensionCount]int) (risk.Dimension, float64) {
	best, bestVal, total := risk.Complexity, 0.0, 0.0
	for _, d := range risk.AllDimensions() {
		if e.exempt(fm.Path, d) {
			continue
		}
		excess := fm.Risk.At(d) - e.policy.Baseline.At(d)
		if excess <= 0 {
			continue
		}
		contribution := e.policy.Weights.At(d) * excess / float64(counts[d])
		total += contribution
		if contribution > bestVal {
			best, bestVal = d, contribution
		}
	}
	return best, total
}
