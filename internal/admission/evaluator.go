// Package admission decides whether a head snapshot may be admitted.
//
// The decision is H_all_pass ∧ (ΔQ ≥ ε) ∧ (PCQ(head) ≥ τ). Every value is
// rounded to six decimals before it is compared or stored, so the same
// inputs always produce a byte-identical Decision.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qgate/internal/errors"
	"qgate/internal/modules"
	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/quality"
	"qgate/internal/slogutil"
	"qgate/internal/witness"
)

// Partitioner groups head paths into modules for PCQ.
type Partitioner interface {
	Partition(paths []string) []quality.Module
}

// Evaluator applies a policy to a base/head pair of states.
type Evaluator struct {
	partitioner Partitioner
	logger      *slog.Logger
}

// NewEvaluator creates an evaluator. A nil partitioner means the policy's own
// partition rule is used without a repository root (declared modules must
// then be inline in the policy).
func NewEvaluator(partitioner Partitioner, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Evaluator{partitioner: partitioner, logger: logger}
}

// Evaluate produces the GateDecision for head against base. asOf is the
// instant exemption expiry is judged at; it is an input so that identical
// inputs give identical decisions.
//
// Errors: CONFIGURATION_ERROR for an invalid policy or missing state,
// ANALYSIS_UNRELIABLE when too many files are degraded, CANCELLED when ctx
// ends. No decision is returned with an error.
func (e *Evaluator) Evaluate(ctx context.Context, base, head *quality.State, pol *policy.Policy, asOf time.Time) (*Decision, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	if base == nil || head == nil {
		return nil, errors.New(errors.ConfigurationError, "base and head states are required", nil)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := checkReliability(base, head, pol); err != nil {
		return nil, err
	}

	partitioner := e.partitioner
	if partitioner == nil {
		p, err := modules.NewPartitioner(pol.Partition, "")
		if err != nil {
			return nil, errors.New(errors.ConfigurationError, "invalid module partition", err)
		}
		partitioner = p
	}

	constraints := quality.CheckConstraints(head, pol, asOf)
	baseResult := quality.Calculate(base, pol, asOf)
	headResult := quality.Calculate(head, pol, asOf)
	deltaQ := output.RoundFloat(headResult.Q - baseResult.Q)

	partition := partitioner.Partition(head.SortedPaths())
	pcq := quality.PCQ(head, pol, partition, asOf)

	d := &Decision{
		DeltaQ:       deltaQ,
		QBase:        baseResult.Q,
		QHead:        headResult.Q,
		PCQHead:      pcq.Ratio,
		QMax:         pol.QMax,
		Epsilon:      pol.Epsilon,
		Tau:          pol.Tau,
		Bottleneck:   pcq.Bottleneck,
		Violations:   []Violation{},
		Witness:      []witness.Entry{},
		Constraints:  constraints,
		Modules:      pcq.Modules,
		Warnings:     headResult.Warnings,
		Degraded:     head.DegradedPaths(),
		PolicyDigest: pol.Digest(),
	}

	var failedConstraints []quality.ConstraintResult
	for _, c := range constraints {
		if c.Passed {
			continue
		}
		failedConstraints = append(failedConstraints, c)
		d.Violations = append(d.Violations, Violation{
			Kind:     ViolationHardConstraint,
			Name:     c.Name,
			Message:  fmt.Sprintf("%s %s of %s is %s, limit %s", c.Name, c.Metric, c.Dimension, output.FormatFloat(c.Actual), output.FormatFloat(c.Limit)),
			Actual:   c.Actual,
			Required: c.Limit,
		})
	}

	deltaShort := deltaQ < pol.Epsilon
	if deltaShort {
		d.Violations = append(d.Violations, Violation{
			Kind:     ViolationDeltaQ,
			Message:  fmt.Sprintf("quality delta %s is below epsilon %s", output.FormatFloat(deltaQ), output.FormatFloat(pol.Epsilon)),
			Actual:   deltaQ,
			Required: pol.Epsilon,
		})
	}

	var failingModules []string
	if pcq.Ratio < pol.Tau {
		for _, m := range pcq.Modules {
			if !m.Excluded && m.Ratio < pol.Tau {
				failingModules = append(failingModules, m.Name)
			}
		}
		d.Violations = append(d.Violations, Violation{
			Kind:     ViolationPCQ,
			Name:     pcq.Bottleneck,
			Message:  fmt.Sprintf("module %q has quality ratio %s, below tau %s", pcq.Bottleneck, output.FormatFloat(pcq.Ratio), output.FormatFloat(pol.Tau)),
			Actual:   pcq.Ratio,
			Required: pol.Tau,
		})
	}

	d.Passed = len(d.Violations) == 0

	if !d.Passed {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		d.Witness = witness.Generate(witness.Input{
			Head:              head,
			Policy:            pol,
			AsOf:              asOf,
			Modules:           partition,
			FailingModules:    failingModules,
			DeltaQShortfall:   deltaShort,
			FailedConstraints: failedConstraints,
		}, pol.WitnessSize)
	}

	for _, w := range d.Warnings {
		e.logger.Warn(w)
	}
	e.logger.Info("gate decision",
		"passed", d.Passed,
		"q_base", d.QBase,
		"q_head", d.QHead,
		"delta_q", d.DeltaQ,
		"pcq_head", d.PCQHead,
		"violations", len(d.Violations),
		"witness", len(d.Witness),
	)
	return d, nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.Cancelled, "evaluation cancelled", err)
	}
	return nil
}

func checkReliability(base, head *quality.State, pol *policy.Policy) error {
	for _, s := range []struct {
		name  string
		state *quality.State
	}{{"base", base}, {"head", head}} {
		ratio := output.RoundFloat(s.state.DegradedRatio())
		if ratio > pol.MaxDegradedRatio {
			return errors.Newf(errors.AnalysisUnreliable,
				"%d of %d %s files could not be analyzed (ratio %s exceeds %s)",
				len(s.state.DegradedPaths()), s.state.Len(), s.name,
				output.FormatFloat(ratio), output.FormatFloat(pol.MaxDegradedRatio),
			).WithDetails(map[string]interface{}{
				"revision": s.state.Revision,
				"degraded": s.state.DegradedPaths(),
			})
		}
	}
	return nil
}
