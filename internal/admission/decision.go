package admission

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"qgate/internal/output"
	"qgate/internal/quality"
	"qgate/internal/witness"
)

// ViolationKind identifies which admission criterion failed.
type ViolationKind string

const (
	ViolationHardConstraint ViolationKind = "hard_constraint"
	ViolationDeltaQ         ViolationKind = "delta_q"
	ViolationPCQ            ViolationKind = "pcq"
)

// Violation is one failed admission criterion.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Message  string        `json:"message"`
	Actual   float64       `json:"actual"`
	Required float64       `json:"required"`
}

// Decision is the immutable, self-describing result of one admission check.
// It contains nothing that varies between runs over identical inputs.
type Decision struct {
	Passed       bool                       `json:"passed"`
	DeltaQ       float64                    `json:"deltaQ"`
	QBase        float64                    `json:"qBase"`
	QHead        float64                    `json:"qHead"`
	PCQHead      float64                    `json:"pcqHead"`
	QMax         float64                    `json:"qMax"`
	Epsilon      float64                    `json:"epsilon"`
	Tau          float64                    `json:"tau"`
	Bottleneck   string                     `json:"bottleneck,omitempty"`
	Violations   []Violation                `json:"violations"`
	Witness      []witness.Entry            `json:"witness"`
	Constraints  []quality.ConstraintResult `json:"constraints"`
	Modules      []quality.ModuleScore      `json:"modules"`
	Warnings     []string                   `json:"warnings,omitempty"`
	Degraded     []string                   `json:"degraded,omitempty"`
	PolicyDigest string                     `json:"policyDigest"`
}

// Digest returns a hex blake2b-256 digest of the decision's deterministic
// JSON form. Two decisions over identical inputs always share a digest.
func (d *Decision) Digest() string {
	data, err := output.DeterministicEncode(d)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Failed returns the violations of one kind.
func (d *Decision) Failed(kind ViolationKind) []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}
