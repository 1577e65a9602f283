// Package policy holds the validated, immutable admission policy.
//
// A Policy is only ever produced by New, which validates every field and
// cross-field invariant eagerly. Out-of-range values are configuration
// errors; nothing is clamped.
package policy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"qgate/internal/errors"
	"qgate/internal/risk"
)

// Aggregate selects how a dimension is folded across files.
type Aggregate string

const (
	AggregateMean Aggregate = "mean"
	AggregateMax  Aggregate = "max"
	AggregateP90  Aggregate = "p90"
)

// PenaltyKind selects the nonlinear penalty term.
type PenaltyKind string

const (
	PenaltyNone    PenaltyKind = "none"
	PenaltyOutlier PenaltyKind = "outlier"
)

// Metric is the statistic a hard constraint is evaluated on.
type Metric string

const (
	MetricMean       Metric = "mean"
	MetricMax        Metric = "max"
	MetricCountAbove Metric = "count_above"
)

// PartitionKind selects the module-partition rule.
type PartitionKind string

const (
	PartitionDirectory PartitionKind = "directory"
	PartitionDeclared  PartitionKind = "declared"
	PartitionManifest  PartitionKind = "manifest"
)

// Penalty is the optional outlier penalty. With Kind none it is the zero function.
type Penalty struct {
	Kind      PenaltyKind `json:"kind" validate:"oneof=none outlier"`
	Threshold float64     `json:"threshold" validate:"gte=0,lt=1"`
	Weight    float64     `json:"weight" validate:"gte=0"`
}

// HardConstraint is a binary, tolerance-free check on head.
// It passes when the measured value is at most Limit.
type HardConstraint struct {
	Name      string         `json:"name" validate:"required"`
	Dimension risk.Dimension `json:"dimension"`
	Metric    Metric         `json:"metric" validate:"oneof=mean max count_above"`
	Threshold float64        `json:"threshold" validate:"gte=0,lte=1"`
	Limit     float64        `json:"limit" validate:"gte=0"`
}

// Exemption excludes matching files from the listed dimensions.
// An empty Dimensions list exempts the file from every dimension.
type Exemption struct {
	Pattern    string           `json:"pattern" validate:"required,glob"`
	Dimensions []risk.Dimension `json:"dimensions,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Expires    *time.Time       `json:"expires,omitempty"`
}

// Module names the partitioner assigns itself. Declarations cannot use them.
const (
	RootModuleName       = "."
	UnassignedModuleName = "(unassigned)"
)

// ModuleDecl declares a named module by path patterns.
type ModuleDecl struct {
	Name  string   `json:"name" validate:"required"`
	Paths []string `json:"paths" validate:"required,min=1,dive,glob"`
}

// Partition is the module-partition rule used by PCQ.
type Partition struct {
	Kind    PartitionKind `json:"kind" validate:"oneof=directory declared manifest"`
	Depth   int           `json:"depth" validate:"gte=0"`
	File    string        `json:"file,omitempty"`
	Modules []ModuleDecl  `json:"modules,omitempty" validate:"dive"`
}

// Policy is the validated admission policy.
type Policy struct {
	Weights                risk.Vector      `json:"weights"`
	QMax                   float64          `json:"qMax" validate:"gt=0"`
	Epsilon                float64          `json:"epsilon" validate:"gte=0,lte=1"`
	Tau                    float64          `json:"tau" validate:"gte=0,lte=1"`
	Aggregate              Aggregate        `json:"aggregate" validate:"oneof=mean max p90"`
	Penalty                Penalty          `json:"penalty"`
	Baseline               risk.Vector      `json:"baseline"`
	HardConstraints        []HardConstraint `json:"hardConstraints" validate:"dive"`
	Exemptions             []Exemption      `json:"exemptions" validate:"dive"`
	WitnessSize            int              `json:"witnessSize" validate:"gte=1"`
	Partition              Partition        `json:"partition"`
	MaxStratificationLevel int              `json:"maxStratificationLevel" validate:"gte=1"`
	ProviderRetries        int              `json:"providerRetries" validate:"gte=0,lte=10"`
	MaxDegradedRatio       float64          `json:"maxDegradedRatio" validate:"gte=0,lte=1"`
}

// Default returns the validated default policy.
func Default() *Policy {
	p, err := New(DefaultSpec())
	if err != nil {
		panic("default policy is invalid: " + err.Error())
	}
	return p
}

// New converts a Spec into a validated Policy. Any problem is returned as a
// CONFIGURATION_ERROR wrapping a *ValidationError naming the field.
func New(spec Spec) (*Policy, error) {
	p, verr := fromSpec(spec)
	if verr != nil {
		return nil, configError(verr)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate re-checks every invariant of the policy. The engine calls it
// before each use, so a Policy mutated after construction is still caught.
func (p *Policy) Validate() error {
	if p == nil {
		return configError(&ValidationError{Field: "policy", Message: "policy is nil"})
	}
	if verr := validateStruct(p); verr != nil {
		return configError(verr)
	}
	if verr := p.validateInvariants(); verr != nil {
		return configError(verr)
	}
	return nil
}

func (p *Policy) validateInvariants() *ValidationError {
	if math.IsNaN(p.QMax) || math.IsInf(p.QMax, 0) {
		return &ValidationError{Field: "qMax", Message: "must be a finite number"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"epsilon", p.Epsilon}, {"tau", p.Tau}, {"maxDegradedRatio", p.MaxDegradedRatio}, {"penalty.threshold", p.Penalty.Threshold}, {"penalty.weight", p.Penalty.Weight}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Message: "must be a finite number"}
		}
	}

	sum := 0.0
	for _, d := range risk.AllDimensions() {
		w := p.Weights.At(d)
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return &ValidationError{Field: "weights." + d.String(), Message: "must be a finite number >= 0"}
		}
		sum += w
	}
	if err := p.Baseline.Validate(); err != nil {
		return &ValidationError{Field: "baseline", Message: err.Error()}
	}

	penaltyWeight := 0.0
	if p.Penalty.Kind == PenaltyOutlier {
		penaltyWeight = p.Penalty.Weight
	}
	if sum+penaltyWeight > p.QMax {
		return &ValidationError{
			Field:   "weights",
			Message: fmt.Sprintf("sum of weights and penalty weight (%g) exceeds qMax (%g)", sum+penaltyWeight, p.QMax),
		}
	}

	names := make(map[string]bool, len(p.HardConstraints))
	for i, hc := range p.HardConstraints {
		field := fmt.Sprintf("hardConstraints[%d]", i)
		if names[hc.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate constraint name %q", hc.Name)}
		}
		names[hc.Name] = true
		if !hc.Dimension.Valid() {
			return &ValidationError{Field: field + ".dimension", Message: "unknown dimension"}
		}
		if math.IsNaN(hc.Limit) || math.IsInf(hc.Limit, 0) {
			return &ValidationError{Field: field + ".limit", Message: "must be a finite number"}
		}
		if hc.Metric != MetricCountAbove && hc.Limit > 1 {
			return &ValidationError{Field: field + ".limit", Message: "mean and max limits must be in [0,1]"}
		}
	}

	for i, ex := range p.Exemptions {
		for _, d := range ex.Dimensions {
			if !d.Valid() {
				return &ValidationError{Field: fmt.Sprintf("exemptions[%d].dimensions", i), Message: "unknown dimension"}
			}
		}
	}

	switch p.Partition.Kind {
	case PartitionDirectory:
		if p.Partition.Depth < 1 {
			return &ValidationError{Field: "partition.depth", Message: "directory partitions need depth >= 1"}
		}
	case PartitionDeclared:
		if len(p.Partition.Modules) == 0 && p.Partition.File == "" {
			return &ValidationError{Field: "partition.modules", Message: "declared partitions need modules or a modules file"}
		}
		seen := make(map[string]bool, len(p.Partition.Modules))
		for i, m := range p.Partition.Modules {
			if m.Name == RootModuleName || m.Name == UnassignedModuleName {
				return &ValidationError{Field: fmt.Sprintf("partition.modules[%d].name", i), Message: fmt.Sprintf("module name %q is reserved", m.Name)}
			}
			if seen[m.Name] {
				return &ValidationError{Field: fmt.Sprintf("partition.modules[%d].name", i), Message: fmt.Sprintf("duplicate module %q", m.Name)}
			}
			seen[m.Name] = true
		}
	}
	return nil
}

// WeightSum returns Σ wᵢ.
func (p *Policy) WeightSum() float64 {
	sum := 0.0
	for _, d := range risk.AllDimensions() {
		sum += p.Weights.At(d)
	}
	return sum
}

// Digest returns a hex blake2b-256 digest of the policy's canonical JSON form.
func (p *Policy) Digest() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Matches reports whether the exemption's pattern matches a slash-separated path.
func (e Exemption) Matches(p string) bool {
	return MatchPattern(e.Pattern, p)
}

// Covers reports whether the exemption applies to dimension d.
func (e Exemption) Covers(d risk.Dimension) bool {
	if len(e.Dimensions) == 0 {
		return true
	}
	for _, ed := range e.Dimensions {
		if ed == d {
			return true
		}
	}
	return false
}

// Expired reports whether the exemption has lapsed at asOf.
func (e Exemption) Expired(asOf time.Time) bool {
	return e.Expires != nil && !asOf.Before(*e.Expires)
}

// MatchPattern matches slash-separated paths against a pattern.
//
//	dir/** or dir/   everything below dir
//	*.pb.go          base-name match when the pattern has no slash
//	a/*/b.go         path.Match on the full path
func MatchPattern(pattern, p string) bool {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "**")
		return strings.HasPrefix(p, prefix)
	case strings.HasSuffix(pattern, "/"):
		return strings.HasPrefix(p, pattern)
	case !strings.Contains(pattern, "/"):
		ok, _ := path.Match(pattern, path.Base(p))
		return ok
	default:
		ok, _ := path.Match(pattern, p)
		return ok
	}
}

func validPattern(pattern string) bool {
	pattern = strings.TrimSuffix(strings.TrimSuffix(pattern, "**"), "/")
	if pattern == "" {
		return false
	}
	_, err := path.Match(pattern, "")
	return err == nil
}

func fromSpec(s Spec) (*Policy, *ValidationError) {
	p := &Policy{
		QMax:                   s.QMax,
		Epsilon:                s.Epsilon,
		Tau:                    s.Tau,
		Aggregate:              Aggregate(strings.ToLower(s.Aggregate)),
		WitnessSize:            s.WitnessSize,
		MaxStratificationLevel: s.MaxStratificationLevel,
		ProviderRetries:        s.ProviderRetries,
		MaxDegradedRatio:       s.MaxDegradedRatio,
		Penalty: Penalty{
			Kind:      PenaltyKind(strings.ToLower(s.Penalty.Kind)),
			Threshold: s.Penalty.Threshold,
			Weight:    s.Penalty.Weight,
		},
		Partition: Partition{
			Kind:  PartitionKind(strings.ToLower(s.Partition.Kind)),
			Depth: s.Partition.Depth,
			File:  s.Partition.File,
		},
	}
	if p.Penalty.Kind == "" {
		p.Penalty.Kind = PenaltyNone
	}

	var verr *ValidationError
	if p.Weights, verr = vectorFromMap("weights", s.Weights); verr != nil {
		return nil, verr
	}
	if p.Baseline, verr = vectorFromMap("baseline", s.Baseline); verr != nil {
		return nil, verr
	}

	for i, c := range s.HardConstraints {
		d, err := risk.ParseDimension(c.Dimension)
		if err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("hardConstraints[%d].dimension", i), Message: err.Error()}
		}
		p.HardConstraints = append(p.HardConstraints, HardConstraint{
			Name:      c.Name,
			Dimension: d,
			Metric:    Metric(strings.ToLower(c.Metric)),
			Threshold: c.Threshold,
			Limit:     c.Limit,
		})
	}

	for i, e := range s.Exemptions {
		ex := Exemption{Pattern: e.Pattern, Reason: e.Reason}
		for _, name := range e.Dimensions {
			d, err := risk.ParseDimension(name)
			if err != nil {
				return nil, &ValidationError{Field: fmt.Sprintf("exemptions[%d].dimensions", i), Message: err.Error()}
			}
			ex.Dimensions = append(ex.Dimensions, d)
		}
		if e.Expires != "" {
			t, err := parseExpiry(e.Expires)
			if err != nil {
				return nil, &ValidationError{Field: fmt.Sprintf("exemptions[%d].expires", i), Message: err.Error()}
			}
			ex.Expires = &t
		}
		p.Exemptions = append(p.Exemptions, ex)
	}

	for _, m := range s.Partition.Modules {
		p.Partition.Modules = append(p.Partition.Modules, ModuleDecl{
			Name:  m.Name,
			Paths: append([]string(nil), m.Paths...),
		})
	}
	return p, nil
}

func vectorFromMap(field string, m map[string]float64) (risk.Vector, *ValidationError) {
	var v risk.Vector
	for name, val := range m {
		d, err := risk.ParseDimension(name)
		if err != nil {
			return v, &ValidationError{Field: field + "." + name, Message: err.Error()}
		}
		v = v.With(d, val)
	}
	return v, nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD date, got %q", s)
	}
	return t, nil
}

func configError(verr *ValidationError) error {
	return errors.New(errors.ConfigurationError, "invalid policy", verr).
		WithDetails(map[string]string{"field": verr.Field})
}
