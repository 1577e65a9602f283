package policy

// Spec is the loose, file-facing form of a policy. It is what config files
// decode into and what `qgate policy init` writes out. A Spec carries no
// guarantees; New turns it into a validated Policy.
type Spec struct {
	Weights                map[string]float64 `mapstructure:"weights" json:"weights" toml:"weights"`
	QMax                   float64            `mapstructure:"qMax" json:"qMax" toml:"qMax"`
	Epsilon                float64            `mapstructure:"epsilon" json:"epsilon" toml:"epsilon"`
	Tau                    float64            `mapstructure:"tau" json:"tau" toml:"tau"`
	Aggregate              string             `mapstructure:"aggregate" json:"aggregate" toml:"aggregate"`
	Penalty                PenaltySpec        `mapstructure:"penalty" json:"penalty" toml:"penalty"`
	Baseline               map[string]float64 `mapstructure:"baseline" json:"baseline" toml:"baseline"`
	HardConstraints        []ConstraintSpec   `mapstructure:"hardConstraints" json:"hardConstraints" toml:"hardConstraints"`
	Exemptions             []ExemptionSpec    `mapstructure:"exemptions" json:"exemptions" toml:"exemptions"`
	WitnessSize            int                `mapstructure:"witnessSize" json:"witnessSize" toml:"witnessSize"`
	Partition              PartitionSpec      `mapstructure:"partition" json:"partition" toml:"partition"`
	MaxStratificationLevel int                `mapstructure:"maxStratificationLevel" json:"maxStratificationLevel" toml:"maxStratificationLevel"`
	ProviderRetries        int                `mapstructure:"providerRetries" json:"providerRetries" toml:"providerRetries"`
	MaxDegradedRatio       float64            `mapstructure:"maxDegradedRatio" json:"maxDegradedRatio" toml:"maxDegradedRatio"`
}

// PenaltySpec configures the optional nonlinear penalty term.
type PenaltySpec struct {
	Kind      string  `mapstructure:"kind" json:"kind" toml:"kind"`
	Threshold float64 `mapstructure:"threshold" json:"threshold" toml:"threshold"`
	Weight    float64 `mapstructure:"weight" json:"weight" toml:"weight"`
}

// ConstraintSpec is one hard constraint as written in a policy file.
type ConstraintSpec struct {
	Name      string  `mapstructure:"name" json:"name" toml:"name"`
	Dimension string  `mapstructure:"dimension" json:"dimension" toml:"dimension"`
	Metric    string  `mapstructure:"metric" json:"metric" toml:"metric"`
	Threshold float64 `mapstructure:"threshold" json:"threshold,omitempty" toml:"threshold,omitempty"`
	Limit     float64 `mapstructure:"limit" json:"limit" toml:"limit"`
}

// ExemptionSpec excludes matching files from some or all dimensions.
// Expires accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
type ExemptionSpec struct {
	Pattern    string   `mapstructure:"pattern" json:"pattern" toml:"pattern"`
	Dimensions []string `mapstructure:"dimensions" json:"dimensions,omitempty" toml:"dimensions,omitempty"`
	Reason     string   `mapstructure:"reason" json:"reason,omitempty" toml:"reason,omitempty"`
	Expires    string   `mapstructure:"expires" json:"expires,omitempty" toml:"expires,omitempty"`
}

// PartitionSpec selects how files are grouped into modules for PCQ.
type PartitionSpec struct {
	Kind    string       `mapstructure:"kind" json:"kind" toml:"kind"`
	Depth   int          `mapstructure:"depth" json:"depth,omitempty" toml:"depth,omitempty"`
	File    string       `mapstructure:"file" json:"file,omitempty" toml:"file,omitempty"`
	Modules []ModuleSpec `mapstructure:"modules" json:"modules,omitempty" toml:"modules,omitempty"`
}

// ModuleSpec declares a named module by path patterns.
type ModuleSpec struct {
	Name  string   `mapstructure:"name" json:"name" toml:"name"`
	Paths []string `mapstructure:"paths" json:"paths" toml:"paths"`
}

// DefaultSpec returns the policy used when no policy file is configured.
func DefaultSpec() Spec {
	return Spec{
		Weights: map[string]float64{
			"complexity":     30,
			"churn":          15,
			"defect_markers": 20,
			"coverage_gap":   25,
		},
		QMax:      100,
		Epsilon:   0,
		Tau:       0.6,
		Aggregate: string(AggregateMean),
		Penalty: PenaltySpec{
			Kind:      string(PenaltyOutlier),
			Threshold: 0.8,
			Weight:    10,
		},
		Baseline: map[string]float64{
			"complexity":     0.3,
			"churn":          0.3,
			"defect_markers": 0.1,
			"coverage_gap":   0.4,
		},
		HardConstraints: []ConstraintSpec{
			{Name: "no-extreme-complexity", Dimension: "complexity", Metric: string(MetricMax), Limit: 0.95},
			{Name: "defect-marker-budget", Dimension: "defect_markers", Metric: string(MetricCountAbove), Threshold: 0.5, Limit: 5},
		},
		Exemptions: []ExemptionSpec{
			{Pattern: "vendor/**", Reason: "third-party code"},
			{Pattern: "testdata/**", Reason: "fixtures"},
		},
		WitnessSize: 5,
		Partition: PartitionSpec{
			Kind:  string(PartitionDirectory),
			Depth: 2,
		},
		MaxStratificationLevel: 2,
		ProviderRetries:        2,
		MaxDegradedRatio:       0.1,
	}
}
