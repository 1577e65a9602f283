package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"qgate/internal/errors"
	"qgate/internal/policy"
)

// DirName is the per-repository directory holding config, cache and logs.
const DirName = ".qgate"

// Config represents the complete qgate engine configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Signals  SignalsConfig  `json:"signals" mapstructure:"signals"`
	Policy   PolicyConfig   `json:"policy" mapstructure:"policy"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// CacheConfig contains metric cache configuration
type CacheConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`           // relative to the repo root unless absolute
	Capacity int    `json:"capacity" mapstructure:"capacity"` // in-memory LRU entries
	Persist  bool   `json:"persist" mapstructure:"persist"`
}

// AnalysisConfig contains incremental analysis configuration
type AnalysisConfig struct {
	Workers              int     `json:"workers" mapstructure:"workers"`
	IncrementalThreshold float64 `json:"incrementalThreshold" mapstructure:"incrementalThreshold"`
	ProviderTimeoutMs    int     `json:"providerTimeoutMs" mapstructure:"providerTimeoutMs"`
}

// SignalsConfig tunes the reference metric provider
type SignalsConfig struct {
	ComplexityCap    int      `json:"complexityCap" mapstructure:"complexityCap"`
	ChurnCap         int      `json:"churnCap" mapstructure:"churnCap"`
	ChurnWindowDays  int      `json:"churnWindowDays" mapstructure:"churnWindowDays"`
	Markers          []string `json:"markers" mapstructure:"markers"`
	MarkerDensityCap float64  `json:"markerDensityCap" mapstructure:"markerDensityCap"` // markers per 100 lines
	CoverageProfile  string   `json:"coverageProfile" mapstructure:"coverageProfile"`
}

// PolicyConfig locates the policy file
type PolicyConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// MetricsConfig contains Prometheus textfile export configuration
type MetricsConfig struct {
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Cache: CacheConfig{
			Dir:      filepath.Join(DirName, "cache"),
			Capacity: 10000,
			Persist:  true,
		},
		Analysis: AnalysisConfig{
			Workers:              4,
			IncrementalThreshold: 0.3,
			ProviderTimeoutMs:    10000,
		},
		Signals: SignalsConfig{
			ComplexityCap:    30,
			ChurnCap:         50,
			ChurnWindowDays:  90,
			Markers:          []string{"TODO", "FIXME", "HACK", "XXX"},
			MarkerDensityCap: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// setDefaults registers every DefaultConfig value with viper so partial
// config files and QGATE_* environment variables overlay the defaults.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.persist", d.Cache.Persist)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.incrementalThreshold", d.Analysis.IncrementalThreshold)
	v.SetDefault("analysis.providerTimeoutMs", d.Analysis.ProviderTimeoutMs)
	v.SetDefault("signals.complexityCap", d.Signals.ComplexityCap)
	v.SetDefault("signals.churnCap", d.Signals.ChurnCap)
	v.SetDefault("signals.churnWindowDays", d.Signals.ChurnWindowDays)
	v.SetDefault("signals.markers", d.Signals.Markers)
	v.SetDefault("signals.markerDensityCap", d.Signals.MarkerDensityCap)
	v.SetDefault("signals.coverageProfile", d.Signals.CoverageProfile)
	v.SetDefault("policy.path", d.Policy.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// LoadConfig loads configuration from .qgate/config.{json,yaml,toml} under
// repoRoot. A missing file yields the defaults; QGATE_* environment
// variables (e.g. QGATE_ANALYSIS_WORKERS) override either.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(repoRoot, DirName))
	v.SetEnvPrefix("QGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.New(errors.ConfigurationError, "failed to read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New(errors.ConfigurationError, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigurationError, "invalid config", err)
	}
	return &cfg, nil
}

// Save writes the configuration as JSON to .qgate/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Cache.Capacity < 1 {
		return &ConfigError{Field: "cache.capacity", Message: "must be at least 1"}
	}
	if c.Analysis.Workers < 1 {
		return &ConfigError{Field: "analysis.workers", Message: "must be at least 1"}
	}
	if c.Analysis.IncrementalThreshold < 0 || c.Analysis.IncrementalThreshold > 1 {
		return &ConfigError{Field: "analysis.incrementalThreshold", Message: "must be in [0,1]"}
	}
	if c.Analysis.ProviderTimeoutMs < 0 {
		return &ConfigError{Field: "analysis.providerTimeoutMs", Message: "must not be negative"}
	}
	if c.Signals.ComplexityCap < 1 || c.Signals.ChurnCap < 1 {
		return &ConfigError{Field: "signals", Message: "caps must be at least 1"}
	}
	if c.Signals.MarkerDensityCap <= 0 {
		return &ConfigError{Field: "signals.markerDensityCap", Message: "must be positive"}
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must not be negative"}
	}
	return nil
}

// CacheDir resolves the cache directory against repoRoot
func (c *Config) CacheDir(repoRoot string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(repoRoot, c.Cache.Dir)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// LoadPolicy reads a policy file (JSON, YAML or TOML, chosen by extension)
// and validates it. Fields the file omits take their default values. An
// empty path yields the default policy.
func LoadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(errors.ConfigurationError, fmt.Sprintf("failed to read policy %s", path), err)
	}

	// Lists in the file replace the default lists instead of merging by index.
	spec := policy.DefaultSpec()
	if v.IsSet("hardConstraints") {
		spec.HardConstraints = nil
	}
	if v.IsSet("exemptions") {
		spec.Exemptions = nil
	}
	// Unknown keys are errors: a misspelled key would otherwise keep its default.
	if err := v.UnmarshalExact(&spec); err != nil {
		return nil, errors.New(errors.ConfigurationError, fmt.Sprintf("failed to decode policy %s", path), err)
	}
	return policy.New(spec)
}
