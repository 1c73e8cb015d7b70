// Package config loads sql-guard settings from defaults, a YAML file,
// SQLGUARD_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sql-guard/internal/model"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full process-wide configuration.
type Config struct {
	LogLevel   string           `koanf:"log_level" yaml:"log_level" json:"log_level"`
	Retry      RetryConfig      `koanf:"retry" yaml:"retry" json:"retry"`
	Validator  ValidatorConfig  `koanf:"validator" yaml:"validator" json:"validator"`
	Classifier ClassifierConfig `koanf:"classifier" yaml:"classifier" json:"classifier"`
	Learning   LearningConfig   `koanf:"learning" yaml:"learning" json:"learning"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics" json:"metrics"`
}

// RetryConfig bounds the retry handler.
type RetryConfig struct {
	MaxAttempts        int     `koanf:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	BackoffBaseSeconds float64 `koanf:"backoff_base_seconds" yaml:"backoff_base_seconds" json:"backoff_base_seconds"`
	// Strategies overrides the default strategy of an error type.
	Strategies map[string]string `koanf:"strategies" yaml:"strategies,omitempty" json:"strategies,omitempty"`
}

// ValidatorConfig holds the security validator limits.
type ValidatorConfig struct {
	ComplexityTableLimit    int      `koanf:"complexity_table_limit" yaml:"complexity_table_limit" json:"complexity_table_limit"`
	ComplexityScoreLimit    float64  `koanf:"complexity_score_limit" yaml:"complexity_score_limit" json:"complexity_score_limit"`
	HardCeilingFactor       float64  `koanf:"hard_ceiling_factor" yaml:"hard_ceiling_factor" json:"hard_ceiling_factor"`
	AllowedOperations       []string `koanf:"allowed_operations" yaml:"allowed_operations,omitempty" json:"allowed_operations,omitempty"`
	AdvisoryRules           bool     `koanf:"advisory_rules" yaml:"advisory_rules" json:"advisory_rules"`
	DeepPaginationThreshold int64    `koanf:"deep_pagination_threshold" yaml:"deep_pagination_threshold" json:"deep_pagination_threshold"`
	// InjectionSignatures adds regular expressions, keyed by ID, to the
	// built-in injection scan.
	InjectionSignatures map[string]string `koanf:"injection_signatures" yaml:"injection_signatures,omitempty" json:"injection_signatures,omitempty"`
}

// ClassifierConfig sizes the classification history window.
type ClassifierConfig struct {
	HistoryLimit int `koanf:"history_limit" yaml:"history_limit" json:"history_limit"`
}

// LearningConfig controls the pattern learning service.
type LearningConfig struct {
	Enabled            bool    `koanf:"enabled" yaml:"enabled" json:"enabled"`
	PatternMaxAgeHours float64 `koanf:"pattern_max_age_hours" yaml:"pattern_max_age_hours" json:"pattern_max_age_hours"`
	CleanupSchedule    string  `koanf:"cleanup_schedule" yaml:"cleanup_schedule" json:"cleanup_schedule"`
	// StorePath is a SQLite file for learned patterns. Empty keeps them in memory.
	StorePath string `koanf:"store_path" yaml:"store_path,omitempty" json:"store_path,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Address string `koanf:"address" yaml:"address" json:"address"`
	Path    string `koanf:"path" yaml:"path" json:"path"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Retry: RetryConfig{
			MaxAttempts:        3,
			BackoffBaseSeconds: 1.0,
		},
		Validator: ValidatorConfig{
			ComplexityTableLimit:    10,
			ComplexityScoreLimit:    100.0,
			HardCeilingFactor:       2.0,
			DeepPaginationThreshold: 5000,
		},
		Classifier: ClassifierConfig{HistoryLimit: 1000},
		Learning: LearningConfig{
			Enabled:            true,
			PatternMaxAgeHours: 48,
			CleanupSchedule:    "@every 10m",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate fills defaults for zero values and rejects out-of-range ones.
func (c *Config) Validate() error {
	d := Default()

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry.max_attempts must not be negative, got %d", ErrInvalidConfig, c.Retry.MaxAttempts)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BackoffBaseSeconds < 0 {
		return fmt.Errorf("%w: retry.backoff_base_seconds must not be negative, got %v", ErrInvalidConfig, c.Retry.BackoffBaseSeconds)
	}
	if _, err := c.Retry.StrategyOverrides(); err != nil {
		return err
	}

	v := &c.Validator
	if v.ComplexityTableLimit < 0 || v.ComplexityScoreLimit < 0 || v.DeepPaginationThreshold < 0 {
		return fmt.Errorf("%w: validator limits must not be negative", ErrInvalidConfig)
	}
	if v.ComplexityTableLimit == 0 {
		v.ComplexityTableLimit = d.Validator.ComplexityTableLimit
	}
	if v.ComplexityScoreLimit == 0 {
		v.ComplexityScoreLimit = d.Validator.ComplexityScoreLimit
	}
	if v.HardCeilingFactor == 0 {
		v.HardCeilingFactor = d.Validator.HardCeilingFactor
	}
	if v.HardCeilingFactor < 1 {
		return fmt.Errorf("%w: validator.hard_ceiling_factor must be at least 1, got %v", ErrInvalidConfig, v.HardCeilingFactor)
	}
	if v.DeepPaginationThreshold == 0 {
		v.DeepPaginationThreshold = d.Validator.DeepPaginationThreshold
	}
	for i, op := range v.AllowedOperations {
		v.AllowedOperations[i] = strings.ToUpper(strings.TrimSpace(op))
	}
	for id, expr := range v.InjectionSignatures {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("%w: validator.injection_signatures.%s: %v", ErrInvalidConfig, id, err)
		}
	}

	if c.Classifier.HistoryLimit < 0 {
		return fmt.Errorf("%w: classifier.history_limit must not be negative", ErrInvalidConfig)
	}
	if c.Classifier.HistoryLimit == 0 {
		c.Classifier.HistoryLimit = d.Classifier.HistoryLimit
	}

	if c.Learning.PatternMaxAgeHours < 0 {
		return fmt.Errorf("%w: learning.pattern_max_age_hours must not be negative", ErrInvalidConfig)
	}
	if c.Learning.PatternMaxAgeHours == 0 {
		c.Learning.PatternMaxAgeHours = d.Learning.PatternMaxAgeHours
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("%w: metrics.address is required when metrics are enabled", ErrInvalidConfig)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
	return nil
}

// Backoff returns the base backoff as a duration.
func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffBaseSeconds * float64(time.Second))
}

// StrategyOverrides parses the configured per-type strategies.
func (r RetryConfig) StrategyOverrides() (map[model.ErrorType]model.RetryStrategy, error) {
	out := make(map[model.ErrorType]model.RetryStrategy, len(r.Strategies))
	for typ, strategy := range r.Strategies {
		t, err := model.ParseErrorType(typ)
		if err != nil {
			return nil, fmt.Errorf("%w: retry.strategies: %v", ErrInvalidConfig, err)
		}
		s, err := model.ParseRetryStrategy(strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: retry.strategies.%s: %v", ErrInvalidConfig, typ, err)
		}
		out[t] = s
	}
	return out, nil
}

// MaxAge returns the pattern freshness window.
func (l LearningConfig) MaxAge() time.Duration {
	return time.Duration(l.PatternMaxAgeHours * float64(time.Hour))
}
