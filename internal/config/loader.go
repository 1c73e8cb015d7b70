package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: SQLGUARD_RETRY__MAX_ATTEMPTS sets retry.max_attempts.
const EnvPrefix = "SQLGUARD_"

// DefaultFiles are looked up in the working directory when no file is given.
var DefaultFiles = []string{"sql-guard.yaml", "sql-guard.yml"}

// flagKeys maps CLI flag names onto config keys. Other changed flags map
// kebab-case to snake_case at the top level.
var flagKeys = map[string]string{
	"max-attempts":     "retry.max_attempts",
	"backoff":          "retry.backoff_base_seconds",
	"table-limit":      "validator.complexity_table_limit",
	"score-limit":      "validator.complexity_score_limit",
	"allow":            "validator.allowed_operations",
	"advisory":         "validator.advisory_rules",
	"pattern-store":    "learning.store_path",
	"metrics-address":  "metrics.address",
	"enable-metrics":   "metrics.enabled",
	"disable-learning": "learning.enabled",
}

func defaults() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"log_level":                           d.LogLevel,
		"retry.max_attempts":                  d.Retry.MaxAttempts,
		"retry.backoff_base_seconds":          d.Retry.BackoffBaseSeconds,
		"validator.complexity_table_limit":    d.Validator.ComplexityTableLimit,
		"validator.complexity_score_limit":    d.Validator.ComplexityScoreLimit,
		"validator.hard_ceiling_factor":       d.Validator.HardCeilingFactor,
		"validator.advisory_rules":            d.Validator.AdvisoryRules,
		"validator.deep_pagination_threshold": d.Validator.DeepPaginationThreshold,
		"classifier.history_limit":            d.Classifier.HistoryLimit,
		"learning.enabled":                    d.Learning.Enabled,
		"learning.pattern_max_age_hours":      d.Learning.PatternMaxAgeHours,
		"learning.cleanup_schedule":           d.Learning.CleanupSchedule,
		"metrics.enabled":                     d.Metrics.Enabled,
		"metrics.address":                     d.Metrics.Address,
		"metrics.path":                        d.Metrics.Path,
	}
}

// Load reads configuration. Precedence (highest to lowest):
// flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path := findConfigFile(cfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			if f.Name == "disable-learning" {
				return flagKeys[f.Name], f.Value.String() != "true"
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns SQLGUARD_LEARNING__STORE_PATH into learning.store_path.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// findConfigFile returns the explicit path or the first default file present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}
