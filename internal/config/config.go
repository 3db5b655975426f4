// Package config loads the tbl configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root of .tbl.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Duplication DuplicationConfig `yaml:"duplication"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// EvaluationConfig tunes the expression engine.
type EvaluationConfig struct {
	MaxDepth       int  `yaml:"max_depth"`
	Parallelism    int  `yaml:"parallelism"`
	LegacyMatching bool `yaml:"legacy_matching"`
}

// DuplicationConfig tunes subtree copies.
type DuplicationConfig struct {
	MaxAttempts  int  `yaml:"max_attempts"`
	SuffixLabels bool `yaml:"suffix_labels"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Evaluation: EvaluationConfig{
			MaxDepth:       32,
			Parallelism:    8,
			LegacyMatching: true,
		},
		Duplication: DuplicationConfig{
			MaxAttempts:  3,
			SuffixLabels: true,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("TBL_DB"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("TBL_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "console"}
)

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid logging.level %q (valid: %v)", c.Logging.Level, validLevels)
	}
	if !contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("invalid logging.format %q (valid: %v)", c.Logging.Format, validFormats)
	}
	if c.Evaluation.MaxDepth < 1 {
		return fmt.Errorf("evaluation.max_depth must be positive, got %d", c.Evaluation.MaxDepth)
	}
	if c.Evaluation.Parallelism < 1 {
		return fmt.Errorf("evaluation.parallelism must be positive, got %d", c.Evaluation.Parallelism)
	}
	if c.Duplication.MaxAttempts < 1 {
		return fmt.Errorf("duplication.max_attempts must be positive, got %d", c.Duplication.MaxAttempts)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
