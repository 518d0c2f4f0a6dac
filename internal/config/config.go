// Package config defines the validated configuration value the core
// consumes. Discovery and parsing of a config *file* is an explicit
// Non-goal of the core itself (spec.md §1); this package still owns
// defaults, YAML load/save, and environment-variable overrides for the
// host binary that does do that discovery.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the phase orchestration core needs.
type Config struct {
	// Home is the state directory root (<home>/specs/<id>/...).
	Home string `yaml:"home"`

	Provider ProviderConfig `yaml:"provider"`
	Packet   PacketConfig   `yaml:"packet"`
	Runner   RunnerConfig   `yaml:"runner"`
	Lock     LockConfig     `yaml:"lock"`
	Redact   RedactConfig   `yaml:"redact"`
	Logging  LoggingConfig  `yaml:"logging"`

	// StrictValidation rejects a phase response that fails its validation
	// floor instead of only warning (spec.md §4.7).
	StrictValidation bool `yaml:"strict_validation"`
	// StrictDrift fails a run before any phase executes when the current
	// provider/model has drifted from the spec's reproducibility lockfile
	// (spec.md §3, "Reproducibility Lockfile").
	StrictDrift bool `yaml:"strict_drift"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Home: defaultHome(),

		Provider: ProviderConfig{
			Executable: "claude",
			Model:      "",
			Timeout:    "600s",
		},

		Packet: PacketConfig{
			MaxBytes: 65536,
			MaxLines: 1200,
		},

		Runner: RunnerConfig{
			TimeoutSeconds:    600,
			StdoutBufferBytes: 1 << 20,
			StderrBufferBytes: 1 << 18,
		},

		Lock: LockConfig{
			TTL: "2h",
		},

		Redact: RedactConfig{},

		StrictValidation: false,
		StrictDrift:      false,

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultHome() string {
	if env := os.Getenv("XCHECKER_HOME"); env != "" {
		return env
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, ".xchecker")
}

// Load loads configuration from a YAML file, falling back to defaults (plus
// environment overrides) when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, highest
// precedence last.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("XCHECKER_HOME"); v != "" {
		c.Home = v
	}
	if v := os.Getenv("XCHECKER_PROVIDER"); v != "" {
		c.Provider.Executable = v
	}
	if v := os.Getenv("XCHECKER_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("XCHECKER_STRICT_VALIDATION"); v == "1" || v == "true" {
		c.StrictValidation = true
	}
	if v := os.Getenv("XCHECKER_STRICT_DRIFT"); v == "1" || v == "true" {
		c.StrictDrift = true
	}
}

// RunnerTimeout returns the runner wall-clock timeout as a duration.
func (c *Config) RunnerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil || d <= 0 {
		return time.Duration(c.Runner.TimeoutSeconds) * time.Second
	}
	return d
}

// LockTTL returns the advisory lock staleness TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	d, err := time.ParseDuration(c.Lock.TTL)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Provider.Executable == "" {
		return fmt.Errorf("config: provider.executable must not be empty")
	}
	if c.Packet.MaxBytes <= 0 {
		return fmt.Errorf("config: packet.max_bytes must be > 0")
	}
	if c.Packet.MaxLines <= 0 {
		return fmt.Errorf("config: packet.max_lines must be > 0")
	}
	if c.Runner.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: runner.timeout_seconds must be > 0")
	}
	return nil
}
