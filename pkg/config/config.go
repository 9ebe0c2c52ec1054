// Package config loads engine configuration: built-in defaults, overlaid
// by an optional YAML file, overlaid by whatever the CLI flags set. Later
// layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/scoring"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Probe tunes the HTTP probe executor.
type Probe struct {
	Timeout            time.Duration `yaml:"timeout"`
	RateLimit          float64       `yaml:"rate_limit"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Proxy              string        `yaml:"proxy"`
}

// Routing tunes the lane thresholds.
type Routing struct {
	DeterministicThreshold float64 `yaml:"deterministic_threshold"`
	FreestyleThreshold     float64 `yaml:"freestyle_threshold"`
	WeightsFile            string  `yaml:"weights_file"`
	SignaturePreset        string  `yaml:"signature_preset"`
}

// Freestyle configures the LLM collaborator.
type Freestyle struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
}

// Telemetry configures trace export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Config is the full engine configuration.
type Config struct {
	AnomalyDir  string `yaml:"anomaly_dir"`
	BaselineDir string `yaml:"baseline_dir"`
	Seed        int64  `yaml:"seed"`
	LogLevel    string `yaml:"log_level"`

	Probe     Probe          `yaml:"probe"`
	Routing   Routing        `yaml:"routing"`
	Scoring   scoring.Config `yaml:"scoring"`
	Freestyle Freestyle      `yaml:"freestyle"`
	Telemetry Telemetry      `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AnomalyDir:  "anomalies",
		BaselineDir: "baselines",
		LogLevel:    "info",
		Probe: Probe{
			Timeout:   defaults.ProbeTimeout,
			RateLimit: defaults.ProbeRateLimit,
		},
		Routing: Routing{
			DeterministicThreshold: defaults.DeterministicThreshold,
			FreestyleThreshold:     defaults.FreestyleThreshold,
		},
		Scoring: scoring.DefaultConfig(),
		Freestyle: Freestyle{
			APIKeyEnv: "OPENAI_API_KEY",
		},
	}
}

// Load returns the default configuration overlaid with the YAML file at
// path. An empty path skips the file layer entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive", ErrInvalid)
	}
	if c.Probe.RateLimit <= 0 {
		return fmt.Errorf("%w: probe rate limit must be positive", ErrInvalid)
	}
	if c.Routing.DeterministicThreshold <= c.Routing.FreestyleThreshold {
		return fmt.Errorf("%w: deterministic threshold must exceed freestyle threshold", ErrInvalid)
	}
	if c.Routing.FreestyleThreshold < 0 || c.Routing.DeterministicThreshold > 1 {
		return fmt.Errorf("%w: lane thresholds must stay within [0,1]", ErrInvalid)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// APIKey resolves the collaborator API key from the configured
// environment variable. Keys never live in the config file itself.
func (c *Config) APIKey() string {
	if c.Freestyle.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Freestyle.APIKeyEnv)
}
