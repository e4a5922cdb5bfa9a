// Package config loads outlierscan settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"outlierscan/internal/fsutil"
	"outlierscan/internal/logging"
)

// DefaultPath is where the config file is looked up when --config is not
// given.
const DefaultPath = ".outlierscan/config.yaml"

// Config holds all outlierscan configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Output   OutputConfig   `yaml:"output"`
	State    StateConfig    `yaml:"state"`
	Logging  LoggingConfig  `yaml:"logging"`
	Report   ReportConfig   `yaml:"report"`
}

// PipelineConfig controls how stages are launched.
type PipelineConfig struct {
	// StageTimeout bounds each stage process.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// StageBinary is the stage executable; empty means this executable.
	StageBinary string `yaml:"stage_binary"`
	// ScratchDir is where per-run scratch directories are created; empty
	// means the OS temp dir.
	ScratchDir string `yaml:"scratch_dir"`
}

// OutputConfig controls where result files go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// StateConfig locates the run ledger.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReportConfig controls the end-of-run summary.
type ReportConfig struct {
	WarningSamples int `yaml:"warning_samples"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			StageTimeout: 60 * time.Second,
		},
		Output: OutputConfig{
			Dir: filepath.Join(os.TempDir(), "pbs-handler"),
		},
		State: StateConfig{
			Dir: ".outlierscan",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		Report: ReportConfig{
			WarningSamples: 5,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	if err := fsutil.EnsureDir(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := fsutil.WriteBytesAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("OUTLIERSCAN_STAGE_BIN"); v != "" {
		c.Pipeline.StageBinary = v
	}
	if v := os.Getenv("OUTLIERSCAN_STAGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OUTLIERSCAN_STAGE_TIMEOUT: %w", err)
		}
		c.Pipeline.StageTimeout = d
	}
	if v := os.Getenv("OUTLIERSCAN_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("OUTLIERSCAN_STATE_DIR"); v != "" {
		c.State.Dir = v
	}
	if v := os.Getenv("OUTLIERSCAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be positive, got %s", c.Pipeline.StageTimeout)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format: unknown format %q (want json or console)", c.Logging.Format)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.Report.WarningSamples < 0 {
		return fmt.Errorf("report.warning_samples must not be negative")
	}
	return nil
}

// StageBinary returns the configured stage executable, or the running
// executable when none is configured.
func (c *Config) StageBinary() (string, error) {
	if c.Pipeline.StageBinary != "" {
		return c.Pipeline.StageBinary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate own executable; set pipeline.stage_binary: %w", err)
	}
	return self, nil
}
