package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"kimpact/internal/kerrors"
)

// Config represents the complete kimpact configuration
type Config struct {
	Kernel       KernelConfig       `json:"kernel" mapstructure:"kernel"`
	Preprocessor PreprocessorConfig `json:"preprocessor" mapstructure:"preprocessor"`
	Analysis     AnalysisConfig     `json:"analysis" mapstructure:"analysis"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage"`
	Ingest       IngestConfig       `json:"ingest" mapstructure:"ingest"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
}

// KernelConfig locates the kernel tree and the target subsystem
type KernelConfig struct {
	Root      string `json:"root" mapstructure:"root"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`
}

// PreprocessorConfig controls the external C preprocessor
type PreprocessorConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	Binary         string   `json:"binary" mapstructure:"binary"`
	TimeoutSeconds int      `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	ExtraDefines   []string `json:"extraDefines" mapstructure:"extraDefines"`
	ExtraIncludes  []string `json:"extraIncludes" mapstructure:"extraIncludes"`
}

// AnalysisConfig controls traversal depth, result limits and risk thresholds
type AnalysisConfig struct {
	MaxDepth              int `json:"maxDepth" mapstructure:"maxDepth"`
	MaxResults            int `json:"maxResults" mapstructure:"maxResults"`
	HighCallerThreshold   int `json:"highCallerThreshold" mapstructure:"highCallerThreshold"`
	MediumCallerThreshold int `json:"mediumCallerThreshold" mapstructure:"mediumCallerThreshold"`
	LowCoverageThreshold  int `json:"lowCoverageThreshold" mapstructure:"lowCoverageThreshold"`
}

// StorageConfig locates the SQLite graph store
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// IngestConfig controls the per-file worker pool
type IngestConfig struct {
	Workers int `json:"workers" mapstructure:"workers"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			Root:      ".",
			Subsystem: "fs/ext4",
		},
		Preprocessor: PreprocessorConfig{
			Enabled:        true,
			Binary:         "gcc",
			TimeoutSeconds: 60,
		},
		Analysis: AnalysisConfig{
			MaxDepth:              3,
			MaxResults:            100,
			HighCallerThreshold:   100,
			MediumCallerThreshold: 50,
			LowCoverageThreshold:  1,
		},
		Storage: StorageConfig{
			Path: ".kimpact/kimpact.db",
		},
		Ingest: IngestConfig{
			Workers: runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load reads configuration from kimpact.{yaml,json} in the given directory
// (and the working directory), applies KIMPACT_* environment overrides, and
// falls back to defaults when no file exists.
func Load(dir string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("kernel.root", defaults.Kernel.Root)
	v.SetDefault("kernel.subsystem", defaults.Kernel.Subsystem)
	v.SetDefault("preprocessor.enabled", defaults.Preprocessor.Enabled)
	v.SetDefault("preprocessor.binary", defaults.Preprocessor.Binary)
	v.SetDefault("preprocessor.timeoutSeconds", defaults.Preprocessor.TimeoutSeconds)
	v.SetDefault("analysis.maxDepth", defaults.Analysis.MaxDepth)
	v.SetDefault("analysis.maxResults", defaults.Analysis.MaxResults)
	v.SetDefault("analysis.highCallerThreshold", defaults.Analysis.HighCallerThreshold)
	v.SetDefault("analysis.mediumCallerThreshold", defaults.Analysis.MediumCallerThreshold)
	v.SetDefault("analysis.lowCoverageThreshold", defaults.Analysis.LowCoverageThreshold)
	v.SetDefault("storage.path", defaults.Storage.Path)
	v.SetDefault("ingest.workers", defaults.Ingest.Workers)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.level", defaults.Logging.Level)

	v.SetConfigName("kimpact")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("KIMPACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, kerrors.New(kerrors.ConfigInvalid, "reading config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kerrors.New(kerrors.ConfigInvalid, "unmarshaling config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Analysis.MaxDepth < 1 {
		return kerrors.New(kerrors.ConfigInvalid,
			fmt.Sprintf("analysis.maxDepth must be >= 1, got %d", c.Analysis.MaxDepth), nil)
	}
	if c.Analysis.MediumCallerThreshold > c.Analysis.HighCallerThreshold {
		return kerrors.New(kerrors.ConfigInvalid,
			"analysis.mediumCallerThreshold must not exceed analysis.highCallerThreshold", nil)
	}
	if c.Preprocessor.TimeoutSeconds < 1 {
		return kerrors.New(kerrors.ConfigInvalid,
			fmt.Sprintf("preprocessor.timeoutSeconds must be >= 1, got %d", c.Preprocessor.TimeoutSeconds), nil)
	}
	if c.Ingest.Workers < 1 {
		c.Ingest.Workers = 1
	}
	return nil
}

// Save writes the configuration as JSON to the given path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}
