package main

import (
	"context"
	"fmt"
	"os"

	"kimpact/internal/config"
	"kimpact/internal/logging"
	"kimpact/internal/storage"
)

// loadConfig loads the configuration from the working directory, applying
// CLI overrides. Missing config files fall back to defaults.
func loadConfig(logger *logging.Logger) *config.Config {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		logger.Warn("Failed to load config, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		cfg = config.DefaultConfig()
	}

	if kernelRootFlag != "" {
		cfg.Kernel.Root = kernelRootFlag
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// mustOpenStore opens the graph store or exits on error.
func mustOpenStore(cfg *config.Config, logger *logging.Logger) (*storage.DB, *storage.GraphStore) {
	db, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db, storage.NewGraphStore(db)
}

// mustSubsystem resolves the subsystem from args or config.
func mustSubsystem(args []string, cfg *config.Config) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg.Kernel.Subsystem != "" {
		return cfg.Kernel.Subsystem
	}
	fmt.Fprintln(os.Stderr, "Error: no subsystem given and none configured")
	os.Exit(1)
	return ""
}

// newContext creates a new context for command execution.
func newContext() context.Context {
	return context.Background()
}

// newLogger creates a logger with the specified format.
func newLogger(format string) *logging.Logger {
	logFormat := logging.HumanFormat
	if format == "json" {
		logFormat = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: logFormat,
		Level:  logging.InfoLevel,
	})
}
