package main

import (
	"kimpact/internal/version"

	"github.com/spf13/cobra"
)

var (
	// kernelRootFlag overrides the configured kernel source root
	kernelRootFlag string
)

var rootCmd = &cobra.Command{
	Use:   "kimpact",
	Short: "kimpact - kernel change impact analysis",
	Long: `kimpact extracts call graphs from Linux kernel subsystems and answers
"what breaks if I change this function" queries: callers and callees within
a bounded depth, KUnit test coverage, and a deterministic risk rating.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("kimpact version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&kernelRootFlag, "kernel-root", "",
		"Path to the kernel source tree (overrides config)")
}
