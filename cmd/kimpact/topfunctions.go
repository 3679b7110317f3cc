package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	topMinCallers int
	topLimit      int
	topFormat     string
)

var topFunctionsCmd = &cobra.Command{
	Use:   "top-functions",
	Short: "List the most-called functions in the stored graph",
	Long: `List functions ranked by direct caller count. High-caller functions
with no test coverage are the riskiest places to change.

Examples:
  kimpact top-functions
  kimpact top-functions --min-callers=50 --limit=10`,
	Args: cobra.NoArgs,
	Run:  runTopFunctions,
}

func init() {
	topFunctionsCmd.Flags().IntVar(&topMinCallers, "min-callers", 1, "Only list functions with at least this many callers")
	topFunctionsCmd.Flags().IntVar(&topLimit, "limit", 20, "Maximum number of functions to list")
	topFunctionsCmd.Flags().StringVar(&topFormat, "format", "human", "Output format (json, human)")

	rootCmd.AddCommand(topFunctionsCmd)
}

func runTopFunctions(cmd *cobra.Command, args []string) {
	logger := newLogger(topFormat)
	cfg := loadConfig(logger)

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	top, err := store.TopCallers(topMinCallers, topLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error ranking functions: %v\n", err)
		os.Exit(1)
	}

	if topFormat == "json" {
		printJSON(top)
		return
	}

	if len(top) == 0 {
		fmt.Println("No functions match; is the store empty?")
		return
	}
	fmt.Printf("%-8s %-8s %s\n", "CALLERS", "TESTS", "FUNCTION")
	for _, tf := range top {
		fmt.Printf("%-8d %-8d %s (%s:%d)\n",
			tf.Callers, tf.Tests, tf.Function.Name, tf.Function.File, tf.Function.StartLine)
	}
}
