package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the store currently holds",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	logger := newLogger(statsFormat)
	cfg := loadConfig(logger)

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		os.Exit(1)
	}
	run, err := store.LastRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading last run: %v\n", err)
		os.Exit(1)
	}

	if statsFormat == "json" {
		printJSON(map[string]interface{}{
			"store":   stats,
			"lastRun": run,
		})
		return
	}

	fmt.Printf("Store: %s\n", db.Path())
	fmt.Printf("  Functions:  %d\n", stats.Functions)
	fmt.Printf("  Edges:      %d (%d call sites)\n", stats.Edges, stats.CallSites)
	fmt.Printf("  Unresolved: %d\n", stats.Unresolved)
	fmt.Printf("  Test cases: %d (%d coverage links)\n", stats.TestCases, stats.Coverage)
	if run != nil {
		fmt.Printf("Last ingest: %s (%s, %d files) at %s\n",
			run.ID, run.Subsystem, run.FilesTotal, run.FinishedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("No ingest runs recorded")
	}
}
