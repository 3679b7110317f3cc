package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kimpact/internal/impact"
	"kimpact/internal/kerrors"
)

var (
	analyzeDepth     int
	analyzeDirection string
	analyzeFormat    string
	analyzeLimit     int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <function>",
	Short: "Analyze the impact of changing a function",
	Long: `Analyze what is affected by changing a function.

The function may be given by name or by full id (file::name::line). A name
matching several functions (same-named statics in different files) lists
the candidate ids instead of guessing.

Reports callers and callees within the depth bound, KUnit tests covering
the function directly or through its callers, and a risk rating derived
from caller count and coverage.

Examples:
  kimpact analyze ext4_map_blocks
  kimpact analyze ext4_map_blocks --depth=2 --direction=callers
  kimpact analyze "fs/ext4/inode.c::ext4_map_blocks::550" --format=json`,
	Args: cobra.ExactArgs(1),
	Run:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeDepth, "depth", 0, "Maximum traversal depth (default: configured value)")
	analyzeCmd.Flags().StringVar(&analyzeDirection, "direction", "both", "Traversal direction (callers, callees, both)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "human", "Output format (json, human, yaml)")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "Maximum results per direction (default: configured value)")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	logger := newLogger(analyzeFormat)
	cfg := loadConfig(logger)
	function := args[0]

	db, store := mustOpenStore(cfg, logger)
	defer db.Close()

	snap, err := store.LoadSnapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading snapshot: %v\n", err)
		os.Exit(1)
	}
	if snap.Stats.TotalFunctions == 0 {
		fmt.Fprintln(os.Stderr, "Store is empty; run 'kimpact ingest' first")
		os.Exit(1)
	}

	coverage, err := store.LoadCoverage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading coverage: %v\n", err)
		os.Exit(1)
	}

	analysisCfg := cfg.Analysis
	if analyzeLimit > 0 {
		analysisCfg.MaxResults = analyzeLimit
	}

	analyzer := impact.NewAnalyzer(snap, coverage, analysisCfg, logger)
	direction := impact.ParseDirection(analyzeDirection)

	var result *impact.Result
	if _, ok := snap.Node(function); ok {
		result, err = analyzer.Analyze(function, direction, analyzeDepth)
	} else {
		result, err = analyzer.AnalyzeByName(function, direction, analyzeDepth)
	}
	if err != nil {
		if kerrors.IsCode(err, kerrors.FunctionAmbiguous) {
			printAmbiguous(function, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error analyzing %s: %v\n", function, err)
		os.Exit(1)
	}

	switch analyzeFormat {
	case "json":
		printJSON(result)
	case "yaml":
		printYAML(result)
	default:
		printResultHuman(result)
	}
}

// printAmbiguous lists candidate ids so the user can re-run with one.
func printAmbiguous(function string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s matches multiple functions:\n", function)
	var kerr *kerrors.KError
	if errors.As(err, &kerr) {
		if ids, ok := kerr.Details.([]string); ok {
			for _, id := range ids {
				fmt.Fprintf(os.Stderr, "  %s\n", id)
			}
		}
	}
	fmt.Fprintln(os.Stderr, "Re-run with one of the ids above.")
}

func printYAML(v interface{}) {
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func printResultHuman(result *impact.Result) {
	fmt.Printf("%s (%s:%d)\n", result.Target.Name, result.Target.File, result.Target.StartLine)
	fmt.Printf("Risk: %s\n\n", result.Risk)

	if len(result.Callers) > 0 {
		fmt.Printf("Callers (%d direct, %d indirect):\n",
			result.Stats.DirectCallers, result.Stats.IndirectCallers)
		for _, r := range result.Callers {
			fmt.Printf("  [%d] %s (%s:%d)\n", r.Depth, r.Function.Name, r.Function.File, r.Function.StartLine)
		}
		if result.Stats.OmittedCallers > 0 {
			fmt.Printf("  ... %d more omitted\n", result.Stats.OmittedCallers)
		}
		fmt.Println()
	}

	if len(result.Callees) > 0 {
		fmt.Printf("Callees (%d direct, %d indirect):\n",
			result.Stats.DirectCallees, result.Stats.IndirectCallees)
		for _, r := range result.Callees {
			fmt.Printf("  [%d] %s (%s:%d)\n", r.Depth, r.Function.Name, r.Function.File, r.Function.StartLine)
		}
		if result.Stats.OmittedCallees > 0 {
			fmt.Printf("  ... %d more omitted\n", result.Stats.OmittedCallees)
		}
		fmt.Println()
	}

	if len(result.DirectTests) > 0 {
		fmt.Printf("Covered by %d tests:\n", len(result.DirectTests))
		for _, test := range result.DirectTests {
			fmt.Printf("  %s\n", test)
		}
	} else {
		fmt.Println("No direct test coverage")
	}
	if len(result.IndirectTests) > 0 {
		fmt.Printf("Indirectly exercised by %d tests via callers\n", len(result.IndirectTests))
	}
}
