package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kimpact/internal/export"
)

var (
	exportOut      string
	exportFormat   string
	exportCompress bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the stored call graph",
	Long: `Export the stored call graph and coverage facts.

JSON suits scripts and diffing; GraphML loads into graph viewers like Gephi.
The format is derived from the output extension unless --graph-format is
given, and a .zst suffix (or --compress) produces a zstd stream.

Examples:
  kimpact export --out=ext4.json
  kimpact export --out=ext4.graphml
  kimpact export --out=ext4.json.zst`,
	Args: cobra.NoArgs,
	Run:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (required)")
	exportCmd.Flags().StringVar(&exportFormat, "graph-format", "", "Serialization (json, graphml; default: from extension)")
	exportCmd.Flags().BoolVar(&exportCompress, "compress", false, "Compress the output with zstd")
	exportCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	logger := newLogger("human")
	cfg := loadConfig(logger)

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

	exporter := export.NewExporter(logger)
	opts := export.Options{
		Format:   export.Format(exportFormat),
		Compress: exportCompress,
	}
	if err := exporter.ExportToFile(exportOut, snap, coverage, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d functions, %d edges to %s\n",
		snap.Stats.TotalFunctions, snap.Stats.TotalEdges, exportOut)
}
