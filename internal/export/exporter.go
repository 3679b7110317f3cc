// Package export serializes call graph snapshots for external tooling:
// JSON for scripts, GraphML for graph viewers, optionally zstd-compressed.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"kimpact/internal/callgraph"
	"kimpact/internal/kunit"
	"kimpact/internal/logging"
	"kimpact/internal/version"
)

// Format selects the export serialization.
type Format string

const (
	FormatJSON    Format = "json"
	FormatGraphML Format = "graphml"
)

// Options controls one export.
type Options struct {
	Format   Format
	Compress bool // wrap the output in a zstd stream
}

// Document is the JSON export envelope.
type Document struct {
	Metadata Metadata                  `json:"metadata"`
	Nodes    []*callgraph.FunctionNode `json:"nodes"`
	Edges    []*callgraph.CallEdge     `json:"edges"`

	Unresolved []callgraph.UnresolvedCall `json:"unresolved,omitempty"`
	Coverage   kunit.CoverageMap          `json:"coverage,omitempty"`
	Stats      callgraph.Stats            `json:"stats"`
}

// Metadata identifies what produced an export.
type Metadata struct {
	Subsystem string `json:"subsystem"`
	Generated string `json:"generated"`
	Tool      string `json:"tool"`
}

// Exporter writes snapshots in the supported formats.
type Exporter struct {
	logger *logging.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger *logging.Logger) *Exporter {
	return &Exporter{
		logger: logger.With(map[string]interface{}{"component": "export"}),
	}
}

// Export writes a snapshot to w. coverage may be nil.
func (e *Exporter) Export(w io.Writer, snap *callgraph.Snapshot, coverage kunit.CoverageMap, opts Options) error {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}

	out := w
	var enc *zstd.Encoder
	if opts.Compress {
		var err error
		enc, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = enc
	}

	var err error
	switch opts.Format {
	case FormatJSON:
		err = e.writeJSON(out, snap, coverage)
	case FormatGraphML:
		err = e.writeGraphML(out, snap)
	default:
		err = fmt.Errorf("unsupported export format: %s", opts.Format)
	}
	if err != nil {
		if enc != nil {
			enc.Close()
		}
		return err
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return nil
}

// ExportToFile writes a snapshot to path, deriving the format from the
// extension when opts.Format is unset (.graphml, .json, with an optional
// .zst suffix enabling compression).
func (e *Exporter) ExportToFile(path string, snap *callgraph.Snapshot, coverage kunit.CoverageMap, opts Options) error {
	name := path
	if strings.HasSuffix(name, ".zst") {
		opts.Compress = true
		name = strings.TrimSuffix(name, ".zst")
	}
	if opts.Format == "" {
		if strings.HasSuffix(name, ".graphml") {
			opts.Format = FormatGraphML
		} else {
			opts.Format = FormatJSON
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := e.Export(f, snap, coverage, opts); err != nil {
		return err
	}

	e.logger.Info("export written", map[string]interface{}{
		"path":   path,
		"format": string(opts.Format),
		"nodes":  snap.Stats.TotalFunctions,
		"edges":  snap.Stats.TotalEdges,
	})
	return nil
}

func (e *Exporter) writeJSON(w io.Writer, snap *callgraph.Snapshot, coverage kunit.CoverageMap) error {
	doc := Document{
		Metadata: Metadata{
			Subsystem: snap.Subsystem,
			Generated: time.Now().UTC().Format(time.RFC3339),
			Tool:      "kimpact " + version.Version,
		},
		Edges:      snap.Edges,
		Unresolved: snap.Unresolved,
		Coverage:   coverage,
		Stats:      snap.Stats,
	}
	for _, id := range snap.SortedNodeIDs() {
		doc.Nodes = append(doc.Nodes, snap.Nodes[id])
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}
