package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"kimpact/internal/callgraph"
	"kimpact/internal/extract"
	"kimpact/internal/kunit"
	"kimpact/internal/logging"
	"kimpact/internal/preproc"
)

func sampleSnapshot(t *testing.T) *callgraph.Snapshot {
	t.Helper()
	asm := callgraph.NewAssembler("ext4", logging.Nop())
	asm.Add(&extract.FileExtraction{
		File: "super.c",
		Functions: []extract.FunctionDef{
			{Name: "ext4_fill_super", File: "super.c", StartLine: 10, EndLine: 100},
			{Name: "ext4_setup_super", File: "super.c", StartLine: 120, EndLine: 160, IsStatic: true},
		},
		Calls: []extract.CallSite{
			{CallerIdx: 0, Callee: "ext4_setup_super", Location: preproc.SourceLocation{File: "super.c", Line: 50}},
		},
	})
	return asm.Build()
}

func TestExportJSON(t *testing.T) {
	snap := sampleSnapshot(t)
	coverage := kunit.CoverageMap{
		callgraph.NodeID("super.c", "ext4_setup_super", 120): {"super-test.c::super_test_setup"},
	}

	var buf bytes.Buffer
	e := NewExporter(logging.Nop())
	if err := e.Export(&buf, snap, coverage, Options{Format: FormatJSON}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc.Metadata.Subsystem != "ext4" {
		t.Errorf("metadata subsystem = %q", doc.Metadata.Subsystem)
	}
	if len(doc.Nodes) != 2 || len(doc.Edges) != 1 {
		t.Errorf("got %d nodes, %d edges", len(doc.Nodes), len(doc.Edges))
	}
	// nodes sorted by id
	if doc.Nodes[0].ID > doc.Nodes[1].ID {
		t.Error("nodes not sorted by id")
	}
	if len(doc.Coverage) != 1 {
		t.Errorf("coverage lost: %+v", doc.Coverage)
	}
}

func TestExportCompressed(t *testing.T) {
	snap := sampleSnapshot(t)

	var buf bytes.Buffer
	e := NewExporter(logging.Nop())
	if err := e.Export(&buf, snap, nil, Options{Format: FormatJSON, Compress: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dec, err := zstd.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("output is not a zstd stream: %v", err)
	}
	defer dec.Close()

	var doc Document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		t.Fatalf("decompressed output is not valid JSON: %v", err)
	}
	if len(doc.Nodes) != 2 {
		t.Errorf("got %d nodes after round trip", len(doc.Nodes))
	}
}

func TestExportGraphML(t *testing.T) {
	snap := sampleSnapshot(t)

	var buf bytes.Buffer
	e := NewExporter(logging.Nop())
	if err := e.Export(&buf, snap, nil, Options{Format: FormatGraphML}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"<graphml",
		`edgedefault="directed"`,
		"ext4_fill_super",
		"ext4_setup_super",
		`<edge source="super.c::ext4_fill_super::10" target="super.c::ext4_setup_super::120">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("GraphML output missing %q", want)
		}
	}
}

func TestExportToFileDerivesFormat(t *testing.T) {
	snap := sampleSnapshot(t)
	dir := t.TempDir()
	e := NewExporter(logging.Nop())

	graphml := filepath.Join(dir, "graph.graphml")
	if err := e.ExportToFile(graphml, snap, nil, Options{}); err != nil {
		t.Fatalf("ExportToFile: %v", err)
	}
	data, err := os.ReadFile(graphml)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<graphml") {
		t.Error(".graphml file did not get GraphML content")
	}

	compressed := filepath.Join(dir, "graph.json.zst")
	if err := e.ExportToFile(compressed, snap, nil, Options{}); err != nil {
		t.Fatalf("ExportToFile: %v", err)
	}
	f, err := os.Open(compressed)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf(".zst file is not a zstd stream: %v", err)
	}
	defer dec.Close()
	var doc Document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		t.Fatalf("compressed file content invalid: %v", err)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	e := NewExporter(logging.Nop())
	var buf bytes.Buffer
	if err := e.Export(&buf, sampleSnapshot(t), nil, Options{Format: "dot"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
