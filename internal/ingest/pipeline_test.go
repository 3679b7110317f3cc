package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kimpact/internal/config"
	"kimpact/internal/logging"
	"kimpact/internal/storage"
)

const allocSource = `
static int ext4_count_free(char *bitmap, unsigned int numchars)
{
	return 0;
}

unsigned long ext4_count_free_clusters(void *sb)
{
	return ext4_count_free(0, 0) + ext4_bg_num_gdb(sb, 0);
}
`

const iallocSource = `
unsigned long ext4_count_free_inodes(void *sb)
{
	return ext4_count_free_clusters(sb);
}
`

// writeKernelTree lays out a miniature kernel source tree with one
// subsystem directory.
func writeKernelTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "fs", "ext4")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"balloc.c": allocSource,
		"ialloc.c": iallocSource,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testConfig(t *testing.T, kernelRoot string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Kernel.Root = kernelRoot
	cfg.Kernel.Subsystem = "fs/ext4"
	cfg.Preprocessor.Enabled = false
	cfg.Ingest.Workers = 2
	cfg.Storage.Path = filepath.Join(t.TempDir(), "kimpact.db")
	return cfg
}

func TestPipelineRun(t *testing.T) {
	root := writeKernelTree(t)
	cfg := testConfig(t, root)

	db, err := storage.Open(cfg.Storage.Path, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := storage.NewGraphStore(db)

	p := NewPipeline(cfg, store, logging.Nop())
	snap, summary, err := p.Run(context.Background(), "fs/ext4", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.FilesTotal != 2 || summary.FilesSkipped != 0 {
		t.Errorf("file counts wrong: %+v", summary)
	}
	if summary.Functions != 3 {
		t.Errorf("expected 3 functions, got %d", summary.Functions)
	}
	// ext4_count_free and ext4_count_free_clusters resolve internally,
	// ext4_bg_num_gdb stays unresolved
	if summary.Edges != 2 {
		t.Errorf("expected 2 edges, got %d", summary.Edges)
	}
	if summary.Unresolved != 1 {
		t.Errorf("expected 1 unresolved call, got %d", summary.Unresolved)
	}
	if summary.RunID == "" {
		t.Error("run id missing")
	}

	nodes := snap.NodesByName("ext4_count_free")
	if len(nodes) != 1 || !nodes[0].IsStatic {
		t.Errorf("static function lost: %+v", nodes)
	}

	// snapshot must have landed in the store
	loaded, err := store.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Nodes) != 3 {
		t.Errorf("store has %d nodes, want 3", len(loaded.Nodes))
	}
	run, err := store.LastRun()
	if err != nil || run == nil {
		t.Fatalf("ingest run not recorded: %v", err)
	}
	if run.ID != summary.RunID || run.Subsystem != "fs/ext4" {
		t.Errorf("wrong run recorded: %+v", run)
	}
}

func TestPipelineWithoutStore(t *testing.T) {
	root := writeKernelTree(t)
	cfg := testConfig(t, root)

	p := NewPipeline(cfg, nil, logging.Nop())
	snap, summary, err := p.Run(context.Background(), "fs/ext4", Options{Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap == nil || summary.Functions != 3 {
		t.Errorf("in-memory run failed: %+v", summary)
	}
}

func TestPipelineMissingSubsystem(t *testing.T) {
	root := writeKernelTree(t)
	cfg := testConfig(t, root)

	p := NewPipeline(cfg, nil, logging.Nop())
	if _, _, err := p.Run(context.Background(), "fs/btrfs", Options{}); err == nil {
		t.Fatal("expected error for missing subsystem directory")
	}
}

func TestPipelineDeterministicAcrossWorkerCounts(t *testing.T) {
	root := writeKernelTree(t)
	cfg := testConfig(t, root)
	p := NewPipeline(cfg, nil, logging.Nop())

	snap1, _, err := p.Run(context.Background(), "fs/ext4", Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	snap4, _, err := p.Run(context.Background(), "fs/ext4", Options{Workers: 4})
	if err != nil {
		t.Fatal(err)
	}

	ids1 := snap1.SortedNodeIDs()
	ids4 := snap4.SortedNodeIDs()
	if len(ids1) != len(ids4) {
		t.Fatalf("node sets differ: %v vs %v", ids1, ids4)
	}
	for i := range ids1 {
		if ids1[i] != ids4[i] {
			t.Errorf("node id %d differs: %s vs %s", i, ids1[i], ids4[i])
		}
	}
	if len(snap1.Edges) != len(snap4.Edges) {
		t.Fatalf("edge counts differ")
	}
	for i := range snap1.Edges {
		if snap1.Edges[i].CallerID != snap4.Edges[i].CallerID ||
			snap1.Edges[i].CalleeID != snap4.Edges[i].CalleeID {
			t.Errorf("edge %d differs across worker counts", i)
		}
	}
}
