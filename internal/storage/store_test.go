package storage

import (
	"path/filepath"
	"testing"
	"time"

	"kimpact/internal/callgraph"
	"kimpact/internal/extract"
	"kimpact/internal/kunit"
	"kimpact/internal/logging"
	"kimpact/internal/preproc"
)

func openTestStore(t *testing.T) *GraphStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "kimpact.db"), logging.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGraphStore(db)
}

// chainSnapshot builds a -> b -> c with one external unresolved call.
func chainSnapshot(t *testing.T) *callgraph.Snapshot {
	t.Helper()
	asm := callgraph.NewAssembler("ext4", logging.Nop())
	asm.Add(&extract.FileExtraction{
		File: "inode.c",
		Functions: []extract.FunctionDef{
			{Name: "a", File: "inode.c", StartLine: 1, EndLine: 10},
			{Name: "b", File: "inode.c", StartLine: 20, EndLine: 30, IsStatic: true},
			{Name: "c", File: "inode.c", StartLine: 40, EndLine: 50},
		},
		Calls: []extract.CallSite{
			{CallerIdx: 0, Callee: "b", Location: preproc.SourceLocation{File: "inode.c", Line: 5}},
			{CallerIdx: 1, Callee: "c", Location: preproc.SourceLocation{File: "inode.c", Line: 25}},
			{CallerIdx: 1, Callee: "printk", Location: preproc.SourceLocation{File: "inode.c", Line: 26}},
		},
	})
	return asm.Build()
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	snap := chainSnapshot(t)

	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if loaded.Subsystem != "ext4" {
		t.Errorf("subsystem = %q", loaded.Subsystem)
	}
	if len(loaded.Nodes) != len(snap.Nodes) {
		t.Fatalf("nodes: got %d, want %d", len(loaded.Nodes), len(snap.Nodes))
	}
	for id, want := range snap.Nodes {
		got, ok := loaded.Node(id)
		if !ok {
			t.Fatalf("node %s missing after reload", id)
		}
		if *got != *want {
			t.Errorf("node %s changed: got %+v, want %+v", id, got, want)
		}
	}
	if len(loaded.Edges) != 2 {
		t.Fatalf("edges: got %d, want 2", len(loaded.Edges))
	}
	for i, edge := range loaded.Edges {
		want := snap.Edges[i]
		if edge.CallerID != want.CallerID || edge.CalleeID != want.CalleeID {
			t.Errorf("edge %d changed: %+v vs %+v", i, edge, want)
		}
		if len(edge.Sites) != len(want.Sites) || edge.Sites[0] != want.Sites[0] {
			t.Errorf("edge %d lost sites: %+v vs %+v", i, edge.Sites, want.Sites)
		}
	}
	if len(loaded.Unresolved) != 1 || loaded.Unresolved[0].Callee != "printk" {
		t.Errorf("unresolved not preserved: %+v", loaded.Unresolved)
	}
	if loaded.Unresolved[0].Reason != callgraph.ReasonUnknown {
		t.Errorf("unresolved reason = %s", loaded.Unresolved[0].Reason)
	}
}

func TestSaveSnapshotReplaces(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSnapshot(chainSnapshot(t)); err != nil {
		t.Fatal(err)
	}

	asm := callgraph.NewAssembler("ext4", logging.Nop())
	asm.Add(&extract.FileExtraction{
		File:      "super.c",
		Functions: []extract.FunctionDef{{Name: "only", File: "super.c", StartLine: 1, EndLine: 5}},
	})
	if err := store.SaveSnapshot(asm.Build()); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Nodes) != 1 || len(loaded.Edges) != 0 {
		t.Errorf("old snapshot leaked through: %d nodes, %d edges", len(loaded.Nodes), len(loaded.Edges))
	}
}

func TestGetNeighbors(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSnapshot(chainSnapshot(t)); err != nil {
		t.Fatal(err)
	}

	idA := callgraph.NodeID("inode.c", "a", 1)
	idB := callgraph.NodeID("inode.c", "b", 20)
	idC := callgraph.NodeID("inode.c", "c", 40)

	callees, err := store.GetNeighbors(idA, "callees", 2)
	if err != nil {
		t.Fatalf("GetNeighbors: %v", err)
	}
	want := map[string]int{idB: 1, idC: 2}
	if len(callees) != 2 {
		t.Fatalf("expected 2 callees, got %+v", callees)
	}
	for _, n := range callees {
		if want[n.Function.ID] != n.Depth {
			t.Errorf("%s at depth %d, want %d", n.Function.Name, n.Depth, want[n.Function.ID])
		}
	}

	callers, err := store.GetNeighbors(idC, "callers", 2)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]int{idB: 1, idA: 2}
	for _, n := range callers {
		if want[n.Function.ID] != n.Depth {
			t.Errorf("caller %s at depth %d, want %d", n.Function.Name, n.Depth, want[n.Function.ID])
		}
	}

	// depth bound
	callees, err = store.GetNeighbors(idA, "callees", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(callees) != 1 || callees[0].Function.ID != idB {
		t.Errorf("depth 1 should reach only b: %+v", callees)
	}
}

func TestGetFunctionAndFindByName(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSnapshot(chainSnapshot(t)); err != nil {
		t.Fatal(err)
	}

	idB := callgraph.NodeID("inode.c", "b", 20)
	node, err := store.GetFunction(idB)
	if err != nil {
		t.Fatalf("GetFunction: %v", err)
	}
	if node.Name != "b" || !node.IsStatic {
		t.Errorf("wrong node: %+v", node)
	}

	if _, err := store.GetFunction("missing::x::1"); err == nil {
		t.Error("expected error for missing function")
	}

	nodes, err := store.FindFunctionsByName("c")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].ID != callgraph.NodeID("inode.c", "c", 40) {
		t.Errorf("FindFunctionsByName: %+v", nodes)
	}
}

func TestCoverageRoundTrip(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSnapshot(chainSnapshot(t)); err != nil {
		t.Fatal(err)
	}

	idC := callgraph.NodeID("inode.c", "c", 40)
	mapping := &kunit.Mapping{
		Cases: []kunit.TestCase{
			{Name: "inode_test_c", File: "inode-test.c", StartLine: 5, EndLine: 20, Suite: "inode_suite"},
		},
		Coverage: kunit.CoverageMap{
			idC:              {"inode-test.c::inode_test_c"},
			"gone::nope::99": {"inode-test.c::inode_test_c"}, // function not in graph
		},
	}
	if err := store.SaveCoverage(mapping); err != nil {
		t.Fatalf("SaveCoverage: %v", err)
	}

	coverage, err := store.LoadCoverage()
	if err != nil {
		t.Fatalf("LoadCoverage: %v", err)
	}
	if tests := coverage.CoverageFor(idC); len(tests) != 1 || tests[0] != "inode-test.c::inode_test_c" {
		t.Errorf("coverage for c: %v", tests)
	}
	if coverage.CoverageFor("gone::nope::99") != nil {
		t.Error("coverage for unknown function must be dropped")
	}
}

func TestTopCallers(t *testing.T) {
	store := openTestStore(t)

	// hub called by three functions, leaf called by one
	asm := callgraph.NewAssembler("ext4", logging.Nop())
	fx := &extract.FileExtraction{
		File: "balloc.c",
		Functions: []extract.FunctionDef{
			{Name: "hub", File: "balloc.c", StartLine: 1, EndLine: 5},
			{Name: "leaf", File: "balloc.c", StartLine: 10, EndLine: 15},
			{Name: "u1", File: "balloc.c", StartLine: 20, EndLine: 25},
			{Name: "u2", File: "balloc.c", StartLine: 30, EndLine: 35},
			{Name: "u3", File: "balloc.c", StartLine: 40, EndLine: 45},
		},
	}
	for i := 2; i <= 4; i++ {
		fx.Calls = append(fx.Calls, extract.CallSite{
			CallerIdx: i, Callee: "hub",
			Location: preproc.SourceLocation{File: "balloc.c", Line: i * 10},
		})
	}
	fx.Calls = append(fx.Calls, extract.CallSite{
		CallerIdx: 2, Callee: "leaf",
		Location: preproc.SourceLocation{File: "balloc.c", Line: 21},
	})
	asm.Add(fx)
	if err := store.SaveSnapshot(asm.Build()); err != nil {
		t.Fatal(err)
	}

	top, err := store.TopCallers(2, 10)
	if err != nil {
		t.Fatalf("TopCallers: %v", err)
	}
	if len(top) != 1 || top[0].Function.Name != "hub" || top[0].Callers != 3 {
		t.Errorf("expected hub with 3 callers, got %+v", top)
	}
}

func TestStatsAndClear(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveSnapshot(chainSnapshot(t)); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Functions != 3 || stats.Edges != 2 || stats.Unresolved != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, err = store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Functions != 0 || stats.Edges != 0 || stats.Unresolved != 0 {
		t.Errorf("store not empty after Clear: %+v", stats)
	}
}

func TestRecordAndLastRun(t *testing.T) {
	store := openTestStore(t)

	if run, err := store.LastRun(); err != nil || run != nil {
		t.Fatalf("empty store should have no last run: %v, %v", run, err)
	}

	now := time.Now().Truncate(time.Second)
	run := &IngestRun{
		ID:         "run-1",
		Subsystem:  "ext4",
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		FilesTotal: 42,
		Functions:  900,
		Edges:      3000,
		Unresolved: 120,
	}
	if err := store.RecordRun(run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := store.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if got == nil || got.ID != "run-1" || got.Functions != 900 {
		t.Errorf("wrong run loaded: %+v", got)
	}
	if !got.FinishedAt.Equal(now.UTC()) {
		t.Errorf("finished_at drifted: %v vs %v", got.FinishedAt, now)
	}
}
