package storage

import (
	"database/sql"
	"fmt"
	"time"

	"kimpact/internal/callgraph"
	"kimpact/internal/kerrors"
	"kimpact/internal/kunit"
	"kimpact/internal/preproc"
)

// GraphStore persists call graph snapshots and coverage facts.
type GraphStore struct {
	db *DB
}

// NewGraphStore creates a graph store over an open database.
func NewGraphStore(db *DB) *GraphStore {
	return &GraphStore{db: db}
}

// IngestRun records one completed ingestion for provenance.
type IngestRun struct {
	ID            string    `json:"id"`
	Subsystem     string    `json:"subsystem"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	FilesTotal    int       `json:"filesTotal"`
	FilesFallback int       `json:"filesFallback"`
	FilesDegraded int       `json:"filesDegraded"`
	Functions     int       `json:"functions"`
	Edges         int       `json:"edges"`
	Unresolved    int       `json:"unresolved"`
}

// SaveSnapshot replaces the stored graph with the given snapshot in a
// single transaction: either the whole snapshot lands or nothing changes.
func (s *GraphStore) SaveSnapshot(snap *callgraph.Snapshot) error {
	err := s.db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"call_sites", "call_edges", "coverage", "functions", "unresolved_calls"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		insertFn, err := tx.Prepare(`
			INSERT INTO functions (id, name, file, start_line, end_line, subsystem, is_static)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer insertFn.Close()

		for _, id := range snap.SortedNodeIDs() {
			node := snap.Nodes[id]
			if _, err := insertFn.Exec(node.ID, node.Name, node.File,
				node.StartLine, node.EndLine, node.Subsystem, boolToInt(node.IsStatic)); err != nil {
				return fmt.Errorf("failed to insert function %s: %w", node.ID, err)
			}
		}

		insertEdge, err := tx.Prepare(
			"INSERT INTO call_edges (caller_id, callee_id) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer insertEdge.Close()

		insertSite, err := tx.Prepare(
			"INSERT INTO call_sites (caller_id, callee_id, file, line) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer insertSite.Close()

		for _, edge := range snap.Edges {
			if _, err := insertEdge.Exec(edge.CallerID, edge.CalleeID); err != nil {
				return fmt.Errorf("failed to insert edge: %w", err)
			}
			for _, site := range edge.Sites {
				if _, err := insertSite.Exec(edge.CallerID, edge.CalleeID, site.File, site.Line); err != nil {
					return fmt.Errorf("failed to insert call site: %w", err)
				}
			}
		}

		insertUnresolved, err := tx.Prepare(
			"INSERT INTO unresolved_calls (callee, file, line, reason) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer insertUnresolved.Close()

		for _, u := range snap.Unresolved {
			if _, err := insertUnresolved.Exec(u.Callee, u.Site.File, u.Site.Line, string(u.Reason)); err != nil {
				return fmt.Errorf("failed to insert unresolved call: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return kerrors.New(kerrors.StoreError, "failed to save snapshot", err)
	}
	return nil
}

// LoadSnapshot reconstructs the stored snapshot.
func (s *GraphStore) LoadSnapshot() (*callgraph.Snapshot, error) {
	var nodes []*callgraph.FunctionNode
	subsystem := ""

	rows, err := s.db.Query(`
		SELECT id, name, file, start_line, end_line, subsystem, is_static
		FROM functions ORDER BY id
	`)
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load functions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var node callgraph.FunctionNode
		var isStatic int
		if err := rows.Scan(&node.ID, &node.Name, &node.File,
			&node.StartLine, &node.EndLine, &node.Subsystem, &isStatic); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan function", err)
		}
		node.IsStatic = isStatic != 0
		subsystem = node.Subsystem
		nodes = append(nodes, &node)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load functions", err)
	}

	edges, err := s.loadEdges()
	if err != nil {
		return nil, err
	}
	unresolved, err := s.loadUnresolved()
	if err != nil {
		return nil, err
	}

	return callgraph.NewSnapshot(subsystem, nodes, edges, unresolved), nil
}

func (s *GraphStore) loadEdges() ([]*callgraph.CallEdge, error) {
	rows, err := s.db.Query(`
		SELECT e.caller_id, e.callee_id, s.file, s.line
		FROM call_edges e
		LEFT JOIN call_sites s ON s.caller_id = e.caller_id AND s.callee_id = e.callee_id
		ORDER BY e.caller_id, e.callee_id, s.line
	`)
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load edges", err)
	}
	defer rows.Close()

	var edges []*callgraph.CallEdge
	var current *callgraph.CallEdge
	for rows.Next() {
		var caller, callee string
		var file sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&caller, &callee, &file, &line); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan edge", err)
		}
		if current == nil || current.CallerID != caller || current.CalleeID != callee {
			current = &callgraph.CallEdge{CallerID: caller, CalleeID: callee}
			edges = append(edges, current)
		}
		if file.Valid {
			current.Sites = append(current.Sites, preproc.SourceLocation{
				File: file.String,
				Line: int(line.Int64),
			})
		}
	}
	return edges, rows.Err()
}

func (s *GraphStore) loadUnresolved() ([]callgraph.UnresolvedCall, error) {
	rows, err := s.db.Query(
		"SELECT callee, file, line, reason FROM unresolved_calls ORDER BY file, line")
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load unresolved calls", err)
	}
	defer rows.Close()

	var unresolved []callgraph.UnresolvedCall
	for rows.Next() {
		var u callgraph.UnresolvedCall
		var reason string
		if err := rows.Scan(&u.Callee, &u.Site.File, &u.Site.Line, &reason); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan unresolved call", err)
		}
		u.Reason = callgraph.UnresolvedReason(reason)
		unresolved = append(unresolved, u)
	}
	return unresolved, rows.Err()
}

// SaveCoverage replaces stored test cases and coverage facts. Coverage
// rows referencing functions not in the graph are skipped silently; the
// foreign key would reject them and they carry no analytical value.
func (s *GraphStore) SaveCoverage(mapping *kunit.Mapping) error {
	err := s.db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"coverage", "test_cases"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		insertCase, err := tx.Prepare(`
			INSERT INTO test_cases (id, name, file, start_line, end_line, suite)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer insertCase.Close()

		for _, tc := range mapping.Cases {
			if _, err := insertCase.Exec(tc.ID(), tc.Name, tc.File,
				tc.StartLine, tc.EndLine, tc.Suite); err != nil {
				return fmt.Errorf("failed to insert test case %s: %w", tc.Name, err)
			}
		}

		insertCov, err := tx.Prepare(`
			INSERT INTO coverage (test_id, function_id)
			SELECT ?, id FROM functions WHERE id = ?
		`)
		if err != nil {
			return err
		}
		defer insertCov.Close()

		for functionID, tests := range mapping.Coverage {
			for _, testID := range tests {
				if _, err := insertCov.Exec(testID, functionID); err != nil {
					return fmt.Errorf("failed to insert coverage: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return kerrors.New(kerrors.StoreError, "failed to save coverage", err)
	}
	return nil
}

// LoadCoverage returns the stored coverage facts as a CoverageMap.
func (s *GraphStore) LoadCoverage() (kunit.CoverageMap, error) {
	rows, err := s.db.Query(
		"SELECT function_id, test_id FROM coverage ORDER BY function_id, test_id")
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load coverage", err)
	}
	defer rows.Close()

	coverage := make(kunit.CoverageMap)
	for rows.Next() {
		var functionID, testID string
		if err := rows.Scan(&functionID, &testID); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan coverage", err)
		}
		coverage[functionID] = append(coverage[functionID], testID)
	}
	return coverage, rows.Err()
}

// GetFunction returns a stored function by id.
func (s *GraphStore) GetFunction(id string) (*callgraph.FunctionNode, error) {
	var node callgraph.FunctionNode
	var isStatic int
	err := s.db.QueryRow(`
		SELECT id, name, file, start_line, end_line, subsystem, is_static
		FROM functions WHERE id = ?
	`, id).Scan(&node.ID, &node.Name, &node.File,
		&node.StartLine, &node.EndLine, &node.Subsystem, &isStatic)
	if err == sql.ErrNoRows {
		return nil, kerrors.New(kerrors.FunctionNotFound, "function not in store: "+id, nil)
	}
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to get function", err)
	}
	node.IsStatic = isStatic != 0
	return &node, nil
}

// FindFunctionsByName returns all stored functions with a name, ordered by id.
func (s *GraphStore) FindFunctionsByName(name string) ([]*callgraph.FunctionNode, error) {
	rows, err := s.db.Query(`
		SELECT id, name, file, start_line, end_line, subsystem, is_static
		FROM functions WHERE name = ? ORDER BY id
	`, name)
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to find functions", err)
	}
	defer rows.Close()

	var nodes []*callgraph.FunctionNode
	for rows.Next() {
		var node callgraph.FunctionNode
		var isStatic int
		if err := rows.Scan(&node.ID, &node.Name, &node.File,
			&node.StartLine, &node.EndLine, &node.Subsystem, &isStatic); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan function", err)
		}
		node.IsStatic = isStatic != 0
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// Neighbor is one function reached by a bounded graph walk, with its
// minimum hop distance from the origin.
type Neighbor struct {
	Function *callgraph.FunctionNode `json:"function"`
	Depth    int                     `json:"depth"`
}

// GetNeighbors walks the stored graph up to maxDepth hops from a function
// using a recursive CTE, returning each reached function once at its
// minimum distance. callers walks edges backwards, anything else forwards.
func (s *GraphStore) GetNeighbors(functionID, direction string, maxDepth int) ([]Neighbor, error) {
	from, to := "caller_id", "callee_id"
	if direction == "callers" {
		from, to = to, from
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE walk(id, depth) AS (
			SELECT %[1]s, 1 FROM call_edges WHERE %[2]s = ?
			UNION
			SELECT e.%[1]s, w.depth + 1
			FROM call_edges e JOIN walk w ON e.%[2]s = w.id
			WHERE w.depth < ?
		)
		SELECT f.id, f.name, f.file, f.start_line, f.end_line, f.subsystem, f.is_static,
		       MIN(w.depth) AS depth
		FROM walk w JOIN functions f ON f.id = w.id
		WHERE w.id != ?
		GROUP BY w.id
		ORDER BY depth, f.id
	`, to, from)

	rows, err := s.db.Query(query, functionID, maxDepth, functionID)
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to walk graph", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var node callgraph.FunctionNode
		var isStatic, depth int
		if err := rows.Scan(&node.ID, &node.Name, &node.File,
			&node.StartLine, &node.EndLine, &node.Subsystem, &isStatic, &depth); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan neighbor", err)
		}
		node.IsStatic = isStatic != 0
		neighbors = append(neighbors, Neighbor{Function: &node, Depth: depth})
	}
	return neighbors, rows.Err()
}

// TopFunction is a function ranked by its direct caller count.
type TopFunction struct {
	Function *callgraph.FunctionNode `json:"function"`
	Callers  int                     `json:"callers"`
	Tests    int                     `json:"tests"`
}

// TopCallers returns the most-called functions, those with at least
// minCallers direct callers, ordered by caller count descending.
func (s *GraphStore) TopCallers(minCallers, limit int) ([]TopFunction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT f.id, f.name, f.file, f.start_line, f.end_line, f.subsystem, f.is_static,
		       COUNT(DISTINCT e.caller_id) AS callers,
		       COUNT(DISTINCT c.test_id) AS tests
		FROM functions f
		JOIN call_edges e ON e.callee_id = f.id
		LEFT JOIN coverage c ON c.function_id = f.id
		GROUP BY f.id
		HAVING callers >= ?
		ORDER BY callers DESC, f.id
		LIMIT ?
	`, minCallers, limit)
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to rank functions", err)
	}
	defer rows.Close()

	var top []TopFunction
	for rows.Next() {
		var node callgraph.FunctionNode
		var isStatic int
		var tf TopFunction
		if err := rows.Scan(&node.ID, &node.Name, &node.File,
			&node.StartLine, &node.EndLine, &node.Subsystem, &isStatic,
			&tf.Callers, &tf.Tests); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to scan ranking", err)
		}
		node.IsStatic = isStatic != 0
		tf.Function = &node
		top = append(top, tf)
	}
	return top, rows.Err()
}

// StoreStats summarizes what the store currently holds.
type StoreStats struct {
	Functions  int `json:"functions"`
	Edges      int `json:"edges"`
	CallSites  int `json:"callSites"`
	Unresolved int `json:"unresolved"`
	TestCases  int `json:"testCases"`
	Coverage   int `json:"coverage"`
}

// Stats counts the stored rows.
func (s *GraphStore) Stats() (*StoreStats, error) {
	stats := &StoreStats{}
	counts := []struct {
		table string
		dest  *int
	}{
		{"functions", &stats.Functions},
		{"call_edges", &stats.Edges},
		{"call_sites", &stats.CallSites},
		{"unresolved_calls", &stats.Unresolved},
		{"test_cases", &stats.TestCases},
		{"coverage", &stats.Coverage},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return nil, kerrors.New(kerrors.StoreError, "failed to count "+c.table, err)
		}
	}
	return stats, nil
}

// RecordRun stores an ingestion run.
func (s *GraphStore) RecordRun(run *IngestRun) error {
	_, err := s.db.Exec(`
		INSERT INTO ingest_runs (id, subsystem, started_at, finished_at,
			files_total, files_fallback, files_degraded, functions, edges, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Subsystem,
		run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
		run.FilesTotal, run.FilesFallback, run.FilesDegraded,
		run.Functions, run.Edges, run.Unresolved)
	if err != nil {
		return kerrors.New(kerrors.StoreError, "failed to record ingest run", err)
	}
	return nil
}

// LastRun returns the most recent ingestion run, or nil if none exist.
func (s *GraphStore) LastRun() (*IngestRun, error) {
	var run IngestRun
	var started, finished string
	err := s.db.QueryRow(`
		SELECT id, subsystem, started_at, finished_at,
		       files_total, files_fallback, files_degraded, functions, edges, unresolved
		FROM ingest_runs ORDER BY finished_at DESC LIMIT 1
	`).Scan(&run.ID, &run.Subsystem, &started, &finished,
		&run.FilesTotal, &run.FilesFallback, &run.FilesDegraded,
		&run.Functions, &run.Edges, &run.Unresolved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kerrors.New(kerrors.StoreError, "failed to load last run", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	return &run, nil
}

// Clear removes all stored graph, coverage, and run data.
func (s *GraphStore) Clear() error {
	err := s.db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"call_sites", "call_edges", "coverage",
			"test_cases", "unresolved_calls", "functions", "ingest_runs"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return kerrors.New(kerrors.StoreError, "failed to clear store", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
