package callgraph

import (
	"fmt"
	"sort"

	"kimpact/internal/preproc"
)

// FunctionNode is a deduplicated function definition in the graph.
// Identity is (name, file, start line); the id is derived from that key and
// therefore deterministic across runs.
type FunctionNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Subsystem string `json:"subsystem"`
	IsStatic  bool   `json:"isStatic"`
}

// NodeID derives the stable id for a function identity.
func NodeID(file, name string, startLine int) string {
	return fmt.Sprintf("%s::%s::%d", file, name, startLine)
}

// CallEdge is a resolved caller -> callee relationship. Multiple call sites
// between the same pair collapse into one edge; the sites are kept for
// provenance.
type CallEdge struct {
	CallerID string                   `json:"callerId"`
	CalleeID string                   `json:"calleeId"`
	Sites    []preproc.SourceLocation `json:"sites"`
}

// UnresolvedReason says why a call never became an edge.
type UnresolvedReason string

const (
	// ReasonUnknown means no internal function carries the callee name
	// (external kernel API, library call, or un-ingested macro expansion)
	ReasonUnknown UnresolvedReason = "unknown"
	// ReasonAmbiguous means several internal functions carry the name and
	// file-scope disambiguation could not pick one
	ReasonAmbiguous UnresolvedReason = "ambiguous"
)

// UnresolvedCall is a call site whose target could not be matched to
// exactly one internal function. Kept for statistics only.
type UnresolvedCall struct {
	Callee string                 `json:"callee"`
	Site   preproc.SourceLocation `json:"site"`
	Reason UnresolvedReason       `json:"reason"`
}

// FileStats counts per-file ingestion quality numbers.
type FileStats struct {
	Functions  int `json:"functions"`
	Calls      int `json:"calls"`
	Unresolved int `json:"unresolved"`
}

// Stats aggregates ingestion-quality numbers for a whole snapshot.
type Stats struct {
	TotalFunctions  int                  `json:"totalFunctions"`
	StaticFunctions int                  `json:"staticFunctions"`
	TotalEdges      int                  `json:"totalEdges"`
	TotalCallSites  int                  `json:"totalCallSites"`
	TotalUnresolved int                  `json:"totalUnresolved"`
	ByFile          map[string]FileStats `json:"byFile"`
}

// Snapshot is an immutable whole-subsystem call graph. Queries traverse it
// read-only; re-ingestion produces a fresh snapshot rather than mutating.
type Snapshot struct {
	Subsystem  string
	Nodes      map[string]*FunctionNode
	Edges      []*CallEdge
	Unresolved []UnresolvedCall
	Stats      Stats

	nameIndex map[string][]string // name -> candidate node ids
	out       map[string][]string // caller id -> callee ids
	in        map[string][]string // callee id -> caller ids
}

// NewSnapshot builds a snapshot from already-resolved graph data, for
// example rows loaded from the store. Edges must reference existing node
// ids; indexes and stats are derived here.
func NewSnapshot(subsystem string, nodes []*FunctionNode, edges []*CallEdge, unresolved []UnresolvedCall) *Snapshot {
	snap := &Snapshot{
		Subsystem:  subsystem,
		Nodes:      make(map[string]*FunctionNode, len(nodes)),
		Edges:      edges,
		Unresolved: unresolved,
		nameIndex:  make(map[string][]string),
		out:        make(map[string][]string),
		in:         make(map[string][]string),
	}

	staticCount := 0
	for _, node := range nodes {
		snap.Nodes[node.ID] = node
		snap.nameIndex[node.Name] = append(snap.nameIndex[node.Name], node.ID)
		if node.IsStatic {
			staticCount++
		}
	}
	for name := range snap.nameIndex {
		sort.Strings(snap.nameIndex[name])
	}

	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].CallerID != snap.Edges[j].CallerID {
			return snap.Edges[i].CallerID < snap.Edges[j].CallerID
		}
		return snap.Edges[i].CalleeID < snap.Edges[j].CalleeID
	})

	totalSites := 0
	for _, edge := range snap.Edges {
		snap.out[edge.CallerID] = append(snap.out[edge.CallerID], edge.CalleeID)
		snap.in[edge.CalleeID] = append(snap.in[edge.CalleeID], edge.CallerID)
		totalSites += len(edge.Sites)
	}

	snap.Stats = Stats{
		TotalFunctions:  len(snap.Nodes),
		StaticFunctions: staticCount,
		TotalEdges:      len(snap.Edges),
		TotalCallSites:  totalSites,
		TotalUnresolved: len(snap.Unresolved),
	}

	return snap
}

// Node returns a node by id.
func (s *Snapshot) Node(id string) (*FunctionNode, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// NodesByName returns all internal functions with the given name, sorted by
// id for determinism.
func (s *Snapshot) NodesByName(name string) []*FunctionNode {
	ids := s.nameIndex[name]
	nodes := make([]*FunctionNode, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, s.Nodes[id])
	}
	return nodes
}

// Callees returns the ids directly called by the given function.
func (s *Snapshot) Callees(id string) []string {
	return s.out[id]
}

// Callers returns the ids that directly call the given function.
func (s *Snapshot) Callers(id string) []string {
	return s.in[id]
}

// SortedNodeIDs returns all node ids in deterministic order.
func (s *Snapshot) SortedNodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
