// Package callgraph assembles per-file extraction output into a
// deduplicated, resolved call graph snapshot.
package callgraph

import (
	"sort"

	"kimpact/internal/extract"
	"kimpact/internal/logging"
	"kimpact/internal/preproc"
)

// pendingCall is a call site waiting for whole-subsystem name resolution.
type pendingCall struct {
	callerID   string
	callerFile string
	unit       string // translation-unit file, the per-file stats key
	callee     string
	site       preproc.SourceLocation
}

// Assembler accumulates extraction results and builds the final snapshot.
// Per-file results merge by identity key, so the outcome is independent of
// the order workers deliver them.
type Assembler struct {
	subsystem string
	logger    *logging.Logger

	nodes   map[string]*FunctionNode
	pending []pendingCall
	byFile  map[string]FileStats
}

// NewAssembler creates an assembler for one subsystem ingestion run.
func NewAssembler(subsystem string, logger *logging.Logger) *Assembler {
	return &Assembler{
		subsystem: subsystem,
		logger:    logger.With(map[string]interface{}{"component": "callgraph"}),
		nodes:     make(map[string]*FunctionNode),
		byFile:    make(map[string]FileStats),
	}
}

// Add merges one file's extraction output. Duplicate definitions (same
// name, file and start line) collapse to a single node.
func (a *Assembler) Add(fx *extract.FileExtraction) {
	stats := a.byFile[fx.File]

	ids := make([]string, len(fx.Functions))
	for i, def := range fx.Functions {
		id := NodeID(def.File, def.Name, def.StartLine)
		ids[i] = id
		if _, exists := a.nodes[id]; exists {
			continue
		}
		a.nodes[id] = &FunctionNode{
			ID:        id,
			Name:      def.Name,
			File:      def.File,
			StartLine: def.StartLine,
			EndLine:   def.EndLine,
			Subsystem: a.subsystem,
			IsStatic:  def.IsStatic,
		}
		stats.Functions++
	}

	for _, call := range fx.Calls {
		def := fx.Functions[call.CallerIdx]
		a.pending = append(a.pending, pendingCall{
			callerID:   ids[call.CallerIdx],
			callerFile: def.File,
			unit:       fx.File,
			callee:     call.Callee,
			site:       call.Location,
		})
		stats.Calls++
	}

	a.byFile[fx.File] = stats
}

// Build resolves every pending call against the whole-subsystem name index
// and returns the immutable snapshot.
//
// Resolution is conservative: a callee name matching zero internal
// functions is external; a name matching several is resolved only when
// exactly one candidate lives in the calling file (C file-scope linkage
// makes that sound). Anything else stays unresolved rather than guessed.
func (a *Assembler) Build() *Snapshot {
	snap := &Snapshot{
		Subsystem: a.subsystem,
		Nodes:     a.nodes,
		nameIndex: make(map[string][]string),
		out:       make(map[string][]string),
		in:        make(map[string][]string),
	}

	for id, node := range a.nodes {
		snap.nameIndex[node.Name] = append(snap.nameIndex[node.Name], id)
	}
	for name := range snap.nameIndex {
		sort.Strings(snap.nameIndex[name])
	}

	type edgeKey struct{ caller, callee string }
	edges := make(map[edgeKey]*CallEdge)

	for _, call := range a.pending {
		calleeID, reason := a.resolve(snap.nameIndex, call)
		if calleeID == "" {
			snap.Unresolved = append(snap.Unresolved, UnresolvedCall{
				Callee: call.callee,
				Site:   call.site,
				Reason: reason,
			})
			// Same key as the function/call counts in Add, so one file's
			// numbers never split across buckets when a call site remaps
			// to a different original file.
			stats := a.byFile[call.unit]
			stats.Unresolved++
			a.byFile[call.unit] = stats
			continue
		}

		key := edgeKey{call.callerID, calleeID}
		if edge, ok := edges[key]; ok {
			edge.Sites = append(edge.Sites, call.site)
		} else {
			edges[key] = &CallEdge{
				CallerID: call.callerID,
				CalleeID: calleeID,
				Sites:    []preproc.SourceLocation{call.site},
			}
		}
	}

	snap.Edges = make([]*CallEdge, 0, len(edges))
	for _, edge := range edges {
		snap.Edges = append(snap.Edges, edge)
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].CallerID != snap.Edges[j].CallerID {
			return snap.Edges[i].CallerID < snap.Edges[j].CallerID
		}
		return snap.Edges[i].CalleeID < snap.Edges[j].CalleeID
	})

	for _, edge := range snap.Edges {
		snap.out[edge.CallerID] = append(snap.out[edge.CallerID], edge.CalleeID)
		snap.in[edge.CalleeID] = append(snap.in[edge.CalleeID], edge.CallerID)
	}

	totalSites := 0
	for _, edge := range snap.Edges {
		totalSites += len(edge.Sites)
	}
	staticCount := 0
	for _, node := range snap.Nodes {
		if node.IsStatic {
			staticCount++
		}
	}
	snap.Stats = Stats{
		TotalFunctions:  len(snap.Nodes),
		StaticFunctions: staticCount,
		TotalEdges:      len(snap.Edges),
		TotalCallSites:  totalSites,
		TotalUnresolved: len(snap.Unresolved),
		ByFile:          a.byFile,
	}

	a.logger.Info("call graph assembled", map[string]interface{}{
		"functions":  snap.Stats.TotalFunctions,
		"edges":      snap.Stats.TotalEdges,
		"unresolved": snap.Stats.TotalUnresolved,
	})

	return snap
}

// resolve picks the callee node for a call, or explains why it cannot.
func (a *Assembler) resolve(nameIndex map[string][]string, call pendingCall) (string, UnresolvedReason) {
	candidates := nameIndex[call.callee]
	switch len(candidates) {
	case 0:
		return "", ReasonUnknown
	case 1:
		return candidates[0], ""
	}

	// Same-file candidate wins among many: a static helper shadows
	// same-named functions in other files for calls inside its own file.
	var sameFile string
	for _, id := range candidates {
		if a.nodes[id].File == call.callerFile {
			if sameFile != "" {
				return "", ReasonAmbiguous
			}
			sameFile = id
		}
	}
	if sameFile != "" {
		return sameFile, ""
	}
	return "", ReasonAmbiguous
}
