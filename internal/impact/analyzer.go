// Package impact answers bounded-depth "what does changing this function
// affect" queries over an assembled call graph snapshot.
package impact

import (
	"sort"

	"kimpact/internal/callgraph"
	"kimpact/internal/config"
	"kimpact/internal/kerrors"
	"kimpact/internal/logging"
)

// Analyzer performs impact analysis queries. Each query is a pure function
// of (snapshot, coverage facts, parameters); the analyzer holds no state
// across queries.
type Analyzer struct {
	snap     *callgraph.Snapshot
	coverage CoverageProvider
	cfg      config.AnalysisConfig
	logger   *logging.Logger
}

// NewAnalyzer creates an analyzer over a snapshot. coverage may be nil when
// no test mapping has been ingested.
func NewAnalyzer(snap *callgraph.Snapshot, coverage CoverageProvider, cfg config.AnalysisConfig, logger *logging.Logger) *Analyzer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	return &Analyzer{
		snap:     snap,
		coverage: coverage,
		cfg:      cfg,
		logger:   logger.With(map[string]interface{}{"component": "impact"}),
	}
}

// Analyze runs one impact query for a function id.
func (a *Analyzer) Analyze(functionID string, direction Direction, maxDepth int) (*Result, error) {
	target, ok := a.snap.Node(functionID)
	if !ok {
		return nil, kerrors.New(kerrors.FunctionNotFound, "function not in graph: "+functionID, nil)
	}
	if maxDepth <= 0 {
		maxDepth = a.cfg.MaxDepth
	}

	result := &Result{
		Target:    target,
		Direction: direction,
		MaxDepth:  maxDepth,
	}

	// Caller reach always runs: the risk rating and indirect coverage are
	// properties of the function's fan-in, not of which lists the caller
	// asked to see. Direction only controls what is reported.
	callerDepths := a.traverse(functionID, maxDepth, a.snap.Callers)
	if direction == DirectionCallers || direction == DirectionBoth {
		result.Callers = a.collect(callerDepths)
	}
	var calleeDepths map[string]int
	if direction == DirectionCallees || direction == DirectionBoth {
		calleeDepths = a.traverse(functionID, maxDepth, a.snap.Callees)
		result.Callees = a.collect(calleeDepths)
	}

	a.countStats(result, callerDepths, calleeDepths)
	a.applyCoverage(result, callerDepths)
	a.limitResults(result)

	result.Risk = Classify(
		result.Stats.DirectCallers+result.Stats.IndirectCallers,
		result.Stats.DirectTests,
		a.cfg,
	)

	a.logger.Debug("impact analysis complete", map[string]interface{}{
		"target": target.Name,
		"risk":   string(result.Risk),
	})

	return result, nil
}

// AnalyzeByName resolves a function name to exactly one node and analyzes
// it. Zero matches is FunctionNotFound; several matches (same-named statics
// in different files) is FunctionAmbiguous and the caller must pick an id.
func (a *Analyzer) AnalyzeByName(name string, direction Direction, maxDepth int) (*Result, error) {
	candidates := a.snap.NodesByName(name)
	switch len(candidates) {
	case 0:
		return nil, kerrors.New(kerrors.FunctionNotFound, "no function named "+name, nil)
	case 1:
		return a.Analyze(candidates[0].ID, direction, maxDepth)
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return nil, kerrors.New(kerrors.FunctionAmbiguous,
			"multiple functions named "+name, nil).WithDetails(ids)
	}
}

// traverse is a breadth-first walk recording the minimum hop distance at
// which each node is first reached. The start node is never in the result,
// so self-recursion cannot report the target as its own caller or callee.
func (a *Analyzer) traverse(start string, maxDepth int, next func(string) []string) map[string]int {
	depths := make(map[string]int)
	frontier := []string{start}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var nextFrontier []string
		for _, id := range frontier {
			for _, n := range next(id) {
				if n == start {
					continue
				}
				if _, seen := depths[n]; seen {
					continue
				}
				depths[n] = depth
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}

	return depths
}

// collect turns a depth map into a deterministically ordered slice.
func (a *Analyzer) collect(depths map[string]int) []Reached {
	reached := make([]Reached, 0, len(depths))
	for id, depth := range depths {
		node, ok := a.snap.Node(id)
		if !ok {
			continue
		}
		reached = append(reached, Reached{Function: node, Depth: depth})
	}
	sort.Slice(reached, func(i, j int) bool {
		if reached[i].Depth != reached[j].Depth {
			return reached[i].Depth < reached[j].Depth
		}
		return reached[i].Function.ID < reached[j].Function.ID
	})
	return reached
}

// countStats counts reach from the raw depth maps rather than the reported
// lists, so the numbers stay accurate when a direction is not reported or
// the lists are truncated.
func (a *Analyzer) countStats(result *Result, callerDepths, calleeDepths map[string]int) {
	for _, depth := range callerDepths {
		if depth == 1 {
			result.Stats.DirectCallers++
		} else {
			result.Stats.IndirectCallers++
		}
	}
	for _, depth := range calleeDepths {
		if depth == 1 {
			result.Stats.DirectCallees++
		} else {
			result.Stats.IndirectCallees++
		}
	}
}

// applyCoverage intersects reachability with coverage facts: tests covering
// the target itself are direct; tests covering any caller within range are
// indirect (they exercise the target transitively).
func (a *Analyzer) applyCoverage(result *Result, callerDepths map[string]int) {
	if a.coverage == nil {
		return
	}

	result.DirectTests = dedupSorted(a.coverage.CoverageFor(result.Target.ID))
	result.Stats.DirectTests = len(result.DirectTests)

	if len(callerDepths) > 0 {
		seen := make(map[string]bool)
		for id := range callerDepths {
			for _, test := range a.coverage.CoverageFor(id) {
				seen[test] = true
			}
		}
		indirect := make([]string, 0, len(seen))
		for test := range seen {
			indirect = append(indirect, test)
		}
		sort.Strings(indirect)
		result.IndirectTests = indirect
		result.Stats.IndirectTests = len(indirect)
	}
}

// limitResults truncates caller/callee lists to the configured maximum,
// recording how many entries were omitted so nothing disappears silently.
func (a *Analyzer) limitResults(result *Result) {
	max := a.cfg.MaxResults
	if max <= 0 {
		return
	}
	if len(result.Callers) > max {
		result.Stats.OmittedCallers = len(result.Callers) - max
		result.Callers = result.Callers[:max]
	}
	if len(result.Callees) > max {
		result.Stats.OmittedCallees = len(result.Callees) - max
		result.Callees = result.Callees[:max]
	}
}

func dedupSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}
