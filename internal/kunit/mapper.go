package kunit

import (
	"context"
	"sort"

	"kimpact/internal/callgraph"
	"kimpact/internal/logging"
	"kimpact/internal/subsys"
)

// CoverageMap maps function ids to the ids of test cases exercising them.
// It satisfies the analyzer's CoverageProvider interface.
type CoverageMap map[string][]string

// CoverageFor returns the test ids covering a function, sorted. A function
// with no coverage returns nil.
func (m CoverageMap) CoverageFor(functionID string) []string {
	return m[functionID]
}

// MapStats summarizes one test-mapping run.
type MapStats struct {
	TestFiles  int `json:"testFiles"`
	TestCases  int `json:"testCases"`
	TestSuites int `json:"testSuites"`
	Mapped     int `json:"mapped"`
	Unresolved int `json:"unresolved"`
}

// Mapping is the result of mapping a subsystem's KUnit tests onto a graph
// snapshot.
type Mapping struct {
	Cases    []TestCase
	Suites   []TestSuite
	Coverage CoverageMap
	Stats    MapStats
}

// Mapper links KUnit test cases to the functions they cover.
type Mapper struct {
	parser *Parser
	logger *logging.Logger
}

// NewMapper creates a test mapper.
func NewMapper(logger *logging.Logger) *Mapper {
	return &Mapper{
		parser: NewParser(logger),
		logger: logger.With(map[string]interface{}{"component": "kunit"}),
	}
}

// MapTests parses every test file in the layout and resolves tested calls
// against the snapshot by name. A call resolving to several same-named
// functions covers all of them; an unresolvable call (macro, external
// helper) is counted but never fails the run.
func (m *Mapper) MapTests(ctx context.Context, layout *subsys.Layout, snap *callgraph.Snapshot) (*Mapping, error) {
	mapping := &Mapping{Coverage: make(CoverageMap)}
	mapping.Stats.TestFiles = len(layout.Tests)

	for _, file := range layout.Tests {
		cases, suites, err := m.parser.ParseFile(ctx, file)
		if err != nil {
			m.logger.Warn("skipping unreadable test file", map[string]interface{}{
				"file":  file,
				"error": err.Error(),
			})
			continue
		}
		// Test ids use subsystem-relative files, matching function ids.
		for i := range cases {
			cases[i].File = layout.Rel(cases[i].File)
		}
		for i := range suites {
			suites[i].File = layout.Rel(suites[i].File)
		}
		mapping.Cases = append(mapping.Cases, cases...)
		mapping.Suites = append(mapping.Suites, suites...)
	}

	unresolved := make(map[string]bool)
	for i := range mapping.Cases {
		tc := &mapping.Cases[i]
		for _, callee := range tc.Calls {
			nodes := snap.NodesByName(callee)
			if len(nodes) == 0 {
				unresolved[callee] = true
				continue
			}
			for _, node := range nodes {
				mapping.Coverage[node.ID] = append(mapping.Coverage[node.ID], tc.ID())
				mapping.Stats.Mapped++
			}
		}
	}
	mapping.Stats.TestCases = len(mapping.Cases)
	mapping.Stats.TestSuites = len(mapping.Suites)
	mapping.Stats.Unresolved = len(unresolved)

	for id, tests := range mapping.Coverage {
		mapping.Coverage[id] = dedupSort(tests)
	}

	m.logger.Info("test mapping complete", map[string]interface{}{
		"testFiles":  mapping.Stats.TestFiles,
		"testCases":  mapping.Stats.TestCases,
		"mapped":     mapping.Stats.Mapped,
		"unresolved": mapping.Stats.Unresolved,
	})

	return mapping, nil
}

func dedupSort(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}
