package impact

import "kimpact/internal/callgraph"

// Direction selects which way the analyzer walks the call graph.
type Direction string

const (
	// DirectionCallers walks edge-reversed adjacency (who calls the target)
	DirectionCallers Direction = "callers"
	// DirectionCallees walks forward adjacency (what the target calls)
	DirectionCallees Direction = "callees"
	// DirectionBoth walks both ways
	DirectionBoth Direction = "both"
)

// ParseDirection validates a direction string, defaulting to both.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionCallers, DirectionCallees:
		return Direction(s)
	default:
		return DirectionBoth
	}
}

// RiskLevel is the classification of change risk for a function.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank orders risk levels (LOW < MEDIUM < HIGH < CRITICAL).
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// Reached is one function found during traversal, with its minimum hop
// distance from the target (1 = direct).
type Reached struct {
	Function *callgraph.FunctionNode `json:"function"`
	Depth    int                     `json:"depth"`
}

// CoverageProvider supplies test-coverage facts. A function with no entry
// has zero coverage; that is not an error.
type CoverageProvider interface {
	CoverageFor(functionID string) []string
}

// Stats summarizes one analysis.
type Stats struct {
	DirectCallers   int `json:"directCallers"`
	IndirectCallers int `json:"indirectCallers"`
	DirectCallees   int `json:"directCallees"`
	IndirectCallees int `json:"indirectCallees"`
	DirectTests     int `json:"directTests"`
	IndirectTests   int `json:"indirectTests"`
	OmittedCallers  int `json:"omittedCallers,omitempty"`
	OmittedCallees  int `json:"omittedCallees,omitempty"`
}

// Result is the complete output of one impact query. It is recomputed per
// query against an immutable snapshot and owned by the caller.
type Result struct {
	Target    *callgraph.FunctionNode `json:"target"`
	Direction Direction               `json:"direction"`
	MaxDepth  int                     `json:"maxDepth"`

	Callers []Reached `json:"callers,omitempty"`
	Callees []Reached `json:"callees,omitempty"`

	DirectTests   []string `json:"directTests,omitempty"`
	IndirectTests []string `json:"indirectTests,omitempty"`

	Stats Stats     `json:"stats"`
	Risk  RiskLevel `json:"risk"`
}
