// Package extract parses macro-expanded C and pulls out function
// definitions and call sites, remapped to original source locations.
package extract

import (
	"context"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"kimpact/internal/logging"
	"kimpact/internal/preproc"
	"kimpact/internal/subsys"
)

// Extractor turns preprocessed translation units into function and call
// records. Not safe for concurrent use; each ingest worker owns one.
type Extractor struct {
	parser *Parser
	logger *logging.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *logging.Logger) *Extractor {
	return &Extractor{
		parser: NewParser(),
		logger: logger.With(map[string]interface{}{"component": "extract"}),
	}
}

// expanded-space definition bookkeeping before remap/filter
type rawDef struct {
	name      string
	startLine int // expanded
	endLine   int // expanded
	isStatic  bool
	keepIdx   int // index in FileExtraction.Functions, -1 if filtered out
}

// Extract parses the preprocessed result of one translation unit and
// produces remapped, subsystem-filtered definitions and call sites.
func (e *Extractor) Extract(ctx context.Context, file string, res *preproc.Result, layout *subsys.Layout) (*FileExtraction, error) {
	root, degraded, err := e.parser.Parse(ctx, res.Source)
	if err != nil {
		return nil, err
	}

	// Locations are stored relative to the subsystem root so snapshots and
	// exports carry no machine-local prefixes.
	out := &FileExtraction{
		File:            layout.Rel(file),
		ParseDegraded:   degraded,
		PreprocFallback: res.Fallback,
		PreprocWarning:  res.Warning,
	}
	if degraded {
		e.logger.Debug("parse produced a partial tree", map[string]interface{}{"file": file})
	}

	defs := e.collectDefinitions(root, res.Source)

	// Remap and filter definitions. A definition whose start line maps to a
	// header (or any non-subsystem file) is a macro fabrication for this
	// subsystem's purposes and is dropped.
	for i := range defs {
		d := &defs[i]
		d.keepIdx = -1

		loc, ok := res.LineMap.Resolve(d.startLine)
		if !ok || !layout.ContainsSource(loc.File) {
			out.DroppedHeaderDefs++
			continue
		}

		endLine := loc.Line + (d.endLine - d.startLine)
		if endLoc, ok := res.LineMap.Resolve(d.endLine); ok && endLoc.File == loc.File {
			endLine = endLoc.Line
		}

		d.keepIdx = len(out.Functions)
		out.Functions = append(out.Functions, FunctionDef{
			Name:      d.name,
			File:      layout.Rel(loc.File),
			StartLine: loc.Line,
			EndLine:   endLine,
			IsStatic:  d.isStatic,
		})
	}

	e.collectCalls(root, res, layout, defs, out)

	return out, nil
}

// collectDefinitions finds function_definition nodes and their names,
// spans and storage class, all still in expanded-line space.
func (e *Extractor) collectDefinitions(root *sitter.Node, source []byte) []rawDef {
	var defs []rawDef
	for _, node := range findNodes(root, "function_definition") {
		name := definitionName(node, source)
		if name == "" {
			continue
		}
		defs = append(defs, rawDef{
			name:      name,
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			isStatic:  hasStaticSpecifier(node, source),
		})
	}
	// Document order is line order, but be explicit for containment search
	sort.Slice(defs, func(i, j int) bool { return defs[i].startLine < defs[j].startLine })
	return defs
}

// collectCalls finds call_expression nodes, attaches each to its enclosing
// definition by expanded-line containment, and remaps the site.
func (e *Extractor) collectCalls(root *sitter.Node, res *preproc.Result, layout *subsys.Layout, defs []rawDef, out *FileExtraction) {
	for _, node := range findNodes(root, "call_expression") {
		callee := calleeName(node, res.Source)
		if callee == "" {
			continue
		}

		line := int(node.StartPoint().Row) + 1
		caller := containingDef(defs, line)
		if caller == nil {
			// Macro preamble or file-scope initializer text
			out.DroppedOrphanCalls++
			continue
		}
		if caller.keepIdx < 0 {
			// Enclosing definition was itself a header artifact
			out.DroppedHeaderCalls++
			continue
		}

		loc, ok := res.LineMap.Resolve(line)
		if !ok || !layout.ContainsSource(loc.File) {
			out.DroppedHeaderCalls++
			continue
		}

		loc.File = layout.Rel(loc.File)
		out.Calls = append(out.Calls, CallSite{
			CallerIdx: caller.keepIdx,
			Callee:    callee,
			Location:  loc,
		})
	}
}

// containingDef returns the definition whose [start, end] interval contains
// the given expanded line, or nil.
func containingDef(defs []rawDef, line int) *rawDef {
	// Rightmost definition starting at or before the line
	idx := sort.Search(len(defs), func(i int) bool { return defs[i].startLine > line }) - 1
	for i := idx; i >= 0; i-- {
		if defs[i].endLine >= line {
			return &defs[i]
		}
		// Definitions are non-overlapping in C; one miss means no container
		break
	}
	return nil
}

// definitionName digs the identifier out of a function_definition's
// declarator, through pointer and parenthesized declarators
// (e.g. `static void *ext4_alloc(...)`).
func definitionName(node *sitter.Node, source []byte) string {
	decl := node.ChildByFieldName("declarator")
	for decl != nil {
		switch decl.Type() {
		case "function_declarator":
			inner := decl.ChildByFieldName("declarator")
			if inner != nil && inner.Type() == "identifier" {
				return inner.Content(source)
			}
			decl = inner
		case "pointer_declarator", "parenthesized_declarator":
			decl = decl.ChildByFieldName("declarator")
			if decl == nil {
				return ""
			}
		case "identifier":
			return decl.Content(source)
		default:
			return ""
		}
	}
	return ""
}

// calleeName extracts the called identifier from a call_expression.
// Member calls through an ops table (`sb->s_op->put_super(...)`) yield the
// field name; computed calls through casts yield nothing and are skipped.
func calleeName(node *sitter.Node, source []byte) string {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(source)
	case "field_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			return field.Content(source)
		}
	case "parenthesized_expression":
		// (*fn_ptr)(...) — no stable name
		return ""
	}
	return ""
}

// hasStaticSpecifier reports whether the definition carries the `static`
// storage class.
func hasStaticSpecifier(node *sitter.Node, source []byte) bool {
	for i := uint32(0); i < node.ChildCount(); i++ {
		child := node.Child(int(i))
		if child != nil && child.Type() == "storage_class_specifier" && child.Content(source) == "static" {
			return true
		}
	}
	return false
}
