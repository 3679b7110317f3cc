package extract

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// Parser wraps tree-sitter with the C grammar. Parsing is error tolerant:
// malformed input still produces a (partial) tree, which is exactly what
// macro-expanded kernel source needs.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a new C parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(c.GetLanguage())
	return &Parser{parser: p}
}

// Parse parses C source and returns the root node plus a flag reporting
// whether the tree contains error nodes. An error is returned only for
// parser-level failures (cancellation), never for bad syntax.
func (p *Parser) Parse(ctx context.Context, source []byte) (*sitter.Node, bool, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, false, fmt.Errorf("parse error: %w", err)
	}
	root := tree.RootNode()
	return root, root.HasError(), nil
}

// findNodes collects all nodes of the given types in document order.
func findNodes(root *sitter.Node, types ...string) []*sitter.Node {
	if len(types) == 0 {
		return nil
	}

	var result []*sitter.Node

	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}

		nodeType := node.Type()
		for _, t := range types {
			if nodeType == t {
				result = append(result, node)
				break
			}
		}

		for i := uint32(0); i < node.ChildCount(); i++ {
			walk(node.Child(int(i)))
		}
	}

	walk(root)
	return result
}
