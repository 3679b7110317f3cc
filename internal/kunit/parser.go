// Package kunit parses KUnit test files and maps the functions they
// exercise onto the call graph as coverage facts.
package kunit

import (
	"context"
	"os"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"kimpact/internal/extract"
	"kimpact/internal/logging"
)

// TestCase is one KUnit test function together with the kernel functions
// it calls. ID is stable across runs (file::name).
type TestCase struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	StartLine int      `json:"startLine"`
	EndLine   int      `json:"endLine"`
	Suite     string   `json:"suite,omitempty"`
	Calls     []string `json:"calls,omitempty"`
}

// ID returns the stable identity of the test case.
func (tc *TestCase) ID() string {
	return tc.File + "::" + tc.Name
}

// TestSuite is a kunit_suite variable definition found in a test file.
type TestSuite struct {
	Name  string   `json:"name"`
	File  string   `json:"file"`
	Cases []string `json:"cases,omitempty"`
}

// Parser extracts test cases and suites from KUnit test sources. Not safe
// for concurrent use; create one per goroutine.
type Parser struct {
	parser *extract.Parser
	logger *logging.Logger
}

// NewParser creates a KUnit test file parser.
func NewParser(logger *logging.Logger) *Parser {
	return &Parser{
		parser: extract.NewParser(),
		logger: logger.With(map[string]interface{}{"component": "kunit"}),
	}
}

// ParseFile parses one KUnit test file. Test files are never preprocessed:
// KUnit macros expand into noise and the test function names we need are
// visible in the raw source.
func (p *Parser) ParseFile(ctx context.Context, file string) ([]TestCase, []TestSuite, error) {
	source, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, err
	}

	root, degraded, err := p.parser.Parse(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	if degraded {
		p.logger.Warn("test file parsed with errors, results may be partial", map[string]interface{}{
			"file": file,
		})
	}

	var cases []TestCase
	for _, node := range collect(root, "function_definition") {
		name := functionName(node, source)
		if name == "" || !isTestFunction(name, node, source) {
			continue
		}
		cases = append(cases, TestCase{
			Name:      name,
			File:      file,
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
			Calls:     testedCalls(node, source),
		})
	}

	suites := findSuites(root, source, file)
	linkSuites(cases, suites)

	p.logger.Debug("parsed test file", map[string]interface{}{
		"file":   file,
		"cases":  len(cases),
		"suites": len(suites),
	})

	return cases, suites, nil
}

// isTestFunction reports whether a function definition is a KUnit test:
// it takes a struct kunit * parameter and its name mentions test.
func isTestFunction(name string, node *sitter.Node, source []byte) bool {
	if !strings.Contains(strings.ToLower(name), "test") {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "function_declarator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			sub := child.Child(j)
			if sub.Type() == "parameter_list" &&
				strings.Contains(sub.Content(source), "struct kunit") {
				return true
			}
		}
	}
	return false
}

// testedCalls returns the deduplicated names of the functions a test body
// calls, with KUnit assertion macros and common allocation helpers removed.
func testedCalls(fn *sitter.Node, source []byte) []string {
	var body *sitter.Node
	for i := 0; i < int(fn.ChildCount()); i++ {
		if c := fn.Child(i); c.Type() == "compound_statement" {
			body = c
			break
		}
	}
	if body == nil {
		return nil
	}

	seen := make(map[string]bool)
	var calls []string
	for _, call := range collect(body, "call_expression") {
		name := callName(call, source)
		if name == "" || seen[name] || isHarnessCall(name) {
			continue
		}
		seen[name] = true
		calls = append(calls, name)
	}
	return calls
}

func callName(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			return child.Content(source)
		case "field_expression":
			// function pointer call: keep the final field name
			var last string
			for j := 0; j < int(child.ChildCount()); j++ {
				sub := child.Child(j)
				if sub.Type() == "identifier" || sub.Type() == "field_identifier" {
					last = sub.Content(source)
				}
			}
			return last
		}
	}
	return ""
}

// isHarnessCall filters calls that belong to the test harness rather than
// the code under test: KUNIT_* assertion macros, kunit_* runtime helpers,
// other test functions, and trivial libc/kernel helpers.
func isHarnessCall(name string) bool {
	if strings.HasPrefix(name, "KUNIT_") || strings.HasPrefix(name, "kunit_") {
		return true
	}
	if strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "mbt_") {
		return true
	}
	return trivialHelpers[name]
}

var trivialHelpers = map[string]bool{
	"memset":         true,
	"memcpy":         true,
	"memcmp":         true,
	"strlen":         true,
	"strcmp":         true,
	"strscpy":        true,
	"snprintf":       true,
	"kmalloc":        true,
	"kzalloc":        true,
	"kcalloc":        true,
	"kfree":          true,
	"cpu_to_le32":    true,
	"le32_to_cpu":    true,
	"cpu_to_le16":    true,
	"le16_to_cpu":    true,
	"INIT_LIST_HEAD": true,
	"init_rwsem":     true,
}

// findSuites locates struct kunit_suite variable definitions.
func findSuites(root *sitter.Node, source []byte, file string) []TestSuite {
	var suites []TestSuite
	for _, decl := range collect(root, "declaration") {
		if !strings.Contains(decl.Content(source), "struct kunit_suite") {
			continue
		}
		for i := 0; i < int(decl.ChildCount()); i++ {
			child := decl.Child(i)
			if child.Type() != "init_declarator" {
				continue
			}
			for j := 0; j < int(child.ChildCount()); j++ {
				if sub := child.Child(j); sub.Type() == "identifier" {
					suites = append(suites, TestSuite{
						Name: sub.Content(source),
						File: file,
					})
					break
				}
			}
		}
	}
	return suites
}

// linkSuites assigns every test case in a file to that file's first suite.
// KUNIT_CASE registration goes through macros the parser cannot expand, and
// kernel test files in practice define one suite per file.
func linkSuites(cases []TestCase, suites []TestSuite) {
	if len(suites) == 0 {
		return
	}
	suite := &suites[0]
	for i := range cases {
		cases[i].Suite = suite.Name
		suite.Cases = append(suite.Cases, cases[i].Name)
	}
	sort.Strings(suite.Cases)
}

// functionName walks a function_definition's declarator chain to the
// defining identifier, skipping pointer and parenthesized declarators.
func functionName(node *sitter.Node, source []byte) string {
	decl := node.ChildByFieldName("declarator")
	for decl != nil {
		switch decl.Type() {
		case "identifier":
			return decl.Content(source)
		case "function_declarator", "pointer_declarator", "parenthesized_declarator":
			next := decl.ChildByFieldName("declarator")
			if next == nil {
				// parenthesized declarators have no field name
				for i := 0; i < int(decl.ChildCount()); i++ {
					c := decl.Child(i)
					t := c.Type()
					if t == "identifier" || strings.HasSuffix(t, "_declarator") {
						next = c
						break
					}
				}
			}
			decl = next
		default:
			return ""
		}
	}
	return ""
}

// collect gathers all nodes of a type in document order.
func collect(root *sitter.Node, nodeType string) []*sitter.Node {
	var result []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == nodeType {
			result = append(result, n)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return result
}
