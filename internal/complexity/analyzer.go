//go:build cgo

package complexity

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

type kind uint8

const (
	function kind = 1 << iota
	decision      // +1 cyclomatic, +1+depth cognitive
	nesting       // children sit one level deeper
)

// goKinds classifies tree-sitter-go node types. A range loop scores twice
// (for_statement plus range_clause) and default cases not at all, matching
// gocyclo.
var goKinds = map[string]kind{
	"function_declaration":        function,
	"method_declaration":          function,
	"func_literal":                function | nesting,
	"if_statement":                decision | nesting,
	"for_statement":               decision | nesting,
	"range_clause":                decision,
	"expression_switch_statement": nesting,
	"type_switch_statement":       nesting,
	"expression_case":             decision,
	"type_case":                   decision,
	"select_statement":            decision | nesting,
	"communication_case":          decision,
	"binary_expression":           decision, // only && and ||
}

// Analyzer scores Go sources. The zero value is ready; it is safe for
// concurrent use since every call gets its own parser.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// AnalyzeSource parses source and scores each function in it.
func (a *Analyzer) AnalyzeSource(ctx context.Context, path string, source []byte) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()
	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no syntax tree", path)
	}

	f := &File{Path: path, Functions: []Function{}, Partial: root.HasError()}
	eachNode(root, func(n *sitter.Node) {
		if goKinds[n.Type()]&function == 0 {
			return
		}
		fn := Function{
			Name:       nameOf(n, source),
			Line:       int(n.StartPoint().Row) + 1,
			EndLine:    int(n.EndPoint().Row) + 1,
			Cyclomatic: 1,
		}
		score(n, 0, &fn)
		f.Functions = append(f.Functions, fn)
	})
	return f, nil
}

// score accumulates the decisions under n into fn.
func score(n *sitter.Node, depth int, fn *Function) {
	k := goKinds[n.Type()]
	if k&decision != 0 && (n.Type() != "binary_expression" || isLogical(n)) {
		fn.Cyclomatic++
		fn.Cognitive += 1 + depth
	}
	if k&nesting != 0 {
		depth++
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			score(c, depth, fn)
		}
	}
}

func isLogical(n *sitter.Node) bool {
	op := n.ChildByFieldName("operator")
	return op != nil && (op.Type() == "&&" || op.Type() == "||")
}

func eachNode(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			eachNode(c, visit)
		}
	}
}

func nameOf(n *sitter.Node, source []byte) string {
	if id := n.ChildByFieldName("name"); id != nil {
		return id.Content(source)
	}
	if n.Type() == "func_literal" {
		return "func literal"
	}
	return "?"
}

// IsAvailable reports whether scoring is compiled in.
func IsAvailable() bool { return true }
