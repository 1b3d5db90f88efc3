package extract

import (
	"github.com/aymerick/raymond/ast"
	"github.com/aymerick/raymond/parser"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// Template collects the root-context variables a Handlebars template reads.
//
// {{name}}, {{name.field}}, {{helper a b key=c}}, {{#if a}} and {{#each a}}
// all reference the root variable they start with. Inside an each or with
// block the context moves, so bare paths there are not root variables; a
// parent path (../name) climbing back to the root is. @root.name is always a
// root variable. Helper names, partial names and literals are not.
type Template struct{}

func (Template) Type() dag.NodeType { return dag.NodeTypeLLM }

func (Template) Dependencies(content []byte) ([]dag.NodeKey, error) {
	prog, err := parser.Parse(string(content))
	if err != nil {
		return nil, dag.Errorf(dag.ErrUnsupportedContent, "parse template: %v", err)
	}
	w := &walker{seen: make(map[string]struct{})}
	w.program(prog, 0)
	return w.vars, nil
}

// contextBlocks are block helpers that change the context of their body.
var contextBlocks = map[string]bool{"each": true, "with": true}

type walker struct {
	vars []dag.NodeKey
	seen map[string]struct{}
}

func (w *walker) add(name string) {
	if name == "" {
		return
	}
	if _, ok := w.seen[name]; ok {
		return
	}
	w.seen[name] = struct{}{}
	w.vars = append(w.vars, name)
}

// program walks a block body; level counts the context-changing blocks
// enclosing it.
func (w *walker) program(p *ast.Program, level int) {
	if p == nil {
		return
	}
	for _, n := range p.Body {
		switch s := n.(type) {
		case *ast.MustacheStatement:
			w.expression(s.Expression, level)
		case *ast.BlockStatement:
			w.expression(s.Expression, level)
			inner := level
			if contextBlocks[helperName(s.Expression)] {
				inner++
			}
			w.program(s.Program, inner)
			w.program(s.Inverse, level)
		case *ast.PartialStatement:
			for _, param := range s.Params {
				w.node(param, level)
			}
			w.hash(s.Hash, level)
		}
	}
}

func (w *walker) expression(e *ast.Expression, level int) {
	if e == nil {
		return
	}
	if len(e.Params) == 0 && e.Hash == nil {
		w.node(e.Path, level)
		return
	}
	// Path names a helper.
	for _, param := range e.Params {
		w.node(param, level)
	}
	w.hash(e.Hash, level)
}

func (w *walker) hash(h *ast.Hash, level int) {
	if h == nil {
		return
	}
	for _, pair := range h.Pairs {
		w.node(pair.Val, level)
	}
}

func (w *walker) node(n ast.Node, level int) {
	switch v := n.(type) {
	case *ast.PathExpression:
		w.path(v, level)
	case *ast.SubExpression:
		w.expression(v.Expression, level)
	}
}

func (w *walker) path(p *ast.PathExpression, level int) {
	if len(p.Parts) == 0 {
		return
	}
	if p.Data {
		if p.Parts[0] == "root" && len(p.Parts) > 1 {
			w.add(p.Parts[1])
		}
		return
	}
	if p.Depth == level {
		w.add(p.Parts[0])
	}
}

func helperName(e *ast.Expression) string {
	if e == nil {
		return ""
	}
	if p, ok := e.Path.(*ast.PathExpression); ok && len(p.Parts) == 1 && p.Depth == 0 {
		return p.Parts[0]
	}
	return ""
}
