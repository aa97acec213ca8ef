package analyzer

import (
	"go.starlark.net/syntax"
)

// builtinNames are the top-level names that are never MCP namespaces —
// the restricted fetch() surface and the built-in filesystem binding
// (internal/isolate's "fs"), both sanctioned elsewhere in the pipeline.
var builtinNames = map[string]bool{
	"fetch": true, "fs": true, "True": true, "False": true, "None": true,
}

// semanticFindings is the semantic pass's intermediate result, before
// risk scoring.
type semanticFindings struct {
	Intents              []string
	ReferencedNamespaces []string
	UnknownNamespaces    []string
	ExternalEffectCalls  int
}

// runSemanticPass classifies the submission's call sites into intents
// and cross-references every top-level namespace.method(...) call
// against availableMCPs, per spec.md §4.1's semantic pass.
func runSemanticPass(file *syntax.File, availableMCPs []string) semanticFindings {
	allowed := make(map[string]bool, len(availableMCPs))
	for _, ns := range availableMCPs {
		allowed[ns] = true
	}

	f := &semanticWalker{allowed: allowed, seenNamespace: map[string]bool{}, seenUnknown: map[string]bool{}}
	for _, stmt := range file.Stmts {
		f.stmt(stmt)
	}

	findings := semanticFindings{ExternalEffectCalls: f.effectCalls}
	for ns := range f.seenNamespace {
		findings.ReferencedNamespaces = append(findings.ReferencedNamespaces, ns)
	}
	for ns := range f.seenUnknown {
		findings.UnknownNamespaces = append(findings.UnknownNamespaces, ns)
	}
	if f.toolCalls > 0 {
		findings.Intents = append(findings.Intents, "tool-call")
	}
	if f.networkCalls > 0 {
		findings.Intents = append(findings.Intents, "network-fetch")
	}
	if f.dataTransformCalls > 0 {
		findings.Intents = append(findings.Intents, "data-transformation")
	}
	return findings
}

// semanticWalker re-derives the same recursive-descent shape as walker
// in rules.go (go.starlark.net/syntax has no generic Walk), but collects
// intents instead of structural violations.
type semanticWalker struct {
	allowed            map[string]bool
	seenNamespace      map[string]bool
	seenUnknown        map[string]bool
	toolCalls          int
	networkCalls       int
	dataTransformCalls int
	effectCalls        int
}

var dataTransformNames = map[string]bool{
	"sorted": true, "reversed": true, "enumerate": true, "zip": true,
	"map": true, "filter": true,
}

func (f *semanticWalker) stmts(list []syntax.Stmt) {
	for _, s := range list {
		f.stmt(s)
	}
}

func (f *semanticWalker) stmt(s syntax.Stmt) {
	switch x := s.(type) {
	case *syntax.AssignStmt:
		f.expr(x.LHS)
		f.expr(x.RHS)
	case *syntax.ExprStmt:
		f.expr(x.X)
	case *syntax.DefStmt:
		f.stmts(x.Body)
	case *syntax.IfStmt:
		f.expr(x.Cond)
		f.stmts(x.True)
		f.stmts(x.False)
	case *syntax.ForStmt:
		f.expr(x.X)
		f.stmts(x.Body)
	case *syntax.WhileStmt:
		f.expr(x.Cond)
		f.stmts(x.Body)
	case *syntax.ReturnStmt:
		f.expr(x.Result)
	}
}

func (f *semanticWalker) exprs(list []syntax.Expr) {
	for _, e := range list {
		f.expr(e)
	}
}

func (f *semanticWalker) expr(e syntax.Expr) {
	if e == nil {
		return
	}
	switch x := e.(type) {
	case *syntax.CallExpr:
		f.classifyCall(x)
		f.expr(x.Fn)
		f.exprs(x.Args)
	case *syntax.DotExpr:
		f.expr(x.X)
	case *syntax.IndexExpr:
		f.expr(x.X)
		f.expr(x.Y)
	case *syntax.BinaryExpr:
		f.expr(x.X)
		f.expr(x.Y)
	case *syntax.UnaryExpr:
		f.expr(x.X)
	case *syntax.ParenExpr:
		f.expr(x.X)
	case *syntax.CondExpr:
		f.expr(x.Cond)
		f.expr(x.True)
		f.expr(x.False)
	case *syntax.ListExpr:
		f.exprs(x.List)
	case *syntax.TupleExpr:
		f.exprs(x.List)
	case *syntax.DictExpr:
		f.exprs(x.List)
	case *syntax.DictEntry:
		f.expr(x.Key)
		f.expr(x.Value)
	case *syntax.LambdaExpr:
		f.expr(x.Body)
	case *syntax.Comprehension:
		f.expr(x.Body)
	}
}

// classifyCall recognizes ns.method(...) tool calls, fetch(...) network
// calls, and common functional-transform builtins.
func (f *semanticWalker) classifyCall(c *syntax.CallExpr) {
	switch fn := c.Fn.(type) {
	case *syntax.DotExpr:
		ns, ok := fn.X.(*syntax.Ident)
		if !ok || builtinNames[ns.Name] {
			return
		}
		f.seenNamespace[ns.Name] = true
		f.toolCalls++
		f.effectCalls++
		if !f.allowed[ns.Name] {
			f.seenUnknown[ns.Name] = true
		}
	case *syntax.Ident:
		switch {
		case fn.Name == "fetch":
			f.networkCalls++
			f.effectCalls++
		case dataTransformNames[fn.Name]:
			f.dataTransformCalls++
		}
	}
}
