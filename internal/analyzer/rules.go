package analyzer

import (
	"strings"

	"go.starlark.net/syntax"
)

// Rule ids, per spec.md §4.1 (a)-(f), plus the semantic-pass ids this
// package adds.
const (
	RuleProtoMutation       = 1 // (a)
	RuleReflectiveCall      = 2 // (b)
	RuleProcessGlobal       = 3 // (c)
	RuleModuleLoading       = 4 // (d)
	RuleDynamicEval         = 5 // (e)
	RuleRawIO               = 6 // (f)
	ruleIDSemanticRisk      = 100
	ruleIDUnknownNamespace  = 101
)

// processGlobalNames are identifiers that would only ever resolve to a
// process-global handle were one to leak into the predeclared
// environment; Starlark's predeclared dict for Code-Mode never defines
// them, so any reference is itself evidence of an attempted escape,
// independent of whether the name would actually resolve at runtime.
var processGlobalNames = map[string]bool{
	"process": true, "os": true, "sys": true, "runtime": true, "environ": true,
}

var rawIONames = map[string]bool{
	"subprocess": true, "socket": true, "net": true, "http": true,
	"io": true, "open": true, "exec": true, "popen": true, "spawn": true,
}

var dynamicLoadNames = map[string]bool{
	"import": true, "require": true, "__import__": true, "import_module": true,
}

var dynamicEvalNames = map[string]bool{
	"eval": true, "exec_": true, "compile": true, "Function": true,
}

var reflectiveConstructorNames = map[string]bool{
	"getattr": true, "setattr": true, "type": true,
}

type ruleViolation struct {
	RuleID int
	Reason string
	Line   int
	Column int
}

// checkStructuralRules walks the whole file once, applying rules (a)-(f)
// and returning the first violation found (any one is sufficient for
// mandatory rejection, per spec.md §4.1).
//
// The traversal is a hand-rolled recursive descent rather than a generic
// AST-walk utility: go.starlark.net/syntax exposes concrete statement and
// expression node types but no public Walk helper, so each node kind is
// visited explicitly below (unrecognized kinds are simply skipped, never
// treated as an error — this is a defense-in-depth scan, not a full
// evaluator).
func checkStructuralRules(file *syntax.File) *ruleViolation {
	w := &walker{}
	for _, stmt := range file.Stmts {
		if v := w.stmt(stmt); v != nil {
			return v
		}
	}
	return nil
}

type walker struct{}

func (w *walker) stmts(list []syntax.Stmt) *ruleViolation {
	for _, s := range list {
		if v := w.stmt(s); v != nil {
			return v
		}
	}
	return nil
}

func (w *walker) stmt(s syntax.Stmt) *ruleViolation {
	switch x := s.(type) {
	case *syntax.AssignStmt:
		if v := checkAssignTarget(x); v != nil {
			return v
		}
		if v := w.expr(x.LHS); v != nil {
			return v
		}
		return w.expr(x.RHS)
	case *syntax.ExprStmt:
		return w.expr(x.X)
	case *syntax.DefStmt:
		for _, p := range x.Params {
			if v := w.expr(p); v != nil {
				return v
			}
		}
		return w.stmts(x.Body)
	case *syntax.IfStmt:
		if v := w.expr(x.Cond); v != nil {
			return v
		}
		if v := w.stmts(x.True); v != nil {
			return v
		}
		return w.stmts(x.False)
	case *syntax.ForStmt:
		if v := w.expr(x.Vars); v != nil {
			return v
		}
		if v := w.expr(x.X); v != nil {
			return v
		}
		return w.stmts(x.Body)
	case *syntax.WhileStmt:
		if v := w.expr(x.Cond); v != nil {
			return v
		}
		return w.stmts(x.Body)
	case *syntax.ReturnStmt:
		if x.Result != nil {
			return w.expr(x.Result)
		}
	case *syntax.LoadStmt:
		// load() itself is sanctioned by Package Approval (C9), which runs
		// its own pass over load() statements; no additional structural
		// check is needed here.
	case *syntax.BranchStmt:
		// no nested expressions
	}
	return nil
}

func (w *walker) exprs(list []syntax.Expr) *ruleViolation {
	for _, e := range list {
		if v := w.expr(e); v != nil {
			return v
		}
	}
	return nil
}

func (w *walker) expr(e syntax.Expr) *ruleViolation {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case *syntax.Ident:
		return checkIdentReference(x)
	case *syntax.CallExpr:
		if v := checkCall(x); v != nil {
			return v
		}
		if v := w.expr(x.Fn); v != nil {
			return v
		}
		return w.exprs(x.Args)
	case *syntax.DotExpr:
		return w.expr(x.X)
	case *syntax.IndexExpr:
		if v := w.expr(x.X); v != nil {
			return v
		}
		return w.expr(x.Y)
	case *syntax.SliceExpr:
		if v := w.expr(x.X); v != nil {
			return v
		}
		if v := w.expr(x.Lo); v != nil {
			return v
		}
		if v := w.expr(x.Hi); v != nil {
			return v
		}
		return w.expr(x.Step)
	case *syntax.BinaryExpr:
		if v := w.expr(x.X); v != nil {
			return v
		}
		return w.expr(x.Y)
	case *syntax.UnaryExpr:
		return w.expr(x.X)
	case *syntax.ParenExpr:
		return w.expr(x.X)
	case *syntax.CondExpr:
		if v := w.expr(x.Cond); v != nil {
			return v
		}
		if v := w.expr(x.True); v != nil {
			return v
		}
		return w.expr(x.False)
	case *syntax.ListExpr:
		return w.exprs(x.List)
	case *syntax.TupleExpr:
		return w.exprs(x.List)
	case *syntax.DictExpr:
		return w.exprs(x.List)
	case *syntax.DictEntry:
		if v := w.expr(x.Key); v != nil {
			return v
		}
		return w.expr(x.Value)
	case *syntax.LambdaExpr:
		for _, p := range x.Params {
			if v := w.expr(p); v != nil {
				return v
			}
		}
		return w.expr(x.Body)
	case *syntax.Comprehension:
		return w.expr(x.Body)
	}
	return nil
}

// checkAssignTarget implements rule (a): assignment to a dunder-prefixed
// attribute is the closest Starlark analogue to JS prototype-chain
// mutation, since Starlark otherwise has no settable object prototypes.
func checkAssignTarget(a *syntax.AssignStmt) *ruleViolation {
	dot, ok := a.LHS.(*syntax.DotExpr)
	if !ok {
		return nil
	}
	if strings.HasPrefix(dot.Name.Name, "__") {
		start, _ := dot.Span()
		return &ruleViolation{
			RuleID: RuleProtoMutation,
			Reason: "assignment to a dunder-prefixed attribute (" + dot.Name.Name + ")",
			Line:   int(start.Line),
			Column: int(start.Col),
		}
	}
	return nil
}

// checkCall implements rules (b), (d), (e), (f) for call expressions.
func checkCall(c *syntax.CallExpr) *ruleViolation {
	name, ok := callTargetName(c)
	if !ok {
		return nil
	}

	switch {
	case reflectiveConstructorNames[name] && callHasDunderStringArg(c):
		start, _ := c.Span()
		return &ruleViolation{RuleID: RuleReflectiveCall, Reason: "reflective access to a dunder attribute via " + name + "()", Line: int(start.Line), Column: int(start.Col)}
	case dynamicLoadNames[name]:
		start, _ := c.Span()
		return &ruleViolation{RuleID: RuleModuleLoading, Reason: "dynamic module-loading construct: " + name + "()", Line: int(start.Line), Column: int(start.Col)}
	case dynamicEvalNames[name]:
		start, _ := c.Span()
		return &ruleViolation{RuleID: RuleDynamicEval, Reason: "dynamic code execution primitive: " + name + "()", Line: int(start.Line), Column: int(start.Col)}
	case rawIONames[name]:
		start, _ := c.Span()
		return &ruleViolation{RuleID: RuleRawIO, Reason: "raw child-process/filesystem/network primitive: " + name + "()", Line: int(start.Line), Column: int(start.Col)}
	}
	return nil
}

// checkIdentReference implements rule (c): a bare reference to a
// process-global name, even without a call, is rejected — assignment of
// such a handle to a local for later use is just as dangerous as calling
// it directly.
func checkIdentReference(id *syntax.Ident) *ruleViolation {
	if processGlobalNames[id.Name] {
		start, _ := id.Span()
		return &ruleViolation{RuleID: RuleProcessGlobal, Reason: "reference to process-global handle: " + id.Name, Line: int(start.Line), Column: int(start.Col)}
	}
	return nil
}

func callTargetName(c *syntax.CallExpr) (string, bool) {
	switch fn := c.Fn.(type) {
	case *syntax.Ident:
		return fn.Name, true
	case *syntax.DotExpr:
		return fn.Name.Name, true
	default:
		return "", false
	}
}

func callHasDunderStringArg(c *syntax.CallExpr) bool {
	for _, arg := range c.Args {
		lit, ok := arg.(*syntax.Literal)
		if !ok {
			continue
		}
		if s, ok := lit.Value.(string); ok && strings.HasPrefix(s, "__") {
			return true
		}
	}
	return false
}
