package pkgapproval

import (
	"fmt"

	"go.starlark.net/starlark"
)

// ParseError wraps a Starlark policy source parse failure.
type ParseError struct {
	File    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.File, e.Message) }
func (e *ParseError) Unwrap() error { return e.Cause }

// ParsePolicy parses a Starlark policy source built from calls to the
// package_rule() builtin, adapted from the teacher's ParsePolicy /
// prefix_rule() mechanism in internal/execpolicy/parser.go.
func ParsePolicy(filename, source string) (*Policy, error) {
	policy := NewPolicy()

	packageRule := starlark.NewBuiltin("package_rule", func(
		thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple,
	) (starlark.Value, error) {
		var (
			pattern       string
			decisionStr   string
			justification string
		)
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
			"pattern", &pattern,
			"decision?", &decisionStr,
			"justification?", &justification,
		); err != nil {
			return nil, err
		}
		if pattern == "" {
			return nil, fmt.Errorf("package_rule pattern must not be empty")
		}
		if decisionStr == "" {
			decisionStr = "needs_approval"
		}
		decision, err := ParseDecision(decisionStr)
		if err != nil {
			return nil, err
		}
		policy.AddRule(Rule{Pattern: pattern, Decision: decision, Justification: justification})
		return starlark.None, nil
	})

	predeclared := starlark.StringDict{"package_rule": packageRule}
	thread := &starlark.Thread{Name: filename}

	if _, err := starlark.ExecFile(thread, filename, source, predeclared); err != nil {
		return nil, &ParseError{File: filename, Message: fmt.Sprintf("starlark parse error: %v", err), Cause: err}
	}
	return policy, nil
}

// ParsePolicyMultiple parses and merges several named policy sources.
func ParsePolicyMultiple(sources map[string]string) (*Policy, error) {
	merged := NewPolicy()
	for filename, source := range sources {
		p, err := ParsePolicy(filename, source)
		if err != nil {
			return nil, err
		}
		merged.Merge(p)
	}
	return merged, nil
}
