// Package analyzer implements the Static Analyzer (C1): a deterministic,
// side-effect-free pass over a Code-Mode submission that rejects
// structurally dangerous code before any isolate is ever started.
//
// Maps to: spec.md §4.1, SPEC_FULL.md §4.1
package analyzer

import (
	"fmt"

	"go.starlark.net/syntax"
)

// RiskLevel is the semantic pass's combined risk classification.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ValidationError is the Go error type analyzer rejections carry, per
// SPEC_FULL.md §4.1's "analyzer rejections are converted to
// *analyzer.ValidationError".
type ValidationError struct {
	Reason string
	RuleID int
	Line   int
	Column int
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rule %d: %s (line %d, column %d)", e.RuleID, e.Reason, e.Line, e.Column)
	}
	return fmt.Sprintf("rule %d: %s", e.RuleID, e.Reason)
}

// AnalysisResult is analyze()'s full report, per spec.md §4.1.
type AnalysisResult struct {
	Rejected             bool
	Reason               string
	RuleID               int
	Line                 int
	Column               int
	Intents              []string
	ReferencedNamespaces []string
	ExternalEffectCalls   int
	RiskLevel            RiskLevel
}

// Error converts a rejected AnalysisResult into the ValidationError the
// Orchestrator propagates, per §7. Returns nil if the result is not a
// rejection.
func (r *AnalysisResult) Error() error {
	if !r.Rejected {
		return nil
	}
	return &ValidationError{Reason: r.Reason, RuleID: r.RuleID, Line: r.Line, Column: r.Column}
}

// Analyzer evaluates submissions against the structural rules, the
// pre-check, and the semantic/risk pass. It holds no mutable state: each
// Analyze call is independent, matching the "deterministic, side-effect
// free" contract.
type Analyzer struct{}

// New creates a Static Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze runs the full pipeline: regex pre-check (advisory only),
// AST parse, structural rules (a)-(f), then the semantic/risk pass
// cross-referenced against availableMCPs.
func (a *Analyzer) Analyze(filename, code string, availableMCPs []string) AnalysisResult {
	// The pre-check never gates by itself (spec.md §4.1 and §9): its only
	// effect is informational, surfaced via Intents so callers can log a
	// fast "this looks suspicious" signal ahead of the authoritative
	// AST-level verdict below.
	preHits := preCheck(code)

	file, err := syntax.Parse(filename, code, syntax.RetainComments)
	if err != nil {
		return AnalysisResult{
			Rejected: true,
			Reason:   fmt.Sprintf("syntax error: %v", err),
			RuleID:   0,
			RiskLevel: RiskCritical,
		}
	}

	if violation := checkStructuralRules(file); violation != nil {
		return AnalysisResult{
			Rejected:  true,
			Reason:    violation.Reason,
			RuleID:    violation.RuleID,
			Line:      violation.Line,
			Column:    violation.Column,
			RiskLevel: RiskCritical,
		}
	}

	semantic := runSemanticPass(file, availableMCPs)
	if len(preHits) > 0 {
		semantic.Intents = append(semantic.Intents, preHits...)
	}

	score := scoreRisk(semantic)
	result := AnalysisResult{
		Intents:              semantic.Intents,
		ReferencedNamespaces: semantic.ReferencedNamespaces,
		ExternalEffectCalls:  semantic.ExternalEffectCalls,
		RiskLevel:            score,
	}
	if score >= RiskCritical {
		result.Rejected = true
		result.Reason = "combined risk level reached critical"
		result.RuleID = ruleIDSemanticRisk
	}
	if len(semantic.UnknownNamespaces) > 0 {
		result.Rejected = true
		result.Reason = fmt.Sprintf("references MCP namespace(s) not in available_mcps: %v", semantic.UnknownNamespaces)
		result.RuleID = ruleIDUnknownNamespace
	}
	return result
}
