package pkgapproval

import "github.com/tidwall/match"

// Rule matches a package name (exact, or glob via tidwall/match, e.g.
// "internal.*") to a Decision. Adapted from the teacher's PrefixRule,
// narrowed from a multi-token command prefix to a single package name.
type Rule struct {
	Pattern       string
	Decision      Decision
	Justification string
}

func (r Rule) matches(pkg string) bool {
	return match.Match(pkg, r.Pattern)
}

// Policy holds the built-in package rules: an always-whitelisted
// allowlist and a never-approvable blocklist, plus any operator-supplied
// rules in between.
type Policy struct {
	rules []Rule
}

// NewPolicy creates an empty policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// AddRule appends r to the policy.
func (p *Policy) AddRule(r Rule) {
	p.rules = append(p.rules, r)
}

// Check evaluates pkg against every rule, returning the highest matching
// decision, or NeedsApproval if nothing matches (spec.md §4.9: packages
// outside both lists require explicit approval).
func (p *Policy) Check(pkg string) (Decision, string) {
	var highest Decision
	justification := ""
	matched := false
	for _, r := range p.rules {
		if !r.matches(pkg) {
			continue
		}
		if !matched || r.Decision > highest {
			highest = r.Decision
			justification = r.Justification
		}
		matched = true
	}
	if !matched {
		return NeedsApproval, ""
	}
	return highest, justification
}

// Merge adds all of other's rules into p.
func (p *Policy) Merge(other *Policy) {
	p.rules = append(p.rules, other.rules...)
}
