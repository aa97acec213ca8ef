package pkgapproval

import (
	"fmt"
	"sync"
	"time"

	"go.starlark.net/syntax"
)

// Scope is the lifetime of a granted package approval, per spec.md §4.9.
type Scope int

const (
	ScopeOperation Scope = iota // this submission only
	ScopeSession                // process lifetime
	ScopeHour
	ScopeDay
)

func (s Scope) duration() (time.Duration, bool) {
	switch s {
	case ScopeHour:
		return time.Hour, true
	case ScopeDay:
		return 24 * time.Hour, true
	case ScopeOperation:
		return operationSafetyExpiry, true
	default:
		return 0, false // session: no expiry
	}
}

// operationSafetyExpiry bounds an operation-scope approval even if the
// submission boundary that should clear it is never reached, per
// spec.md §4.9's "one-minute safety expiry as a secondary guard".
const operationSafetyExpiry = time.Minute

// AnalysisResult is analyze()'s report of a code submission's referenced
// packages, partitioned by decision.
type AnalysisResult struct {
	Whitelisted   []string
	NeedsApproval []string
	Blocked       []string
}

type approval struct {
	scope     Scope
	expiresAt time.Time // zero ⇒ no expiry (session scope)
}

func (a approval) expired(now time.Time) bool {
	return !a.expiresAt.IsZero() && now.After(a.expiresAt)
}

// Manager is the process-wide Package Approval engine: it evaluates
// `load()` package references in submitted code against a built-in
// Policy, and tracks caller-granted approvals by scope.
type Manager struct {
	policy *Policy

	mu        sync.Mutex
	approvals map[string]approval // package name -> most-permissive still-live grant
}

// NewManager creates a Manager backed by policy (the built-in allow/block
// lists and any operator-supplied rules).
func NewManager(policy *Policy) *Manager {
	return &Manager{
		policy:    policy,
		approvals: make(map[string]approval),
	}
}

// Analyze extracts every package referenced by a `load(...)` statement in
// code and classifies each against the policy and any live approval.
func (m *Manager) Analyze(filename, code string) (AnalysisResult, error) {
	packages, err := extractLoadedPackages(filename, code)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("extract load() statements: %w", err)
	}

	var result AnalysisResult
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pkg := range packages {
		decision, _ := m.policy.Check(pkg)
		if decision == Blocked {
			result.Blocked = append(result.Blocked, pkg)
			continue
		}
		if decision == Whitelisted || m.isApprovedLocked(pkg, now) {
			result.Whitelisted = append(result.Whitelisted, pkg)
			continue
		}
		result.NeedsApproval = append(result.NeedsApproval, pkg)
	}
	return result, nil
}

// Approve grants pkg the given scope. Packages matching the built-in
// blocklist can never be approved.
func (m *Manager) Approve(pkg string, scope Scope) error {
	decision, _ := m.policy.Check(pkg)
	if decision == Blocked {
		return fmt.Errorf("package %q is blocked and cannot be approved", pkg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := approval{scope: scope}
	if d, hasExpiry := scope.duration(); hasExpiry {
		a.expiresAt = time.Now().Add(d)
	}
	m.approvals[pkg] = a
	return nil
}

// IsApproved reports whether pkg is currently approved: whitelisted by
// policy, or covered by a live (unexpired) approval grant.
func (m *Manager) IsApproved(pkg string) bool {
	if decision, _ := m.policy.Check(pkg); decision == Whitelisted {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isApprovedLocked(pkg, time.Now())
}

func (m *Manager) isApprovedLocked(pkg string, now time.Time) bool {
	a, ok := m.approvals[pkg]
	if !ok {
		return false
	}
	if a.expired(now) {
		delete(m.approvals, pkg)
		return false
	}
	return true
}

// ClearOperationApprovals removes every operation-scope approval,
// invoked by the Orchestrator after each submission completes.
func (m *Manager) ClearOperationApprovals() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pkg, a := range m.approvals {
		if a.scope == ScopeOperation {
			delete(m.approvals, pkg)
		}
	}
}

// extractLoadedPackages parses code as Starlark and returns the module
// path of every top-level load() statement.
func extractLoadedPackages(filename, code string) ([]string, error) {
	f, err := syntax.Parse(filename, code, 0)
	if err != nil {
		return nil, err
	}
	var packages []string
	for _, stmt := range f.Stmts {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		if load.Module != nil {
			if s, ok := load.Module.Value.(string); ok {
				packages = append(packages, s)
			}
		}
	}
	return packages, nil
}
