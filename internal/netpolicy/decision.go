package netpolicy

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// DecisionKind is the outcome of a policy check.
type DecisionKind int

const (
	Allowed DecisionKind = iota
	Blocked
	Elicit
)

func (k DecisionKind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case Elicit:
		return "elicit"
	default:
		return "unknown"
	}
}

// Decision is the result of checking a URL against the policy.
type Decision struct {
	Kind     DecisionKind
	Reason   string
	URL      string
	Hostname string
}

// Elicitor is the consumed elicitation channel interface (spec.md §6).
type Elicitor interface {
	Elicit(ctx context.Context, requester, rawURL string) (Choice, error)
}

// Choice is the outcome of presenting Allow Once / Allow Always / Deny.
type Choice int

const (
	ChoiceDeny Choice = iota
	ChoiceAllowOnce
	ChoiceAllowAlways
)

// permission caches a granted Network Permission (spec.md §3).
type permission struct {
	approved  bool
	expiresAt time.Time // zero value ⇒ permanent
}

func (p permission) expired(now time.Time) bool {
	return !p.expiresAt.IsZero() && now.After(p.expiresAt)
}

// Engine is the Network Policy Engine (C3): it evaluates URLs against a
// Policy, consults an Elicitor for localhost/private/unconfigured-
// external cases, and caches elicitation decisions.
//
// Maps to: spec.md §4.3
type Engine struct {
	policy   Policy
	elicitor Elicitor

	mu          sync.Mutex
	permissions map[string]permission // exact URL -> cached decision
}

// NewEngine creates a Network Policy Engine. elicitor may be nil, in
// which case localhost/private/unconfigured-external access without the
// matching static flag is simply Blocked (no interactive channel
// configured).
func NewEngine(policy Policy, elicitor Elicitor) *Engine {
	return &Engine{
		policy:      policy,
		elicitor:    elicitor,
		permissions: make(map[string]permission),
	}
}

// Check implements the decision order of spec.md §4.3.
func (e *Engine) Check(ctx context.Context, requester, rawURL string) Decision {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return Decision{Kind: Blocked, Reason: "malformed URL", URL: rawURL}
	}
	hostname := parsed.Hostname()

	if matchesAny(hostname, e.policy.Blocked) {
		return Decision{Kind: Blocked, Reason: "hostname matches a blocked pattern", URL: rawURL, Hostname: hostname}
	}

	if cached, ok := e.cachedPermission(rawURL); ok {
		if cached.approved {
			return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}
		}
	}

	class := classifyHost(hostname)
	switch class {
	case ClassLocalhost:
		if e.policy.AllowLocalhost {
			return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}
		}
		return e.elicitOrBlock(ctx, requester, rawURL, hostname, "localhost access disabled")
	case ClassPrivate:
		if e.policy.AllowPrivateIPs {
			return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}
		}
		return e.elicitOrBlock(ctx, requester, rawURL, hostname, "private IP access disabled")
	default: // external
		if len(e.policy.Allowed) == 0 {
			return Decision{Kind: Blocked, Reason: "No allowed domains configured", URL: rawURL, Hostname: hostname}
		}
		if matchesAny(hostname, e.policy.Allowed) {
			return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}
		}
		return e.elicitOrBlock(ctx, requester, rawURL, hostname, "hostname not in allowed list")
	}
}

func (e *Engine) elicitOrBlock(ctx context.Context, requester, rawURL, hostname, blockedReason string) Decision {
	if e.elicitor == nil {
		return Decision{Kind: Blocked, Reason: blockedReason, URL: rawURL, Hostname: hostname}
	}
	return Decision{Kind: Elicit, URL: rawURL, Hostname: hostname}
}

func (e *Engine) cachedPermission(rawURL string) (permission, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.permissions[rawURL]
	if !ok {
		return permission{}, false
	}
	if p.expired(time.Now()) {
		delete(e.permissions, rawURL)
		return permission{}, false
	}
	return p, true
}

// Resolve drives the Elicit path: it calls the configured Elicitor and
// caches the result per spec.md §4.3 ("Once" valid one hour, "Always"
// valid for process lifetime, "Deny" never cached).
func (e *Engine) Resolve(ctx context.Context, requester, rawURL string) (Decision, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve %q: %w", rawURL, err)
	}
	hostname := parsed.Hostname()

	if e.elicitor == nil {
		return Decision{Kind: Blocked, Reason: "no elicitation channel configured", URL: rawURL, Hostname: hostname}, nil
	}

	choice, err := e.elicitor.Elicit(ctx, requester, rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("elicitation failed for %q: %w", rawURL, err)
	}

	switch choice {
	case ChoiceAllowOnce:
		e.cachePermission(rawURL, permission{approved: true, expiresAt: time.Now().Add(time.Hour)})
		return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}, nil
	case ChoiceAllowAlways:
		e.cachePermission(rawURL, permission{approved: true})
		return Decision{Kind: Allowed, URL: rawURL, Hostname: hostname}, nil
	default:
		return Decision{Kind: Blocked, Reason: "user denied access", URL: rawURL, Hostname: hostname}, nil
	}
}

func (e *Engine) cachePermission(rawURL string, p permission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.permissions[rawURL] = p
}

// RevokePermission removes a cached "Allow Always"/"Allow Once" decision.
func (e *Engine) RevokePermission(rawURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.permissions, rawURL)
}
