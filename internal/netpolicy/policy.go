// Package netpolicy implements the Network Policy Engine (C3): per-URL
// allow/deny/elicit decisions, size and timeout enforcement, and
// elicitation caching.
//
// Maps to: spec.md §4.3 Network Policy Engine
package netpolicy

import (
	"net"
	"strings"

	"github.com/tidwall/match"
)

// Policy configures a NetworkPolicy (spec.md §3).
type Policy struct {
	Allowed          []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Blocked          []string `json:"blocked,omitempty" yaml:"blocked,omitempty"`
	AllowLocalhost   bool     `json:"allow_localhost" yaml:"allow_localhost"`
	AllowPrivateIPs  bool     `json:"allow_private_ips" yaml:"allow_private_ips"`
	MaxRequestBytes  int64    `json:"max_request_bytes" yaml:"max_request_bytes"`
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutMs        uint32   `json:"timeout_ms" yaml:"timeout_ms"`
}

// Merge returns a copy of p with every non-zero field of override applied
// on top, implementing the per-binding policy override of spec.md §4.5
// ("override wins per field").
func (p Policy) Merge(override *Policy) Policy {
	if override == nil {
		return p
	}
	merged := p
	if override.Allowed != nil {
		merged.Allowed = override.Allowed
	}
	if override.Blocked != nil {
		merged.Blocked = override.Blocked
	}
	if override.AllowLocalhost {
		merged.AllowLocalhost = true
	}
	if override.AllowPrivateIPs {
		merged.AllowPrivateIPs = true
	}
	if override.MaxRequestBytes != 0 {
		merged.MaxRequestBytes = override.MaxRequestBytes
	}
	if override.MaxResponseBytes != 0 {
		merged.MaxResponseBytes = override.MaxResponseBytes
	}
	if override.TimeoutMs != 0 {
		merged.TimeoutMs = override.TimeoutMs
	}
	return merged
}

// HostClass classifies a hostname per spec.md §4.3.
type HostClass int

const (
	ClassExternal HostClass = iota
	ClassLocalhost
	ClassPrivate
)

// classifyHost classifies a hostname/IP literal into localhost, private
// IPv4 (RFC1918), or external, per spec.md §3's Network Permission /
// §4.3 decision order.
func classifyHost(hostname string) HostClass {
	switch strings.ToLower(hostname) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return ClassLocalhost
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return ClassExternal
	}
	if ip.IsLoopback() {
		return ClassLocalhost
	}
	v4 := ip.To4()
	if v4 == nil {
		return ClassExternal
	}
	switch {
	case v4[0] == 10:
		return ClassPrivate
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return ClassPrivate
	case v4[0] == 192 && v4[1] == 168:
		return ClassPrivate
	default:
		return ClassExternal
	}
}

// matchesAny returns true if hostname matches any of the glob-style
// domain patterns. Pattern grammar (spec.md §3): exact hostname, or
// "*.suffix"; a bare "*" matches any hostname at all (spec.md §9 open
// question, resolved in SPEC_FULL.md §4.3).
//
// github.com/tidwall/match implements shell-style globbing, which is
// exactly the grammar needed: "*" expands to "match any run of
// characters", so "*.suffix" and a bare "*" both fall out of the same
// matcher with no custom pattern-compiler required.
func matchesAny(hostname string, patterns []string) bool {
	for _, p := range patterns {
		if match.Match(hostname, p) {
			return true
		}
	}
	return false
}
