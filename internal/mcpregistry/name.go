// Package mcpregistry adapts the Model Context Protocol connection layer
// into the Tool Registry collaborator consumed by C1 (Static Analyzer)
// and C7 (Isolate Layer): list_tools()/invoke() over qualified tool
// names exposed to untrusted code as namespace.method(...).
//
// Maps to: spec.md §2 Tool Registry interface, §4.9 namespace layout
package mcpregistry

import (
	"crypto/sha1"
	"fmt"
)

// maxQualifiedNameLength bounds qualified names the same way the
// teacher's MCP tool-name qualifier does for OpenAI tool-name limits;
// Starlark attribute names have no hard length limit, but a stable cap
// keeps generated Tool Descriptors uniform.
const maxQualifiedNameLength = 64

// SanitizeIdentifier replaces characters outside [a-zA-Z0-9_] with "_",
// the character class Starlark identifiers allow (narrower than the
// teacher's [a-zA-Z0-9_-], since Starlark attribute names may not
// contain '-'). Returns "_" if the input is empty after sanitization.
func SanitizeIdentifier(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// QualifiedName builds the "namespace.method" form exposed to untrusted
// code, per spec.md §4.9: a tool named "ns:op" collapses to "ns.op", and
// any remaining invalid identifier characters are sanitized to "_".
func QualifiedName(namespace, toolName string) string {
	qualified := SanitizeIdentifier(namespace) + "." + SanitizeIdentifier(toolName)
	if len(qualified) <= maxQualifiedNameLength {
		return qualified
	}
	hash := sha1Hex(namespace + ":" + toolName)
	prefixLen := maxQualifiedNameLength - len(hash)
	if prefixLen < 0 {
		prefixLen = 0
	}
	return qualified[:prefixLen] + hash
}

func sha1Hex(s string) string {
	h := sha1.New()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}
