// Package codeerr defines the error taxonomy shared across Code-Mode's
// components, classified by kind rather than by concrete Go type, per
// spec.md §7.
package codeerr

import "fmt"

// Kind classifies an error for audit logging, broker-message framing,
// and retry decisions.
type Kind string

const (
	// KindValidation: C1 rejected the submission. Terminal.
	KindValidation Kind = "validation_error"
	// KindSandboxEscape: a path resolution violated §4.2. Terminal for
	// the offending call; the submission may continue if untrusted code
	// catches it.
	KindSandboxEscape Kind = "sandbox_escape"
	// KindPolicyDenied: network/binding/tool refused by policy or user.
	// Non-terminal; surfaces to untrusted code as a rejected promise.
	KindPolicyDenied Kind = "policy_denied"
	// KindTimeout: submission-wide or per-call deadline elapsed.
	KindTimeout Kind = "timeout"
	// KindResourceExhaustion: memory or size cap hit. Terminal.
	KindResourceExhaustion Kind = "resource_exhaustion"
	// KindBrokerError: isolate crash, non-zero exit, unmatched message,
	// or serialization failure. Terminal.
	KindBrokerError Kind = "broker_error"
	// KindDownstreamError: a tool/binding/network call produced an
	// error; Source names the origin.
	KindDownstreamError Kind = "downstream_error"
)

// Error is the taxonomy's concrete carrier type. Every component-level
// error type (workspace.SandboxEscape, netpolicy.ResourceExhaustion, …)
// is classified into one of these via Wrap rather than
// replaced, so callers can keep using errors.As against the concrete
// types while the Orchestrator/audit layer only needs the Kind.
type Error struct {
	Kind    Kind
	Message string
	Source  string // originating tool/binding/URL name, set for KindDownstreamError
	Cause   error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of kind classifying cause, attributing it to source.
func Wrap(kind Kind, source string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Source: source, Cause: cause}
}

// IsRetryable reports whether a failure of this kind may succeed if the
// same call is attempted again without caller-visible state change.
// Validation, sandbox escape, resource exhaustion, and broker failures
// are deterministic or fatal; policy denial is a stable decision until
// the policy or an elicitation changes it. Timeouts and downstream
// errors may be transient.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindDownstreamError:
		return true
	default:
		return false
	}
}
