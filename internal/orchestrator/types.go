// Package orchestrator implements the Orchestrator (C8): the
// Received → Analyzing → (Rejected | Executing(tier)) → terminal state
// machine of spec.md §4.8, as one Temporal workflow execution per
// Code-Mode Submission.
//
// Maps to: spec.md §4.8, SPEC_FULL.md §4.8
package orchestrator

import (
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/notify"
)

// Activity and workflow type names, registered verbatim in cmd/worker.
const (
	WorkflowCodeMode = "CodeModeWorkflow"

	ActivityAnalyzeSubmission = "AnalyzeSubmission"
	ActivityPrepareExecution  = "PrepareExecution"
	ActivityExecuteIsolate    = "ExecuteIsolate"
)

// SubmissionInput is the Temporal-serializable form of spec.md §3's
// Submission: `{code, timeout_ms, correlation_id}`.
type SubmissionInput struct {
	Code          string `json:"code"`
	TimeoutMs     uint32 `json:"timeout_ms"`
	CorrelationID string `json:"correlation_id"`
	Requester     string `json:"requester"`
}

// ErrorDetail is spec.md §6's ExecutionResult.error shape:
// `{message, kind, source?, details?}`.
type ErrorDetail struct {
	Message string         `json:"message"`
	Kind    string         `json:"kind"`
	Source  string         `json:"source,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ExecutionResult is spec.md §6's `ExecutionResult = {value?, logs, error?}`,
// with Notifications carrying C10's attached FIFO snapshot and Tier
// recording which of T1-T4 ultimately produced the result (diagnostic
// only — not part of the external contract's value/logs/error triple).
type ExecutionResult struct {
	Value         any                   `json:"value,omitempty"`
	Logs          []string              `json:"logs"`
	Error         *ErrorDetail          `json:"error,omitempty"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
	Tier          string                `json:"tier,omitempty"`
}

// AnalyzeSubmissionInput/Output carry the Static Analyzer's verdict
// across the activity boundary, per spec.md §4.8 "Received → Analyzing:
// call C1".
type AnalyzeSubmissionInput struct {
	Filename  string `json:"filename"`
	Code      string `json:"code"`
	Requester string `json:"requester"`
}

type AnalyzeSubmissionOutput struct {
	Rejected bool         `json:"rejected"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// PrepareExecutionInput/Output carry the "prepare workspace, collect Tool
// Descriptors, snapshot Binding list (no credentials), compute effective
// NetworkPolicy" step of spec.md §4.8's Analyzing→Executing(T1) transition.
type PrepareExecutionInput struct {
	Requester string `json:"requester"`
}

type PrepareExecutionOutput struct {
	Tools          []mcpregistry.ToolDescriptor `json:"tools"`
	BindingMethods map[string][]string          `json:"binding_methods"`
}

// ExecuteIsolateInput/Output wrap internal/isolate.Dispatcher.Run across
// the activity boundary: the isolate's own lifecycle (subprocess spawn,
// Starlark interpreter loop, broker channel/pipe exchange) is inherently
// non-deterministic and must run inside a Temporal activity rather than
// workflow code.
type ExecuteIsolateInput struct {
	Filename       string                       `json:"filename"`
	Code           string                       `json:"code"`
	Requester      string                       `json:"requester"`
	Tools          []mcpregistry.ToolDescriptor `json:"tools"`
	BindingMethods map[string][]string          `json:"binding_methods"`

	// TimeoutMs is the submission's wall-clock deadline, forwarded from
	// SubmissionInput so ExecuteIsolate can bound the isolate's own
	// context with it, per spec.md §8 Invariant 3 ("terminal result
	// within T + ε"). Zero means "no additional bound" — CodeModeWorkflow
	// never forwards zero, since a zero submission deadline is handled
	// as an immediate Timeout before this activity is ever scheduled.
	TimeoutMs uint32 `json:"timeout_ms"`
}

type ExecuteIsolateOutput struct {
	Value         any                   `json:"value,omitempty"`
	Logs          []string              `json:"logs"`
	Error         *ErrorDetail          `json:"error,omitempty"`
	Tier          string                `json:"tier"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// errorDetail converts a codeerr-shaped failure into the wire ErrorDetail.
func errorDetail(kind, message, source string) *ErrorDetail {
	return &ErrorDetail{Kind: kind, Message: message, Source: source}
}
