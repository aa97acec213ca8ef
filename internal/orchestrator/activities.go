package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfateev/codemode-sandbox/internal/analyzer"
	"github.com/mfateev/codemode-sandbox/internal/audit"
	"github.com/mfateev/codemode-sandbox/internal/binding"
	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/isolate"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/notify"
	"github.com/mfateev/codemode-sandbox/internal/pkgapproval"
	"github.com/mfateev/codemode-sandbox/internal/workspace"
)

// Activities bundles every trusted-side collaborator the Orchestrator's
// Temporal activities need, mirroring the teacher's McpActivities/
// ToolActivities shape of one small struct per activity group rather
// than one god-object.
type Activities struct {
	Analyzer   *analyzer.Analyzer
	Packages   *pkgapproval.Manager
	Tools      *mcpregistry.Registry
	Bindings   *binding.Registry
	Dispatcher *isolate.Dispatcher
	Workspace  *workspace.Root
	Notify     *notify.Queue
	Audit      *audit.Writer
}

// NewActivities wires the collaborators produced by cmd/worker's startup
// sequence into one Activities bundle.
func NewActivities(a *analyzer.Analyzer, packages *pkgapproval.Manager, tools *mcpregistry.Registry, bindings *binding.Registry, dispatcher *isolate.Dispatcher, ws *workspace.Root, notifyQueue *notify.Queue, auditWriter *audit.Writer) *Activities {
	return &Activities{
		Analyzer:   a,
		Packages:   packages,
		Tools:      tools,
		Bindings:   bindings,
		Dispatcher: dispatcher,
		Workspace:  ws,
		Notify:     notifyQueue,
		Audit:      auditWriter,
	}
}

// AnalyzeSubmission runs the Static Analyzer (C1) against the submitted
// code, per spec.md §4.8's "Received → Analyzing: call C1", then checks
// every `load()`-referenced package against the Package Approval engine
// (C9) per spec.md §4.9. A submission that reaches here clean is done
// with Package Approval for its own lifetime, so both rejection paths
// clear operation-scope grants before returning — the same "After each
// submission, operation-scope approvals are cleared" rule ExecuteIsolate
// applies on the accepted path.
func (a *Activities) AnalyzeSubmission(ctx context.Context, in AnalyzeSubmissionInput) (AnalyzeSubmissionOutput, error) {
	var available []string
	if a.Tools != nil {
		available = a.Tools.Namespaces(ctx)
	}

	result := a.Analyzer.Analyze(in.Filename, in.Code, available)
	if result.Rejected {
		a.logRejection(in, result.Reason)
		return AnalyzeSubmissionOutput{
			Rejected: true,
			Error:    errorDetail(string(codeerr.KindValidation), result.Reason, ""),
		}, nil
	}

	if a.Packages != nil {
		pkgResult, err := a.Packages.Analyze(in.Filename, in.Code)
		if err != nil {
			a.Packages.ClearOperationApprovals()
			return AnalyzeSubmissionOutput{}, fmt.Errorf("package approval analysis: %w", err)
		}
		if len(pkgResult.Blocked) > 0 {
			a.Packages.ClearOperationApprovals()
			reason := fmt.Sprintf("blocked package(s): %v", pkgResult.Blocked)
			a.logRejection(in, reason)
			return AnalyzeSubmissionOutput{
				Rejected: true,
				Error:    errorDetail(string(codeerr.KindValidation), reason, ""),
			}, nil
		}
		if len(pkgResult.NeedsApproval) > 0 {
			// No interactive elicitation channel is wired into this worker
			// (see cmd/worker/netpolicy.go's denyAllElicitor for the same
			// default on the network-policy side), so an as-yet-unapproved
			// package is treated as a decline rather than silently allowed.
			a.Packages.ClearOperationApprovals()
			reason := fmt.Sprintf("package(s) require approval: %v", pkgResult.NeedsApproval)
			a.logRejection(in, reason)
			return AnalyzeSubmissionOutput{
				Rejected: true,
				Error:    errorDetail(string(codeerr.KindValidation), reason, ""),
			}, nil
		}
	}

	return AnalyzeSubmissionOutput{}, nil
}

// maxAuditSnippetBytes bounds how much of a rejected submission's source
// is written to the audit log, per spec.md §8 S3's "redacted snippet".
const maxAuditSnippetBytes = 256

// logRejection records a code_execution_error event for a submission
// that never reached the isolate, per spec.md §8 S3 ("audit shows
// code_execution_error with redacted snippet"). The snippet itself is
// truncated here; key-based redaction (passwords, tokens, ...) happens
// in internal/audit's own write path when enabled.
func (a *Activities) logRejection(in AnalyzeSubmissionInput, reason string) {
	if a.Audit == nil {
		return
	}
	code := in.Code
	if len(code) > maxAuditSnippetBytes {
		code = code[:maxAuditSnippetBytes] + "..."
	}
	_ = a.Audit.Log(audit.Event{
		Kind:      audit.EventCodeExecutionError,
		Requester: in.Requester,
		Details:   map[string]any{"reason": reason, "snippet": code},
	})
}

// PrepareExecution performs the "prepare workspace, collect Tool
// Descriptors, snapshot Binding list (no credentials), compute effective
// NetworkPolicy" step concurrently via errgroup, the same fan-out shape
// the teacher's mcp.McpConnectionManager.Initialize uses for parallel
// server bring-up.
func (a *Activities) PrepareExecution(ctx context.Context, in PrepareExecutionInput) (PrepareExecutionOutput, error) {
	var out PrepareExecutionOutput

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.Workspace == nil {
			return nil
		}
		return a.Workspace.EnsureExists()
	})
	g.Go(func() error {
		if a.Tools == nil {
			return nil
		}
		tools, err := a.Tools.ListTools(gctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		out.Tools = tools
		return nil
	})
	g.Go(func() error {
		if a.Bindings == nil {
			return nil
		}
		out.BindingMethods = a.Bindings.Snapshot()
		return nil
	})

	if err := g.Wait(); err != nil {
		return PrepareExecutionOutput{}, err
	}
	return out, nil
}

// ExecuteIsolate runs the Isolate Layer (C7) to completion, per spec.md
// §4.8's "Executing(Tk) → Executing(Tk+1)" tier decay and "Executing →
// Succeeded|Failed|TimedOut" terminal transitions. It is the single
// activity that actually drives the untrusted Starlark interpreter,
// since that lifecycle is non-deterministic and cannot run as workflow
// code; every broker call it issues is still bounded by its own
// independent 30-second deadline inside Broker.Dispatch.
func (a *Activities) ExecuteIsolate(ctx context.Context, in ExecuteIsolateInput) (ExecuteIsolateOutput, error) {
	if a.Packages != nil {
		defer a.Packages.ClearOperationApprovals()
	}
	if a.Audit != nil {
		_ = a.Audit.Log(audit.Event{
			Kind:      audit.EventCodeExecutionStart,
			Requester: in.Requester,
		})
	}

	// Bound the isolate's own context with the submission deadline, per
	// spec.md §8 Invariant 3 ("terminal result within T + ε"). Without
	// this, the only bound on the isolate was the activity's
	// StartToCloseTimeout margin in workflow.go, ten seconds wider than
	// the submission actually asked for.
	runCtx := ctx
	if in.TimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	outcome, tier := a.Dispatcher.Run(runCtx, in.Requester, in.Filename, in.Code, in.Tools, in.BindingMethods)

	// A submission that decayed past T1 (the OS-jailed tier the
	// Dispatcher always prefers when a helper binary is configured) is
	// surfaced as a dismissible notice — the caller gets a terminal
	// result either way, but a degraded isolation tier is worth flagging.
	if a.Notify != nil && a.Dispatcher.HelperPath != "" && tier != isolate.TierT1 {
		a.Notify.Add(notify.KindWarning, fmt.Sprintf("execution fell back to isolation tier %s", tier), 0)
	}

	out := ExecuteIsolateOutput{Value: outcome.Value, Logs: outcome.Logs, Tier: string(tier)}
	if a.Notify != nil {
		out.Notifications = a.Notify.List()
	}

	if outcome.Err == nil {
		if a.Audit != nil {
			_ = a.Audit.Log(audit.Event{Kind: audit.EventCodeExecutionSuccess, Requester: in.Requester, Details: map[string]any{"tier": string(tier)}})
		}
		return out, nil
	}

	out.Error = errorDetail(string(outcome.Err.Kind), outcome.Err.Message, outcome.Err.Source)
	if a.Audit != nil {
		kind := audit.EventCodeExecutionError
		if outcome.Err.Kind == codeerr.KindTimeout {
			kind = audit.EventCodeExecutionTimeout
		}
		_ = a.Audit.Log(audit.Event{
			Kind:      kind,
			Requester: in.Requester,
			Details:   map[string]any{"tier": string(tier), "message": outcome.Err.Message},
		})
	}
	return out, nil
}
