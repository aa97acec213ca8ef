package orchestrator

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mfateev/codemode-sandbox/internal/codeerr"
)

// CodeModeWorkflow drives one Code-Mode Submission through the
// Received → Analyzing → (Rejected | Executing(tier)) → terminal state
// machine of spec.md §4.8. Each state transition is one Temporal
// activity call; the workflow itself only sequences them and maps their
// outputs onto the final ExecutionResult, keeping the non-deterministic
// work (static analysis AST walk excepted, which is pure) inside
// activities.
func CodeModeWorkflow(ctx workflow.Context, input SubmissionInput) (ExecutionResult, error) {
	logger := workflow.GetLogger(ctx)

	// spec.md §8 boundary behavior: "Submission deadline 0 ⇒ immediate
	// Timeout, no tool invocations." timeout_ms is a required field with
	// no wire-level distinction between "omitted" and "explicitly 0", so
	// 0 is taken at face value rather than defaulted — the isolate is
	// never started and no activity beyond this point runs.
	if input.TimeoutMs == 0 {
		logger.Info("submission deadline is 0, timing out immediately", "correlation_id", input.CorrelationID)
		return ExecutionResult{Error: &ErrorDetail{
			Kind:    string(codeerr.KindTimeout),
			Message: "submission deadline is 0",
		}}, nil
	}
	timeout := time.Duration(input.TimeoutMs) * time.Millisecond

	filename := "submission.star"

	// Received → Analyzing.
	analyzeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	var analyzed AnalyzeSubmissionOutput
	if err := workflow.ExecuteActivity(analyzeCtx, ActivityAnalyzeSubmission, AnalyzeSubmissionInput{
		Filename:  filename,
		Code:      input.Code,
		Requester: input.Requester,
	}).Get(ctx, &analyzed); err != nil {
		return ExecutionResult{}, err
	}

	// Analyzing → Rejected.
	if analyzed.Rejected {
		logger.Info("submission rejected by static analyzer", "correlation_id", input.CorrelationID, "reason", analyzed.Error.Message)
		return ExecutionResult{Error: analyzed.Error}, nil
	}

	// Analyzing → Executing(T1): prepare workspace, tool descriptors, and
	// the binding snapshot before the isolate is ever started.
	prepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	var prepared PrepareExecutionOutput
	if err := workflow.ExecuteActivity(prepCtx, ActivityPrepareExecution, PrepareExecutionInput{
		Requester: input.Requester,
	}).Get(ctx, &prepared); err != nil {
		return ExecutionResult{}, err
	}

	// Executing(T1) → Executing(T2|T3|T4) → Succeeded|Failed|TimedOut: the
	// whole tier ladder runs inside one activity call. ExecuteIsolate
	// itself wraps the submission deadline in a context.WithTimeout
	// around Dispatcher.Run, so the isolate is actually torn down at T,
	// not just at the outer Temporal bound — the margin added to
	// StartToCloseTimeout here only protects against the activity being
	// pre-empted by Temporal before that inner timeout has a chance to
	// produce a clean KindTimeout result and return.
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + 10*time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var executed ExecuteIsolateOutput
	err := workflow.ExecuteActivity(execCtx, ActivityExecuteIsolate, ExecuteIsolateInput{
		Filename:       filename,
		Code:           input.Code,
		Requester:      input.Requester,
		Tools:          prepared.Tools,
		BindingMethods: prepared.BindingMethods,
		TimeoutMs:      input.TimeoutMs,
	}).Get(ctx, &executed)
	if err != nil {
		var canceledErr *temporal.CanceledError
		if errors.As(err, &canceledErr) {
			return ExecutionResult{Error: &ErrorDetail{Kind: "cancelled", Message: err.Error()}}, nil
		}
		return ExecutionResult{}, err
	}

	return ExecutionResult{
		Value:         executed.Value,
		Logs:          executed.Logs,
		Error:         executed.Error,
		Notifications: executed.Notifications,
		Tier:          executed.Tier,
	}, nil
}
