package isolate

import (
	"context"
	"errors"
	"sync"

	"go.starlark.net/starlark"

	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
)

// Outcome is the in-process/channel-dispatch counterpart of spec.md §6's
// ExecutionResult: `{value?, logs, error?}`.
type Outcome struct {
	Value any
	Logs  []string
	Err   *codeerr.Error
}

// hostExchange is one broker round trip carried over a Go channel instead
// of a pipe, per SPEC_FULL.md §4.7's T3 description.
type hostExchange struct {
	req   Message
	reply chan Message
}

// InProcessRunner executes Starlark code in a goroutine dedicated to this
// submission, dispatching broker calls back to Broker over channels.
// Used for T3 (step-limited) and T4 (unbounded) per spec.md §4.7.
type InProcessRunner struct {
	Broker *Broker

	// MaxSteps bounds CPU via starlark.Thread.SetMaxExecutionSteps.
	// Zero means unbounded — the T4 "last resort" tier.
	MaxSteps uint64
}

// Run executes code and blocks until it finishes, the submission's
// context is cancelled (TimedOut/Cancelled in Orchestrator terms), or a
// step-limit/runtime error terminates it early.
//
// resultGlobal is the top-level Starlark variable whose value becomes
// Outcome.Value; code that defines no such global produces a nil value,
// matching the optional "value?" in ExecutionResult.
func (r *InProcessRunner) Run(ctx context.Context, filename, code string, tools []mcpregistry.ToolDescriptor, bindingMethods map[string][]string) *Outcome {
	const resultGlobal = "result"

	var logMu sync.Mutex
	var logs BoundedLog
	appendLog := func(line string) {
		logMu.Lock()
		logs.Append(line)
		logMu.Unlock()
	}

	reqCh := make(chan hostExchange)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		for ex := range reqCh {
			resp := r.Broker.Dispatch(ctx, ex.req)
			ex.reply <- resp
		}
	}()

	send := func(msg Message) (any, error) {
		reply := make(chan Message, 1)
		reqCh <- hostExchange{req: msg, reply: reply}
		resp := <-reply
		if resp.Kind == KindError {
			return nil, &codeerr.Error{
				Kind:    codeerr.Kind(resp.Err.Kind),
				Message: resp.Err.Message,
				Source:  resp.Err.SourceName,
			}
		}
		return resp.Value, nil
	}

	predeclared, err := BuildPredeclared(tools, bindingMethods, send)
	if err != nil {
		close(reqCh)
		<-hostDone
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
	}

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			appendLog(msg)
			r.Broker.Dispatch(ctx, Message{Kind: KindLog, Log: msg})
		},
	}
	if r.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(r.MaxSteps)
	}

	type execResult struct {
		globals starlark.StringDict
		err     error
	}
	execCh := make(chan execResult, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, filename, code, predeclared)
		execCh <- execResult{globals, err}
	}()

	var outcome *Outcome
	select {
	case <-ctx.Done():
		thread.Cancel("submission deadline exceeded")
		<-execCh // wait for the cancellation to actually unwind the thread
		outcome = &Outcome{Err: codeerr.New(codeerr.KindTimeout, "submission deadline exceeded")}
	case res := <-execCh:
		if res.err != nil {
			outcome = &Outcome{Err: classifyStarlarkError(res.err)}
		} else {
			value, convErr := ResultValue(res.globals, resultGlobal)
			if convErr != nil {
				outcome = &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", convErr)}
			} else {
				outcome = &Outcome{Value: value}
			}
		}
	}

	close(reqCh)
	<-hostDone
	logMu.Lock()
	outcome.Logs = logs.List()
	logMu.Unlock()
	return outcome
}

// ResultValue extracts the top-level global named name (conventionally
// "result") from an executed Starlark file's globals, converting it to
// a plain Go value. Code defining no such global produces a nil value,
// matching the optional "value?" field of spec.md §6's ExecutionResult.
func ResultValue(globals starlark.StringDict, name string) (any, error) {
	v, ok := globals[name]
	if !ok {
		return nil, nil
	}
	return fromStarlark(v)
}

// classifyStarlarkError maps a go.starlark.net failure onto the taxonomy
// of spec.md §7: a cancellation (thread.Cancel) is a Timeout, a resolve-
// time or execution-time error is Validation, everything else is a
// broker-level failure.
func classifyStarlarkError(err error) *codeerr.Error {
	// Broker errors and cancellations both arrive wrapped in a
	// *starlark.EvalError, so they are checked before the EvalError case.
	var ce *codeerr.Error
	if errors.As(err, &ce) {
		return ce
	}
	if isCancellation(err) {
		return codeerr.New(codeerr.KindTimeout, err.Error())
	}
	if _, ok := err.(*starlark.EvalError); ok {
		return codeerr.Wrap(codeerr.KindValidation, "", err)
	}
	return codeerr.Wrap(codeerr.KindBrokerError, "", err)
}

func isCancellation(err error) bool {
	return err != nil && containsAny(err.Error(), "Starlark computation cancelled", "cancelled:")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
