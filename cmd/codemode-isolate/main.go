// Command codemode-isolate is the T1/T2 helper binary: a short-lived
// child process that runs one untrusted Starlark submission and speaks
// the broker protocol (internal/isolate) over stdin/stdout JSON lines.
//
// It is spawned by internal/isolate.SubprocessRunner, optionally under
// the OS sandbox wrapper (internal/sandbox) for T1. It never touches the
// network, the filesystem, or any credential directly — every such
// operation crosses back to the trusted parent as a broker request.
//
// Maps to: spec.md §4.7 T1/T2, SPEC_FULL.md §4.7
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/mfateev/codemode-sandbox/internal/isolate"
	"github.com/mfateev/codemode-sandbox/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print the build's git commit and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.GitCommit)
		return
	}
	os.Exit(run())
}

func run() int {
	in := isolateReader(os.Stdin)
	out := isolateWriter(os.Stdout)

	var start isolate.SubmissionStart
	if err := in.ReadJSON(&start); err != nil {
		writeTerminalError(out, err.Error(), "broker_error", "")
		return 1
	}

	var logs isolate.BoundedLog
	send := func(msg isolate.Message) (any, error) {
		msg.ID = uuid.NewString()
		if err := out.WriteJSON(msg); err != nil {
			return nil, err
		}
		for {
			var resp isolate.Message
			if err := in.ReadJSON(&resp); err != nil {
				return nil, err
			}
			if resp.ID != msg.ID {
				continue // stray/out-of-order line; keep waiting for our id
			}
			if resp.Kind == isolate.KindError {
				return nil, &brokerError{resp.Err}
			}
			return resp.Value, nil
		}
	}

	predeclared, err := isolate.BuildPredeclared(start.Tools, start.BindingMethods, send)
	if err != nil {
		writeTerminalError(out, err.Error(), "broker_error", "")
		return 1
	}

	thread := &starlark.Thread{
		Name: start.Filename,
		Print: func(_ *starlark.Thread, msg string) {
			logs.Append(msg)
			_ = out.WriteJSON(isolate.Message{Kind: isolate.KindLog, Log: msg})
		},
	}
	if start.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(start.MaxSteps)
	}

	globals, err := starlark.ExecFile(thread, start.Filename, start.Code, predeclared)
	if err != nil {
		writeTerminal(out, isolate.Message{Kind: isolate.KindError, Err: classify(err), Logs: logs.List()})
		return 1
	}

	value, convErr := isolate.ResultValue(globals, "result")
	if convErr != nil {
		writeTerminal(out, isolate.Message{Kind: isolate.KindError, Err: &isolate.ErrorPayload{Message: convErr.Error(), Kind: "broker_error"}, Logs: logs.List()})
		return 1
	}
	writeTerminal(out, isolate.Message{Kind: isolate.KindResult, Value: value, Logs: logs.List()})
	return 0
}

type brokerError struct {
	payload *isolate.ErrorPayload
}

func (e *brokerError) Error() string { return e.payload.Message }

func classify(err error) *isolate.ErrorPayload {
	// Errors returned by broker builtins reach here wrapped in a
	// *starlark.EvalError, so the broker's own kind is looked up through
	// the unwrap chain before the EvalError fallback.
	var be *brokerError
	if errors.As(err, &be) {
		return be.payload
	}
	if _, ok := err.(*starlark.EvalError); ok {
		return &isolate.ErrorPayload{Message: err.Error(), Kind: "validation_error"}
	}
	return &isolate.ErrorPayload{Message: err.Error(), Kind: "broker_error"}
}

func writeTerminal(out *isolate.LineWriter, msg isolate.Message) {
	_ = out.WriteJSON(msg)
}

func writeTerminalError(out *isolate.LineWriter, message, kind, source string) {
	writeTerminal(out, isolate.Message{Kind: isolate.KindError, Err: &isolate.ErrorPayload{Message: message, Kind: kind, SourceName: source}})
}

func isolateReader(r *os.File) *isolate.LineReader { return isolate.NewLineReader(r) }
func isolateWriter(w *os.File) *isolate.LineWriter { return isolate.NewLineWriter(w) }
