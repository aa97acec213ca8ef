package isolate

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/sandbox"
)

// SubprocessRunner executes the codemode-isolate helper binary out of
// process, per spec.md §4.7 T1/T2: T1 wraps Command in the OS sandbox
// (internal/sandbox), T2 runs it bare. Both speak the same JSON-lines
// broker protocol over stdin/stdout.
type SubprocessRunner struct {
	Broker *Broker

	// HelperPath is the codemode-isolate binary to exec.
	HelperPath string

	// Sandbox, when non-nil and Available(), wraps the command per T1;
	// nil or unavailable falls back to a bare T2 invocation.
	Sandbox sandbox.SandboxManager
	Policy  *sandbox.SandboxPolicy

	// Env is the pre-filtered environment (internal/execenv.CreateEnv's
	// output, converted with EnvMapToSlice) passed to the child.
	Env []string
}

// Tier reports which tier this runner represents, for audit labeling.
func (r *SubprocessRunner) Tier() string {
	if r.Sandbox != nil && r.Sandbox.Available() && r.Policy.IsRestricted() {
		return "T1"
	}
	return "T2"
}

// Run spawns the helper, drives the broker exchange to completion, and
// returns the submission's Outcome. A spawn failure or mid-run crash
// returns a KindBrokerError Outcome so the Orchestrator can decay to the
// next tier, per spec.md §4.7's "Each fallback is audited".
func (r *SubprocessRunner) Run(ctx context.Context, filename, code string, maxSteps uint64, tools []mcpregistry.ToolDescriptor, bindingMethods map[string][]string) *Outcome {
	spec := sandbox.CommandSpec{Program: r.HelperPath, Args: nil}
	env, err := r.transform(spec)
	if err != nil {
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
	}

	cmd := exec.CommandContext(ctx, env.Command[0], env.Command[1:]...)
	if r.Env != nil {
		cmd.Env = r.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
	}

	if err := cmd.Start(); err != nil {
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
	}

	outW := NewLineWriter(stdin)
	inR := NewLineReader(stdout)

	if err := outW.WriteJSON(SubmissionStart{
		Filename:       filename,
		Code:           code,
		MaxSteps:       maxSteps,
		Tools:          tools,
		BindingMethods: bindingMethods,
	}); err != nil {
		_ = cmd.Process.Kill()
		return &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", fmt.Errorf("write submission: %w", err))}
	}

	outcomeCh := make(chan *Outcome, 1)
	go r.pump(ctx, inR, outW, outcomeCh)

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return &Outcome{Err: codeerr.New(codeerr.KindTimeout, "submission deadline exceeded")}
	case outcome := <-outcomeCh:
		_ = cmd.Wait()
		return outcome
	}
}

// pump relays the broker exchange between the child's stdout stream and
// Broker.Dispatch, writing every response back to the child's stdin,
// until a terminal result/error message arrives or the stream closes.
func (r *SubprocessRunner) pump(ctx context.Context, in *LineReader, out *LineWriter, outcomeCh chan<- *Outcome) {
	for {
		var msg Message
		if err := in.ReadJSON(&msg); err != nil {
			if err == io.EOF {
				outcomeCh <- &Outcome{Err: codeerr.New(codeerr.KindBrokerError, "isolate terminated without a terminal message")}
				return
			}
			outcomeCh <- &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
			return
		}

		switch msg.Kind {
		case KindResult:
			outcomeCh <- &Outcome{Value: msg.Value, Logs: msg.Logs}
			return
		case KindError:
			outcomeCh <- &Outcome{Logs: msg.Logs, Err: &codeerr.Error{
				Kind:    codeerr.Kind(msg.Err.Kind),
				Message: msg.Err.Message,
				Source:  msg.Err.SourceName,
			}}
			return
		case KindLog:
			if r.Broker.LogSink != nil {
				r.Broker.LogSink(msg.Log)
			}
		default:
			resp := r.Broker.Dispatch(ctx, msg)
			if err := out.WriteJSON(resp); err != nil {
				outcomeCh <- &Outcome{Err: codeerr.Wrap(codeerr.KindBrokerError, "", err)}
				return
			}
		}
	}
}

func (r *SubprocessRunner) transform(spec sandbox.CommandSpec) (*sandbox.ExecEnv, error) {
	if r.Sandbox != nil && r.Sandbox.Available() && r.Policy != nil && r.Policy.IsRestricted() {
		return r.Sandbox.Transform(spec, r.Policy)
	}
	return &sandbox.ExecEnv{Command: append([]string{spec.Program}, spec.Args...), Cwd: spec.Cwd}, nil
}
