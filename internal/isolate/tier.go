package isolate

import (
	"context"

	"github.com/mfateev/codemode-sandbox/internal/audit"
	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/sandbox"
)

// Tier identifies one of the four execution tiers of spec.md §4.7, in
// preference order.
type Tier string

const (
	TierT1 Tier = "T1" // OS-jailed subprocess
	TierT2 Tier = "T2" // plain subprocess
	TierT3 Tier = "T3" // in-process goroutine, step-limited
	TierT4 Tier = "T4" // in-process, unbounded
)

// Dispatcher runs a submission starting at T1 and decays through T2, T3,
// T4 on isolate bring-up failure, auditing every decay, per spec.md §4.7
// "Each submission attempts T1 ... Each fallback is audited".
type Dispatcher struct {
	Broker *Broker
	Audit  *audit.Writer // may be nil (decay still happens, just unaudited)

	// HelperPath is the codemode-isolate binary; empty disables T1/T2
	// entirely and starts at T3 (e.g. when the helper was not built into
	// the deployment image).
	HelperPath string
	Sandbox    sandbox.SandboxManager
	Policy     *sandbox.SandboxPolicy
	Env        []string

	// MaxSteps bounds T3's CPU budget via starlark.Thread.SetMaxExecutionSteps.
	MaxSteps uint64
}

// Run drives the submission through the tier ladder and returns the
// final Outcome along with the tier that produced it. d.Broker is a
// single process-wide instance shared across concurrently executing
// submissions, so Run works off a shallow per-call copy carrying this
// submission's requester identity rather than mutating the shared
// Broker's Requester field.
func (d *Dispatcher) Run(ctx context.Context, requester, filename, code string, tools []mcpregistry.ToolDescriptor, bindingMethods map[string][]string) (*Outcome, Tier) {
	call := *d.Broker
	call.Requester = requester
	call.Audit = d.Audit

	if d.HelperPath != "" {
		if d.Sandbox != nil && d.Sandbox.Available() && d.Policy.IsRestricted() {
			sub := &SubprocessRunner{Broker: &call, HelperPath: d.HelperPath, Sandbox: d.Sandbox, Policy: d.Policy, Env: d.Env}
			outcome := sub.Run(ctx, filename, code, d.MaxSteps, tools, bindingMethods)
			if !isBringUpFailure(outcome) {
				return outcome, TierT1
			}
			d.auditDecay(requester, TierT1, TierT2, outcome.Err)
		}

		sub := &SubprocessRunner{Broker: &call, HelperPath: d.HelperPath, Env: d.Env}
		outcome := sub.Run(ctx, filename, code, d.MaxSteps, tools, bindingMethods)
		if !isBringUpFailure(outcome) {
			return outcome, TierT2
		}
		d.auditDecay(requester, TierT2, TierT3, outcome.Err)
	}

	t3 := &InProcessRunner{Broker: &call, MaxSteps: d.MaxSteps}
	outcome := t3.Run(ctx, filename, code, tools, bindingMethods)
	if !isBringUpFailure(outcome) {
		return outcome, TierT3
	}
	d.auditDecay(requester, TierT3, TierT4, outcome.Err)

	t4 := &InProcessRunner{Broker: &call}
	outcome = t4.Run(ctx, filename, code, tools, bindingMethods)
	return outcome, TierT4
}

// isBringUpFailure distinguishes "the isolate itself could not start or
// crashed" (decay-worthy) from a legitimate terminal outcome the guest
// code produced — validation errors, policy denials, and timeouts are not
// bring-up failures and must not trigger a silent tier decay.
func isBringUpFailure(o *Outcome) bool {
	return o.Err != nil && o.Err.Kind == codeerr.KindBrokerError
}

func (d *Dispatcher) auditDecay(requester string, from, to Tier, cause *codeerr.Error) {
	if d.Audit == nil {
		return
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	_ = d.Audit.Log(audit.Event{
		Kind:      audit.EventWorkerThreadFailed,
		Requester: requester,
		Details: map[string]any{
			"from_tier": string(from),
			"to_tier":   string(to),
			"reason":    reason,
		},
	})
}
