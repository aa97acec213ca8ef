package main

import (
	"context"

	"github.com/mfateev/codemode-sandbox/internal/config"
	"github.com/mfateev/codemode-sandbox/internal/netpolicy"
)

// networkRequestsPerSecond bounds the request rate of the worker's single
// netpolicy.Executor, shared by every isolate; spec.md §6 names no
// configuration row for it, so this
// worker picks one conservative constant rather than add an
// unconfigurable knob to internal/config.
const networkRequestsPerSecond = 5.0

// denyAllElicitor is the Elicitor used when no interactive elicitation
// channel (an MCP client's elicitation capability) is wired up: every
// localhost/private/unconfigured-external request is treated as a
// decline, matching spec.md §6's "the engine treats decline and cancel
// as denials."
type denyAllElicitor struct{}

func (denyAllElicitor) Elicit(ctx context.Context, requester, rawURL string) (netpolicy.Choice, error) {
	return netpolicy.ChoiceDeny, nil
}

func netpolicyEngine(cfg config.Config) *netpolicy.Engine {
	return netpolicy.NewEngine(cfg.NetworkPolicy, denyAllElicitor{})
}

func netpolicyExecutor() *netpolicy.Executor {
	return netpolicy.NewExecutor(networkRequestsPerSecond)
}
