package isolate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mfateev/codemode-sandbox/internal/audit"
	"github.com/mfateev/codemode-sandbox/internal/binding"
	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/mcpregistry"
	"github.com/mfateev/codemode-sandbox/internal/netpolicy"
	"github.com/mfateev/codemode-sandbox/internal/workspace"
)

// perCallTimeout bounds a single broker request independently of the
// submission-wide deadline, per spec.md §4.7 "has its own 30-second
// deadline independent of the submission deadline".
const perCallTimeout = 30 * time.Second

// fsBindingName is the reserved Binding Registry name the path-confined
// filesystem surface is exposed under: the isolate's fs.* calls arrive as
// binding_call requests for this name and are served by C2's Filesystem.
const fsBindingName = "fs"

// Broker is the trusted-side handler for broker-protocol requests
// originating from an isolate, regardless of tier. It is the single
// dispatch point both the in-process (T3/T4) and out-of-process (T1/T2)
// transports call into, per SPEC_FULL.md §4.7's "tier-agnostic" design.
type Broker struct {
	Tools     *mcpregistry.Registry
	Bindings  *binding.Registry
	Net       *netpolicy.Engine
	NetExec   *netpolicy.Executor
	NetPolicy netpolicy.Policy
	FS        *workspace.Filesystem
	Requester string

	// Audit receives network and binding access events as they happen,
	// per spec.md §8's S1/S2/S6 scenarios. May be nil (events are simply
	// not recorded).
	Audit *audit.Writer

	// LogSink receives every log{line} message observed during a
	// submission, in emission order, per spec.md §4.7 and §4.8's
	// ordering guarantee.
	LogSink func(line string)
}

// Dispatch handles a single isolate-originated request message and
// returns the matching response envelope (KindResult or KindError,
// carrying the same ID). A KindLog message is forwarded to LogSink and
// produces no response, matching §4.7's "forwarded to the log buffer but
// never to the result's error channel".
func (b *Broker) Dispatch(ctx context.Context, req Message) Message {
	if req.Kind == KindLog {
		if b.LogSink != nil {
			b.LogSink(req.Log)
		}
		return Message{}
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	value, err := b.dispatchOne(callCtx, req)
	if err != nil {
		return Message{Kind: KindError, ID: req.ID, Err: toErrorPayload(err)}
	}
	return Message{Kind: KindResult, ID: req.ID, Value: value}
}

func (b *Broker) dispatchOne(ctx context.Context, req Message) (any, error) {
	switch req.Kind {
	case KindToolCall:
		if req.ToolCall == nil {
			return nil, codeerr.New(codeerr.KindBrokerError, "tool_call message missing payload")
		}
		return b.handleToolCall(ctx, req.ToolCall)
	case KindBindingCall:
		if req.BindingCall == nil {
			return nil, codeerr.New(codeerr.KindBrokerError, "binding_call message missing payload")
		}
		return b.handleBindingCall(ctx, req.BindingCall)
	case KindNetworkCall:
		if req.NetworkCall == nil {
			return nil, codeerr.New(codeerr.KindBrokerError, "network_call message missing payload")
		}
		return b.handleNetworkCall(ctx, req.NetworkCall)
	default:
		return nil, codeerr.New(codeerr.KindBrokerError, fmt.Sprintf("unrecognized request kind %q", req.Kind))
	}
}

func (b *Broker) handleToolCall(ctx context.Context, r *ToolCallRequest) (any, error) {
	if b.Tools == nil {
		return nil, codeerr.New(codeerr.KindBrokerError, "no tool registry configured")
	}
	result, err := b.Tools.Invoke(ctx, r.QualifiedName, r.Params)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindDownstreamError, r.QualifiedName, err)
	}
	return result, nil
}

func (b *Broker) handleBindingCall(ctx context.Context, r *BindingCallRequest) (any, error) {
	if r.Binding == fsBindingName {
		return b.handleFSCall(r.Method, r.Args)
	}
	if b.Bindings == nil {
		return nil, codeerr.New(codeerr.KindBrokerError, "no binding registry configured")
	}
	result, err := b.Bindings.Execute(ctx, r.Binding, r.Method, r.Args)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindDownstreamError, r.Binding+"."+r.Method, err)
	}
	b.logEvent(audit.EventBindingAccessed, map[string]any{"binding": r.Binding, "method": r.Method})
	return result, nil
}

func (b *Broker) handleNetworkCall(ctx context.Context, r *NetworkCallRequest) (any, error) {
	if b.Net == nil || b.NetExec == nil {
		return nil, codeerr.New(codeerr.KindBrokerError, "no network policy engine configured")
	}

	decision := b.Net.Check(ctx, b.Requester, r.URL)
	elicited := decision.Kind == netpolicy.Elicit
	if elicited {
		resolved, err := b.Net.Resolve(ctx, b.Requester, r.URL)
		if err != nil {
			return nil, codeerr.Wrap(codeerr.KindBrokerError, r.URL, err)
		}
		decision = resolved
		if decision.Kind == netpolicy.Allowed {
			b.logEvent(audit.EventNetworkPermissionGranted, map[string]any{"url_hash": hashURL(r.URL)})
		} else {
			b.logEvent(audit.EventNetworkPermissionDenied, map[string]any{"url_hash": hashURL(r.URL)})
		}
	}
	if decision.Kind != netpolicy.Allowed {
		b.logEvent(audit.EventNetworkRequestDenied, map[string]any{"url_hash": hashURL(r.URL), "reason": decision.Reason})
		return nil, codeerr.New(codeerr.KindPolicyDenied, fmt.Sprintf("fetch %q denied: %s", r.URL, decision.Reason))
	}

	resp, err := b.NetExec.Execute(ctx, netpolicy.Request{
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers,
		Body:    r.Body,
	}, b.NetPolicy)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindDownstreamError, r.URL, err)
	}
	b.logEvent(audit.EventNetworkRequestAllowed, map[string]any{"url_hash": hashURL(r.URL)})
	return responseToValue(resp), nil
}

// responseToValue converts a netpolicy.Response struct into the plain
// map[string]any/[]byte/string shape toStarlark (and the T1/T2 JSON-lines
// encoder) already know how to cross the broker boundary with, matching
// the "encoding/json-style decoding" shapes documented in convert.go.
func responseToValue(resp *netpolicy.Response) map[string]any {
	headers := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status":      resp.Status,
		"status_text": resp.StatusText,
		"headers":     headers,
		"body":        resp.Body,
	}
}

// logEvent records an audit event for this broker's current Requester,
// a no-op when Audit is nil (e.g. audit logging disabled in config).
func (b *Broker) logEvent(kind string, details map[string]any) {
	if b.Audit == nil {
		return
	}
	_ = b.Audit.Log(audit.Event{Kind: kind, Requester: b.Requester, Details: details})
}

// hashURL fingerprints a URL for audit records without writing the raw
// (possibly sensitive) URL to the log, per spec.md §8 S1's "a matching
// URL hash".
func hashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// handleFSCall dispatches the built-in "fs" binding directly against the
// path-confined Filesystem surface (C2), bypassing the Binding Registry's
// reflection dispatch since Filesystem is not a registered credentialed
// Binding — it is always present and never requires authentication.
func (b *Broker) handleFSCall(method string, args []any) (any, error) {
	if b.FS == nil {
		return nil, codeerr.New(codeerr.KindBrokerError, "no filesystem surface configured")
	}
	path, rest, err := firstStringArg(args)
	if err != nil {
		return nil, codeerr.New(codeerr.KindValidation, err.Error())
	}

	switch method {
	case "read_file":
		data, truncated, err := b.FS.ReadFile(path)
		if err != nil {
			return nil, classifyFSError(method, err)
		}
		return map[string]any{"data": data, "truncated": truncated}, nil
	case "write_file":
		data, err := firstBytesArg(rest)
		if err != nil {
			return nil, codeerr.New(codeerr.KindValidation, err.Error())
		}
		if err := b.FS.WriteFile(path, data); err != nil {
			return nil, classifyFSError(method, err)
		}
		return nil, nil
	case "enumerate":
		entries, err := b.FS.Enumerate(path)
		if err != nil {
			return nil, classifyFSError(method, err)
		}
		return entries, nil
	case "delete":
		if err := b.FS.Delete(path); err != nil {
			return nil, classifyFSError(method, err)
		}
		return nil, nil
	case "rename":
		dst, err := firstStringArg2(rest)
		if err != nil {
			return nil, codeerr.New(codeerr.KindValidation, err.Error())
		}
		if err := b.FS.Rename(path, dst); err != nil {
			return nil, classifyFSError(method, err)
		}
		return nil, nil
	case "copy":
		dst, err := firstStringArg2(rest)
		if err != nil {
			return nil, codeerr.New(codeerr.KindValidation, err.Error())
		}
		if err := b.FS.Copy(path, dst); err != nil {
			return nil, classifyFSError(method, err)
		}
		return nil, nil
	default:
		return nil, codeerr.New(codeerr.KindValidation, fmt.Sprintf("fs binding has no method %q", method))
	}
}

func classifyFSError(method string, err error) error {
	var escape *workspace.SandboxEscape
	if isSandboxEscape(err, &escape) {
		return codeerr.Wrap(codeerr.KindSandboxEscape, "fs."+method, err)
	}
	return codeerr.Wrap(codeerr.KindDownstreamError, "fs."+method, err)
}

func isSandboxEscape(err error, target **workspace.SandboxEscape) bool {
	for err != nil {
		if se, ok := err.(*workspace.SandboxEscape); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func firstStringArg(args []any) (string, []any, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("expected a path argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("expected path argument to be a string")
	}
	return s, args[1:], nil
}

func firstStringArg2(args []any) (string, error) {
	s, _, err := firstStringArg(args)
	return s, err
}

func firstBytesArg(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected a data argument")
	}
	switch v := args[0].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("expected data argument to be bytes or string")
	}
}

func toErrorPayload(err error) *ErrorPayload {
	var ce *codeerr.Error
	if e, ok := err.(*codeerr.Error); ok {
		ce = e
	} else {
		ce = codeerr.Wrap(codeerr.KindBrokerError, "", err)
	}
	return &ErrorPayload{
		Message:    ce.Error(),
		Kind:       string(ce.Kind),
		SourceName: ce.Source,
	}
}
