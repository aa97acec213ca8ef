package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_RejectsSyntaxError(t *testing.T) {
	result := New().Analyze("submission.star", "def f(:\n", nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RiskCritical, result.RiskLevel)
	assert.Equal(t, 0, result.RuleID)
}

func TestAnalyze_RejectsDunderAttributeAssignment(t *testing.T) {
	code := `x = {}
x.__proto__ = 1
`
	result := New().Analyze("submission.star", code, []string{"fs"})
	require.True(t, result.Rejected)
	assert.Equal(t, RuleProtoMutation, result.RuleID)
	assert.Greater(t, result.Line, 0)
}

func TestAnalyze_RejectsReflectiveDunderAccess(t *testing.T) {
	code := `x = getattr(obj, "__class__")
`
	result := New().Analyze("submission.star", code, nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RuleReflectiveCall, result.RuleID)
}

func TestAnalyze_AllowsPlainGetattr(t *testing.T) {
	code := `x = getattr(obj, "name", None)
`
	result := New().Analyze("submission.star", code, nil)
	assert.False(t, result.Rejected)
}

func TestAnalyze_RejectsProcessGlobalReference(t *testing.T) {
	code := `x = os
`
	result := New().Analyze("submission.star", code, nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RuleProcessGlobal, result.RuleID)
}

func TestAnalyze_RejectsDynamicModuleLoading(t *testing.T) {
	code := `x = __import__("os")
`
	result := New().Analyze("submission.star", code, nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RuleModuleLoading, result.RuleID)
}

func TestAnalyze_RejectsDynamicEval(t *testing.T) {
	code := `x = eval("1 + 1")
`
	result := New().Analyze("submission.star", code, nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RuleDynamicEval, result.RuleID)
}

func TestAnalyze_RejectsRawIOPrimitive(t *testing.T) {
	code := `x = subprocess("ls")
`
	result := New().Analyze("submission.star", code, nil)
	require.True(t, result.Rejected)
	assert.Equal(t, RuleRawIO, result.RuleID)
}

func TestAnalyze_AllowsSanctionedLoad(t *testing.T) {
	code := `load("helpers.star", "util")
result = util.transform(1)
`
	result := New().Analyze("submission.star", code, []string{"util"})
	assert.False(t, result.Rejected)
}

func TestAnalyze_RejectsUnknownNamespace(t *testing.T) {
	code := `result = github.get_issue(1)
`
	result := New().Analyze("submission.star", code, []string{"fs"})
	require.True(t, result.Rejected)
	assert.Equal(t, ruleIDUnknownNamespace, result.RuleID)
	assert.Contains(t, result.Reason, "github")
}

func TestAnalyze_AllowsKnownNamespaceAndRecordsIntent(t *testing.T) {
	code := `issues = github.list_issues()
data = fetch("https://example.com/data")
result = sorted(issues)
`
	result := New().Analyze("submission.star", code, []string{"github"})
	require.False(t, result.Rejected)
	assert.Contains(t, result.ReferencedNamespaces, "github")
	assert.Contains(t, result.Intents, "tool-call")
	assert.Contains(t, result.Intents, "network-fetch")
	assert.Contains(t, result.Intents, "data-transformation")
}

func TestAnalyze_PreCheckNeverGatesByItself(t *testing.T) {
	// "secret" is a pre-check hit but plain string literals are not a
	// structural or semantic violation; the submission must still pass.
	code := `label = "secret rotation helper"
result = label
`
	result := New().Analyze("submission.star", code, nil)
	require.False(t, result.Rejected)
	assert.True(t, containsLabel(result.Intents, "mentions-credential"))
}

func TestAnalyze_HighEffectVolumeIsRejectedAsCriticalRisk(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("github.get_issue(1)\n")
	}
	b.WriteString("result = 1\n")
	result := New().Analyze("submission.star", b.String(), []string{"github"})
	require.True(t, result.Rejected)
	assert.Equal(t, RiskCritical, result.RiskLevel)
	assert.Equal(t, ruleIDSemanticRisk, result.RuleID)
}

func TestAnalyze_ModerateEffectVolumeRaisesRiskWithoutRejecting(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("github.get_issue(1)\n")
	}
	b.WriteString("result = 1\n")
	result := New().Analyze("submission.star", b.String(), []string{"github"})
	require.False(t, result.Rejected)
	assert.Equal(t, RiskMedium, result.RiskLevel)
}

func TestAnalyze_FlagsDangerousShellCommandLiteral(t *testing.T) {
	code := `cmd = "rm -rf /"
result = cmd
`
	result := New().Analyze("submission.star", code, nil)
	require.False(t, result.Rejected)
	assert.True(t, containsLabel(result.Intents, "mentions-dangerous-shell-literal"))
}

func TestAnalyze_DoesNotFlagBenignStringLiterals(t *testing.T) {
	code := `greeting = "hello world"
result = greeting
`
	result := New().Analyze("submission.star", code, nil)
	require.False(t, result.Rejected)
	assert.False(t, containsLabel(result.Intents, "mentions-dangerous-shell-literal"))
}

func containsLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
