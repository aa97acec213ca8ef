package analyzer

import (
	"regexp"
	"strings"

	"github.com/mfateev/codemode-sandbox/internal/command_safety"
)

// preCheckPatterns are quick literal/regex tells that a submission is
// worth a closer look — an advisory fast-path, never a gate, per
// spec.md §4.1 and §9 ("a regex-level pre-check ... runs first ...
// and never gates execution by itself").
var preCheckPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"mentions-eval", regexp.MustCompile(`\beval\s*\(`)},
	{"mentions-exec", regexp.MustCompile(`\bexec\s*\(`)},
	{"mentions-dunder", regexp.MustCompile(`__[a-zA-Z_]+__`)},
	{"mentions-network", regexp.MustCompile(`\bfetch\s*\(`)},
	{"mentions-credential", regexp.MustCompile(`(?i)(password|secret|api[_-]?key|token)`)},
	{"mentions-load", regexp.MustCompile(`\bload\s*\(`)},
}

// quotedLiteral pulls out the contents of single- or double-quoted
// Starlark string literals so they can be checked as if they were shell
// command lines — guest code has no shell, but a string destined for a
// "shell"/"exec"-shaped binding call is a plausible way to smuggle a
// destructive command past a human reviewer skimming the source.
var quotedLiteral = regexp.MustCompile(`"([^"\\]|\\.)*"|'([^'\\]|\\.)*'`)

// preCheck scans raw source text for suspicious substrings before the
// file is even parsed. It cannot reject anything by itself — only the
// structural and semantic passes over the parsed AST can do that — but
// its hits are folded into AnalysisResult.Intents so operators get an
// early, cheap signal alongside the authoritative verdict.
func preCheck(code string) []string {
	var hits []string
	for _, p := range preCheckPatterns {
		if p.re.MatchString(code) {
			hits = append(hits, p.label)
		}
	}
	if mentionsDangerousCommandLiteral(code) {
		hits = append(hits, "mentions-dangerous-shell-literal")
	}
	return hits
}

// mentionsDangerousCommandLiteral tokenizes every quoted string literal
// in code and runs it through command_safety.CommandMightBeDangerous,
// the same heuristic the teacher's shell-exec approval path used for
// destructive command detection (rm -rf, disk formatting, fork bombs,
// ...).
func mentionsDangerousCommandLiteral(code string) bool {
	for _, lit := range quotedLiteral.FindAllString(code, -1) {
		unquoted := strings.Trim(lit, `"'`)
		fields := strings.Fields(unquoted)
		if len(fields) == 0 {
			continue
		}
		if command_safety.CommandMightBeDangerous(fields) {
			return true
		}
	}
	return false
}
