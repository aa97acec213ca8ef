package isolate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mfateev/codemode-sandbox/internal/exec"
)

func TestBoundedLog_KeepsLinesUnderBudget(t *testing.T) {
	var b BoundedLog
	b.Append("line one")
	b.Append("line two")
	assert.Equal(t, []string{"line one", "line two"}, b.List())
}

func TestBoundedLog_TruncatesOnceBudgetExceeded(t *testing.T) {
	var b BoundedLog
	huge := strings.Repeat("x", exec.ExecOutputMaxBytes)
	b.Append(huge)
	b.Append("dropped")
	b.Append("also dropped")

	lines := b.List()
	if assert.Len(t, lines, 2) {
		assert.Equal(t, huge, lines[0])
		assert.Equal(t, "... output truncated", lines[1])
	}
}
