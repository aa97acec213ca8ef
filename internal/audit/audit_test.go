package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var lines []string
	for _, e := range entries {
		f, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		f.Close()
	}
	return lines
}

func TestWriter_LogAppendsOneLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, false)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Log(Event{Kind: EventCodeExecutionStart, SessionID: "s1"}))
	require.NoError(t, w.Log(Event{Kind: EventCodeExecutionSuccess, SessionID: "s1"}))

	lines := readLines(t, dir)
	require.Len(t, lines, 2)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, EventCodeExecutionStart, e.Kind)
}

func TestWriter_RedactsSensitiveDetailKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, true)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Log(Event{
		Kind: EventBindingAccessed,
		Details: map[string]any{
			"api_key": "sk-super-secret",
			"method":  "Get",
		},
	}))

	lines := readLines(t, dir)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "sk-super-secret")
	assert.Contains(t, lines[0], redactedPlaceholder)
	assert.Contains(t, lines[0], "Get")
}

func TestWriter_RedactsURLQueryString(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, true)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Log(Event{
		Kind: EventNetworkRequestAllowed,
		Details: map[string]any{
			"url": "https://api.example.com/search?token=abc123",
		},
	}))

	lines := readLines(t, dir)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "abc123")
}

func TestWriter_SizeCapTriggersRollover(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 200, false)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, w.Log(Event{Kind: EventSecurityViolation, Details: map[string]any{"n": i}}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	rolloverCount := 0
	for _, e := range entries {
		if strings.Count(e.Name(), ".") >= 2 {
			rolloverCount++
		}
	}
	assert.Greater(t, rolloverCount, 0)
}

func TestWriter_NoRedactionLeavesOriginalKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, false)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Log(Event{
		Kind:    EventBindingAccessed,
		Details: map[string]any{"api_key": "visible-when-disabled"},
	}))

	lines := readLines(t, dir)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "visible-when-disabled")
}

func TestRedact_NonURLStringLeftAlone(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, true)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Log(Event{
		Kind:      EventCodeExecutionError,
		Timestamp: time.Now(),
		Details:   map[string]any{"message": "plain text, not a url"},
	}))

	lines := readLines(t, dir)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "plain text, not a url")
}
