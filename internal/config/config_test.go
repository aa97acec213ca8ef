package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "codemode-sandbox", cfg.TaskQueue)
	assert.True(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Audit.RedactSensitiveData)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
base_dir: /var/codemode
task_queue: custom-queue
network_policy:
  allowed:
    - "api.example.com"
  allow_localhost: true
  timeout_ms: 5000
audit:
  enabled: false
mcp_servers:
  github:
    transport:
      command: mcp-github
      args: ["--stdio"]
    required: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/codemode", cfg.BaseDir)
	assert.Equal(t, "custom-queue", cfg.TaskQueue)
	assert.Equal(t, []string{"api.example.com"}, cfg.NetworkPolicy.Allowed)
	assert.True(t, cfg.NetworkPolicy.AllowLocalhost)
	assert.EqualValues(t, 5000, cfg.NetworkPolicy.TimeoutMs)
	assert.False(t, cfg.Audit.Enabled)

	server, ok := cfg.McpServers["github"]
	require.True(t, ok)
	assert.Equal(t, "mcp-github", server.Transport.Command)
	assert.True(t, server.Required)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "codemode-sandbox", cfg.TaskQueue)
}

func TestLoad_EnvOverlayWinsOverFile(t *testing.T) {
	t.Setenv("CODEMODE_TASK_QUEUE", "env-queue")
	t.Setenv("CODEMODE_AUDIT_ENABLED", "false")

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
task_queue: file-queue
audit:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-queue", cfg.TaskQueue)
	assert.False(t, cfg.Audit.Enabled)
}
