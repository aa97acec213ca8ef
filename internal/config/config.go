// Package config loads the ambient settings for a codemode-sandbox worker
// process: base directory layout, the Network Policy Engine defaults, the
// Audit Log switches, and the MCP server set, following the teacher's
// existing preference for YAML-shaped MCP server configs
// (internal/mcp/config.go) extended with an environment-variable layer.
//
// Maps to: spec.md §6 "Configuration recognized by the core",
// SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mfateev/codemode-sandbox/internal/mcp"
	"github.com/mfateev/codemode-sandbox/internal/netpolicy"
)

// AuditConfig controls the Audit Log (C6), per spec.md §6's
// "AuditConfig.*" configuration rows.
type AuditConfig struct {
	Enabled             bool `yaml:"enabled"`
	IncludeCodeSnippets bool `yaml:"include_code_snippets"`
	RedactSensitiveData bool `yaml:"redact_sensitive_data"`
}

// Config is the merged settings document a worker process starts from.
type Config struct {
	// BaseDir is the root described by spec.md §6's "Persisted state
	// layout" — it contains credentials/, audit/, and workspace/.
	BaseDir string `yaml:"base_dir"`

	// TaskQueue is the Temporal task queue the worker polls.
	TaskQueue string `yaml:"task_queue"`

	// HelperPath is the codemode-isolate binary path; empty disables
	// T1/T2 and starts the tier ladder at T3.
	HelperPath string `yaml:"helper_path"`

	// MaxSteps bounds T3's CPU budget via starlark.Thread.SetMaxExecutionSteps.
	MaxSteps uint64 `yaml:"max_steps"`

	NetworkPolicy netpolicy.Policy             `yaml:"network_policy"`
	Audit         AuditConfig                  `yaml:"audit"`
	McpServers    map[string]mcp.McpServerConfig `yaml:"mcp_servers"`
}

// defaults returns the configuration in effect before any file or
// environment overlay is applied.
func defaults() Config {
	return Config{
		BaseDir:    "./codemode-data",
		TaskQueue:  "codemode-sandbox",
		MaxSteps:   10_000_000,
		McpServers: map[string]mcp.McpServerConfig{},
		NetworkPolicy: netpolicy.Policy{
			AllowLocalhost:   false,
			AllowPrivateIPs:  false,
			MaxRequestBytes:  1 << 20,
			MaxResponseBytes: 10 << 20,
			TimeoutMs:        10_000,
		},
		Audit: AuditConfig{
			Enabled:             true,
			IncludeCodeSnippets: false,
			RedactSensitiveData: true,
		},
	}
}

// Load builds a Config by starting from defaults(), overlaying an
// optional YAML file at path (skipped entirely if path is empty or the
// file does not exist), and finally overlaying recognized environment
// variables — the same precedence order the teacher's CLI gives
// flag/file/env layers in internal/cli/app.go.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnvOverlay(&cfg)
	return cfg, nil
}

// applyEnvOverlay overrides fields from environment variables, mirroring
// spec.md §6's configuration table one row at a time.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("CODEMODE_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("CODEMODE_TASK_QUEUE"); v != "" {
		cfg.TaskQueue = v
	}
	if v := os.Getenv("CODEMODE_HELPER_PATH"); v != "" {
		cfg.HelperPath = v
	}
	if v := os.Getenv("CODEMODE_MAX_STEPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("CODEMODE_NETWORK_ALLOW_LOCALHOST"); v != "" {
		cfg.NetworkPolicy.AllowLocalhost = boolEnv(v)
	}
	if v := os.Getenv("CODEMODE_NETWORK_ALLOW_PRIVATE_IPS"); v != "" {
		cfg.NetworkPolicy.AllowPrivateIPs = boolEnv(v)
	}
	if v := os.Getenv("CODEMODE_NETWORK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.NetworkPolicy.TimeoutMs = uint32(n)
		}
	}
	if v := os.Getenv("CODEMODE_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = boolEnv(v)
	}
	if v := os.Getenv("CODEMODE_AUDIT_REDACT"); v != "" {
		cfg.Audit.RedactSensitiveData = boolEnv(v)
	}
}

func boolEnv(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
