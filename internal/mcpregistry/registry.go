package mcpregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mfateev/codemode-sandbox/internal/mcp"
)

// ToolDescriptor is the Tool Registry's list_tools() element, per
// spec.md §3/§6: immutable per submission, provided to the Static
// Analyzer and surfaced to the isolate as namespace.method(...).
type ToolDescriptor struct {
	QualifiedName string                 `json:"qualified_name"`
	Description   string                 `json:"description"`
	InputSchema   map[string]interface{} `json:"input_schema,omitempty"`
	ReadOnly      bool                   `json:"read_only,omitempty"`
}

// InvocationError carries {message, kind, source} per spec.md §2's Tool
// Registry interface contract.
type InvocationError struct {
	Message string
	Kind    string
	Source  string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Source, e.Message, e.Kind)
}

// Registry adapts a single session's internal/mcp.McpConnectionManager
// into the Tool Registry collaborator consumed by the Static Analyzer
// (available_mcps cross-reference) and the Isolate Layer's tool_call
// broker dispatch.
//
// Maps to: spec.md §2 Tool Registry interface (consumed collaborator)
type Registry struct {
	manager *mcp.McpConnectionManager
}

// NewRegistry adapts an already-initialized connection manager.
func NewRegistry(manager *mcp.McpConnectionManager) *Registry {
	return &Registry{manager: manager}
}

// ListTools returns every currently qualified, schema-described tool.
func (r *Registry) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return r.listFromTools(r.manager.AllTools()), nil
}

func (r *Registry) listFromTools(tools map[string]mcp.ToolInfo) []ToolDescriptor {
	descs := make([]ToolDescriptor, 0, len(tools))
	for _, info := range tools {
		qualified := QualifiedName(info.ServerName, info.ToolName)
		desc := ToolDescriptor{QualifiedName: qualified}
		if tool, ok := info.Tool.(*gomcp.Tool); ok {
			desc.Description = tool.Description
			if tool.Annotations != nil {
				desc.ReadOnly = tool.Annotations.ReadOnlyHint
			}
			if schema, ok := tool.InputSchema.(map[string]interface{}); ok {
				desc.InputSchema = schema
			}
		}
		descs = append(descs, desc)
	}
	return descs
}

// Namespaces returns the set of distinct server namespaces currently
// registered, for the Static Analyzer's available_mcps intersection.
func (r *Registry) Namespaces(ctx context.Context) []string {
	seen := make(map[string]struct{})
	for _, info := range r.manager.AllTools() {
		seen[info.ServerName] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	return out
}

// Invoke dispatches qualifiedName's call with params, validating params
// against the tool's declared input schema first via
// github.com/google/jsonschema-go before touching the network.
func (r *Registry) Invoke(ctx context.Context, qualifiedName string, params map[string]any) (any, error) {
	serverName, toolName, ok := r.resolve(qualifiedName)
	if !ok {
		return nil, &InvocationError{Message: "unknown tool", Kind: "not_found", Source: qualifiedName}
	}

	info, ok := r.manager.GetToolInfoByRef(serverName, toolName)
	if ok {
		if tool, ok := info.Tool.(*gomcp.Tool); ok && tool.InputSchema != nil {
			if schemaMap, ok := tool.InputSchema.(map[string]interface{}); ok {
				if err := validateAgainstSchema(schemaMap, params); err != nil {
					return nil, &InvocationError{Message: err.Error(), Kind: "validation_error", Source: qualifiedName}
				}
			}
		}
	}

	result, err := r.manager.CallTool(ctx, serverName, toolName, params)
	if err != nil {
		return nil, &InvocationError{Message: err.Error(), Kind: "downstream_error", Source: qualifiedName}
	}
	return convertResult(result), nil
}

// resolve finds the (serverName, toolName) pair whose QualifiedName
// matches — the inverse of QualifiedName, resolved by lookup rather than
// by un-sanitizing, since sanitization is lossy.
func (r *Registry) resolve(qualifiedName string) (string, string, bool) {
	for _, info := range r.manager.AllTools() {
		if QualifiedName(info.ServerName, info.ToolName) == qualifiedName {
			return info.ServerName, info.ToolName, true
		}
	}
	// Fall back to a literal "namespace.tool" / legacy "namespace:tool" split
	// for registries populated without going through QualifiedName.
	sep := "."
	idx := strings.Index(qualifiedName, sep)
	if idx < 0 {
		sep = ":"
		idx = strings.Index(qualifiedName, sep)
	}
	if idx < 0 {
		return "", "", false
	}
	return qualifiedName[:idx], qualifiedName[idx+len(sep):], true
}

// validateAgainstSchema checks params against the tool's declared JSON
// Schema using google/jsonschema-go — the same schema library the
// MCP Go SDK itself uses for tool parameter schemas, reused here instead
// of hand-rolling a validator.
func validateAgainstSchema(schemaMap map[string]interface{}, params map[string]any) error {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		// A malformed schema is a registry-side authoring problem, not a
		// reason to block every call; skip validation rather than fail closed.
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	return resolved.Validate(params)
}

func convertResult(result *gomcp.CallToolResult) any {
	var sb strings.Builder
	for i, content := range result.Content {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch c := content.(type) {
		case *gomcp.TextContent:
			sb.WriteString(c.Text)
		case *gomcp.ImageContent:
			sb.WriteString("[image: " + c.MIMEType + "]")
		default:
			sb.WriteString("[unsupported content type]")
		}
	}
	return map[string]any{
		"text":     sb.String(),
		"is_error": result.IsError,
	}
}
