// Package mcp serves the action registry to AI agents over the Model
// Context Protocol. Every registered action that declares arguments is
// exposed as a tool, alongside playbook/run, playbook/validate and
// playbook/schema.
package mcp

import (
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
)

// Handlers holds what the tool handlers execute against.
type Handlers struct {
	// Registry is listed for action tools and consulted by validation.
	Registry *action.Registry
	// Options configure every executor a tool call creates. They should
	// resolve actions against Registry.
	Options []engine.Option
	// Exclude names actions never exposed, such as ones reading stdin.
	Exclude []string
}

// NewServer creates an MCP server with the playbook tools and one tool per
// registered action.
func NewServer(version string, h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(
		"playbook",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("playbook/run",
			mcp.WithDescription("Execute a playbook file and return its result"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the playbook YAML or JSON file")),
			mcp.WithObject("vars", mcp.Description("Variables bound as $name before execution")),
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("playbook/validate",
			mcp.WithDescription("Validate a playbook file: structure, body schema and action names"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the playbook YAML or JSON file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("playbook/schema",
			mcp.WithDescription("Export a JSON Schema (playbook node body or action spec)"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'playbook' or 'action'")),
		),
		HandleSchema,
	)

	for _, t := range h.ActionTools() {
		s.AddTool(t.Tool, t.Handler)
	}
	return s
}

// ActionTool pairs an action's tool declaration with its handler.
type ActionTool struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// ActionTools builds a tool per registered action with arguments, ordered
// by tool name.
func (h *Handlers) ActionTools() []ActionTool {
	excluded := make(map[string]bool, len(h.Exclude))
	for _, name := range h.Exclude {
		excluded[name] = true
	}
	var tools []ActionTool
	for _, a := range h.Registry.List() {
		spec := a.Spec()
		if len(spec.Arguments) == 0 || excluded[spec.Name] {
			continue
		}
		fn, _ := spec.ToolSchema()["function"].(map[string]any)
		params, err := json.Marshal(fn["parameters"])
		if err != nil {
			continue
		}
		tools = append(tools, ActionTool{
			Tool:    mcp.NewToolWithRawSchema(spec.ToolName(), spec.Description, params),
			Handler: h.actionHandler(spec.Name),
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Tool.Name < tools[j].Tool.Name })
	return tools
}
