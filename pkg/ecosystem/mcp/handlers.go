package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/kernel/validate"
)

// HandleValidate implements the playbook/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	pb, errs := validate.ValidateFile(path, h.Registry)
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	count := 0
	pb.Walk(func(*schema.Playbook) { count++ })
	msg := fmt.Sprintf("✓ %s is valid (%d actions)", filepath.Base(path), count)
	if len(errs) > 0 {
		msg += fmt.Sprintf(", %d warnings", len(errs))
	}
	return textResult(msg), nil
}

// HandleSchema implements the playbook/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error

	switch schemaType {
	case "playbook":
		data, err = schema.GeneratePlaybookJSONSchema()
	case "action":
		data, err = schema.GenerateActionSpecJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q, use 'playbook' or 'action'", schemaType)), nil
	}

	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the playbook/run MCP tool.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	vars, _ := schema.Normalize(args["vars"]).(map[string]any)

	start := time.Now()
	result, err := engine.ExecuteFile(ctx, path, vars, h.Options...)

	response := map[string]any{
		"result":   jsonable(result),
		"duration": time.Since(start).String(),
	}
	if err != nil {
		response["error"] = err.Error()
	}
	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: err != nil,
	}, nil
}

// actionHandler runs the named action with the tool arguments bound by
// name.
func (h *Handlers) actionHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kwargs, _ := schema.Normalize(req.GetArguments()).(map[string]any)
		pb := &schema.Playbook{Name: name, Args: schema.Named(kwargs)}
		result, err := engine.Execute(ctx, pb, "", nil, h.Options...)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return textResult(render(result)), nil
	}
}

// render formats an action result as tool output: strings verbatim,
// anything else as indented JSON.
func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eval.Stringify(v)
	}
	return string(data)
}

func jsonable(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return eval.Stringify(v)
	}
	return v
}

func formatErrors(errs []*validate.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == validate.SeverityError {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
