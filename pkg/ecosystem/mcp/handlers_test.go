package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/playbook/internal/logging"
	"github.com/ormasoftchile/playbook/pkg/actions/builtin"
	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/session"
)

func newHandlers() *Handlers {
	r := action.NewRegistry()
	builtin.Register(r, builtin.WithLogger(logging.NewNop()))
	return &Handlers{
		Registry: r,
		Options:  []engine.Option{engine.WithGlobal(r)},
		Exclude:  []string{"shell.prompt"},
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", r.Content[0])
	}
	return tc.Text
}

func TestHandleValidate(t *testing.T) {
	h := newHandlers()
	tests := []struct {
		name  string
		args  map[string]any
		isErr bool
		want  string
	}{
		{"missing path", map[string]any{}, true, "path argument is required"},
		{"valid", map[string]any{"path": filepath.Join("testdata", "mod.yaml")}, false, "mod.yaml is valid (1 actions)"},
		{"unknown action", map[string]any{"path": filepath.Join("testdata", "unknown.yaml")}, true, `unknown action "no.such.action"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleValidate(context.Background(), call(tt.args))
			if err != nil {
				t.Fatal(err)
			}
			if result.IsError != tt.isErr {
				t.Errorf("IsError = %v", result.IsError)
			}
			if got := text(t, result); !strings.Contains(got, tt.want) {
				t.Errorf("text = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestHandleSchema(t *testing.T) {
	for _, typ := range []string{"playbook", "action"} {
		result, err := HandleSchema(context.Background(), call(map[string]any{"type": typ}))
		if err != nil {
			t.Fatal(err)
		}
		if result.IsError {
			t.Errorf("%s: unexpected error %q", typ, text(t, result))
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(text(t, result)), &doc); err != nil {
			t.Errorf("%s: invalid JSON: %v", typ, err)
		}
	}

	result, err := HandleSchema(context.Background(), call(map[string]any{"type": "foo"}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for unknown schema type")
	}
}

func TestHandleRun(t *testing.T) {
	h := newHandlers()
	result, err := h.HandleRun(context.Background(), call(map[string]any{
		"path": filepath.Join("testdata", "mod.yaml"),
		"vars": map[string]any{"n": float64(10)},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", text(t, result))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text(t, result)), &out); err != nil {
		t.Fatal(err)
	}
	if out["result"] != float64(2) {
		t.Errorf("result = %v", out["result"])
	}

	result, _ = h.HandleRun(context.Background(), call(map[string]any{"path": "testdata/missing.yaml"}))
	if !result.IsError {
		t.Error("expected error for a missing file")
	}
}

func TestActionTools(t *testing.T) {
	h := newHandlers()
	tools := h.ActionTools()
	byName := map[string]ActionTool{}
	for _, tt := range tools {
		byName[tt.Tool.Name] = tt
	}
	if _, ok := byName["shell_prompt"]; ok {
		t.Error("excluded action exposed")
	}
	if _, ok := byName["uuid"]; ok {
		t.Error("action without arguments exposed")
	}
	mod, ok := byName["math_mod"]
	if !ok {
		t.Fatalf("math_mod missing from %d tools", len(tools))
	}
	var params map[string]any
	if err := json.Unmarshal(mod.Tool.RawInputSchema, &params); err != nil {
		t.Fatal(err)
	}
	if params["type"] != "object" {
		t.Errorf("parameters = %v", params)
	}

	result, err := mod.Handler(context.Background(), call(map[string]any{"l": float64(7), "r": float64(4)}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError || text(t, result) != "3" {
		t.Errorf("math_mod = %q (error %v)", text(t, result), result.IsError)
	}

	result, _ = mod.Handler(context.Background(), call(map[string]any{"l": float64(7), "r": float64(0)}))
	if !result.IsError {
		t.Error("expected error for a zero divisor")
	}
}

func TestActionTools_SchemasCompile(t *testing.T) {
	h := newHandlers()
	session.Register(h.Registry, nil)
	tools := h.ActionTools()
	if len(tools) == 0 {
		t.Fatal("no tools")
	}
	for i, tt := range tools {
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(tt.Tool.RawInputSchema))
		if err != nil {
			t.Errorf("%s: %v", tt.Tool.Name, err)
			continue
		}
		url := fmt.Sprintf("mem://tool/%d.json", i)
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(url, doc); err != nil {
			t.Errorf("%s: %v", tt.Tool.Name, err)
			continue
		}
		if _, err := c.Compile(url); err != nil {
			t.Errorf("%s publishes an invalid schema: %v", tt.Tool.Name, err)
		}
	}
}

func TestNewServer(t *testing.T) {
	if s := NewServer("test", newHandlers()); s == nil {
		t.Fatal("nil server")
	}
}
