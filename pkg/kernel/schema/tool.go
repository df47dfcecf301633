package schema

import (
	"fmt"
	"strings"
)

// Unnamed is the name given to an ActionSpec built without one.
const Unnamed = "UNNAMED"

// ---------------------------------------------------------------------------
// Action specification
// ---------------------------------------------------------------------------

// ArgSpec describes one named argument of an action.
type ArgSpec struct {
	Name        string `yaml:"name"                  json:"name"                  mapstructure:"name"`
	Type        string `yaml:"type,omitempty"        json:"type,omitempty"        mapstructure:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"    mapstructure:"required"`
}

// ActionSpec is the self-description of an action: name, description and
// the ordered argument list. It is what a language model sees as a tool.
type ActionSpec struct {
	Name        string    `yaml:"name"                  json:"name"                  mapstructure:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`
	Arguments   []ArgSpec `yaml:"arguments,omitempty"   json:"arguments,omitempty"   mapstructure:"arguments"`
}

// ToolName is the name used in the function-calling export. Dots are not
// accepted by most model backends, so they become underscores here and only here.
func (s ActionSpec) ToolName() string {
	return ToolName(s.Name)
}

// ToolName normalizes an action name for the function-calling export.
func ToolName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// ToolSchema renders the spec as a function-calling JSON object:
//
//	{"type": "function", "function": {"name", "description", "parameters": {...}}}
func (s ActionSpec) ToolSchema() map[string]any {
	properties := make(map[string]any, len(s.Arguments))
	required := make([]string, 0, len(s.Arguments))
	for _, arg := range s.Arguments {
		prop := map[string]any{"description": arg.Description}
		if typ, ok := JSONType(arg.Type); ok {
			prop["type"] = typ
		}
		properties[arg.Name] = prop
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        s.ToolName(),
			"description": s.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

// JSONType maps an argument type tag to a JSON Schema type. Tags naming
// no JSON type (any, function, handles) report false and leave the
// property untyped. An empty tag is a string.
func JSONType(tag string) (string, bool) {
	switch strings.ToLower(tag) {
	case "", "str", "string":
		return "string", true
	case "int", "integer":
		return "integer", true
	case "float", "number":
		return "number", true
	case "bool", "boolean":
		return "boolean", true
	case "dict", "map", "object":
		return "object", true
	case "list", "array":
		return "array", true
	case "null":
		return "null", true
	}
	return "", false
}

// ActionSpecFromMap builds an ActionSpec from its document form. A missing
// name yields Unnamed; argument types default to "string".
func ActionSpecFromMap(m map[string]any) (*ActionSpec, error) {
	spec := &ActionSpec{Name: Unnamed}
	if m == nil {
		return spec, nil
	}
	if v, ok := m["name"]; ok && v != nil {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("spec name must be a string, got %T", v)
		}
		if name != "" {
			spec.Name = name
		}
	}
	if v, ok := m["description"]; ok && v != nil {
		spec.Description = fmt.Sprint(v)
	}

	raw, ok := m["arguments"]
	if !ok || raw == nil {
		return spec, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("spec arguments must be a list, got %T", raw)
	}
	for i, item := range list {
		am, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec arguments[%d]: expected mapping, got %T", i, item)
		}
		arg, err := argSpecFromMap(am)
		if err != nil {
			return nil, fmt.Errorf("spec arguments[%d]: %w", i, err)
		}
		spec.Arguments = append(spec.Arguments, arg)
	}
	return spec, nil
}

func argSpecFromMap(m map[string]any) (ArgSpec, error) {
	arg := ArgSpec{Type: "string"}
	name, ok := m["name"].(string)
	if !ok || name == "" {
		return arg, fmt.Errorf("argument name is required")
	}
	arg.Name = name
	if t, ok := m["type"].(string); ok && t != "" {
		arg.Type = t
	}
	if d, ok := m["description"]; ok && d != nil {
		arg.Description = fmt.Sprint(d)
	}
	if r, ok := m["required"].(bool); ok {
		arg.Required = r
	}
	return arg, nil
}

// ActionSpecFromToolSchema parses the function-calling form produced by
// ToolSchema. The exported (underscored) name is kept as is.
func ActionSpecFromToolSchema(m map[string]any) (*ActionSpec, error) {
	if t, _ := m["type"].(string); t != "function" {
		return nil, fmt.Errorf("invalid function type: %v", m["type"])
	}
	fn, ok := m["function"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing function object")
	}
	name, ok := fn["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("function name is required")
	}
	spec := &ActionSpec{Name: name}
	if d, ok := fn["description"].(string); ok {
		spec.Description = d
	}

	params, _ := fn["parameters"].(map[string]any)
	props, _ := params["properties"].(map[string]any)
	if len(props) == 0 {
		return spec, nil
	}
	required := map[string]bool{}
	if req, ok := params["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	if req, ok := params["required"].([]string); ok {
		for _, s := range req {
			required[s] = true
		}
	}
	for _, pname := range sortedKeys(props) {
		arg := ArgSpec{Name: pname, Type: "any", Required: required[pname]}
		if pm, ok := props[pname].(map[string]any); ok {
			if t, ok := pm["type"].(string); ok && t != "" {
				arg.Type = t
			}
			if d, ok := pm["description"].(string); ok {
				arg.Description = d
			}
		}
		spec.Arguments = append(spec.Arguments, arg)
	}
	return spec, nil
}

// ToMap renders the spec in its document form.
func (s ActionSpec) ToMap() map[string]any {
	m := map[string]any{"name": s.Name}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Arguments) > 0 {
		args := make([]any, 0, len(s.Arguments))
		for _, a := range s.Arguments {
			args = append(args, map[string]any{
				"name":        a.Name,
				"type":        a.Type,
				"description": a.Description,
				"required":    a.Required,
			})
		}
		m["arguments"] = args
	}
	return m
}
