package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type loadsArgs struct {
	S string `mapstructure:"s"`
}

type loadArgs struct {
	File string `mapstructure:"file"`
}

func jsonActions() map[string]action.Action {
	return map[string]action.Action{
		"json.loads": typed("json.loads", schema.ActionSpec{
			Description: "Convert a JSON-formatted string into a value.",
			Arguments: []schema.ArgSpec{
				{Name: "s", Type: "string", Description: "The JSON-encoded string to be deserialized.", Required: true},
			},
		}, func(_ context.Context, _ action.Call, a loadsArgs) (any, error) {
			return decodeJSON([]byte(a.S))
		}),
		"json.load": typed("json.load", schema.ActionSpec{
			Description: "Read a JSON file and convert its contents to a value.",
			Arguments: []schema.ArgSpec{
				{Name: "file", Type: "string", Description: "Path of the JSON file to deserialize.", Required: true},
			},
		}, func(_ context.Context, c action.Call, a loadArgs) (any, error) {
			data, err := os.ReadFile(c.Executor.ResolvePath(c.Playbook, a.File))
			if err != nil {
				return nil, fmt.Errorf("json.load: %w", err)
			}
			return decodeJSON(data)
		}),
		"json.dumps": fn("json.dumps", schema.ActionSpec{
			Description: "Convert a value into a JSON-formatted string.",
			Arguments: []schema.ArgSpec{
				{Name: "obj", Type: "object", Description: "The value to be serialized as a JSON-encoded string.", Required: true},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			v, _ := c.Arg(0, "obj")
			return encodeJSON(v)
		}),
	}
}

// decodeJSON keeps integers as int, like the playbook loader.
func decodeJSON(data []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return schema.Normalize(v), nil
}

// encodeJSON encodes without HTML escaping.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
