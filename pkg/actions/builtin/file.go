package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type writeArgs struct {
	File    string `mapstructure:"file"`
	Mode    string `mapstructure:"mode"`
	Content any    `mapstructure:"content"`
}

func fileActions() map[string]action.Action {
	return map[string]action.Action{
		"file.write": typed("file.write", schema.ActionSpec{
			Description: "Write content to a file.",
			Arguments: []schema.ArgSpec{
				{Name: "file", Type: "string", Description: "Path of the file to write.", Required: true},
				{Name: "mode", Type: "string", Description: "w truncates the file, a appends to it. Defaults to w."},
				{Name: "content", Type: "any", Description: "Text to write. Lists and mappings are written as JSON.", Required: true},
			},
		}, func(_ context.Context, _ action.Call, a writeArgs) (any, error) {
			flags := os.O_CREATE | os.O_WRONLY
			switch a.Mode {
			case "", "w":
				flags |= os.O_TRUNC
			case "a":
				flags |= os.O_APPEND
			default:
				return nil, fmt.Errorf("file.write: unsupported mode %q", a.Mode)
			}

			var text string
			switch t := a.Content.(type) {
			case []any, map[string]any:
				s, err := encodeJSON(t)
				if err != nil {
					return nil, err
				}
				text = s
			default:
				text = eval.Stringify(t)
			}

			f, err := os.OpenFile(a.File, flags, 0o644)
			if err != nil {
				return nil, fmt.Errorf("file.write: %w", err)
			}
			if _, err := f.WriteString(text); err != nil {
				f.Close()
				return nil, fmt.Errorf("file.write: %w", err)
			}
			return nil, f.Close()
		}),
		"file.exists": fn("file.exists", schema.ActionSpec{
			Description: "Test if file exists.",
			Arguments: []schema.ArgSpec{
				{Name: "file", Type: "string", Description: "Path to test.", Required: true},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			v, ok := c.Arg(0, "file")
			p, isString := v.(string)
			if !ok || !isString {
				return nil, fmt.Errorf("file.exists: invalid args: %v", c.Args)
			}
			info, err := os.Stat(p)
			return err == nil && info.Mode().IsRegular(), nil
		}),
	}
}
