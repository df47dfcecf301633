package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// ErrAssertion is returned when an assert expression is false.
var ErrAssertion = errors.New("assertion failed")

type assertArgs struct {
	Expr    string `mapstructure:"expr"`
	Message string `mapstructure:"message"`
}

func assertActions() map[string]action.Action {
	return map[string]action.Action{
		"assert": typed("assert", schema.ActionSpec{
			Description: "Fails unless the expression is true. Variables are addressed without their $ sigil.",
			Arguments: []schema.ArgSpec{
				{Name: "expr", Type: "string", Description: "Boolean expression, e.g. len(items) > 0 && status == \"ok\".", Required: true},
				{Name: "message", Type: "string", Description: "Message reported when the assertion fails."},
			},
		}, func(_ context.Context, c action.Call, a assertArgs) (any, error) {
			out, err := eval.Expression(a.Expr, c.Executor.Variables())
			if err != nil {
				return nil, err
			}
			ok, isBool := out.(bool)
			if !isBool {
				return nil, fmt.Errorf("assert: %q evaluated to %T, want bool", a.Expr, out)
			}
			if !ok {
				if a.Message != "" {
					return nil, fmt.Errorf("%w: %s", ErrAssertion, a.Message)
				}
				return nil, fmt.Errorf("%w: %s", ErrAssertion, a.Expr)
			}
			return true, nil
		}),
	}
}
