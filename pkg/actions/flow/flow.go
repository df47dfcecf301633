// Package flow provides the control-flow actions: repeat, when and each.
// They are ordinary actions that re-enter the executor for their children.
package flow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// ItemVar is bound to the current item inside each.
const ItemVar = "$_"

// Actions returns the control-flow actions keyed by name.
func Actions() map[string]action.Action {
	return map[string]action.Action{
		"repeat": action.NewFunc(schema.ActionSpec{
			Name:        "repeat",
			Description: "Run the child actions n times, or while a condition holds.",
			Arguments: []schema.ArgSpec{
				{Name: "condition", Type: "any", Description: "an iteration count, or a condition re-evaluated before each iteration", Required: true},
			},
		}, Repeat),
		"when": action.NewFunc(schema.ActionSpec{
			Name:        "when",
			Description: "Run the child actions once if the condition holds.",
			Arguments: []schema.ArgSpec{
				{Name: "condition", Type: "any", Description: "condition expression", Required: true},
			},
		}, When),
		"each": action.NewFunc(schema.ActionSpec{
			Name:        "each",
			Description: "Run the child actions for every item, bound to $_.",
			Arguments: []schema.ArgSpec{
				{Name: "items", Type: "array", Description: "items to iterate", Required: true},
			},
		}, Each),
	}
}

// Register adds the control-flow actions to r.
func Register(r *action.Registry) {
	r.Register(Actions())
}

// Repeat runs the children a fixed number of times when given one integer,
// otherwise while the condition built from its arguments is true.
func Repeat(ctx context.Context, c action.Call) (any, error) {
	if len(c.Args) == 1 && len(c.Kwargs) == 0 {
		if n, ok := c.Args[0].(int); ok {
			var last any
			for range n {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				v, err := runChildren(ctx, c)
				if err != nil {
					return nil, err
				}
				last = v
			}
			return last, nil
		}
	}

	var last any
	for {
		// a loop without children never reaches a Perform boundary
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := holds(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			return last, nil
		}
		v, err := runChildren(ctx, c)
		if err != nil {
			return nil, err
		}
		last = v
	}
}

// When runs the children once if the condition holds.
func When(ctx context.Context, c action.Call) (any, error) {
	ok, err := holds(c)
	if err != nil || !ok {
		return nil, err
	}
	return runChildren(ctx, c)
}

// Each binds every item to $_ in turn and runs the children.
func Each(ctx context.Context, c action.Call) (any, error) {
	var items []any
	switch {
	case len(c.Args) == 1:
		if l, ok := asList(c.Args[0]); ok {
			items = l
		} else {
			items = c.Args
		}
	case len(c.Args) > 1:
		items = c.Args
	case c.Kwargs != nil:
		items = []any{c.Kwargs}
	}

	var last any
	for _, item := range items {
		c.Executor.SetVariable(ItemVar, item)
		v, err := runChildren(ctx, c)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// holds evaluates the call's condition against the current variables. The
// arguments are re-resolved from the node on every call, so loops observe
// variables changed by earlier iterations.
func holds(c action.Call) (bool, error) {
	args, kwargs := c.Executor.EvalArgs(c.Playbook.Args)
	vars := c.Executor.Variables()
	switch {
	case len(kwargs) > 0:
		cond := rawCondition(c.Playbook)
		if cond == nil {
			cond = kwargs
		}
		return eval.Condition(cond, vars)
	case len(args) > 0:
		return eval.Condition(rawOperands(c.Playbook, args), vars)
	}
	return true, nil
}

// rawCondition returns the unresolved named args: operator operands must
// be resolved by the condition evaluator, not beforehand, or a string that
// happens to resolve to "$x" would be looked up twice.
func rawCondition(pb *schema.Playbook) map[string]any {
	switch pb.Args.Kind {
	case schema.ArgsNamed:
		return pb.Args.Named
	case schema.ArgsSingle:
		if m, ok := pb.Args.Single.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// rawOperands returns positional conditions. Mappings stay unresolved for
// the operator evaluator; anything else is already resolved.
func rawOperands(pb *schema.Playbook, resolved []any) []any {
	if pb.Args.Kind != schema.ArgsPositional || len(pb.Args.Positional) != len(resolved) {
		return resolved
	}
	out := make([]any, len(resolved))
	for i, raw := range pb.Args.Positional {
		if m, ok := raw.(map[string]any); ok {
			out[i] = m
			continue
		}
		out[i] = resolved[i]
	}
	return out
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func runChildren(ctx context.Context, c action.Call) (any, error) {
	var last any
	for i, child := range c.Playbook.Actions {
		v, err := c.Executor.Perform(ctx, child)
		if err != nil {
			return nil, fmt.Errorf("%s.actions[%d]: %w", c.Playbook.Name, i, err)
		}
		last = v
	}
	return last, nil
}
