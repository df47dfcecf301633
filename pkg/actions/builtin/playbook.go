package builtin

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func playbookActions() map[string]action.Action {
	return map[string]action.Action{
		"playbook": fn("playbook", schema.ActionSpec{
			Description: "Executes a series of actions defined within a playbook.",
		}, runPlaybook),
		"setvar": fn("setvar", schema.ActionSpec{
			Description: "Sets a variable to a specified value. Usage: setvar: [variable_name, value]",
			Arguments: []schema.ArgSpec{
				{Name: "name", Type: "string", Description: "The name of the variable to set.", Required: true},
				{Name: "value", Type: "any", Description: "The value to assign to the variable.", Required: true},
			},
		}, setVar),
	}
}

// runPlaybook loads the sub-playbooks named by its positional arguments,
// appends its own children and runs them in order. Named arguments become
// variables, except execute: false, which returns the steps as callable
// actions instead of running them.
func runPlaybook(ctx context.Context, c action.Call) (any, error) {
	execute := true
	for k, v := range c.Kwargs {
		if k == "execute" {
			execute = eval.Truthy(v)
			continue
		}
		c.Executor.SetVariable(k, v)
	}

	var steps []*schema.Playbook
	for _, a := range c.Args {
		p, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("invalid playbook path: %v", a)
		}
		pb, err := schema.LoadFile(c.Executor.ResolvePath(c.Playbook, p))
		if err != nil {
			return nil, err
		}
		steps = append(steps, pb)
	}
	steps = append(steps, c.Playbook.Actions...)

	if !execute {
		runs := make([]action.Action, len(steps))
		for i, pb := range steps {
			runs[i] = &PlaybookRun{Executor: c.Executor, Playbook: pb}
		}
		return runs, nil
	}

	var result any
	for _, pb := range steps {
		v, err := c.Executor.Perform(ctx, pb)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

// PlaybookRun is a step bound to the executor it was loaded by, exposed as
// an action. Its spec is the step's own spec, so sub-playbooks can be
// offered to a language model as tools.
type PlaybookRun struct {
	Executor action.Executor
	Playbook *schema.Playbook
}

// Spec implements action.Action.
func (r *PlaybookRun) Spec() schema.ActionSpec {
	if r.Playbook.Spec != nil {
		return *r.Playbook.Spec
	}
	return schema.ActionSpec{Name: r.Playbook.Name, Description: r.Playbook.Description}
}

// Perform binds the named arguments as variables and runs the step.
func (r *PlaybookRun) Perform(ctx context.Context, c action.Call) (any, error) {
	for k, v := range c.Kwargs {
		r.Executor.SetVariable(k, v)
	}
	return r.Executor.Perform(ctx, r.Playbook)
}

func setVar(_ context.Context, c action.Call) (any, error) {
	name, ok := rawName(c, 0)
	if !ok {
		v, found := c.Arg(0, "name")
		if !found {
			return nil, fmt.Errorf("setvar: missing variable name")
		}
		name = eval.Stringify(v)
	}
	if name == "" || name == eval.Sigil {
		return nil, fmt.Errorf("setvar: empty variable name")
	}
	value, _ := c.Arg(1, "value")
	c.Executor.SetVariable(name, value)
	return nil, nil
}
