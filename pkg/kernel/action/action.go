// Package action defines the contract every playbook step handler
// implements and the name-keyed registry they are dispatched from.
package action

import (
	"context"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Executor is the interpreter an action is invoked by. Control-flow actions
// re-enter it to run their child steps.
type Executor interface {
	// Perform dispatches a single node and binds its result.
	Perform(ctx context.Context, pb *schema.Playbook) (any, error)
	// EvalVars resolves $references and {templates} in v.
	EvalVars(v any) any
	// EvalArgs resolves and classifies a node's argument spec.
	EvalArgs(args schema.Args) ([]any, map[string]any)
	// Lookup resolves a $reference, reporting whether it was found.
	Lookup(ref string) (any, bool)
	// SetVariable binds name (including its $ sigil) to v.
	SetVariable(name string, v any)
	// Variables returns a snapshot of the variable store.
	Variables() map[string]any
	// ResolvePath resolves a relative file reference made from pb.
	ResolvePath(pb *schema.Playbook, path string) string
}

// Call carries one invocation of an action.
type Call struct {
	Args     []any
	Kwargs   map[string]any
	Executor Executor
	Playbook *schema.Playbook
}

// Action is a registered step handler.
type Action interface {
	Spec() schema.ActionSpec
	Perform(ctx context.Context, call Call) (any, error)
}

// HandlerFunc is the signature of a function-backed action.
type HandlerFunc func(ctx context.Context, call Call) (any, error)

// Func adapts a function and a spec to the Action contract.
type Func struct {
	spec schema.ActionSpec
	fn   HandlerFunc
}

// NewFunc wraps fn as an action described by spec.
func NewFunc(spec schema.ActionSpec, fn HandlerFunc) *Func {
	if spec.Name == "" {
		spec.Name = schema.Unnamed
	}
	return &Func{spec: spec, fn: fn}
}

// Spec implements Action.
func (f *Func) Spec() schema.ActionSpec { return f.spec }

// Perform implements Action.
func (f *Func) Perform(ctx context.Context, call Call) (any, error) {
	return f.fn(ctx, call)
}

// Arg returns the i-th positional argument, falling back to the named one.
// Most built-in actions accept either calling convention.
func (c Call) Arg(i int, name string) (any, bool) {
	if c.Kwargs != nil {
		if v, ok := c.Kwargs[name]; ok {
			return v, true
		}
	}
	if i >= 0 && i < len(c.Args) {
		return c.Args[i], true
	}
	return nil, false
}
