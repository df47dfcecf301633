// Package engine implements the playbook interpreter: a re-entrant executor
// that owns one variable store, dispatches nodes to registered actions and
// binds their results back into variables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Reserved variables.
const (
	VarFile = "$__file__"
	VarItem = "$_"
)

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry sets the instance-scoped registry consulted before the
// global one.
func WithRegistry(r *action.Registry) Option {
	return func(e *Executor) { e.local = r }
}

// WithGlobal replaces the global registry (action.Global by default).
func WithGlobal(r *action.Registry) Option {
	return func(e *Executor) { e.global = r }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver adds an observer notified around every dispatch.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// Executor interprets playbooks. It is owned by one goroutine at a time;
// nested control-flow actions re-enter it on the same stack.
type Executor struct {
	vars      map[string]any
	local     *action.Registry
	global    *action.Registry
	logger    *slog.Logger
	observers []Observer
	depth     int
}

var _ action.Executor = (*Executor)(nil)

// New creates an executor with an empty variable store.
func New(opts ...Option) *Executor {
	e := &Executor{
		vars:   make(map[string]any),
		local:  action.NewRegistry(),
		global: action.Global(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Register adds actions to the executor's local registry.
func (e *Executor) Register(actions map[string]action.Action) {
	e.local.Register(actions)
}

// Resolve finds the action a node dispatches to, local registry first.
func (e *Executor) Resolve(name string) (action.Action, error) {
	if a, ok := e.local.Get(name); ok {
		return a, nil
	}
	if e.global != nil {
		if a, ok := e.global.Get(name); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
}

// Perform dispatches pb to its action, binds the result per pb.Result and
// returns the raw result. Handler errors propagate wrapped in HandlerError.
func (e *Executor) Perform(ctx context.Context, pb *schema.Playbook) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCancelled, pb.Name, err)
	}
	a, err := e.Resolve(pb.Name)
	if err != nil {
		return nil, err
	}
	args, kwargs := e.EvalArgs(pb.Args)

	e.logger.Debug("perform", "action", pb.Name, "args", len(args), "kwargs", len(kwargs), "depth", e.depth)
	for _, o := range e.observers {
		o.ActionStart(pb, e.depth)
	}
	start := time.Now()

	e.depth++
	result, err := a.Perform(ctx, action.Call{
		Args:     args,
		Kwargs:   kwargs,
		Executor: e,
		Playbook: pb,
	})
	e.depth--

	if err != nil {
		// errors from nested steps already name the innermost action
		var he *HandlerError
		if !errors.As(err, &he) {
			err = &HandlerError{Action: pb.Name, Err: err}
		}
	}
	for _, o := range e.observers {
		o.ActionEnd(pb, e.depth, result, err, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	e.ExtractVars(result, pb.Result)
	return result, nil
}

// EvalVars resolves references and templates in v against the store.
func (e *Executor) EvalVars(v any) any {
	return eval.Vars(v, e.vars)
}

// EvalArgs resolves a node's args and classifies the result by shape: a
// list binds positionally, a mapping by name, anything else becomes the
// only positional argument.
func (e *Executor) EvalArgs(args schema.Args) ([]any, map[string]any) {
	switch args.Kind {
	case schema.ArgsNone:
		return nil, nil
	case schema.ArgsPositional:
		out := make([]any, len(args.Positional))
		for i, v := range args.Positional {
			out[i] = e.EvalVars(v)
		}
		return out, nil
	case schema.ArgsNamed:
		out, _ := e.EvalVars(args.Named).(map[string]any)
		return nil, out
	}

	switch t := e.EvalVars(args.Single).(type) {
	case nil:
		return []any{nil}, nil
	case []any:
		return t, nil
	case map[string]any:
		return nil, t
	default:
		return []any{t}, nil
	}
}

// Lookup resolves a $reference against the store.
func (e *Executor) Lookup(ref string) (any, bool) {
	return eval.Lookup(e.vars, ref)
}

// SetVariable binds name to v. The $ sigil is added when missing.
func (e *Executor) SetVariable(name string, v any) {
	e.vars[varName(name)] = v
}

// Variable returns the value bound to name.
func (e *Executor) Variable(name string) (any, bool) {
	v, ok := e.vars[varName(name)]
	return v, ok
}

// Variables returns a copy of the store.
func (e *Executor) Variables() map[string]any {
	return maps.Clone(e.vars)
}

func varName(name string) string {
	return eval.Sigil + strings.TrimPrefix(name, eval.Sigil)
}

// ExtractVars binds result into variables per spec. Misaligned indexes and
// missing fields never fail: the former are skipped, the latter bind nil.
func (e *Executor) ExtractVars(result, spec any) {
	_ = e.extract(result, spec, false)
}

// ExtractVarsStrict is ExtractVars failing with ErrMissingResultField when a
// mapping spec names a field the result lacks.
func (e *Executor) ExtractVarsStrict(result, spec any) error {
	return e.extract(result, spec, true)
}

func (e *Executor) extract(result, spec any, strict bool) error {
	switch s := spec.(type) {
	case nil:
		return nil
	case string:
		if ref := strings.TrimSpace(s); eval.IsRef(ref) {
			e.vars[ref] = result
		}
		return nil
	case []any:
		items, ok := asList(result)
		if !ok {
			return nil
		}
		for i, name := range s {
			ref, ok := name.(string)
			ref = strings.TrimSpace(ref)
			if !ok || !eval.IsRef(ref) || i >= len(items) {
				continue
			}
			e.vars[ref] = items[i]
		}
		return nil
	case map[string]any:
		fields, ok := asMap(result)
		if !ok {
			return nil
		}
		for name, field := range s {
			name = strings.TrimSpace(name)
			if !eval.IsRef(name) {
				continue
			}
			key := fmt.Sprint(field)
			v, found := fields[key]
			if !found && strict {
				return fmt.Errorf("%w: %s", ErrMissingResultField, key)
			}
			e.vars[name] = v
		}
	}
	return nil
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

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// ResolvePath resolves a file reference made from pb. The node's __root__
// wins over the directory of the executing file.
func (e *Executor) ResolvePath(pb *schema.Playbook, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if root, ok := pb.Root(); ok {
		return filepath.Join(root, p)
	}
	if file, ok := e.vars[VarFile].(string); ok && file != "" {
		return filepath.Join(filepath.Dir(file), p)
	}
	return p
}
