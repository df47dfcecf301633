// Package builtin provides the standard action catalogue: variables,
// logging, collections, time, math, JSON, hashing, queues, files, shell
// and SQL databases.
package builtin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/ormasoftchile/playbook/pkg/actions/flow"
	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type config struct {
	logger *slog.Logger
	out    io.Writer
	in     io.ReadCloser
}

// Option configures the catalogue.
type Option func(*config)

// WithLogger sets the logger behind the log action.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithOutput sets where shell.print writes.
func WithOutput(w io.Writer) Option {
	return func(c *config) { c.out = w }
}

// WithInput sets where shell.prompt reads from.
func WithInput(r io.ReadCloser) Option {
	return func(c *config) { c.in = r }
}

// Register adds the whole catalogue, control flow included, to r.
func Register(r *action.Registry, opts ...Option) {
	r.Register(Actions(opts...))
}

// Actions builds the catalogue keyed by action name.
func Actions(opts ...Option) map[string]action.Action {
	cfg := &config{
		logger: slog.Default(),
		out:    os.Stdout,
		in:     os.Stdin,
	}
	for _, o := range opts {
		o(cfg)
	}

	actions := flow.Actions()
	for _, group := range []map[string]action.Action{
		playbookActions(),
		logActions(cfg),
		assertActions(),
		collectionActions(),
		timeActions(),
		mathActions(),
		jsonActions(),
		hashActions(),
		queueActions(),
		fileActions(),
		shellActions(cfg),
		dbActions(),
	} {
		for name, a := range group {
			actions[name] = a
		}
	}
	return actions
}

// fn builds a function-backed action whose spec name is name.
func fn(name string, spec schema.ActionSpec, h action.HandlerFunc) action.Action {
	spec.Name = name
	return action.NewFunc(spec, h)
}

// bind merges positional and named arguments into one mapping keyed by the
// spec's argument names, named arguments winning, and checks required ones.
func bind(c action.Call, spec schema.ActionSpec) (map[string]any, error) {
	out := make(map[string]any, len(spec.Arguments))
	for i, v := range c.Args {
		if i < len(spec.Arguments) {
			out[spec.Arguments[i].Name] = v
		}
	}
	for k, v := range c.Kwargs {
		out[k] = v
	}
	for _, a := range spec.Arguments {
		if _, ok := out[a.Name]; a.Required && !ok {
			return nil, fmt.Errorf("%s: missing required argument %q", spec.Name, a.Name)
		}
	}
	return out, nil
}

// decode binds a call's arguments into a typed struct. Input is weakly
// typed so YAML and CLI strings coerce to numbers and booleans.
func decode(c action.Call, spec schema.ActionSpec, out any) error {
	m, err := bind(c, spec)
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("%s: invalid arguments: %w", spec.Name, err)
	}
	return nil
}

// typed builds an action whose handler receives arguments decoded into T.
func typed[T any](name string, spec schema.ActionSpec, h func(ctx context.Context, c action.Call, args T) (any, error)) action.Action {
	spec.Name = name
	return action.NewFunc(spec, func(ctx context.Context, c action.Call) (any, error) {
		var args T
		if err := decode(c, spec, &args); err != nil {
			return nil, err
		}
		return h(ctx, c, args)
	})
}

// rawName returns the raw, unresolved text of the i-th positional argument
// when it is a $reference. Actions that bind variables by name use it.
func rawName(c action.Call, i int) (string, bool) {
	if c.Playbook == nil || c.Playbook.Args.Kind != schema.ArgsPositional || i >= len(c.Playbook.Args.Positional) {
		return "", false
	}
	s, ok := c.Playbook.Args.Positional[i].(string)
	if !ok || len(s) < 2 || s[0] != '$' {
		return "", false
	}
	return s, true
}
