// Package schema defines the playbook document model: the step tree, the
// shape-polymorphic argument union and the action specification.
package schema

import (
	"errors"
	"fmt"
	"sort"
)

// Reserved body keys of a playbook node.
const (
	KeyName        = "name"
	KeyDescription = "description"
	KeyArgs        = "args"
	KeyActions     = "actions"
	KeyResult      = "result"
	KeySpec        = "spec"
)

// MetaRoot is the metadata key holding the directory relative file
// references resolve against.
const MetaRoot = "__root__"

// ErrMalformed is returned for structural violations of a playbook document.
var ErrMalformed = errors.New("malformed playbook")

// ---------------------------------------------------------------------------
// Args
// ---------------------------------------------------------------------------

// ArgsKind tags the variant held by Args.
type ArgsKind int

const (
	ArgsNone ArgsKind = iota
	ArgsPositional
	ArgsNamed
	ArgsSingle
)

func (k ArgsKind) String() string {
	switch k {
	case ArgsPositional:
		return "positional"
	case ArgsNamed:
		return "named"
	case ArgsSingle:
		return "single"
	default:
		return "none"
	}
}

// Args is the unevaluated argument spec of a node. Exactly one of the
// variant fields is meaningful, selected by Kind.
type Args struct {
	Kind       ArgsKind
	Positional []any
	Named      map[string]any
	Single     any
}

// Positional builds a positional argument spec.
func Positional(values ...any) Args {
	return Args{Kind: ArgsPositional, Positional: values}
}

// Named builds a named argument spec.
func Named(values map[string]any) Args {
	return Args{Kind: ArgsNamed, Named: values}
}

// Single builds a single-value argument spec.
func Single(v any) Args {
	return Args{Kind: ArgsSingle, Single: v}
}

// ArgsOf classifies a raw document value by shape.
func ArgsOf(v any) Args {
	switch t := v.(type) {
	case nil:
		return Args{}
	case []any:
		return Positional(t...)
	case map[string]any:
		return Named(t)
	default:
		return Single(t)
	}
}

// IsZero reports whether no arguments were given.
func (a Args) IsZero() bool { return a.Kind == ArgsNone }

// Value returns the raw document form of the args.
func (a Args) Value() any {
	switch a.Kind {
	case ArgsPositional:
		return a.Positional
	case ArgsNamed:
		return a.Named
	case ArgsSingle:
		return a.Single
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Playbook
// ---------------------------------------------------------------------------

// Playbook is one node of the step tree. The root of a document is a
// Playbook too; its Name is the action it dispatches to.
type Playbook struct {
	Name        string
	Description string
	Args        Args
	Actions     []*Playbook
	Result      any
	Spec        *ActionSpec
	Metadata    map[string]any
}

// Root returns the directory recorded in metadata at load time, if any.
func (p *Playbook) Root() (string, bool) {
	if p == nil || p.Metadata == nil {
		return "", false
	}
	root, ok := p.Metadata[MetaRoot].(string)
	return root, ok && root != ""
}

// Walk calls fn for p and every descendant, parents first.
func (p *Playbook) Walk(fn func(*Playbook)) {
	if p == nil {
		return
	}
	fn(p)
	for _, child := range p.Actions {
		child.Walk(fn)
	}
}

// FromMap parses a playbook node. Two forms are accepted: a single-key
// mapping {name: body}, or an extended mapping carrying "name" explicitly.
func FromMap(d map[string]any) (*Playbook, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	var name any
	var body any
	if len(d) == 1 {
		for k, v := range d {
			name, body = k, v
		}
	} else {
		name = d[KeyName]
		body = d
	}
	nameStr, ok := name.(string)
	if !ok || nameStr == "" {
		return nil, fmt.Errorf("%w: invalid name: %v", ErrMalformed, name)
	}

	pb := &Playbook{Name: nameStr, Metadata: map[string]any{}}

	switch b := body.(type) {
	case map[string]any:
		if err := parseBody(pb, b); err != nil {
			return nil, err
		}
	case []any:
		pb.Args = Positional(b...)
	case nil:
		// name only
	default:
		pb.Args = Positional(b)
	}
	return pb, nil
}

func parseBody(pb *Playbook, b map[string]any) error {
	if d, ok := b[KeyDescription]; ok && d != nil {
		pb.Description = fmt.Sprint(d)
	}
	pb.Args = ArgsOf(b[KeyArgs])
	pb.Result = b[KeyResult]

	if raw, ok := b[KeyActions]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: %s: actions must be a list, got %T", ErrMalformed, pb.Name, raw)
		}
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s.actions[%d]: expected mapping, got %T", ErrMalformed, pb.Name, i, item)
			}
			child, err := FromMap(m)
			if err != nil {
				return fmt.Errorf("%s.actions[%d]: %w", pb.Name, i, err)
			}
			pb.Actions = append(pb.Actions, child)
		}
	}

	if raw, ok := b[KeySpec]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s: spec must be a mapping, got %T", ErrMalformed, pb.Name, raw)
		}
		spec, err := ActionSpecFromMap(m)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, pb.Name, err)
		}
		pb.Spec = spec
	}
	return nil
}

// ToMap renders the node in single-key form.
func (p *Playbook) ToMap() map[string]any {
	body := map[string]any{}
	if p.Description != "" {
		body[KeyDescription] = p.Description
	}
	if !p.Args.IsZero() {
		body[KeyArgs] = p.Args.Value()
	}
	if len(p.Actions) > 0 {
		children := make([]any, 0, len(p.Actions))
		for _, c := range p.Actions {
			children = append(children, c.ToMap())
		}
		body[KeyActions] = children
	}
	if p.Result != nil {
		body[KeyResult] = p.Result
	}
	if p.Spec != nil {
		body[KeySpec] = p.Spec.ToMap()
	}
	return map[string]any{p.Name: body}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
