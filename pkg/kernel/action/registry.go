package action

import (
	"sort"
	"sync"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Registry is a name-keyed table of actions. Registration merges and the
// last write for a name wins; callers needing exclusivity check Get first.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

var global = NewRegistry()

// Global returns the process-wide registry. It is populated at startup
// (see builtin.Register) and may be extended by plugins.
func Global() *Registry { return global }

// Register merges actions into the registry.
func (r *Registry) Register(actions map[string]Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, a := range actions {
		r.actions[name] = a
	}
}

// Set registers a single action under name.
func (r *Registry) Set(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// RegisterFunc registers fn as an ad hoc action. The spec name is forced
// to name so listings and tool exports agree with the registry key.
func (r *Registry) RegisterFunc(name string, spec schema.ActionSpec, fn HandlerFunc) *Func {
	spec.Name = name
	f := NewFunc(spec, fn)
	r.Set(name, f)
	return f
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registered action, ordered by name.
func (r *Registry) List() []Action {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(names))
	for _, name := range names {
		if a, ok := r.actions[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Len reports the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// ToolIndex maps tool names (dots replaced by underscores) to actions.
func ToolIndex(actions []Action) map[string]Action {
	idx := make(map[string]Action, len(actions))
	for _, a := range actions {
		idx[a.Spec().ToolName()] = a
	}
	return idx
}
