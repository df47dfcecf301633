package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Execute runs pb on a fresh Executor. The store is seeded with $__file__
// (when file is non-empty), then every environment variable as $NAME, then
// vars; later sources win.
func Execute(ctx context.Context, pb *schema.Playbook, file string, vars map[string]any, opts ...Option) (any, error) {
	e := New(opts...)
	e.Seed(file, vars)
	return e.Perform(ctx, pb)
}

// ExecuteFile loads path and executes it.
func ExecuteFile(ctx context.Context, path string, vars map[string]any, opts ...Option) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	pb, err := schema.LoadFile(abs)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, pb, abs, vars, opts...)
}

// Seed initializes the store the way Execute does.
func (e *Executor) Seed(file string, vars map[string]any) {
	if file != "" {
		e.vars[VarFile] = file
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		e.vars[varName(k)] = v
	}
	for k, v := range vars {
		e.vars[varName(k)] = v
	}
}
