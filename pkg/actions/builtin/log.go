package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func logActions(cfg *config) map[string]action.Action {
	logger := cfg.logger.With("logger", "Log")
	return map[string]action.Action{
		"log": fn("log", schema.ActionSpec{
			Description: "Logs a message to the terminal.",
		}, func(ctx context.Context, c action.Call) (any, error) {
			logger.InfoContext(ctx, message(c.Args, c.Kwargs))
			return nil, nil
		}),
		"echo": fn("echo", schema.ActionSpec{
			Description: "Echoes the input arguments back to the caller.",
		}, echo),
	}
}

// message joins positional args with ", " and appends the named ones.
func message(args []any, kwargs map[string]any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = eval.Stringify(a)
	}
	msg := strings.Join(parts, ", ")
	if len(kwargs) > 0 {
		keys := make([]string, 0, len(kwargs))
		for k := range kwargs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, len(keys))
		for i, k := range keys {
			kv[i] = fmt.Sprintf("%s: %s", k, eval.Stringify(kwargs[k]))
		}
		msg += "{" + strings.Join(kv, ", ") + "}"
	}
	return msg
}

func echo(_ context.Context, c action.Call) (any, error) {
	switch {
	case len(c.Args) == 1:
		return c.Args[0], nil
	case len(c.Args) > 1:
		return c.Args, nil
	case len(c.Kwargs) > 0:
		return c.Kwargs, nil
	}
	return nil, nil
}
