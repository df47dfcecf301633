package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Actions whose args are condition expressions.
var conditionActions = map[string]bool{"repeat": true, "when": true}

// Actions that are pointless without children.
var containerActions = map[string]bool{"repeat": true, "when": true, "each": true}

// validateDomain runs the hand-coded rules over the parsed tree.
func validateDomain(pb *schema.Playbook, actions Resolver) []*ValidationError {
	var errs []*ValidationError
	walk(pb, pb.Name, func(n *schema.Playbook, path string) {
		// D1: every action is registered
		if actions != nil {
			if _, ok := actions.Get(n.Name); !ok {
				errs = append(errs, errorf(PhaseDomain, path, "unknown action %q", n.Name))
			}
		}

		// D2: condition expressions are well formed
		if conditionActions[n.Name] {
			errs = append(errs, validateConditionArgs(n, path)...)
		}

		// D3: control flow without children does nothing
		if containerActions[n.Name] && len(n.Actions) == 0 {
			errs = append(errs, warningf(PhaseDomain, path, "%s has no child actions", n.Name))
		}

		// D4: result bindings must name variables
		errs = append(errs, validateResult(n.Result, path+".result")...)

		// D5: spec argument names are unique
		if n.Spec != nil {
			seen := map[string]bool{}
			for i, a := range n.Spec.Arguments {
				if seen[a.Name] {
					errs = append(errs, errorf(PhaseDomain, fmt.Sprintf("%s.spec.arguments[%d]", path, i), "duplicate argument %q", a.Name))
				}
				seen[a.Name] = true
			}
		}
	})
	return errs
}

func walk(n *schema.Playbook, path string, fn func(*schema.Playbook, string)) {
	fn(n, path)
	for i, c := range n.Actions {
		walk(c, fmt.Sprintf("%s.actions[%d].%s", path, i, c.Name), fn)
	}
}

func validateConditionArgs(n *schema.Playbook, path string) []*ValidationError {
	var operands []any
	switch n.Args.Kind {
	case schema.ArgsNone:
		return nil
	case schema.ArgsNamed:
		return checkCondition(n.Args.Named, path+".args")
	case schema.ArgsSingle:
		operands = []any{n.Args.Single}
	case schema.ArgsPositional:
		operands = n.Args.Positional
	}
	var errs []*ValidationError
	for i, op := range operands {
		if m, ok := op.(map[string]any); ok {
			errs = append(errs, checkCondition(m, fmt.Sprintf("%s.args[%d]", path, i))...)
		}
	}
	return errs
}

// checkCondition validates the shape of an operator mapping without
// evaluating it.
func checkCondition(m map[string]any, path string) []*ValidationError {
	if len(m) != 1 {
		return []*ValidationError{errorf(PhaseDomain, path, "condition must have exactly one operator, got %d keys", len(m))}
	}
	for op, raw := range m {
		operands, _ := raw.([]any)
		if raw != nil && operands == nil {
			operands = []any{raw}
		}
		switch op {
		case eval.OpAll, eval.OpAny:
			var errs []*ValidationError
			for i, o := range operands {
				if sub, ok := o.(map[string]any); ok {
					errs = append(errs, checkCondition(sub, fmt.Sprintf("%s.%s[%d]", path, op, i))...)
				}
			}
			return errs
		case eval.OpLt, eval.OpLe, eval.OpEq, eval.OpNe, eval.OpGe, eval.OpGt:
			if len(operands) != 2 {
				return []*ValidationError{errorf(PhaseDomain, path+"."+op, "%s requires 2 operands, got %d", op, len(operands))}
			}
		default:
			return []*ValidationError{errorf(PhaseDomain, path, "unknown condition operator %q", op)}
		}
	}
	return nil
}

func validateResult(spec any, path string) []*ValidationError {
	var names []string
	switch s := spec.(type) {
	case nil:
		return nil
	case string:
		names = []string{s}
	case []any:
		for _, e := range s {
			names = append(names, fmt.Sprint(e))
		}
	case map[string]any:
		for k := range s {
			names = append(names, k)
		}
	default:
		return []*ValidationError{warningf(PhaseDomain, path, "result of type %T binds nothing", spec)}
	}
	var errs []*ValidationError
	for _, name := range names {
		if !eval.IsRef(name) {
			errs = append(errs, warningf(PhaseDomain, path, "%q is not a variable reference and binds nothing", name))
		}
	}
	return errs
}

// validateReferences checks that literal sub-playbook paths of the
// playbook action exist. Paths built from variables are skipped.
func validateReferences(pb *schema.Playbook) []*ValidationError {
	var errs []*ValidationError
	walk(pb, pb.Name, func(n *schema.Playbook, path string) {
		if n.Name != "playbook" || n.Args.Kind != schema.ArgsPositional {
			return
		}
		root, _ := n.Root()
		for i, a := range n.Args.Positional {
			p, ok := a.(string)
			if !ok || eval.IsRef(p) || strings.ContainsAny(p, "{}") {
				continue
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			if _, err := os.Stat(p); err != nil {
				errs = append(errs, errorf(PhaseDomain, fmt.Sprintf("%s.args[%d]", path, i), "referenced playbook %q not found", a))
			}
		}
	})
	return errs
}

func absDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Dir(abs), nil
}
