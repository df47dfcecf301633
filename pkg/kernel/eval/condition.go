package eval

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrInvalidCondition is returned for malformed condition expressions.
var ErrInvalidCondition = errors.New("invalid condition")

// Condition operators.
const (
	OpAll = "all"
	OpAny = "any"
	OpLt  = "lt"
	OpLe  = "le"
	OpEq  = "eq"
	OpNe  = "ne"
	OpGe  = "ge"
	OpGt  = "gt"
)

var comparisons = map[string]string{
	OpLt: "l < r",
	OpLe: "l <= r",
	OpEq: "l == r",
	OpNe: "l != r",
	OpGe: "l >= r",
	OpGt: "l > r",
}

var (
	compileOnce sync.Once
	programs    map[string]*vm.Program
	compileErr  error
)

func comparison(op string) (*vm.Program, error) {
	compileOnce.Do(func() {
		programs = make(map[string]*vm.Program, len(comparisons))
		for name, src := range comparisons {
			p, err := expr.Compile(src)
			if err != nil {
				compileErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			programs[name] = p
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return programs[op], nil
}

// IsOperator reports whether v is a condition expression, i.e. a mapping
// keyed by one of the known operators.
func IsOperator(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for k := range m {
		if k == OpAll || k == OpAny {
			return true
		}
		if _, ok := comparisons[k]; ok {
			return true
		}
	}
	return false
}

// Condition evaluates a condition against vars:
//   - a mapping is a single operator expression
//   - a list is true when every element is
//   - anything else is judged by Truthy
func Condition(v any, vars map[string]any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case map[string]any:
		return Operator(t, vars)
	case []any:
		for _, e := range t {
			ok, err := Condition(e, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return Truthy(v), nil
	}
}

// Operator evaluates a single-key operator mapping such as
// {lt: [$n, 3]} or {any: [{eq: [$a, 1]}, $flag]}.
func Operator(m map[string]any, vars map[string]any) (bool, error) {
	if len(m) != 1 {
		return false, fmt.Errorf("%w: expected a single operator, got %d keys", ErrInvalidCondition, len(m))
	}
	var op string
	var raw any
	for k, v := range m {
		op, raw = k, v
	}

	var operands []any
	switch t := raw.(type) {
	case nil:
	case []any:
		operands = t
	default:
		operands = []any{t}
	}
	// resolve operands without touching the document
	values := make([]any, len(operands))
	for i, o := range operands {
		if s, ok := o.(string); ok && IsRef(s) {
			values[i], _ = Lookup(vars, s)
			continue
		}
		values[i] = o
	}

	switch op {
	case OpAll, OpAny:
		for _, v := range values {
			var ok bool
			if IsOperator(v) {
				var err error
				if ok, err = Operator(v.(map[string]any), vars); err != nil {
					return false, err
				}
			} else {
				ok = Truthy(v)
			}
			if op == OpAny && ok {
				return true, nil
			}
			if op == OpAll && !ok {
				return false, nil
			}
		}
		return op == OpAll, nil
	}

	if _, known := comparisons[op]; !known {
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
	if len(values) != 2 {
		return false, fmt.Errorf("%w: %s requires 2 operands, got %d", ErrInvalidCondition, op, len(values))
	}
	return Compare(op, values[0], values[1])
}

// Compare applies a comparison operator to two values. Numbers compare
// across int and float; incomparable operands are an error.
func Compare(op string, l, r any) (bool, error) {
	p, err := comparison(op)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
	out, err := expr.Run(p, map[string]any{"l": l, "r": r})
	if err != nil {
		return false, fmt.Errorf("%w: %s(%v, %v): %v", ErrInvalidCondition, op, l, r, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T", ErrInvalidCondition, op, out)
	}
	return b, nil
}

// Expression evaluates an expr-lang expression over vars. Variables are
// addressed without their sigil ($count becomes count).
func Expression(src string, vars map[string]any) (any, error) {
	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[strings.TrimPrefix(k, Sigil)] = v
	}
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	return out, nil
}
