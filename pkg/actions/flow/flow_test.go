package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type harness struct {
	exec  *engine.Executor
	calls int
	seen  []any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	r := action.NewRegistry()
	Register(r)
	r.RegisterFunc("tick", schema.ActionSpec{}, func(context.Context, action.Call) (any, error) {
		h.calls++
		return h.calls, nil
	})
	r.RegisterFunc("record", schema.ActionSpec{}, func(_ context.Context, c action.Call) (any, error) {
		v, _ := c.Executor.Lookup("$_")
		h.seen = append(h.seen, v)
		return v, nil
	})
	r.RegisterFunc("setvar", schema.ActionSpec{}, func(_ context.Context, c action.Call) (any, error) {
		name, _ := c.Playbook.Args.Positional[0].(string)
		c.Executor.SetVariable(name, c.Args[1])
		return c.Args[1], nil
	})
	r.RegisterFunc("playbook", schema.ActionSpec{}, func(ctx context.Context, c action.Call) (any, error) {
		return runChildren(ctx, c)
	})
	r.RegisterFunc("incr", schema.ActionSpec{}, func(_ context.Context, c action.Call) (any, error) {
		v, _ := c.Executor.Lookup("$n")
		n, _ := v.(int)
		c.Executor.SetVariable("$n", n+1)
		return n + 1, nil
	})
	h.exec = engine.New(engine.WithRegistry(r), engine.WithGlobal(action.NewRegistry()))
	return h
}

func (h *harness) run(t *testing.T, doc map[string]any) (any, error) {
	t.Helper()
	pb, err := schema.FromMap(doc)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return h.exec.Perform(context.Background(), pb)
}

func TestRepeat_Count(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7} {
		h := newHarness(t)
		got, err := h.run(t, map[string]any{
			"repeat": map[string]any{"args": n, "actions": []any{map[string]any{"tick": nil}}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if h.calls != n {
			t.Errorf("n=%d: children ran %d times", n, h.calls)
		}
		if n == 0 && got != nil {
			t.Errorf("zero iterations returned %v", got)
		}
		if n > 0 && got != n {
			t.Errorf("n=%d: last result %v", n, got)
		}
	}
}

func TestRepeat_CountFromVariable(t *testing.T) {
	h := newHarness(t)
	h.exec.SetVariable("times", 2)
	if _, err := h.run(t, map[string]any{
		"repeat": map[string]any{"args": "$times", "actions": []any{map[string]any{"tick": nil}}},
	}); err != nil {
		t.Fatal(err)
	}
	if h.calls != 2 {
		t.Errorf("calls = %d, want 2", h.calls)
	}
}

func TestRepeat_Condition(t *testing.T) {
	h := newHarness(t)
	h.exec.SetVariable("n", 0)
	got, err := h.run(t, map[string]any{
		"repeat": map[string]any{
			"args":    map[string]any{"lt": []any{"$n", 3}},
			"actions": []any{map[string]any{"incr": nil}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("last = %v, want 3", got)
	}
	if v, _ := h.exec.Variable("n"); v != 3 {
		t.Errorf("$n = %v, want 3", v)
	}
}

func TestRepeat_EmptyConditionLoopStopsOnDeadline(t *testing.T) {
	h := newHarness(t)
	pb, err := schema.FromMap(map[string]any{
		"repeat": map[string]any{"args": map[string]any{"eq": []any{1, 1}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.exec.Perform(ctx, pb)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, engine.ErrCancelled) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("repeat without children ignored the deadline")
	}
}

func TestRepeat_PositionalCondition(t *testing.T) {
	h := newHarness(t)
	h.exec.SetVariable("n", 0)
	_, err := h.run(t, map[string]any{
		"repeat": map[string]any{
			"args":    []any{map[string]any{"lt": []any{"$n", 2}}, true},
			"actions": []any{map[string]any{"incr": nil}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := h.exec.Variable("n"); v != 2 {
		t.Errorf("$n = %v, want 2", v)
	}
}

func TestWhen(t *testing.T) {
	tests := []struct {
		name  string
		cond  any
		calls int
	}{
		{"eq true", map[string]any{"eq": []any{"$x", 5}}, 1},
		{"eq false", map[string]any{"eq": []any{"$x", 6}}, 0},
		{"gt", map[string]any{"gt": []any{"$x", 1.5}}, 1},
		{"ne string", map[string]any{"ne": []any{"$s", "b"}}, 1},
		{"any nested", map[string]any{"any": []any{map[string]any{"lt": []any{"$x", 0}}, "$flag"}}, 1},
		{"all nested", map[string]any{"all": []any{map[string]any{"le": []any{"$x", 5}}, "$missing"}}, 0},
		{"truthy", "$flag", 1},
		{"falsy", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.exec.SetVariable("x", 5)
			h.exec.SetVariable("s", "a")
			h.exec.SetVariable("flag", true)
			got, err := h.run(t, map[string]any{
				"when": map[string]any{"args": tt.cond, "actions": []any{map[string]any{"tick": nil}}},
			})
			if err != nil {
				t.Fatal(err)
			}
			if h.calls != tt.calls {
				t.Errorf("calls = %d, want %d", h.calls, tt.calls)
			}
			if tt.calls == 0 && got != nil {
				t.Errorf("false branch returned %v", got)
			}
		})
	}
}

func TestWhen_InvalidCondition(t *testing.T) {
	for name, cond := range map[string]any{
		"one operand":   map[string]any{"lt": []any{1}},
		"three operand": map[string]any{"eq": []any{1, 2, 3}},
		"unknown op":    map[string]any{"between": []any{1, 2}},
		"incomparable":  map[string]any{"lt": []any{"a", 1}},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.run(t, map[string]any{
				"when": map[string]any{"args": cond, "actions": []any{map[string]any{"tick": nil}}},
			})
			if !errors.Is(err, eval.ErrInvalidCondition) {
				t.Fatalf("err = %v, want ErrInvalidCondition", err)
			}
			if h.calls != 0 {
				t.Error("children must not run")
			}
		})
	}
}

func TestEach_Order(t *testing.T) {
	h := newHarness(t)
	got, err := h.run(t, map[string]any{
		"each": map[string]any{
			"args":    []any{[]any{1, 2, 3}},
			"actions": []any{map[string]any{"record": nil}, map[string]any{"tick": nil}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(h.seen, []any{1, 2, 3}) {
		t.Errorf("seen = %v", h.seen)
	}
	if h.calls != 3 || got != 3 {
		t.Errorf("calls = %d, last = %v", h.calls, got)
	}
}

func TestEach_Shapes(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want []any
	}{
		{"variable list", map[string]any{"each": map[string]any{"args": "$items", "actions": []any{map[string]any{"record": nil}}}}, []any{"a", "b"}},
		{"many positionals", map[string]any{"each": map[string]any{"args": []any{"x", "y"}, "actions": []any{map[string]any{"record": nil}}}}, []any{"x", "y"}},
		{"named", map[string]any{"each": map[string]any{"args": map[string]any{"k": 1}, "actions": []any{map[string]any{"record": nil}}}}, []any{map[string]any{"k": 1}}},
		{"single scalar", map[string]any{"each": map[string]any{"args": []any{"solo"}, "actions": []any{map[string]any{"record": nil}}}}, []any{"solo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.exec.SetVariable("items", []string{"a", "b"})
			if _, err := h.run(t, tt.doc); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(h.seen, tt.want) {
				t.Errorf("seen = %#v, want %#v", h.seen, tt.want)
			}
		})
	}
}

// The language has no arithmetic: a string that looks like an expression
// stays a string, and the loop condition then compares a string to an int.
func TestNoArithmetic(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, map[string]any{"playbook": map[string]any{"actions": []any{
		map[string]any{"setvar": map[string]any{"args": []any{"$n", 0}}},
		map[string]any{"repeat": map[string]any{
			"args": map[string]any{"lt": []any{"$n", 3}},
			"actions": []any{
				map[string]any{"setvar": map[string]any{"args": []any{"$n", "$n+1-is-not-evaluated-arith"}}},
			},
		}},
	}}})
	if !errors.Is(err, eval.ErrInvalidCondition) {
		t.Fatalf("err = %v, want ErrInvalidCondition", err)
	}
	v, _ := h.exec.Variable("n")
	if v != "$n+1-is-not-evaluated-arith" {
		t.Errorf("$n = %#v, want the literal string", v)
	}
}

func TestChildFailureStopsLoop(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, map[string]any{
		"repeat": map[string]any{"args": 5, "actions": []any{
			map[string]any{"tick": nil},
			map[string]any{"missing.action": nil},
		}},
	})
	if !errors.Is(err, engine.ErrActionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if h.calls != 1 {
		t.Errorf("calls = %d, want 1", h.calls)
	}
}
