package action

import (
	"context"
	"testing"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func constant(v any) HandlerFunc {
	return func(ctx context.Context, call Call) (any, error) { return v, nil }
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Register(map[string]Action{
		"a": NewFunc(schema.ActionSpec{Name: "a"}, constant(1)),
		"b": NewFunc(schema.ActionSpec{Name: "b"}, constant(2)),
	})
	r.Register(map[string]Action{
		"a": NewFunc(schema.ActionSpec{Name: "a"}, constant(3)),
	})

	a, ok := r.Get("a")
	if !ok {
		t.Fatal("a not found")
	}
	got, _ := a.Perform(context.Background(), Call{})
	if got != 3 {
		t.Errorf("a = %v, want 3 (override)", got)
	}
	if _, ok := r.Get("b"); !ok {
		t.Error("b lost by merge")
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, want 2", r.Len())
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	if _, ok := NewRegistry().Get("nope"); ok {
		t.Error("expected not found")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"when", "each", "repeat"} {
		r.RegisterFunc(name, schema.ActionSpec{}, constant(name))
	}
	var names []string
	for _, a := range r.List() {
		names = append(names, a.Spec().Name)
	}
	want := []string{"each", "repeat", "when"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("list = %v, want %v", names, want)
		}
	}
}

func TestRegisterFunc_ForcesName(t *testing.T) {
	r := NewRegistry()
	f := r.RegisterFunc("list.clear", schema.ActionSpec{Name: "other", Description: "Clear the list."}, constant(nil))
	if f.Spec().Name != "list.clear" {
		t.Errorf("spec name = %q", f.Spec().Name)
	}
	if f.Spec().ToolName() != "list_clear" {
		t.Errorf("tool name = %q", f.Spec().ToolName())
	}
	// the registry key keeps its dots
	if _, ok := r.Get("list_clear"); ok {
		t.Error("registry must not be keyed by tool name")
	}
}

func TestFunc_ForwardsCall(t *testing.T) {
	pb := &schema.Playbook{Name: "x"}
	f := NewFunc(schema.ActionSpec{}, func(ctx context.Context, call Call) (any, error) {
		if call.Playbook != pb {
			t.Error("playbook not forwarded")
		}
		return call.Args[0], nil
	})
	if f.Spec().Name != schema.Unnamed {
		t.Errorf("name = %q", f.Spec().Name)
	}
	got, err := f.Perform(context.Background(), Call{Args: []any{"hi"}, Playbook: pb})
	if err != nil || got != "hi" {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestCall_Arg(t *testing.T) {
	c := Call{Args: []any{"p0"}, Kwargs: map[string]any{"name": "k"}}
	if v, _ := c.Arg(0, "name"); v != "k" {
		t.Errorf("named should win, got %v", v)
	}
	if v, _ := c.Arg(0, "other"); v != "p0" {
		t.Errorf("positional fallback, got %v", v)
	}
	if _, ok := c.Arg(1, "missing"); ok {
		t.Error("expected missing")
	}
}

func TestToolIndex(t *testing.T) {
	idx := ToolIndex([]Action{NewFunc(schema.ActionSpec{Name: "json.dumps"}, constant(nil))})
	if _, ok := idx["json_dumps"]; !ok {
		t.Errorf("index = %v", idx)
	}
}
