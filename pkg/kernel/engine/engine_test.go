package engine

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// testRegistry holds a few handlers independent of the builtin catalogue.
func testRegistry() *action.Registry {
	r := action.NewRegistry()
	r.RegisterFunc("echo", schema.ActionSpec{Description: "echo"}, func(_ context.Context, c action.Call) (any, error) {
		switch {
		case len(c.Args) == 1:
			return c.Args[0], nil
		case len(c.Args) > 1:
			return c.Args, nil
		case len(c.Kwargs) > 0:
			return c.Kwargs, nil
		}
		return nil, nil
	})
	r.RegisterFunc("fail", schema.ActionSpec{}, func(context.Context, action.Call) (any, error) {
		return nil, errBoom
	})
	r.RegisterFunc("seq", schema.ActionSpec{}, func(ctx context.Context, c action.Call) (any, error) {
		var last any
		for _, child := range c.Playbook.Actions {
			v, err := c.Executor.Perform(ctx, child)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	})
	return r
}

var errBoom = errors.New("boom")

func newTestExecutor(opts ...Option) *Executor {
	return New(append([]Option{WithRegistry(testRegistry()), WithGlobal(action.NewRegistry())}, opts...)...)
}

func node(t *testing.T, doc map[string]any) *schema.Playbook {
	t.Helper()
	pb, err := schema.FromMap(doc)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return pb
}

func TestPerform_BindsResult(t *testing.T) {
	e := newTestExecutor()
	got, err := e.Perform(context.Background(), node(t, map[string]any{
		"echo": map[string]any{"args": []any{"hi"}, "result": "$out"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Errorf("result = %v", got)
	}
	if v, _ := e.Variable("out"); v != "hi" {
		t.Errorf("$out = %v", v)
	}
}

func TestPerform_LocalShadowsGlobal(t *testing.T) {
	global := action.NewRegistry()
	global.RegisterFunc("echo", schema.ActionSpec{}, func(context.Context, action.Call) (any, error) {
		return "global", nil
	})
	global.RegisterFunc("only.global", schema.ActionSpec{}, func(context.Context, action.Call) (any, error) {
		return "global", nil
	})
	e := New(WithRegistry(testRegistry()), WithGlobal(global))

	got, err := e.Perform(context.Background(), node(t, map[string]any{"echo": []any{"local"}}))
	if err != nil || got != "local" {
		t.Errorf("echo = %v, %v; want local", got, err)
	}
	got, err = e.Perform(context.Background(), node(t, map[string]any{"only.global": nil}))
	if err != nil || got != "global" {
		t.Errorf("only.global = %v, %v", got, err)
	}
}

func TestPerform_ActionNotFound(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Perform(context.Background(), node(t, map[string]any{"nope": nil}))
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("err = %v, want ErrActionNotFound", err)
	}
}

func TestPerform_HandlerFailure(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Perform(context.Background(), node(t, map[string]any{
		"seq": map[string]any{"actions": []any{
			map[string]any{"echo": "a"},
			map[string]any{"fail": nil},
			map[string]any{"echo": map[string]any{"args": "never", "result": "$never"}},
		}},
	}))
	if !errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("err = %v, want ErrHandlerFailure", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("cause lost: %v", err)
	}
	var he *HandlerError
	if !errors.As(err, &he) || he.Action != "fail" {
		t.Errorf("HandlerError = %+v, want innermost action fail", he)
	}
	if _, ok := e.Variable("never"); ok {
		t.Error("steps after a failure must not run")
	}
}

func TestPerform_Cancelled(t *testing.T) {
	e := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Perform(ctx, node(t, map[string]any{"echo": "x"}))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestEvalArgs_Classification(t *testing.T) {
	e := newTestExecutor()
	e.SetVariable("list", []any{1, 2})
	e.SetVariable("map", map[string]any{"k": "v"})
	e.SetVariable("n", 7)

	tests := []struct {
		name   string
		args   schema.Args
		args0  []any
		kwargs map[string]any
	}{
		{"none", schema.Args{}, nil, nil},
		{"positional", schema.Positional("$n", "x"), []any{7, "x"}, nil},
		{"named", schema.Named(map[string]any{"a": "$n"}), nil, map[string]any{"a": 7}},
		{"single list", schema.Single("$list"), []any{1, 2}, nil},
		{"single map", schema.Single("$map"), nil, map[string]any{"k": "v"}},
		{"single scalar", schema.Single("$n"), []any{7}, nil},
		{"single miss", schema.Single("$missing"), []any{"$missing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, kwargs := e.EvalArgs(tt.args)
			if !reflect.DeepEqual(args, tt.args0) {
				t.Errorf("args = %#v, want %#v", args, tt.args0)
			}
			if !reflect.DeepEqual(kwargs, tt.kwargs) {
				t.Errorf("kwargs = %#v, want %#v", kwargs, tt.kwargs)
			}
		})
	}
}

func TestVariables_RoundTrip(t *testing.T) {
	e := newTestExecutor()
	e.SetVariable("$a", map[string]any{"b": 42})
	if got := e.EvalVars("$a.b"); got != 42 {
		t.Errorf("$a.b = %v, want 42", got)
	}
	if got := e.EvalVars("$missing"); got != "$missing" {
		t.Errorf("$missing = %v, want literal", got)
	}
	snap := e.Variables()
	snap["$a"] = nil
	if v, _ := e.Variable("a"); v == nil {
		t.Error("Variables must return a copy")
	}
}

func TestExtractVars(t *testing.T) {
	tests := []struct {
		name   string
		result any
		spec   any
		want   map[string]any
	}{
		{"whole", 5, "$x", map[string]any{"$x": 5}},
		{"list", []any{1, 2}, []any{"$a", "$b"}, map[string]any{"$a": 1, "$b": 2}},
		{"typed slice", []string{"p", "q"}, []any{"$a", "$b"}, map[string]any{"$a": "p", "$b": "q"}},
		{"list misaligned", []any{1}, []any{"$a", "$b"}, map[string]any{"$a": 1}},
		{"list skips literals", []any{1, 2}, []any{"a", "$b"}, map[string]any{"$b": 2}},
		{"map", map[string]any{"x": 1}, map[string]any{"$v": "x"}, map[string]any{"$v": 1}},
		{"map missing field", map[string]any{"x": 1}, map[string]any{"$v": "y"}, map[string]any{"$v": nil}},
		{"shape mismatch", "text", []any{"$a"}, map[string]any{}},
		{"padded ref", 5, " $x ", map[string]any{"$x": 5}},
		{"padded list refs", []any{1, 2}, []any{"$a ", " $b"}, map[string]any{"$a": 1, "$b": 2}},
		{"padded map ref", map[string]any{"x": 1}, map[string]any{" $v": "x"}, map[string]any{"$v": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(WithGlobal(action.NewRegistry()))
			e.ExtractVars(tt.result, tt.spec)
			got := e.Variables()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("vars = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractVarsStrict(t *testing.T) {
	e := New(WithGlobal(action.NewRegistry()))
	err := e.ExtractVarsStrict(map[string]any{"x": 1}, map[string]any{"$v": "y"})
	if !errors.Is(err, ErrMissingResultField) {
		t.Fatalf("err = %v, want ErrMissingResultField", err)
	}
	if err := e.ExtractVarsStrict(map[string]any{"x": 1}, map[string]any{"$v": "x"}); err != nil {
		t.Fatal(err)
	}
}

func TestResolvePath(t *testing.T) {
	e := newTestExecutor()
	rooted := &schema.Playbook{Name: "x", Metadata: map[string]any{schema.MetaRoot: "/srv/books"}}
	bare := &schema.Playbook{Name: "x"}

	if got := e.ResolvePath(bare, "a.yaml"); got != "a.yaml" {
		t.Errorf("no context: %q", got)
	}
	e.SetVariable(VarFile, "/home/u/main.yaml")
	if got := e.ResolvePath(bare, "a.yaml"); got != filepath.Join("/home/u", "a.yaml") {
		t.Errorf("from __file__: %q", got)
	}
	if got := e.ResolvePath(rooted, "a.yaml"); got != filepath.Join("/srv/books", "a.yaml") {
		t.Errorf("root wins: %q", got)
	}
	if got := e.ResolvePath(rooted, "/abs/a.yaml"); got != "/abs/a.yaml" {
		t.Errorf("absolute: %q", got)
	}
}

func TestExecute_Seeding(t *testing.T) {
	t.Setenv("PLAYBOOK_TEST_SEED", "env")
	t.Setenv("PLAYBOOK_TEST_OVERRIDE", "env")
	pb := node(t, map[string]any{"echo": []any{"$PLAYBOOK_TEST_SEED", "$PLAYBOOK_TEST_OVERRIDE", "$__file__"}})

	got, err := Execute(context.Background(), pb, "/tmp/main.yaml", map[string]any{"PLAYBOOK_TEST_OVERRIDE": "kwarg"},
		WithRegistry(testRegistry()), WithGlobal(action.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	want := []any{"env", "kwarg", "/tmp/main.yaml"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExecuteFile(t *testing.T) {
	got, err := ExecuteFile(context.Background(), filepath.Join("testdata", "echo.yaml"), map[string]any{"who": "world"},
		WithRegistry(testRegistry()), WithGlobal(action.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello world" {
		t.Errorf("got %v", got)
	}
}

type recorder struct {
	starts []string
	ends   []string
	depths []int
}

func (r *recorder) ActionStart(pb *schema.Playbook, depth int) {
	r.starts = append(r.starts, pb.Name)
	r.depths = append(r.depths, depth)
}

func (r *recorder) ActionEnd(pb *schema.Playbook, _ int, _ any, err error, _ time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.ends = append(r.ends, pb.Name+":"+status)
}

func TestObserver(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(WithObserver(rec))
	_, _ = e.Perform(context.Background(), node(t, map[string]any{
		"seq": map[string]any{"actions": []any{
			map[string]any{"echo": "a"},
			map[string]any{"fail": nil},
		}},
	}))
	if want := []string{"seq", "echo", "fail"}; !reflect.DeepEqual(rec.starts, want) {
		t.Errorf("starts = %v, want %v", rec.starts, want)
	}
	if want := []int{0, 1, 1}; !reflect.DeepEqual(rec.depths, want) {
		t.Errorf("depths = %v, want %v", rec.depths, want)
	}
	if want := []string{"echo:ok", "fail:error", "seq:error"}; !reflect.DeepEqual(rec.ends, want) {
		t.Errorf("ends = %v, want %v", rec.ends, want)
	}
}

func TestChain(t *testing.T) {
	err := &HandlerError{Action: "x", Err: errBoom}
	chain := Chain(err)
	if len(chain) != 2 || chain[1] != errBoom {
		t.Errorf("chain = %v", chain)
	}
}
