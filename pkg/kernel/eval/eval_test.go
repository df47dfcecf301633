package eval

import (
	"reflect"
	"testing"
)

type handle struct {
	Model string
	inner string
}

func TestLookup_Path(t *testing.T) {
	vars := map[string]any{
		"$a":    map[string]any{"b": 42, "list": []any{"x", "y"}},
		"$h":    &handle{Model: "gpt-4"},
		"$null": nil,
	}
	tests := []struct {
		ref  string
		want any
		ok   bool
	}{
		{"$a.b", 42, true},
		{"$a.list.1", "y", true},
		{"$a.list.9", nil, false},
		{"$a.missing", nil, false},
		{"$h.model", "gpt-4", true},
		{"$h.inner", nil, false},
		{"$missing", nil, false},
		{"$null", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := Lookup(vars, tt.ref)
			if ok != tt.ok || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.ref, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestVars_RoundTrip(t *testing.T) {
	vars := map[string]any{"$a": map[string]any{"b": 42}}
	if got := Vars("$a.b", vars); got != 42 {
		t.Errorf("$a.b = %v, want 42", got)
	}
	if got := Vars("$missing", vars); got != "$missing" {
		t.Errorf("$missing = %v, want literal", got)
	}
	if got := Vars("$a.c", vars); got != "$a.c" {
		t.Errorf("$a.c = %v, want literal", got)
	}
}

func TestVars_Recursive(t *testing.T) {
	vars := map[string]any{"$k": "key", "$v": 1}
	in := map[string]any{
		"$k":    []any{"$v", "lit", nil, 2.5},
		"plain": map[string]any{"x": "$v"},
	}
	got := Vars(in, vars)
	want := map[string]any{
		"key":   []any{1, "lit", nil, 2.5},
		"plain": map[string]any{"x": 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v\nwant %#v", got, want)
	}
	// the input document is untouched
	if in["plain"].(map[string]any)["x"] != "$v" {
		t.Error("Vars mutated its input")
	}
}

func TestVars_NonStringKey(t *testing.T) {
	got := Vars(map[string]any{"$n": true}, map[string]any{"$n": 3})
	if _, ok := got.(map[string]any)["3"]; !ok {
		t.Errorf("got %v", got)
	}
}

func TestFormat(t *testing.T) {
	vars := map[string]any{
		"$name":    "world",
		"$user":    map[string]any{"id": 7},
		"__file__": "/tmp/p.yaml",
		"$list":    []any{1, 2},
	}
	tests := []struct {
		in, want string
	}{
		{"hello {$name}", "hello world"},
		{"id={$user.id}", "id=7"},
		{"{__file__}", "/tmp/p.yaml"},
		{"{$missing} stays", "{$missing} stays"},
		{"{name} needs the sigil", "{name} needs the sigil"},
		{"{{literal}}", "{literal}"},
		{"unbalanced { brace", "unbalanced { brace"},
		{`{"a": 1}`, `{"a": 1}`},
		{"{$list}", "[1,2]"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Format(tt.in, vars); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, false},
		{3, true},
		{0.0, false},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{int64(2), true},
		{&handle{}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.v); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
