package builtin

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func collectionActions() map[string]action.Action {
	return map[string]action.Action{
		"list.append": fn("list.append", schema.ActionSpec{
			Description: "Add an element to the end of the list.",
		}, listAppend),
		"list.get": fn("list.get", schema.ActionSpec{
			Description: "Get the element at an index of the list.",
		}, listGet),
		"list.clear": fn("list.clear", schema.ActionSpec{
			Description: "Clear the list.",
		}, listClear),
		"dict.set": fn("dict.set", schema.ActionSpec{
			Description: "Set a key-value pair in a dictionary.",
			Arguments: []schema.ArgSpec{
				{Name: "d", Type: "dict", Description: "The dictionary in which to set the key-value pair.", Required: true},
				{Name: "key", Type: "str", Description: "The key for the value to set in the dictionary.", Required: true},
				{Name: "value", Type: "any", Description: "The value to set for the given key in the dictionary.", Required: true},
			},
		}, dictSet),
		"dict.get": fn("dict.get", schema.ActionSpec{
			Description: "Get a value by key from a dictionary.",
			Arguments: []schema.ArgSpec{
				{Name: "d", Type: "dict", Description: "The dictionary from which to get the value.", Required: true},
				{Name: "key", Type: "str", Description: "The key for the value to retrieve from the dictionary.", Required: true},
			},
		}, dictGet),
		"dict.clear": fn("dict.clear", schema.ActionSpec{
			Description: "Clear the dict.",
		}, dictClear),
		"len": fn("len", schema.ActionSpec{
			Description: "Get the length.",
		}, length),
	}
}

// Lists are values in Go, so mutating list actions rebind the variable
// named by their first raw argument.

func listAppend(_ context.Context, c action.Call) (any, error) {
	if len(c.Args) != 2 {
		return nil, fmt.Errorf("list.append needs 2 args, like: [$list, $value]")
	}
	name, named := rawName(c, 0)
	var ls []any
	switch t := c.Args[0].(type) {
	case []any:
		ls = t
	case nil:
	case string:
		if !named || t != name {
			return nil, fmt.Errorf("list.append: args[0] is not a list")
		}
	default:
		return nil, fmt.Errorf("list.append: args[0] is not a list")
	}
	ls = append(ls, c.Args[1])
	if named {
		c.Executor.SetVariable(name, ls)
	}
	return ls, nil
}

func listGet(_ context.Context, c action.Call) (any, error) {
	v, _ := c.Arg(0, "ls")
	ls, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("list.get: invalid list")
	}
	iv, _ := c.Arg(1, "idx")
	idx, ok := iv.(int)
	if !ok {
		return nil, fmt.Errorf("list.get: invalid index %v", iv)
	}
	if idx < 0 {
		idx += len(ls)
	}
	if idx < 0 || idx >= len(ls) {
		return nil, fmt.Errorf("list.get: index %v out of range", iv)
	}
	return ls[idx], nil
}

func listClear(_ context.Context, c action.Call) (any, error) {
	v, _ := c.Arg(0, "ls")
	if _, ok := v.([]any); !ok {
		return nil, fmt.Errorf("list.clear: invalid list")
	}
	if name, ok := rawName(c, 0); ok {
		c.Executor.SetVariable(name, []any{})
	}
	return []any{}, nil
}

func dictSet(_ context.Context, c action.Call) (any, error) {
	d, _ := c.Arg(0, "d")
	key, hasKey := c.Arg(1, "key")
	value, hasValue := c.Arg(2, "value")
	if !hasKey || !hasValue {
		return nil, fmt.Errorf("dict.set needs 3 args, like: [$dict, key, value]")
	}

	m, ok := d.(map[string]any)
	if !ok {
		name, named := rawName(c, 0)
		if s, isStr := d.(string); !named || (d != nil && (!isStr || s != name)) {
			return nil, fmt.Errorf("dict.set: args[0] is not a dict")
		}
		m = map[string]any{}
		c.Executor.SetVariable(name, m)
	}
	m[fmt.Sprint(key)] = value
	return m, nil
}

func dictGet(_ context.Context, c action.Call) (any, error) {
	d, _ := c.Arg(0, "d")
	m, ok := d.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("dict.get: invalid dict")
	}
	key, _ := c.Arg(1, "key")
	return m[fmt.Sprint(key)], nil
}

func dictClear(_ context.Context, c action.Call) (any, error) {
	d, _ := c.Arg(0, "d")
	m, ok := d.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("dict.clear: invalid dict")
	}
	clear(m)
	return nil, nil
}

func length(_ context.Context, c action.Call) (any, error) {
	v, _ := c.Arg(0, "c")
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("len: invalid args: %v", v)
}
