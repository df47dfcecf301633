// Package lua loads action plugins written in Lua. A plugin file calls
// register once per action:
//
//	register{
//	  name = "text.upper",
//	  description = "Upper-cases a string.",
//	  arguments = {{name = "s", type = "string", required = true}},
//	  fn = function(args, kwargs) return string.upper(kwargs.s or args[1]) end,
//	}
//
// fn receives the positional arguments as a list and the named ones as a
// table. Whatever it returns becomes the action result; error() fails it.
package lua

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Plugin is one loaded Lua file. Its actions share a single interpreter,
// so calls into the same plugin are serialized.
type Plugin struct {
	path    string
	mu      sync.Mutex
	state   *lua.LState
	actions map[string]action.Action
}

// Load runs the script at path and registers every action it declares
// into r.
func Load(path string, r *action.Registry) (*Plugin, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("plugin path: %w", err)
	}
	p := &Plugin{
		path:    abs,
		state:   lua.NewState(),
		actions: map[string]action.Action{},
	}
	p.state.PreloadModule("os", osModuleLoader)

	var regErr error
	p.state.SetGlobal("register", p.state.NewFunction(func(L *lua.LState) int {
		if err := p.register(L.CheckTable(1)); err != nil && regErr == nil {
			regErr = err
		}
		return 0
	}))

	if err := p.state.DoFile(abs); err != nil {
		p.state.Close()
		return nil, fmt.Errorf("load plugin %s: %w", path, err)
	}
	if regErr != nil {
		p.state.Close()
		return nil, fmt.Errorf("load plugin %s: %w", path, regErr)
	}
	r.Register(p.actions)
	return p, nil
}

// Path returns the absolute path of the script.
func (p *Plugin) Path() string { return p.path }

// Actions returns the actions the script registered, keyed by name.
func (p *Plugin) Actions() map[string]action.Action { return p.actions }

// Close releases the interpreter.
func (p *Plugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Close()
}

func (p *Plugin) register(tbl *lua.LTable) error {
	fn, ok := tbl.RawGetString("fn").(*lua.LFunction)
	if !ok {
		return fmt.Errorf("register: fn must be a function")
	}
	decl, _ := fromLua(tbl).(map[string]any)
	delete(decl, "fn")
	if args, ok := decl["arguments"].(map[string]any); ok && len(args) == 0 {
		delete(decl, "arguments")
	}
	spec, err := schema.ActionSpecFromMap(decl)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if spec.Name == schema.Unnamed {
		return fmt.Errorf("register: name is required")
	}
	p.actions[spec.Name] = action.NewFunc(*spec, func(ctx context.Context, c action.Call) (any, error) {
		return p.call(ctx, spec.Name, fn, c)
	})
	return nil
}

func (p *Plugin) call(ctx context.Context, name string, fn *lua.LFunction, c action.Call) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	L := p.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	args := L.NewTable()
	for _, v := range c.Args {
		args.Append(toLua(L, v))
	}
	kwargs := L.NewTable()
	for k, v := range c.Kwargs {
		kwargs.RawSetString(k, toLua(L, v))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args, kwargs); err != nil {
		return nil, fmt.Errorf("lua %s: %w", name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// toLua converts a playbook value. Values with no Lua counterpart travel
// as userdata and come back unchanged.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []any:
		tbl := L.CreateTable(len(t), 0)
		for _, e := range t {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(t))
		for k, e := range t {
			tbl.RawSetString(k, toLua(L, e))
		}
		return tbl
	}
	ud := L.NewUserData()
	ud.Value = v
	return ud
}

// fromLua converts a Lua value. Tables with only the keys 1..n become
// lists, other tables mappings; integral numbers become int.
func fromLua(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int(f)
		}
		return f
	case *lua.LUserData:
		return t.Value
	case *lua.LTable:
		n := t.MaxN()
		count := 0
		t.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(t.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any, count)
		t.ForEach(func(k, e lua.LValue) {
			out[k.String()] = fromLua(e)
		})
		return out
	}
	return nil
}

// osModuleLoader provides a minimal os module with getenv and time.
func osModuleLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "getenv", L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	L.SetField(mod, "time", L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.Push(mod)
	return 1
}
