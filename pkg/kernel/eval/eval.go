// Package eval implements variable resolution for playbook values: $path
// references, safe {key} templates, and the condition sub-language used by
// the control-flow actions.
package eval

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Sigil marks a string as a variable reference.
const Sigil = "$"

// IsRef reports whether s is a variable reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, Sigil)
}

// Lookup resolves a reference such as "$a.b.c" against vars. The first
// segment names the variable (with its sigil); the remaining segments walk
// mapping keys, list indexes or struct fields. A miss at any point, or a
// nil value, reports false.
func Lookup(vars map[string]any, ref string) (any, bool) {
	segs := strings.Split(ref, ".")
	v, ok := vars[segs[0]]
	if !ok || v == nil {
		return nil, false
	}
	for _, seg := range segs[1:] {
		v, ok = field(v, seg)
		if !ok || v == nil {
			return nil, false
		}
	}
	return v, true
}

// field returns the member of v named seg.
func field(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		e, ok := t[seg]
		return e, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		e := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !e.IsValid() {
			return nil, false
		}
		return e.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, seg) })
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return f.Interface(), true
	}
	return nil, false
}

// Vars resolves every reference and template in v against vars:
//   - a string starting with $ is looked up; on a miss the literal is kept
//   - any other string is formatted as a safe template (see Format)
//   - lists and mappings are resolved element-wise, mapping keys included
//
// New containers are returned; v itself is never modified.
func Vars(v any, vars map[string]any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if IsRef(t) {
			if resolved, ok := Lookup(vars, t); ok {
				return resolved
			}
			return t
		}
		return Format(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Vars(e, vars)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key := Vars(k, vars)
			ks, ok := key.(string)
			if !ok {
				ks = Stringify(key)
			}
			out[ks] = Vars(e, vars)
		}
		return out
	default:
		return v
	}
}

// Format substitutes {key} placeholders in s. A key starting with $ is a
// reference resolved through Lookup; any other key must name a variable
// verbatim. Unresolved placeholders are left as written and {{ / }} stand
// for literal braces.
func Format(s string, vars map[string]any) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexAny(s[i+1:], "{}")
			if end < 0 || s[i+1+end] != '}' {
				b.WriteByte(c)
				i++
				continue
			}
			key := s[i+1 : i+1+end]
			if v, ok := formatKey(key, vars); ok {
				b.WriteString(Stringify(v))
			} else {
				b.WriteString(s[i : i+end+2])
			}
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func formatKey(key string, vars map[string]any) (any, bool) {
	if key == "" {
		return nil, false
	}
	if IsRef(key) {
		return Lookup(vars, key)
	}
	v, ok := vars[key]
	return v, ok && v != nil
}

// Stringify renders a value for interpolation into text. Scalars use their
// natural form; containers are encoded as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []any, map[string]any:
		data, err := json.Marshal(t)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

// Truthy reports the truth value of v: nil, false, zero numbers and empty
// strings or containers are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	}
	return true
}
