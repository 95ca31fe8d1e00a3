package cluster

import (
	"reflect"
	"strings"
)

// Expr selects a value out of a snapshot. It is either a dotted path of
// protocol field names (player_state.is_playing) or an arbitrary pure
// function. Evaluation is total: lookups on absent fields yield "no value",
// they never panic.
type Expr struct {
	path []string
	fn   func(*Cluster) (any, bool)
}

// ByPath builds an expression from a dotted path of protocol field names.
func ByPath(path string) Expr {
	return Expr{path: strings.Split(path, ".")}
}

// ByFunc builds an expression from a pure evaluator. The second return
// value reports whether a value is present.
func ByFunc(fn func(*Cluster) (any, bool)) Expr {
	return Expr{fn: fn}
}

// Key identifies the expression for handler registration. Function
// expressions have no key and always get their own registration slot.
func (e Expr) Key() string {
	return strings.Join(e.path, ".")
}

// Eval resolves the expression against a snapshot. ok is false when any
// step of the path has no value, including a nil snapshot.
func (e Expr) Eval(c *Cluster) (value any, ok bool) {
	if e.fn != nil {
		if c == nil {
			return nil, false
		}
		return e.fn(c)
	}
	if c == nil || len(e.path) == 0 {
		return nil, false
	}
	return lookupPath(reflect.ValueOf(c), e.path)
}

// lookupPath walks struct fields (matched by json tag), maps and pointers.
func lookupPath(v reflect.Value, path []string) (any, bool) {
	for _, segment := range path {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
		}

		switch v.Kind() {
		case reflect.Struct:
			field, ok := fieldByTag(v, segment)
			if !ok {
				return nil, false
			}
			v = field
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return nil, false
			}
			entry := v.MapIndex(reflect.ValueOf(segment))
			if !entry.IsValid() {
				return nil, false
			}
			v = entry
		default:
			return nil, false
		}
	}

	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	return v.Interface(), true
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" {
			continue
		}
		if comma := strings.IndexByte(tag, ','); comma >= 0 {
			tag = tag[:comma]
		}
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
