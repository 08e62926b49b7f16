package templating

import (
	"reflect"
	"strconv"
	"strings"
)

// Resolve walks data along a dot-separated path and returns the value found
// there. The boolean is false when the path is undefined: a segment is missing,
// an intermediate value cannot be descended into, or the path is malformed
// (empty, or containing an empty segment). Resolve never panics.
//
// Supported containers are map[string]any, *Map, *Scope, any other map keyed
// by strings, slices and arrays (numeric segments), and structs or pointers to
// structs (exported fields, matched case-insensitively). The pseudo-segment
// "length" yields the size of sequences, strings and mappings that do not
// carry a "length" key of their own.
func Resolve(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := data
	for {
		seg, rest, more := strings.Cut(path, ".")
		if seg == "" {
			return nil, false
		}
		v, ok := step(cur, seg)
		if !ok {
			if seg != "length" {
				return nil, false
			}
			if v, ok = length(cur); !ok {
				return nil, false
			}
		}
		if !more {
			return v, true
		}
		cur, path = v, rest
	}
}

// step descends one key or index into in.
func step(in any, seg string) (any, bool) {
	switch c := in.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case *Map:
		return c.Get(seg)
	case *Scope:
		return c.Lookup(seg)
	case []any:
		return index(len(c), seg, func(i int) any { return c[i] })
	case string:
		return nil, false
	}
	return stepReflect(reflect.ValueOf(in), seg)
}

// length implements the "length" pseudo-segment.
func length(in any) (any, bool) {
	switch c := in.(type) {
	case nil, *Scope:
		return nil, false
	case *Map:
		if c == nil {
			return nil, false
		}
		return c.Len(), true
	}
	rv := indirect(reflect.ValueOf(in))
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len(), true
	}
	return nil, false
}

func index(n int, seg string, at func(int) any) (any, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= n {
		return nil, false
	}
	return at(i), true
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func stepReflect(rv reflect.Value, seg string) (any, bool) {
	rv = indirect(rv)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if mv.IsValid() {
			return mv.Interface(), true
		}
	case reflect.Slice, reflect.Array:
		return index(rv.Len(), seg, func(i int) any { return rv.Index(i).Interface() })
	case reflect.Struct:
		sf, ok := rv.Type().FieldByNameFunc(func(n string) bool {
			return strings.EqualFold(n, seg)
		})
		if !ok || !sf.IsExported() {
			return nil, false
		}
		// A field promoted through a nil embedded pointer is undefined.
		fv, err := rv.FieldByIndexErr(sf.Index)
		if err != nil || !fv.CanInterface() {
			return nil, false
		}
		return fv.Interface(), true
	}
	return nil, false
}
