package templating

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// iterate calls fn for every element of a sequence or every entry of a
// mapping. Mapping entries are passed as a *Map with "key" and "value".
// *Map iterates in insertion order, other maps in sorted key order. Any other
// value iterates nothing.
func iterate(v any, fn func(i, count int, elem any) error) error {
	switch c := v.(type) {
	case []any:
		for i, e := range c {
			if err := fn(i, len(c), e); err != nil {
				return err
			}
		}
		return nil
	case *Map:
		keys := c.Keys()
		for i, k := range keys {
			val, _ := c.Get(k)
			if err := fn(i, len(keys), entry(k, val)); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if err := fn(i, len(keys), entry(k, c[k])); err != nil {
				return err
			}
		}
		return nil
	case string:
		return nil
	}

	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		for i := 0; i < n; i++ {
			if err := fn(i, n, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
		for i, k := range keys {
			if err := fn(i, len(keys), entry(k.String(), rv.MapIndex(k).Interface())); err != nil {
				return err
			}
		}
	}
	return nil
}

func entry(k string, v any) *Map {
	return NewMap("key", k, "value", v)
}

// stringify renders a resolved value the way a {{path}} placeholder shows it.
func stringify(v any) string {
	switch x := v.(type) {
	case nil, undefinedValue:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	case *Map:
		if x == nil {
			return ""
		}
		return toJSON(x)
	}

	n := normalize(v)
	if n == nil {
		return ""
	}
	if sv, ok := v.(fmt.Stringer); ok {
		if str, ok := callString(sv); ok {
			return str
		}
	}
	switch n := n.(type) {
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return formatNumber(n)
	case string:
		return n
	}

	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = stringify(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return toJSON(v)
}

// callString calls String, treating a panicking method as no string form.
func callString(sv fmt.Stringer) (str string, ok bool) {
	defer func() {
		if recover() != nil {
			str, ok = "", false
		}
	}()
	return sv.String(), true
}

// formatNumber mirrors JavaScript's number to string conversion closely
// enough for display: integers have no fraction and no exponent below 1e21.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toJSON(v any) (out string) {
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
