package templating

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// undefinedValue is the JavaScript-style "undefined": the result of a missing
// reference, distinct from an explicit nil (null).
type undefinedValue struct{}

var undefined any = undefinedValue{}

type exprNode interface {
	eval(*Scope) (any, error)
}

type literalNode struct{ v any }

func (n literalNode) eval(*Scope) (any, error) { return n.v, nil }

type pathNode struct{ path string }

func (n pathNode) eval(s *Scope) (any, error) {
	v, ok := s.Resolve(n.path)
	if !ok {
		return undefined, nil
	}
	return normalize(v), nil
}

type unaryNode struct {
	op string
	x  exprNode
}

func (n unaryNode) eval(s *Scope) (any, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(v), nil
	case "-":
		return -toNumber(v), nil
	case "typeof":
		return typeOf(v), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

type logicalNode struct {
	or   bool
	l, r exprNode
}

func (n logicalNode) eval(s *Scope) (any, error) {
	l, err := n.l.eval(s)
	if err != nil {
		return nil, err
	}
	if truthy(l) == n.or {
		return l, nil
	}
	return n.r.eval(s)
}

type binaryNode struct {
	op   string
	l, r exprNode
}

func (n binaryNode) eval(s *Scope) (any, error) {
	l, err := n.l.eval(s)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "===":
		return strictEqual(l, r), nil
	case "!==":
		return !strictEqual(l, r), nil
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "<", ">", "<=", ">=":
		return compare(n.op, l, r), nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

// normalize folds Go numeric types into float64 and typed nils into nil so
// comparisons behave the same regardless of how the data was built.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return v
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case *Map:
		if x == nil {
			return nil
		}
		return x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

func typeOf(v any) string {
	switch normalize(v).(type) {
	case undefinedValue:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	}
	return "object"
}

// toNumber follows JavaScript's Number() conversion.
func toNumber(v any) float64 {
	switch x := normalize(v).(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	}
	return math.NaN()
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, undefinedValue, bool, float64, string:
		return true
	}
	return false
}

func strictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		_, ok := b.(undefinedValue)
		return ok
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	if isPrimitive(b) {
		return false
	}
	return sameObject(a, b)
}

// sameObject compares objects by identity, as JavaScript does.
func sameObject(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Map:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	}
	return false
}

func looseEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	aNullish := a == nil || a == undefined
	bNullish := b == nil || b == undefined
	if aNullish || bNullish {
		return aNullish && bNullish
	}
	if !isPrimitive(a) || !isPrimitive(b) {
		return strictEqual(a, b)
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x == y
		}
	case bool:
		if y, ok := b.(bool); ok {
			return x == y
		}
	}
	return toNumber(a) == toNumber(b)
}

func compare(op string, a, b any) bool {
	a, b = normalize(a), normalize(b)
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			switch op {
			case "<":
				return x < y
			case ">":
				return x > y
			case "<=":
				return x <= y
			default:
				return x >= y
			}
		}
	}
	x, y := toNumber(a), toNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch op {
	case "<":
		return x < y
	case ">":
		return x > y
	case "<=":
		return x <= y
	default:
		return x >= y
	}
}
