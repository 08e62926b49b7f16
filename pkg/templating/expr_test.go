package templating

import (
	"errors"
	"testing"
)

func TestEvaluate(t *testing.T) {
	scope := NewScope(map[string]any{
		"n":     5,
		"zero":  0,
		"s":     "abc",
		"empty": "",
		"ok":    true,
		"none":  nil,
		"items": []any{},
		"user":  map[string]any{"name": "Ada", "age": 36},
	})
	tests := []struct {
		expr string
		want bool
	}{
		{`n`, true},
		{`zero`, false},
		{`empty`, false},
		{`"0"`, true},
		{`items`, true},
		{`none`, false},
		{`missing`, false},
		{`missing.deeper.still`, false},
		{`!missing`, true},
		{`1 == "1"`, true},
		{`1 === "1"`, false},
		{`n === 5`, true},
		{`n !== 5`, false},
		{`null == undefined`, true},
		{`null === undefined`, false},
		{`none == missing`, true},
		{`none == 0`, false},
		{`true == 1`, true},
		{`"" == 0`, true},
		{`typeof missing === "undefined"`, true},
		{`typeof n === 'number'`, true},
		{`typeof s == "string"`, true},
		{`typeof ok === "boolean"`, true},
		{`typeof user === "object"`, true},
		{`typeof none === "object"`, true},
		{`"b" > "a"`, true},
		{`"10" < "9"`, true},
		{`"10" < 9`, false},
		{`s < 1`, false},
		{`s >= 1`, false},
		{`n >= 5 && n <= 5`, true},
		{`-n < 0`, true},
		{`zero || n > 4`, true},
		{`ok && zero`, false},
		{`zero && missing.x === 1 || ok`, true},
		{`!(n > 3)`, false},
		{`!(n > 3) || user.name === "Ada"`, true},
		{`${user.age} > 30`, true},
		{`${ user.name } != "Bob"`, true},
		{`user.age >= 1e1`, true},
		{`.5 < 1`, true},
		{`s === 'a\'bc'`, false},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr, scope)
		if err != nil {
			t.Errorf("Evaluate(%q) returned unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q): expected %v, got %v", tt.expr, tt.want, got)
		}
	}
}

func TestEvaluate_Errors(t *testing.T) {
	bad := []string{
		``,
		`   `,
		`a ===`,
		`(a`,
		`a)`,
		`a b`,
		`"unterminated`,
		`${user`,
		`${a..b}`,
		`1abc`,
		`a + b`,
		`a = 1`,
		`process.exit()`,
		`typeof`,
		`a.`,
	}
	scope := NewScope(nil)
	for _, src := range bad {
		got, err := Evaluate(src, scope)
		if err == nil {
			t.Errorf("Evaluate(%q) expected an error, got nil", src)
			continue
		}
		if got {
			t.Errorf("Evaluate(%q) should yield false on error", src)
		}
		if !errors.Is(err, ErrExpressionEvaluation) {
			t.Errorf("Evaluate(%q) error should match ErrExpressionEvaluation, got %v", src, err)
		}
	}
}

func TestExpr_Eval(t *testing.T) {
	e, err := CompileExpr(`name || "anonymous"`)
	if err != nil {
		t.Fatalf("CompileExpr failed: %v", err)
	}
	if e.String() != `name || "anonymous"` {
		t.Errorf("String() should return the source, got %q", e.String())
	}
	v, err := e.Eval(NewScope(nil))
	if err != nil || v != "anonymous" {
		t.Errorf("expected 'anonymous', got %v (err %v)", v, err)
	}
	v, _ = e.Eval(NewScope(map[string]any{"name": "Ada"}))
	if v != "Ada" {
		t.Errorf("|| should return the first truthy operand, got %v", v)
	}

	e, _ = CompileExpr(`missing`)
	if v, _ := e.Eval(NewScope(nil)); v != nil {
		t.Errorf("an undefined result should be reported as nil, got %v", v)
	}
}

func TestEvaluate_SameObject(t *testing.T) {
	shared := map[string]any{"k": 1}
	other := map[string]any{"k": 1}
	scope := NewScope(map[string]any{"a": shared, "b": shared, "c": other})
	if ok, _ := Evaluate(`a === b`, scope); !ok {
		t.Error("the same map should be strictly equal to itself")
	}
	if ok, _ := Evaluate(`a == c`, scope); ok {
		t.Error("distinct maps with equal contents should not be equal")
	}
}
