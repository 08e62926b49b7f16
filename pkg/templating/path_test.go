package templating

import (
	"encoding/json"
	"testing"
	"time"
)

type pathAddress struct {
	City string
	zip  string
}

type pathUser struct {
	Name    string
	Address *pathAddress
	Scores  [3]int
}

type PathProfile struct {
	Bio string
}

type pathMember struct {
	*PathProfile
	Title string
}

func TestResolve(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name":    "Ada",
			"emails":  []any{"a@x", "b@x"},
			"profile": NewMap("title", "Countess", "length", "custom"),
		},
		"typed":  map[string]int{"one": 1},
		"struct": pathUser{Name: "Bob", Address: &pathAddress{City: "Paris", zip: "75"}, Scores: [3]int{1, 2, 3}},
		"nilptr": (*pathUser)(nil),
		"word":   "hello",
		"zero":   0,
		"null":   nil,
		"member": pathMember{Title: "Dr"},
		"memptr": &pathMember{},
		"full":   pathMember{PathProfile: &PathProfile{Bio: "hi"}},
	}
	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"user.name", "Ada", true},
		{"user.emails.1", "b@x", true},
		{"user.emails.2", nil, false},
		{"user.emails.-1", nil, false},
		{"user.emails.length", 2, true},
		{"user.profile.title", "Countess", true},
		{"user.profile.length", "custom", true},
		{"typed.one", 1, true},
		{"typed.length", 1, true},
		{"struct.name", "Bob", true},
		{"struct.Address.city", "Paris", true},
		{"struct.address.zip", nil, false},
		{"struct.scores.2", 3, true},
		{"nilptr.name", nil, false},
		{"word.length", 5, true},
		{"word.0", nil, false},
		{"zero", 0, true},
		{"null", nil, true},
		{"null.x", nil, false},
		{"user.name.first", nil, false},
		{"missing", nil, false},
		{"", nil, false},
		{"user..name", nil, false},
		{".user", nil, false},
		{"user.", nil, false},
		{"member.title", "Dr", true},
		{"member.bio", nil, false},
		{"member.PathProfile", (*PathProfile)(nil), true},
		{"memptr.bio", nil, false},
		{"full.bio", "hi", true},
	}
	for _, tt := range tests {
		got, ok := Resolve(data, tt.path)
		if ok != tt.wantOK {
			t.Errorf("Resolve(%q): expected ok=%v, got %v (value %v)", tt.path, tt.wantOK, ok, got)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("Resolve(%q): expected %v (%T), got %v (%T)", tt.path, tt.want, tt.want, got, got)
		}
	}
}

func TestResolve_NeverPanics(t *testing.T) {
	shapes := map[string]any{
		"nil embedded":     pathMember{},
		"nil embedded ptr": &pathMember{},
		"typed nil time":   (*time.Time)(nil),
		"nil map in map":   map[string]any{"m": (*Map)(nil)},
		"unexported field": pathAddress{City: "Oslo", zip: "0150"},
		"nil typed map":    map[string]string(nil),
		"int keyed map":    map[int]string{1: "one"},
		"func":             func() {},
		"chan":             make(chan int),
		"nil iface slice":  []any{nil, (*pathUser)(nil)},
	}
	paths := []string{"a", "bio", "zip", "m", "m.x", "m.length", "1", "0.name", "length", "profile.bio"}
	for name, data := range shapes {
		for _, path := range paths {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("Resolve(%s, %q) panicked: %v", name, path, r)
					}
				}()
				Resolve(map[string]any{"v": data}, "v."+path)
				Resolve(data, path)
			}()
		}
	}
}

func TestResolve_NonContainers(t *testing.T) {
	for _, data := range []any{nil, 42, "text", true, []string(nil)} {
		if _, ok := Resolve(data, "a.b"); ok {
			t.Errorf("Resolve on %T should not find a.b", data)
		}
	}
}

func TestScope_Overlay(t *testing.T) {
	root := NewScope(map[string]any{"x": "root", "y": "kept"})
	child := root.With(map[string]any{"x": "child"})

	if v, _ := child.Resolve("x"); v != "child" {
		t.Errorf("child binding should shadow the root, got %v", v)
	}
	if v, _ := child.Resolve("y"); v != "kept" {
		t.Errorf("unshadowed names should fall through to the root, got %v", v)
	}
	if v, _ := root.Resolve("x"); v != "root" {
		t.Errorf("the root scope must be unaffected by children, got %v", v)
	}
	if NewScope(child) != child {
		t.Error("NewScope should return an existing *Scope unchanged")
	}
	if _, ok := root.Resolve("length"); ok {
		t.Error("length is not a top-level name")
	}
}

func TestMap_JSONOrder(t *testing.T) {
	const doc = `{"z":1,"a":{"y":true,"b":null},"m":[{"k":"v"},2]}`
	m := NewMap()
	if err := json.Unmarshal([]byte(doc), m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if keys := m.Keys(); len(keys) != 3 || keys[0] != "z" || keys[1] != "a" || keys[2] != "m" {
		t.Errorf("expected key order [z a m], got %v", keys)
	}
	nested, ok := m.Get("a")
	if _, isMap := nested.(*Map); !ok || !isMap {
		t.Fatalf("nested objects should decode as *Map, got %T", nested)
	}
	if v, _ := Resolve(m, "m.0.k"); v != "v" {
		t.Errorf("expected m.0.k to resolve to 'v', got %v", v)
	}
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != doc {
		t.Errorf("expected round trip to keep order:\nwant %s\n got %s", doc, out)
	}

	if err := json.Unmarshal([]byte(`[1,2]`), NewMap()); err == nil {
		t.Error("expected an error decoding an array into a Map")
	}
}

func TestMap_SetKeepsPosition(t *testing.T) {
	m := NewMap("a", 1, "b", 2)
	m.Set("a", 3)
	if keys := m.Keys(); keys[0] != "a" || m.Len() != 2 {
		t.Errorf("overwriting should keep the key's position, got %v", keys)
	}
	var nilMap *Map
	if _, ok := nilMap.Get("a"); ok || nilMap.Len() != 0 {
		t.Error("a nil *Map should behave as empty")
	}
}
