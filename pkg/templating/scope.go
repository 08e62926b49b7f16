package templating

// Scope is the data context visible to one part of a render. The root scope
// wraps the caller's data; loop iterations push a child scope whose bindings
// shadow the parent's without copying or mutating it. Scopes are immutable
// once built and safe to share.
type Scope struct {
	parent *Scope
	vars   map[string]any
	data   any
}

// NewScope returns a root scope over data. data is never written to.
func NewScope(data any) *Scope {
	if s, ok := data.(*Scope); ok {
		return s
	}
	return &Scope{data: data}
}

// With returns a child scope in which vars shadow same-named keys of s.
func (s *Scope) With(vars map[string]any) *Scope {
	return &Scope{parent: s, vars: vars}
}

// Lookup returns the value bound to a top-level name, searching the innermost
// bindings first.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.parent == nil && cur.vars == nil {
			return step(cur.data, name)
		}
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve looks up a dotted path in the scope.
func (s *Scope) Resolve(path string) (any, bool) {
	return Resolve(s, path)
}
