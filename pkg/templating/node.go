package templating

// node is one element of a parsed directive tree. Trees are never mutated
// after parsing; inheritance and include expansion build new nodes.
type node interface {
	render(st *renderState, s *Scope) error
}

type seqNode []node

func (seq seqNode) render(st *renderState, s *Scope) error {
	for _, n := range seq {
		if err := n.render(st, s); err != nil {
			return err
		}
	}
	return nil
}

type textNode struct{ text string }

func (n textNode) render(st *renderState, _ *Scope) error {
	return st.write(n.text)
}

// varNode is a {{path}} placeholder.
type varNode struct{ path string }

func (n varNode) render(st *renderState, s *Scope) error {
	v, ok := s.Resolve(n.path)
	if !ok {
		return nil
	}
	return st.write(stringify(v))
}

// ifNode is {@if cond}then{@else}els{/@if}. A condition that failed to
// compile keeps its error and is reported each time it is evaluated.
type ifNode struct {
	cond   string
	expr   *Expr
	err    error
	then   seqNode
	els    seqNode
	origin string
}

func (n ifNode) render(st *renderState, s *Scope) error {
	if st.test(n, s) {
		return n.then.render(st, s)
	}
	return n.els.render(st, s)
}

// forNode is {@for item in path}body{/@for}.
type forNode struct {
	item string
	path string
	body seqNode
}

func (n forNode) render(st *renderState, s *Scope) error {
	v, ok := s.Resolve(n.path)
	if !ok {
		return nil
	}
	return iterate(v, func(i, count int, elem any) error {
		vars := map[string]any{
			"index": i,
			"first": i == 0,
			"last":  i == count-1,
		}
		vars[n.item] = elem
		return n.body.render(st, s.With(vars))
	})
}

// blockNode is a named, overridable region. Outside of a merge it simply
// renders its content.
type blockNode struct {
	name string
	body seqNode
}

func (n blockNode) render(st *renderState, s *Scope) error {
	return n.body.render(st, s)
}

// parentNode is {@parent}. It is replaced during the inheritance merge and
// renders nothing if it survives.
type parentNode struct{}

func (parentNode) render(*renderState, *Scope) error { return nil }

// extendsNode is {@extends id}. The merge consumes it.
type extendsNode struct{ parent string }

func (extendsNode) render(*renderState, *Scope) error { return nil }

// includeNode is {@include id}. Expansion replaces it with an inlineNode
// before anything is rendered.
type includeNode struct{ name string }

func (n includeNode) render(*renderState, *Scope) error {
	return NewError(ErrIncludeTemplateMissing, n.name, nil)
}

// inlineNode holds the expanded tree of an included template.
type inlineNode struct {
	name string
	body seqNode
}

func (n inlineNode) render(st *renderState, s *Scope) error {
	return n.body.render(st, s)
}
