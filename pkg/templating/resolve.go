package templating

import (
	"context"
	"strings"
)

// renderState carries everything one render call needs. It is created per
// call and never shared, so nothing leaks between renders.
type renderState struct {
	ctx     context.Context
	tm      *TemplateManager
	config  TemplateConfig
	root    string
	out     strings.Builder
	exprErr int
}

func (st *renderState) write(s string) error {
	if max := st.config.MaxOutputSize; max > 0 && st.out.Len()+len(s) > max {
		return NewError(ErrOutputLimit, st.root, nil)
	}
	st.out.WriteString(s)
	return nil
}

// test evaluates a condition. Failures are reported and count as false.
func (st *renderState) test(n ifNode, s *Scope) bool {
	err := n.err
	if err == nil && st.config.MaxExprLength > 0 && len(n.cond) > st.config.MaxExprLength {
		err = errExprTooLong
	}
	if err == nil {
		var ok bool
		if ok, err = n.expr.Truthy(s); err == nil {
			return ok
		}
	}
	st.exprErr++
	st.tm.reportExpr(st.ctx, &ExpressionError{Template: n.origin, Expr: n.cond, Err: err})
	return false
}

// fetch loads a referenced template. Missing templates are reported with the
// given kind (parent or include).
func (st *renderState) fetch(name string, kind error) (string, error) {
	if st.config.StrictStore {
		if text, ok := st.tm.source.Cached(name); ok {
			return text, nil
		}
		return "", NewError(kind, name, ErrTemplateNotFound)
	}
	text, err := st.tm.source.Load(st.ctx, name)
	if err != nil {
		if st.ctx.Err() == nil {
			st.tm.trees.Delete(name)
		}
		return "", NewError(kind, name, err)
	}
	return text, nil
}

// expand runs the structural passes over a parsed tree: the inheritance merge
// first, then include expansion. What it returns contains no extends or
// include directives that still need resolving, only control flow and
// variables.
func (st *renderState) expand(t *Tree, depth int) (seqNode, error) {
	root, err := st.inherit(t)
	if err != nil {
		return nil, err
	}
	return st.expandIncludes(root, depth)
}

// inherit merges t into its parent chain.
func (st *renderState) inherit(t *Tree) (seqNode, error) {
	root := t.root
	parent := t.Extends
	seen := map[string]bool{t.Name: true}
	for level := 0; parent != ""; level++ {
		if level >= st.config.MaxInheritanceDepth || seen[parent] {
			return nil, NewError(ErrDepthExceeded, parent, nil)
		}
		seen[parent] = true
		text, err := st.fetch(parent, ErrParentTemplateMissing)
		if err != nil {
			return nil, err
		}
		pt := st.tm.parse(parent, text)
		root = mergeBlocks(pt.root, collectBlocks(root, map[string]blockNode{}))
		parent = pt.Extends
	}
	return root, nil
}

func (st *renderState) expandIncludes(seq seqNode, depth int) (seqNode, error) {
	out := make(seqNode, 0, len(seq))
	for _, n := range seq {
		switch x := n.(type) {
		case includeNode:
			if depth >= st.config.MaxIncludeDepth {
				return nil, NewError(ErrDepthExceeded, x.name, nil)
			}
			text, err := st.fetch(x.name, ErrIncludeTemplateMissing)
			if err != nil {
				return nil, err
			}
			body, err := st.expand(st.tm.parse(x.name, text), depth+1)
			if err != nil {
				return nil, err
			}
			n = inlineNode{name: x.name, body: body}
		case ifNode:
			then, err := st.expandIncludes(x.then, depth)
			if err != nil {
				return nil, err
			}
			els, err := st.expandIncludes(x.els, depth)
			if err != nil {
				return nil, err
			}
			x.then, x.els = then, els
			n = x
		case forNode:
			body, err := st.expandIncludes(x.body, depth)
			if err != nil {
				return nil, err
			}
			x.body = body
			n = x
		case blockNode:
			body, err := st.expandIncludes(x.body, depth)
			if err != nil {
				return nil, err
			}
			x.body = body
			n = x
		}
		out = append(out, n)
	}
	return out, nil
}
