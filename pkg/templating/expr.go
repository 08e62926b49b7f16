package templating

import (
	"fmt"
)

// Expr is a compiled condition expression. It is immutable and may be
// evaluated concurrently against different scopes.
type Expr struct {
	src  string
	root exprNode
}

// CompileExpr parses a condition expression.
//
// The grammar, loosest binding first:
//
//	or      = and { "||" and }
//	and     = eq { "&&" eq }
//	eq      = rel { ("===" | "!==" | "==" | "!=") rel }
//	rel     = unary { ("<" | ">" | "<=" | ">=") unary }
//	unary   = ("!" | "-" | "typeof") unary | primary
//	primary = number | string | "true" | "false" | "null" | "undefined"
//	        | path | "${" path "}" | "(" or ")"
//
// Paths are resolved against the scope at evaluation time; nothing outside the
// scope is reachable and there is no call syntax.
func CompileExpr(src string) (*Expr, error) {
	lx := &lexer{src: src}
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("empty expression")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// String returns the source text of the expression.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression and returns its raw value. Undefined results
// are reported as nil.
func (e *Expr) Eval(s *Scope) (any, error) {
	v, err := e.root.eval(s)
	if err != nil {
		return nil, err
	}
	if v == undefined {
		return nil, nil
	}
	return v, nil
}

// Truthy evaluates the expression and coerces the result to a boolean.
func (e *Expr) Truthy(s *Scope) (bool, error) {
	v, err := e.root.eval(s)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Evaluate compiles and evaluates a condition in one step. Any failure yields
// false together with an *ExpressionError.
func Evaluate(src string, s *Scope) (bool, error) {
	e, err := CompileExpr(src)
	if err != nil {
		return false, &ExpressionError{Expr: src, Err: err}
	}
	ok, err := e.Truthy(s)
	if err != nil {
		return false, &ExpressionError{Expr: src, Err: err}
	}
	return ok, nil
}

type exprParser struct {
	toks []token
	i    int
}

func (p *exprParser) peek() token { return p.toks[p.i] }

func (p *exprParser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *exprParser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.i++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalNode{or: true, l: left, r: right}
	}
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = logicalNode{l: left, r: right}
	}
}

func (p *exprParser) parseEquality() (exprNode, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("===", "!==", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *exprParser) parseRelational() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if op, ok := p.acceptOp("!", "-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	if t := p.peek(); t.kind == tokIdent && t.text == "typeof" {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "typeof", x: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.advance()
	switch t.kind {
	case tokNumber:
		return literalNode{v: t.num}, nil
	case tokString:
		return literalNode{v: t.text}, nil
	case tokRef:
		return pathNode{path: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literalNode{v: true}, nil
		case "false":
			return literalNode{v: false}, nil
		case "null":
			return literalNode{v: nil}, nil
		case "undefined":
			return literalNode{v: undefined}, nil
		case "typeof":
			return nil, fmt.Errorf("unexpected typeof at offset %d", t.pos)
		}
		if !validPath(t.text) {
			return nil, fmt.Errorf("invalid reference %q at offset %d", t.text, t.pos)
		}
		return pathNode{path: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at offset %d", closing.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
}
