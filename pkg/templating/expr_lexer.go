package templating

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent // bare dotted path or keyword
	tokRef   // ${dotted.path}
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// operators ordered longest first so that "===" wins over "==".
var operators = []string{"===", "!==", "==", "!=", ">=", "<=", "&&", "||", ">", "<", "!", "-"}

type lexer struct {
	src string
	i   int
}

func (l *lexer) tokens() ([]token, error) {
	var toks []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.i < len(l.src) && isSpace(l.src[l.i]) {
		l.i++
	}
	if l.i >= len(l.src) {
		return token{kind: tokEOF, pos: l.i}, nil
	}
	start := l.i
	c := l.src[l.i]
	switch {
	case c == '(':
		l.i++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.i++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '"' || c == '\'':
		return l.lexString(c)
	case c == '$' && strings.HasPrefix(l.src[l.i:], "${"):
		end := strings.IndexByte(l.src[l.i:], '}')
		if end < 0 {
			return token{}, fmt.Errorf("unterminated ${ at offset %d", start)
		}
		path := strings.TrimSpace(l.src[l.i+2 : l.i+end])
		l.i += end + 1
		if !validPath(path) {
			return token{}, fmt.Errorf("invalid reference %q at offset %d", path, start)
		}
		return token{kind: tokRef, text: path, pos: start}, nil
	case isDigit(c) || (c == '.' && l.i+1 < len(l.src) && isDigit(l.src[l.i+1])):
		return l.lexNumber()
	case isIdentStart(c):
		l.i++
		for l.i < len(l.src) {
			ch := l.src[l.i]
			if isIdentPart(ch) {
				l.i++
				continue
			}
			if ch == '.' && l.i+1 < len(l.src) && isIdentPart(l.src[l.i+1]) {
				l.i++
				continue
			}
			break
		}
		return token{kind: tokIdent, text: l.src[start:l.i], pos: start}, nil
	}
	for _, op := range operators {
		if strings.HasPrefix(l.src[l.i:], op) {
			l.i += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.i
	l.i++
	var sb strings.Builder
	for l.i < len(l.src) {
		c := l.src[l.i]
		switch c {
		case quote:
			l.i++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			if l.i+1 >= len(l.src) {
				return token{}, fmt.Errorf("unterminated string at offset %d", start)
			}
			l.i++
			switch e := l.src[l.i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
		l.i++
	}
	return token{}, fmt.Errorf("unterminated string at offset %d", start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.i
	for l.i < len(l.src) && (isDigit(l.src[l.i]) || l.src[l.i] == '.') {
		l.i++
	}
	if l.i < len(l.src) && (l.src[l.i] == 'e' || l.src[l.i] == 'E') {
		l.i++
		if l.i < len(l.src) && (l.src[l.i] == '+' || l.src[l.i] == '-') {
			l.i++
		}
		for l.i < len(l.src) && isDigit(l.src[l.i]) {
			l.i++
		}
	}
	text := l.src[start:l.i]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at offset %d", text, start)
	}
	if l.i < len(l.src) && isIdentStart(l.src[l.i]) {
		return token{}, fmt.Errorf("invalid number %q at offset %d", l.src[start:l.i+1], start)
	}
	return token{kind: tokNumber, text: text, num: n, pos: start}, nil
}

// validPath reports whether p is a non-empty dotted path with no empty segments.
func validPath(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			if !isIdentPart(seg[i]) {
				return false
			}
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
