package templating

import (
	"strings"
)

// Tree is a parsed template.
type Tree struct {
	// Name is the template path the tree was parsed from ("" for ad-hoc text).
	Name string
	// Extends is the parent template id declared with {@extends}, if any.
	Extends string

	root seqNode
}

// Parse turns template source into a directive tree. Parsing never fails:
// tags that are unknown, malformed, unterminated or closed out of order are
// kept as literal text, so a template with no valid directives renders
// unchanged.
func Parse(name, src string) *Tree {
	p := &parser{src: src, name: name}
	root, _, _ := p.parseSeq()
	t := &Tree{Name: name, root: root}
	t.Extends = findExtends(root)
	return t
}

// findExtends returns the first {@extends} declared anywhere in the tree.
func findExtends(seq seqNode) string {
	for _, n := range seq {
		switch x := n.(type) {
		case extendsNode:
			return x.parent
		case blockNode:
			if p := findExtends(x.body); p != "" {
				return p
			}
		case ifNode:
			if p := findExtends(x.then); p != "" {
				return p
			}
			if p := findExtends(x.els); p != "" {
				return p
			}
		case forNode:
			if p := findExtends(x.body); p != "" {
				return p
			}
		}
	}
	return ""
}

type parser struct {
	src  string
	name string
	i    int
}

// tag is one scanned directive.
type tag struct {
	raw     string // full source text, delimiters included
	keyword string // "if", "else", "/if", "for", "/for", "block", "/block", "parent", "extends", "include", "var"
	arg     string
}

// parseSeq parses nodes until one of the stop keywords is met or the input
// ends. It reports the stop tag and whether one was found.
func (p *parser) parseSeq(stops ...string) (seqNode, tag, bool) {
	var nodes seqNode
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, textNode{text: text.String()})
			text.Reset()
		}
	}

	for p.i < len(p.src) {
		next := strings.IndexByte(p.src[p.i:], '{')
		if next < 0 {
			text.WriteString(p.src[p.i:])
			p.i = len(p.src)
			break
		}
		text.WriteString(p.src[p.i : p.i+next])
		p.i += next

		t, ok := p.scanTag()
		if !ok {
			text.WriteByte('{')
			p.i++
			continue
		}
		for _, stop := range stops {
			if t.keyword == stop {
				flush()
				return nodes, t, true
			}
		}

		var n node
		var spill seqNode
		switch t.keyword {
		case "var":
			n = varNode{path: t.arg}
		case "if":
			n, spill = p.parseIf(t)
		case "for":
			n, spill = p.parseFor(t)
		case "block":
			n, spill = p.parseBlock(t)
		case "parent":
			n = parentNode{}
		case "extends":
			n = extendsNode{parent: t.arg}
		case "include":
			n = includeNode{name: t.arg}
		default:
			// stray closer or else
			text.WriteString(t.raw)
			continue
		}
		if n == nil {
			// unterminated: the opening tag is literal, its content follows inline
			text.WriteString(t.raw)
			flush()
			nodes = append(nodes, spill...)
			continue
		}
		flush()
		nodes = append(nodes, n)
	}
	flush()
	return nodes, tag{}, false
}

func (p *parser) parseIf(t tag) (node, seqNode) {
	expr, err := CompileExpr(t.arg)
	n := ifNode{cond: t.arg, expr: expr, err: err, origin: p.name}
	then, stop, ok := p.parseSeq("else", "/if")
	if !ok {
		return nil, then
	}
	n.then = then
	if stop.keyword == "else" {
		els, _, ok := p.parseSeq("/if")
		if !ok {
			spill := append(then, textNode{text: stop.raw})
			return nil, append(spill, els...)
		}
		n.els = els
	}
	return n, nil
}

func (p *parser) parseFor(t tag) (node, seqNode) {
	item, path, _ := strings.Cut(t.arg, "\x00")
	body, _, ok := p.parseSeq("/for")
	if !ok {
		return nil, body
	}
	return forNode{item: item, path: path, body: body}, nil
}

func (p *parser) parseBlock(t tag) (node, seqNode) {
	body, _, ok := p.parseSeq("/block")
	if !ok {
		return nil, body
	}
	return blockNode{name: t.arg, body: body}, nil
}

// scanTag recognizes a directive starting at p.i (which points at '{').
// On success p.i is advanced past the tag.
func (p *parser) scanTag() (tag, bool) {
	rest := p.src[p.i:]
	switch {
	case strings.HasPrefix(rest, "{{"):
		end := strings.Index(rest[2:], "}}")
		if end < 0 {
			return tag{}, false
		}
		path := strings.TrimSpace(rest[2 : 2+end])
		if !validPath(path) {
			return tag{}, false
		}
		raw := rest[:end+4]
		p.i += len(raw)
		return tag{raw: raw, keyword: "var", arg: path}, true
	case strings.HasPrefix(rest, "{/@"):
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return tag{}, false
		}
		kw := strings.TrimSpace(rest[3:end])
		switch kw {
		case "if", "for", "block":
		default:
			return tag{}, false
		}
		raw := rest[:end+1]
		p.i += len(raw)
		return tag{raw: raw, keyword: "/" + kw}, true
	case strings.HasPrefix(rest, "{@"):
		end := tagEnd(rest, 2)
		if end < 0 {
			return tag{}, false
		}
		body := strings.TrimSpace(rest[2:end])
		kw, arg := body, ""
		if sp := strings.IndexAny(body, " \t\r\n"); sp >= 0 {
			kw, arg = body[:sp], strings.TrimSpace(body[sp:])
		}
		t := tag{raw: rest[:end+1], keyword: kw}
		switch kw {
		case "if":
			if arg == "" {
				return tag{}, false
			}
			t.arg = arg
		case "else", "parent":
			if arg != "" {
				return tag{}, false
			}
		case "for":
			fields := strings.Fields(arg)
			if len(fields) != 3 || fields[1] != "in" || !validPath(fields[0]) ||
				strings.Contains(fields[0], ".") || !validPath(fields[2]) {
				return tag{}, false
			}
			t.arg = fields[0] + "\x00" + fields[2]
		case "block", "extends", "include":
			id := unquote(arg)
			if id == "" || strings.ContainsAny(id, " \t\r\n") {
				return tag{}, false
			}
			t.arg = id
		default:
			return tag{}, false
		}
		p.i += len(t.raw)
		return t, true
	}
	return tag{}, false
}

// tagEnd finds the '}' closing a directive that starts at src[0], skipping
// quoted strings and balanced braces such as ${path} inside expressions.
func tagEnd(src string, from int) int {
	depth := 0
	for i := from; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return -1
			}
			i = j
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
