package templating

// collectBlocks gathers every {@block} declared in a child template, nested
// ones included. A name declared twice keeps its last declaration.
func collectBlocks(seq seqNode, into map[string]blockNode) map[string]blockNode {
	for _, n := range seq {
		switch x := n.(type) {
		case blockNode:
			into[x.name] = x
			collectBlocks(x.body, into)
		case ifNode:
			collectBlocks(x.then, into)
			collectBlocks(x.els, into)
		case forNode:
			collectBlocks(x.body, into)
		}
	}
	return into
}

// mergeBlocks rebuilds a parent tree with each block replaced by the child's
// override, if any. Blocks the child does not override keep their default
// content, with overrides still applied to blocks nested inside them.
func mergeBlocks(seq seqNode, child map[string]blockNode) seqNode {
	out := make(seqNode, 0, len(seq))
	for _, n := range seq {
		switch x := n.(type) {
		case blockNode:
			if override, ok := child[x.name]; ok {
				x.body = withParent(override.body, x.body)
			} else {
				x.body = mergeBlocks(x.body, child)
			}
			n = x
		case ifNode:
			x.then = mergeBlocks(x.then, child)
			x.els = mergeBlocks(x.els, child)
			n = x
		case forNode:
			x.body = mergeBlocks(x.body, child)
			n = x
		}
		out = append(out, n)
	}
	return out
}

// withParent replaces {@parent} markers in an overriding block with the
// parent block's own default content, exactly as written in the parent.
// Blocks nested in the override take the default of the same-named block
// nested in the parent's content.
func withParent(seq, def seqNode) seqNode {
	out := make(seqNode, 0, len(seq))
	for _, n := range seq {
		switch x := n.(type) {
		case parentNode:
			out = append(out, def...)
			continue
		case blockNode:
			if inner, ok := findBlock(def, x.name); ok {
				x.body = withParent(x.body, inner.body)
			}
			n = x
		case ifNode:
			x.then = withParent(x.then, def)
			x.els = withParent(x.els, def)
			n = x
		case forNode:
			x.body = withParent(x.body, def)
			n = x
		}
		out = append(out, n)
	}
	return out
}

func findBlock(seq seqNode, name string) (blockNode, bool) {
	for _, n := range seq {
		switch x := n.(type) {
		case blockNode:
			if x.name == name {
				return x, true
			}
			if b, ok := findBlock(x.body, name); ok {
				return b, true
			}
		case ifNode:
			if b, ok := findBlock(x.then, name); ok {
				return b, true
			}
			if b, ok := findBlock(x.els, name); ok {
				return b, true
			}
		case forNode:
			if b, ok := findBlock(x.body, name); ok {
				return b, true
			}
		}
	}
	return blockNode{}, false
}
