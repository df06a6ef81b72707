package router

// node is a node in the route trie. Literal children strictly outrank the
// parameter child, which outranks the catch-all child, so resolution is
// deterministic regardless of insertion order.
//
// Parameter and catch-all names are not stored on nodes: sibling routes may
// declare different names at the same position, so captured segments are
// bound to the matched entry's own ParamNames after resolution.
type node struct {
	segment string

	entry *Entry // set on terminal nodes

	children      map[string]*node
	paramChild    *node
	catchAllChild *node
}

func newNode(segment string) *node {
	return &node{segment: segment, children: make(map[string]*node)}
}

// insert walks or creates the trie path for segments and returns the
// terminal node. Catch-alls only occur at the terminal position; the scanner
// enforces that before insertion.
func (n *node) insert(segments []Segment) *node {
	current := n
	for _, seg := range segments {
		switch seg.Type {
		case SegmentCatchAll:
			if current.catchAllChild == nil {
				current.catchAllChild = newNode("")
			}
			return current.catchAllChild
		case SegmentParam:
			if current.paramChild == nil {
				current.paramChild = newNode("")
			}
			current = current.paramChild
		default:
			child, ok := current.children[seg.Value]
			if !ok {
				child = newNode(seg.Value)
				current.children[seg.Value] = child
			}
			current = child
		}
	}
	return current
}

// match resolves path segments against the trie. At each position it prefers
// an exact literal match, then a parameter, then a catch-all, and backtracks
// on dead ends. Captured parameter values are returned in segment order; the
// caller binds them to the entry's declared names.
func (n *node) match(segments []string, captured []string) (*Entry, []string, bool) {
	if len(segments) == 0 {
		if n.entry != nil {
			return n.entry, captured, true
		}
		return nil, nil, false
	}

	head, rest := segments[0], segments[1:]

	if child, ok := n.children[head]; ok {
		if entry, caps, ok := child.match(rest, captured); ok {
			return entry, caps, true
		}
	}

	if n.paramChild != nil {
		if entry, caps, ok := n.paramChild.match(rest, append(captured, head)); ok {
			return entry, caps, true
		}
	}

	if n.catchAllChild != nil && n.catchAllChild.entry != nil {
		return n.catchAllChild.entry, append(captured, joinSegments(segments)), true
	}

	return nil, nil, false
}

func joinSegments(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
