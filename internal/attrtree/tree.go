// Package attrtree maps slash-style attribute paths to stable integer
// handles.
//
// Every node has a name unique among its siblings. Handles are dense,
// assigned in creation order starting at 0, and never reused or renumbered
// for the life of a tree. Root is the implicit parent of top-level nodes and
// is not itself an attribute.
//
// Names are compared in Unicode NFC form: two segments that differ only in
// normalization name the same node, and the node keeps the NFC spelling.
package attrtree

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Handle identifies one attribute node.
type Handle int

// Root is the handle of the implicit root node.
const Root Handle = -1

type node struct {
	name     string
	parent   Handle
	children map[string]Handle
	order    []Handle
}

// Tree is a rooted tree of named attribute nodes.
// A Tree is not safe for concurrent mutation; each replay session owns one.
type Tree struct {
	root  node
	nodes []node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{root: node{parent: Root}}
}

// Len returns the number of attribute nodes, not counting Root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// ResolveAbsolute returns the handle for path starting at Root, creating
// every missing node along the way. An empty path returns Root.
func (t *Tree) ResolveAbsolute(path ...string) Handle {
	return t.ResolveRelative(Root, path...)
}

// ResolveRelative returns the handle for path below base, creating every
// missing node along the way. Repeated calls with the same arguments return
// the same handle.
func (t *Tree) ResolveRelative(base Handle, path ...string) Handle {
	h := base
	for _, name := range path {
		name = norm.NFC.String(name)
		child, ok := t.node(h).children[name]
		if !ok {
			child = t.add(h, name)
		}
		h = child
	}
	return h
}

// LookupAbsolute returns the handle for path starting at Root without
// creating nodes.
func (t *Tree) LookupAbsolute(path ...string) (Handle, bool) {
	return t.LookupRelative(Root, path...)
}

// LookupRelative returns the handle for path below base without creating
// nodes. The second result is false if any segment is missing.
func (t *Tree) LookupRelative(base Handle, path ...string) (Handle, bool) {
	if !t.Valid(base) {
		return Root, false
	}
	h := base
	for _, name := range path {
		child, ok := t.node(h).children[norm.NFC.String(name)]
		if !ok {
			return Root, false
		}
		h = child
	}
	return h, true
}

// Valid reports whether h is Root or a handle issued by this tree.
func (t *Tree) Valid(h Handle) bool {
	return h == Root || (h >= 0 && int(h) < len(t.nodes))
}

// Name returns the last path segment of h. Root has the empty name.
func (t *Tree) Name(h Handle) string {
	return t.node(h).name
}

// Parent returns the parent handle of h. The parent of Root is Root.
func (t *Tree) Parent(h Handle) Handle {
	return t.node(h).parent
}

// Path returns the segments from Root down to h.
func (t *Tree) Path(h Handle) []string {
	var segs []string
	for h != Root {
		n := t.node(h)
		segs = append(segs, n.name)
		h = n.parent
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// PathString joins the path of h with "/".
func (t *Tree) PathString(h Handle) string {
	return strings.Join(t.Path(h), "/")
}

// Children returns the direct children of h in creation order.
func (t *Tree) Children(h Handle) []Handle {
	order := t.node(h).order
	out := make([]Handle, len(order))
	copy(out, order)
	return out
}

// Walk visits every node below base depth-first in creation order.
// Returning false from fn stops the walk.
func (t *Tree) Walk(base Handle, fn func(h Handle) bool) {
	t.walk(base, fn)
}

func (t *Tree) walk(h Handle, fn func(Handle) bool) bool {
	for _, child := range t.node(h).order {
		if !fn(child) {
			return false
		}
		if !t.walk(child, fn) {
			return false
		}
	}
	return true
}

func (t *Tree) add(parent Handle, name string) Handle {
	h := Handle(len(t.nodes))
	t.nodes = append(t.nodes, node{name: name, parent: parent})
	p := t.node(parent)
	if p.children == nil {
		p.children = make(map[string]Handle)
	}
	p.children[name] = h
	p.order = append(p.order, h)
	return h
}

// node returns a pointer into the backing storage. The pointer is only
// valid until the next add.
func (t *Tree) node(h Handle) *node {
	if h == Root {
		return &t.root
	}
	return &t.nodes[h]
}
