package tree

import (
	"fmt"
	"reflect"
)

// featureMap is a small insertion-ordered map. Order matters because
// full-state changes (attach, resynchronization) replay entries in the
// order they were first written, which keeps output deterministic.
type featureMap struct {
	keys   []string
	values map[string]any
}

func (f *featureMap) set(key string, value any) (old any, existed bool) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	old, existed = f.values[key]
	if !existed {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return old, existed
}

func (f *featureMap) get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *featureMap) each(fn func(key string, value any)) {
	for _, k := range f.keys {
		fn(k, f.values[k])
	}
}

func (f *featureMap) len() int {
	return len(f.keys)
}

// Node is one element in a state tree. A node owns its element data
// (tag, optional component type), an attribute map, a property map and
// an ordered children list. Mutating an attached node records a change
// and marks the node dirty; mutations of detached nodes only update the
// local state and are replayed as full state when the node attaches.
//
// Nodes are not safe for concurrent use. Callers are expected to hold
// the owning session's lock, which is how every entry point into the
// tree is guarded.
type Node struct {
	id        NodeID
	tree      *Tree
	parent    *Node
	tag       string
	component string

	attributes featureMap
	properties featureMap
	children   []*Node

	pending  []Change
	dirty    bool
	attached bool

	detachListeners []*detachRegistration
}

type detachRegistration struct {
	fn      func(*Node)
	removed bool
}

func (n *Node) ID() NodeID { return n.id }

// Tag returns the element tag chosen at creation.
func (n *Node) Tag() string { return n.tag }

// Component returns the component type name hosted by this node, or ""
// for plain elements.
func (n *Node) Component() string { return n.component }

func (n *Node) Parent() *Node { return n.parent }

// Attached reports whether the node is reachable from the tree root.
func (n *Node) Attached() bool { return n.attached }

// Dirty reports whether the node has recorded changes that have not
// been collected yet.
func (n *Node) Dirty() bool { return n.dirty }

func (n *Node) ChildCount() int { return len(n.children) }

func (n *Node) Child(index int) *Node {
	if index < 0 || index >= len(n.children) {
		panic(fmt.Sprintf("tree: child index %d out of range [0,%d)", index, len(n.children)))
	}
	return n.children[index]
}

// Children returns a copy of the children list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// IndexOf returns the position of child in this node's children list,
// or -1 when child is not a direct child.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// SetAttribute writes an attribute. Writing the value already stored is
// a no-op and records nothing.
func (n *Node) SetAttribute(key string, value any) {
	old, existed := n.attributes.set(key, value)
	if existed && equalValues(old, value) {
		return
	}
	if n.attached {
		n.record(Change{Type: ChangeAttribute, Node: n.id, Key: key, Value: value})
	}
}

func (n *Node) Attribute(key string) (any, bool) {
	return n.attributes.get(key)
}

// SetProperty writes a property. Same no-op rule as SetAttribute.
func (n *Node) SetProperty(key string, value any) {
	old, existed := n.properties.set(key, value)
	if existed && equalValues(old, value) {
		return
	}
	if n.attached {
		n.record(Change{Type: ChangeProperty, Node: n.id, Key: key, Value: value})
	}
}

func (n *Node) Property(key string) (any, bool) {
	return n.properties.get(key)
}

// AppendChild adds child as the last child of this node and returns it.
// A child that already has a parent is moved, keeping its identity on
// the client when both ends of the move are attached.
func (n *Node) AppendChild(child *Node) *Node {
	n.InsertChild(len(n.children), child)
	return child
}

// InsertChild places child at index among this node's children.
func (n *Node) InsertChild(index int, child *Node) {
	if child == nil {
		panic("tree: cannot insert a nil child")
	}
	if child.tree != n.tree {
		panic("tree: node belongs to a different tree")
	}
	if child == n || n.hasAncestor(child) {
		panic("tree: cannot insert a node inside itself")
	}
	if index < 0 || index > len(n.children) {
		panic(fmt.Sprintf("tree: insert index %d out of range [0,%d]", index, len(n.children)))
	}

	wasAttached := child.attached
	announced := child.announced()
	if child.parent != nil {
		oldParent := child.parent
		oldIndex := oldParent.IndexOf(child)
		oldParent.spliceOut(oldIndex)
		if wasAttached && announced {
			oldParent.record(Change{Type: ChangeListRemove, Node: oldParent.id, Index: oldIndex})
		}
		if oldParent == n && oldIndex < index {
			index--
		}
	}

	child.parent = n
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child

	switch {
	case n.attached && wasAttached && announced:
		// move between two attached parents, node identity survives
		n.record(Change{Type: ChangeListInsert, Node: n.id, Index: index, Child: child.id})
	case n.attached && wasAttached:
		// the attach was still pending; re-announce at the new position
		child.pending = child.registerChanges(n.id, index)
		n.tree.markDirty(child)
	case n.attached:
		n.tree.attachSubtree(child, n.id, index)
	case wasAttached:
		n.tree.detachSubtree(child)
	}
}

// RemoveChild detaches and returns the child at index.
func (n *Node) RemoveChild(index int) *Node {
	if index < 0 || index >= len(n.children) {
		panic(fmt.Sprintf("tree: remove index %d out of range [0,%d)", index, len(n.children)))
	}
	child := n.children[index]
	n.spliceOut(index)
	child.parent = nil
	if n.attached {
		if child.announced() {
			n.record(Change{Type: ChangeListRemove, Node: n.id, Index: index})
		}
		n.tree.detachSubtree(child)
	}
	return child
}

// ClearChildren removes every child in one step. On the wire this is a
// single list clear followed by the detach of each former child.
func (n *Node) ClearChildren() {
	if len(n.children) == 0 {
		return
	}
	removed := n.children
	n.children = nil
	for _, c := range removed {
		c.parent = nil
	}
	if n.attached {
		n.record(Change{Type: ChangeListClear, Node: n.id})
		for _, c := range removed {
			n.tree.detachSubtree(c)
		}
	}
}

// OnDetach registers fn to run when this node's detach change is
// handed to a collector. The returned function unregisters it.
func (n *Node) OnDetach(fn func(*Node)) func() {
	reg := &detachRegistration{fn: fn}
	n.detachListeners = append(n.detachListeners, reg)
	return func() { reg.removed = true }
}

func (n *Node) record(c Change) {
	n.pending = append(n.pending, c)
	n.tree.markDirty(n)
}

// announced reports whether the client already knows this node. A node
// whose own attach change is still pending has never been sent, so
// structural changes referring to it must be suppressed rather than
// confuse the client with operations on an unknown node.
func (n *Node) announced() bool {
	return len(n.pending) == 0 || n.pending[0].Type != ChangeAttach
}

// export hands the node's pending changes to the collector and clears
// the dirty flag. Detach listeners fire at the moment their change is
// exported; whatever they mutate lands in fresh pending lists and is
// picked up by a later pass.
func (n *Node) export(collect func(Change)) {
	changes := n.pending
	n.pending = nil
	n.dirty = false
	for _, c := range changes {
		collect(c)
		if c.Type == ChangeDetach {
			n.fireDetachListeners()
		}
	}
}

func (n *Node) fireDetachListeners() {
	regs := n.detachListeners
	for _, reg := range regs {
		if !reg.removed {
			reg.fn(n)
		}
	}
}

// registerChanges builds the full-state change sequence for this node:
// the attach itself followed by every attribute and property in
// insertion order. Children announce themselves through their own
// attach changes.
func (n *Node) registerChanges(parent NodeID, index int) []Change {
	out := make([]Change, 0, 1+n.attributes.len()+n.properties.len())
	out = append(out, Change{
		Type:      ChangeAttach,
		Node:      n.id,
		Parent:    parent,
		Index:     index,
		Tag:       n.tag,
		Component: n.component,
	})
	n.attributes.each(func(key string, value any) {
		out = append(out, Change{Type: ChangeAttribute, Node: n.id, Key: key, Value: value})
	})
	n.properties.each(func(key string, value any) {
		out = append(out, Change{Type: ChangeProperty, Node: n.id, Key: key, Value: value})
	})
	return out
}

func (n *Node) spliceOut(index int) {
	n.children = append(n.children[:index], n.children[index+1:]...)
}

func (n *Node) hasAncestor(candidate *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// treePath returns the child indexes from the root down to this node.
// Used to order dirty nodes depth-first at collection time.
func (n *Node) treePath() []int {
	var rev []int
	for c := n; c.parent != nil; c = c.parent {
		rev = append(rev, c.parent.IndexOf(c))
	}
	path := make([]int, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
