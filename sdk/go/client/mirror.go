package client

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/tree"
	"github.com/treesync/treesync/internal/core/uidl"
)

// ErrMirrorOutOfSync marks a sync message the mirror could not apply:
// it referenced nodes or positions the mirror does not have. The only
// way back is a full-state resynchronization.
var ErrMirrorOutOfSync = errors.New("mirror is out of sync with the server tree")

// Mirror is the client-side replica of one UI's state tree. Applying
// sync messages in order keeps it equal to what the server has flushed;
// a message carrying the resynchronize marker rebuilds it from scratch.
//
// Loaded dependencies are tracked separately from the tree and survive
// a resynchronization, matching the server's promise to never resend a
// resource it already shipped.
type Mirror struct {
	mu    sync.RWMutex
	nodes map[tree.NodeID]*mirrorNode
	root  tree.NodeID
	deps  []uidl.DependencyEntry
	urls  map[string]struct{}
}

type mirrorNode struct {
	id         tree.NodeID
	parent     tree.NodeID
	tag        string
	component  string
	attributes map[string]any
	properties map[string]any
	children   []tree.NodeID
}

// Node is a point-in-time copy of one mirrored node. Maps and slices
// are owned by the caller.
type Node struct {
	ID         tree.NodeID
	Parent     tree.NodeID
	Tag        string
	Component  string
	Attributes map[string]any
	Properties map[string]any
	Children   []tree.NodeID
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		nodes: make(map[tree.NodeID]*mirrorNode),
		urls:  make(map[string]struct{}),
	}
}

// Apply folds one sync message into the mirror. Changes apply in wire
// order; the first one that references unknown state aborts with
// ErrMirrorOutOfSync. The mirror is stale after such a failure and must
// be rebuilt through a resynchronization.
func (m *Mirror) Apply(msg *uidl.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Resynchronize {
		m.nodes = make(map[tree.NodeID]*mirrorNode)
		m.root = tree.NoNode
	}
	for _, c := range msg.Changes {
		if err := m.applyChange(c); err != nil {
			return err
		}
	}
	m.recordDependencies(msg.Eager)
	m.recordDependencies(msg.Lazy)
	m.recordDependencies(msg.Inline)
	return nil
}

func (m *Mirror) applyChange(c tree.Change) error {
	switch c.Type {
	case tree.ChangeAttach:
		return m.attach(c)

	case tree.ChangeDetach:
		m.dropSubtree(c.Node)
		return nil

	case tree.ChangeAttribute:
		n, ok := m.nodes[c.Node]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "attribute change names unknown node %d", c.Node)
		}
		n.attributes[c.Key] = c.Value
		return nil

	case tree.ChangeProperty:
		n, ok := m.nodes[c.Node]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "property change names unknown node %d", c.Node)
		}
		n.properties[c.Key] = c.Value
		return nil

	case tree.ChangeListInsert:
		parent, ok := m.nodes[c.Node]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "insert names unknown node %d", c.Node)
		}
		child, ok := m.nodes[c.Child]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "insert names unknown child %d", c.Child)
		}
		if c.Index < 0 || c.Index > len(parent.children) {
			return errors.Wrapf(ErrMirrorOutOfSync, "insert index %d out of range on node %d", c.Index, c.Node)
		}
		// A moved child is not spliced out of its old list here. Children
		// lists are independent on the wire: the old parent's remove
		// arrives in the same message and must find the list it was
		// recorded against. Until then the entry lingers with a parent
		// pointer that already moved on.
		child.parent = parent.id
		parent.children = insertID(parent.children, c.Index, child.id)
		return nil

	case tree.ChangeListRemove:
		parent, ok := m.nodes[c.Node]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "remove names unknown node %d", c.Node)
		}
		if c.Index < 0 || c.Index >= len(parent.children) {
			return errors.Wrapf(ErrMirrorOutOfSync, "remove index %d out of range on node %d", c.Index, c.Node)
		}
		// The child stays known: a detach follows when the server drops
		// it for good, an insert when it moves. A child whose parent
		// pointer left already was moved by an earlier insert; only the
		// list entry remains to clean up.
		if child, ok := m.nodes[parent.children[c.Index]]; ok && child.parent == parent.id {
			child.parent = tree.NoNode
		}
		parent.children = append(parent.children[:c.Index], parent.children[c.Index+1:]...)
		return nil

	case tree.ChangeListClear:
		parent, ok := m.nodes[c.Node]
		if !ok {
			return errors.Wrapf(ErrMirrorOutOfSync, "clear names unknown node %d", c.Node)
		}
		for _, id := range parent.children {
			if child, ok := m.nodes[id]; ok && child.parent == parent.id {
				child.parent = tree.NoNode
			}
		}
		parent.children = nil
		return nil

	default:
		return errors.Wrapf(ErrMirrorOutOfSync, "unknown change type %d", c.Type)
	}
}

func (m *Mirror) attach(c tree.Change) error {
	n, known := m.nodes[c.Node]
	if !known {
		n = &mirrorNode{
			id:         c.Node,
			attributes: make(map[string]any),
			properties: make(map[string]any),
		}
		m.nodes[c.Node] = n
	} else {
		// re-announce after a move through detached state
		m.orphan(n)
	}
	n.tag = c.Tag
	n.component = c.Component

	if c.Parent == tree.NoNode {
		n.parent = tree.NoNode
		m.root = n.id
		return nil
	}
	parent, ok := m.nodes[c.Parent]
	if !ok {
		return errors.Wrapf(ErrMirrorOutOfSync, "attach names unknown parent %d", c.Parent)
	}
	if c.Index < 0 || c.Index > len(parent.children) {
		return errors.Wrapf(ErrMirrorOutOfSync, "attach index %d out of range on node %d", c.Index, c.Parent)
	}
	n.parent = parent.id
	parent.children = insertID(parent.children, c.Index, n.id)
	return nil
}

// dropSubtree deletes a node and everything below it. The preceding
// list change already fixed the parent's children in the normal flow;
// the splice here covers replayed full-state sequences. Children whose
// parent pointer moved on were rescued into another subtree within the
// same message and survive the drop.
func (m *Mirror) dropSubtree(id tree.NodeID) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	m.orphan(n)
	var drop func(*mirrorNode)
	drop = func(n *mirrorNode) {
		for _, cid := range n.children {
			if child, ok := m.nodes[cid]; ok && child.parent == n.id {
				drop(child)
			}
		}
		delete(m.nodes, n.id)
	}
	drop(n)
	if m.root == id {
		m.root = tree.NoNode
	}
}

// orphan splices a node out of its parent's children list, if listed.
func (m *Mirror) orphan(n *mirrorNode) {
	if n.parent == tree.NoNode {
		return
	}
	parent, ok := m.nodes[n.parent]
	n.parent = tree.NoNode
	if !ok {
		return
	}
	for i, id := range parent.children {
		if id == n.id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

func (m *Mirror) recordDependencies(entries []uidl.DependencyEntry) {
	for _, e := range entries {
		if e.URL != "" {
			if _, dup := m.urls[e.URL]; dup {
				continue
			}
			m.urls[e.URL] = struct{}{}
		}
		m.deps = append(m.deps, e)
	}
}

// Root returns a copy of the root node, if one has been attached.
func (m *Mirror) Root() (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(m.root)
}

// Node returns a copy of the node with the given id.
func (m *Mirror) Node(id tree.NodeID) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(id)
}

// Find walks the tree depth-first and returns the first node hosting
// the given component type.
func (m *Mirror) Find(component string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var walk func(id tree.NodeID) (Node, bool)
	walk = func(id tree.NodeID) (Node, bool) {
		n, ok := m.nodes[id]
		if !ok {
			return Node{}, false
		}
		if n.component == component {
			return m.snapshot(id)
		}
		for _, cid := range n.children {
			if found, ok := walk(cid); ok {
				return found, true
			}
		}
		return Node{}, false
	}
	if m.root == tree.NoNode {
		return Node{}, false
	}
	return walk(m.root)
}

// Len returns the number of mirrored nodes.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Dependencies returns a copy of every dependency entry received so
// far, in arrival order.
func (m *Mirror) Dependencies() []uidl.DependencyEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uidl.DependencyEntry, len(m.deps))
	copy(out, m.deps)
	return out
}

// HasDependency reports whether a url-declared dependency has arrived.
func (m *Mirror) HasDependency(url string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.urls[url]
	return ok
}

func (m *Mirror) snapshot(id tree.NodeID) (Node, bool) {
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	out := Node{
		ID:         n.id,
		Parent:     n.parent,
		Tag:        n.tag,
		Component:  n.component,
		Attributes: make(map[string]any, len(n.attributes)),
		Properties: make(map[string]any, len(n.properties)),
		Children:   make([]tree.NodeID, len(n.children)),
	}
	for k, v := range n.attributes {
		out.Attributes[k] = v
	}
	for k, v := range n.properties {
		out.Properties[k] = v
	}
	copy(out.Children, n.children)
	return out, true
}

func insertID(list []tree.NodeID, index int, id tree.NodeID) []tree.NodeID {
	list = append(list, 0)
	copy(list[index+1:], list[index:])
	list[index] = id
	return list
}
