// Package tree implements the server-side state tree that drives client
// synchronization. Every mutation of an attached node records a change
// and marks the node dirty; a collector drains dirty nodes in document
// order and hands the changes to the wire encoder.
package tree

import "sort"

// Tree owns a node arena, the root node and the dirty-node bookkeeping.
// A tree belongs to one UI and is always used under the session lock,
// so it does no locking of its own.
type Tree struct {
	nodes  map[NodeID]*Node
	root   *Node
	nextID NodeID

	// dirtyOrder keeps nodes in the order they first became dirty.
	// Entries may be stale (flag already cleared); they are dropped
	// during compaction after each collect pass.
	dirtyOrder []*Node

	// executions queued via BeforeClientResponse. Tasks registered
	// while a pass runs are deferred to the next pass.
	executions []func()

	collecting bool
}

// New creates a tree whose root hosts the given component type. The
// root starts dirty with its full state pending, so the first collect
// pass announces it to the client.
func New(rootTag, rootComponent string) *Tree {
	t := &Tree{nodes: make(map[NodeID]*Node)}
	root := t.newNode(rootTag, rootComponent)
	root.attached = true
	root.pending = root.registerChanges(NoNode, 0)
	t.root = root
	t.markDirty(root)
	return t
}

func (t *Tree) Root() *Node { return t.root }

// NewElement creates a detached plain element node.
func (t *Tree) NewElement(tag string) *Node {
	return t.newNode(tag, "")
}

// NewComponent creates a detached node hosting a component type. The
// type name is carried by the attach change and drives dependency
// resolution when the node reaches the client.
func (t *Tree) NewComponent(tag, component string) *Node {
	return t.newNode(tag, component)
}

func (t *Tree) newNode(tag, component string) *Node {
	t.nextID++
	n := &Node{id: t.nextID, tree: t, tag: tag, component: component}
	t.nodes[n.id] = n
	return n
}

// Node looks up a node by id. Detached nodes stay registered, so they
// can be re-attached and so execute-JS parameters can reference them.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Size returns the number of registered nodes, attached or not.
func (t *Tree) Size() int { return len(t.nodes) }

// HasDirtyNodes reports whether a collect pass would produce work:
// either a node has uncollected changes or a before-client-response
// task is queued.
func (t *Tree) HasDirtyNodes() bool {
	for _, n := range t.dirtyOrder {
		if n.dirty {
			return true
		}
	}
	return len(t.executions) > 0
}

// BeforeClientResponse queues fn to run at the start of the next
// collect pass, before any changes are drained.
func (t *Tree) BeforeClientResponse(fn func()) {
	t.executions = append(t.executions, fn)
}

// CollectChanges runs one collection pass: queued tasks first, then all
// currently dirty nodes. Attached nodes flush depth-first so parents
// precede children; nodes detached this turn flush afterwards in the
// order they were detached. Changes recorded while the pass runs (by
// tasks or detach listeners) stay pending for the next pass.
func (t *Tree) CollectChanges(collect func(Change)) {
	if t.collecting {
		panic("tree: change collection is not reentrant")
	}
	t.collecting = true
	defer func() { t.collecting = false }()

	tasks := t.executions
	t.executions = nil
	for _, task := range tasks {
		task()
	}

	var attached, detached []*Node
	seen := make(map[NodeID]struct{}, len(t.dirtyOrder))
	for _, n := range t.dirtyOrder {
		if !n.dirty {
			continue
		}
		if _, dup := seen[n.id]; dup {
			continue
		}
		seen[n.id] = struct{}{}
		if n.attached {
			attached = append(attached, n)
		} else {
			detached = append(detached, n)
		}
	}

	paths := make(map[NodeID][]int, len(attached))
	for _, n := range attached {
		paths[n.id] = n.treePath()
	}
	sort.SliceStable(attached, func(i, j int) bool {
		return lessPath(paths[attached[i].id], paths[attached[j].id])
	})

	for _, n := range attached {
		n.export(collect)
	}
	for _, n := range detached {
		n.export(collect)
	}
	t.compactDirty()
}

// PrepareResync rewinds the client-facing bookkeeping so the next
// collect pass emits the complete state of the attached tree. Pending
// partial changes are dropped, the client rebuilds from scratch.
// Queued before-client-response tasks are kept.
func (t *Tree) PrepareResync() {
	for _, n := range t.nodes {
		n.pending = nil
		n.dirty = false
	}
	t.dirtyOrder = t.dirtyOrder[:0]
	t.resyncSubtree(t.root, NoNode, 0)
}

func (t *Tree) resyncSubtree(n *Node, parent NodeID, index int) {
	n.pending = n.registerChanges(parent, index)
	t.markDirty(n)
	for i, c := range n.children {
		t.resyncSubtree(c, n.id, i)
	}
}

func (t *Tree) markDirty(n *Node) {
	if n.dirty {
		return
	}
	n.dirty = true
	t.dirtyOrder = append(t.dirtyOrder, n)
}

func (t *Tree) compactDirty() {
	kept := t.dirtyOrder[:0]
	seen := make(map[NodeID]struct{}, len(t.dirtyOrder))
	for _, n := range t.dirtyOrder {
		if !n.dirty {
			continue
		}
		if _, dup := seen[n.id]; dup {
			continue
		}
		seen[n.id] = struct{}{}
		kept = append(kept, n)
	}
	t.dirtyOrder = kept
}

func (t *Tree) attachSubtree(n *Node, parent NodeID, index int) {
	n.attached = true
	n.pending = append(n.pending, n.registerChanges(parent, index)...)
	t.markDirty(n)
	for i, c := range n.children {
		t.attachSubtree(c, n.id, i)
	}
}

func (t *Tree) detachSubtree(n *Node) {
	if !n.attached {
		return
	}
	n.attached = false
	if len(n.pending) > 0 && n.pending[0].Type == ChangeAttach {
		// attached and detached within the same turn: the client never
		// learned about this node, so nothing needs to be sent
		n.pending = nil
	} else {
		n.pending = []Change{{Type: ChangeDetach, Node: n.id}}
		t.markDirty(n)
	}
	for _, c := range n.children {
		t.detachSubtree(c)
	}
}

func lessPath(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
