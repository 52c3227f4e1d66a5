package session

import (
	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/tree"
)

// UI pairs a state tree with the sequence counters of one client view.
// Everything here is guarded by the owning session's lock.
type UI struct {
	id      int
	session *Session
	tree    *tree.Tree

	// serverSyncID numbers outgoing messages; the client detects lost
	// messages by gaps in it. It survives resynchronization.
	serverSyncID int
	// lastProcessedClientID acknowledges the newest client message
	// folded into the tree; it is echoed back with every flush.
	lastProcessedClientID int

	pendingJS []JSInvocation
}

func newUI(id int, s *Session, rootTag, rootComponent string) *UI {
	return &UI{
		id:      id,
		session: s,
		tree:    tree.New(rootTag, rootComponent),
	}
}

func (u *UI) ID() int { return u.id }

func (u *UI) Session() *Session { return u.session }

func (u *UI) Tree() *tree.Tree { return u.tree }

// Dependencies is the session-wide sent tracking; dependencies are
// shared across the UIs of a session.
func (u *UI) Dependencies() *dependency.List { return u.session.Dependencies() }

// Dirty reports whether a flush would carry changes.
func (u *UI) Dirty() bool { return u.tree.HasDirtyNodes() }

func (u *UI) ServerSyncID() int { return u.serverSyncID }

// BumpServerSyncID advances the outgoing sequence after a message has
// been produced.
func (u *UI) BumpServerSyncID() { u.serverSyncID++ }

func (u *UI) LastProcessedClientID() int { return u.lastProcessedClientID }

// SetLastProcessedClientID records the newest processed client message.
// Retries may resend older ids; the counter never moves backwards.
func (u *UI) SetLastProcessedClientID(id int) {
	if id > u.lastProcessedClientID {
		u.lastProcessedClientID = id
	}
}

// JSInvocation is one queued client-side script call. Params may
// contain *tree.Node values; the serializer turns attached nodes into
// their ids and detached ones into null.
type JSInvocation struct {
	Expression string
	Params     []any
}

// ExecuteJS queues expression to run on the client with the given
// parameters, available as $0..$n in the expression.
func (u *UI) ExecuteJS(expression string, params ...any) {
	u.pendingJS = append(u.pendingJS, JSInvocation{Expression: expression, Params: params})
}

// DumpPendingJS hands over the queued invocations and clears the queue.
func (u *UI) DumpPendingJS() []JSInvocation {
	out := u.pendingJS
	u.pendingJS = nil
	return out
}

// PendingJS reports whether script calls are waiting to ship.
func (u *UI) PendingJS() bool { return len(u.pendingJS) > 0 }
