// Package session owns the per-client server state: the UIs with their
// state trees, the monotonic set of dependencies the client received,
// and the resynchronization flag. One session maps to one client
// runtime (browser tab group, embedded shell, test harness).
package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/observability/log"
)

// Session holds everything the server remembers about one client.
//
// All tree and UI access happens under Lock/Unlock; transports lock the
// session for the duration of a request, which is what lets the tree
// and dependency list stay lock-free. The resync flag is atomic so
// push transports can raise it without taking the session lock.
type Session struct {
	id        string
	createdAt time.Time

	mu     sync.Mutex
	uis    map[int]*UI
	nextUI int
	deps   *dependency.List

	resync int32

	// seeded from a checkpoint; consumed as UIs are recreated
	restored map[int]UICheckpoint

	// notify runs after Unlock for every UI left with unsent work. Set
	// once before the session is shared, nil when nothing pushes.
	notify func(sessionID string, uiID int)

	log log.Log
}

func New(logger log.Log) *Session {
	return NewWithID(uuid.NewString(), logger)
}

// NewWithID creates a session under a caller-chosen id. Used when
// resuming a checkpointed session after a restart.
func NewWithID(id string, logger log.Log) *Session {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(log.String("session", id))
	return &Session{
		id:        id,
		createdAt: time.Now(),
		uis:       make(map[int]*UI),
		deps:      dependency.NewList(logger),
		log:       logger,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// OnPendingWork registers fn to run after every Unlock that leaves a UI
// with unsent changes or queued scripts. Push transports use it to
// schedule a flush without polling; a bare resynchronization flag does
// not fire it, the transport's heartbeat sweep covers that. Must be set
// before the session is shared.
func (s *Session) OnPendingWork(fn func(sessionID string, uiID int)) {
	s.notify = fn
}

// Lock acquires the session for a request/flush cycle.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session. If a notifier is registered and UIs
// still hold unsent work, it fires once per such UI after the lock is
// gone, so handlers are free to lock the session again.
func (s *Session) Unlock() {
	var pending []int
	if s.notify != nil {
		for id, u := range s.uis {
			if u.Dirty() || u.PendingJS() {
				pending = append(pending, id)
			}
		}
		sort.Ints(pending)
	}
	s.mu.Unlock()

	for _, id := range pending {
		s.notify(s.id, id)
	}
}

// CreateUI builds a new UI whose root node hosts the given component
// type. Callers hold the session lock.
func (s *Session) CreateUI(rootTag, rootComponent string) *UI {
	s.nextUI++
	u := newUI(s.nextUI, s, rootTag, rootComponent)
	if cp, ok := s.restored[u.id]; ok {
		u.serverSyncID = cp.SyncID
		u.lastProcessedClientID = cp.LastClientID
		delete(s.restored, u.id)
	}
	s.uis[u.id] = u
	s.log.Debug("ui created", log.Int("ui", u.id), log.String("root", rootComponent))
	return u
}

// UI returns the UI with the given id. Callers hold the session lock.
func (s *Session) UI(id int) (*UI, bool) {
	u, ok := s.uis[id]
	return u, ok
}

// UIs returns the session's UIs ordered by id. Callers hold the lock.
func (s *Session) UIs() []*UI {
	out := make([]*UI, 0, len(s.uis))
	for id := 1; id <= s.nextUI; id++ {
		if u, ok := s.uis[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Dependencies returns the session-wide sent-dependency tracking.
func (s *Session) Dependencies() *dependency.List { return s.deps }

// RequireResync flags the session so the next flush resends the full
// tree state. Safe to call from any goroutine.
func (s *Session) RequireResync() {
	if atomic.CompareAndSwapInt32(&s.resync, 0, 1) {
		s.log.Info("resynchronization required")
	}
}

// ResyncRequired reports the flag without clearing it.
func (s *Session) ResyncRequired() bool {
	return atomic.LoadInt32(&s.resync) == 1
}

// ConsumeResync clears the flag and reports whether it was set. The
// flusher calls this once per cycle; a failed delivery re-raises it.
func (s *Session) ConsumeResync() bool {
	return atomic.CompareAndSwapInt32(&s.resync, 1, 0)
}

// Checkpoint captures the state needed to survive a restart: sequence
// counters per UI and the keys of everything already shipped to the
// client. Tree contents are deliberately absent, a resumed session
// rebuilds them and resynchronizes. Callers hold the session lock.
func (s *Session) Checkpoint() Checkpoint {
	cp := Checkpoint{
		SessionID: s.id,
		SavedAt:   time.Now(),
		UIs:       make(map[int]UICheckpoint, len(s.uis)),
		Sent:      s.deps.Snapshot(),
	}
	for id, u := range s.uis {
		cp.UIs[id] = UICheckpoint{SyncID: u.serverSyncID, LastClientID: u.lastProcessedClientID}
	}
	return cp
}

// Restore seeds the session from a checkpoint: the sent-dependency set
// is replayed so nothing ships twice, UI counters apply as the UIs are
// recreated, and a resync is scheduled because the restarted server has
// no tree to diff against. Callers hold the session lock.
func (s *Session) Restore(cp Checkpoint) {
	s.deps.Restore(cp.Sent)
	if len(cp.UIs) > 0 {
		s.restored = make(map[int]UICheckpoint, len(cp.UIs))
		for id, u := range cp.UIs {
			s.restored[id] = u
		}
	}
	s.RequireResync()
}
