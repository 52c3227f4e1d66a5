package dependency

import (
	"github.com/treesync/treesync/internal/core/observability/log"
)

// List tracks every dependency a session has received. The set only
// grows: once a key is known it is filtered out of all later additions,
// including across resynchronizations. Pending holds the entries that
// still have to go out with the next message.
//
// A List is guarded by the owning session's lock, like the state tree.
type List struct {
	known   map[Key]LoadMode
	order   []Key
	pending []Dependency
	log     log.Log
}

func NewList(logger log.Log) *List {
	if logger == nil {
		logger = log.Nop()
	}
	return &List{
		known: make(map[Key]LoadMode),
		log:   logger,
	}
}

// Add queues every dependency that the session has not seen yet.
// Re-adding a known key is a no-op; re-adding it under a different load
// mode keeps the first mode and logs a warning, because the client
// already acted on the original one.
func (l *List) Add(deps ...Dependency) {
	for _, d := range deps {
		if l.mark(d) {
			l.pending = append(l.pending, d)
		}
	}
}

// MarkSent records dependencies as known without queuing them. Used for
// resources that reach the client through another channel, such as lazy
// dependencies bundled into a chunk.
func (l *List) MarkSent(deps ...Dependency) {
	for _, d := range deps {
		l.mark(d)
	}
}

func (l *List) mark(d Dependency) bool {
	key := d.Key()
	if mode, ok := l.known[key]; ok {
		if mode != d.Mode {
			l.log.Warn("dependency already tracked with a different load mode",
				log.String("ref", key.Ref),
				log.String("kind", key.Kind.String()),
				log.String("tracked_mode", mode.String()),
				log.String("ignored_mode", d.Mode.String()),
			)
		}
		return false
	}
	l.known[key] = d.Mode
	l.order = append(l.order, key)
	return true
}

// FilterNew returns the subset of deps the session has never seen,
// preserving order. It does not mutate the list.
func (l *List) FilterNew(deps []Dependency) []Dependency {
	var out []Dependency
	seen := make(map[Key]struct{})
	for _, d := range deps {
		key := d.Key()
		if _, known := l.known[key]; known {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Pending returns the queued dependencies in insertion order.
func (l *List) Pending() []Dependency {
	out := make([]Dependency, len(l.pending))
	copy(out, l.pending)
	return out
}

func (l *List) HasPending() bool { return len(l.pending) > 0 }

// ClearPending drops the queue once the entries have been serialized.
// The keys stay known.
func (l *List) ClearPending() { l.pending = nil }

// Len reports how many distinct dependencies the session knows about.
func (l *List) Len() int { return len(l.known) }

// SentEntry is the persistable form of one known dependency.
type SentEntry struct {
	Key  Key      `json:"key"`
	Mode LoadMode `json:"mode"`
}

// Snapshot exports the known set in insertion order, for checkpointing.
func (l *List) Snapshot() []SentEntry {
	out := make([]SentEntry, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, SentEntry{Key: key, Mode: l.known[key]})
	}
	return out
}

// Restore seeds the known set from a checkpoint. Entries already known
// keep their current mode.
func (l *List) Restore(entries []SentEntry) {
	for _, e := range entries {
		if _, ok := l.known[e.Key]; ok {
			continue
		}
		l.known[e.Key] = e.Mode
		l.order = append(l.order, e.Key)
	}
}
