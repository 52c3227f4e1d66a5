package uidl

import (
	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/tree"
)

// ResourceProvider resolves the payload of url-declared inline
// dependencies at serialization time.
type ResourceProvider interface {
	Contents(url string) (string, error)
}

// Registry is the subset of the component catalog the writer needs.
type Registry interface {
	Resolve(name string) ([]dependency.Dependency, error)
	Chunks(name string, production bool) ([]string, error)
}

// Writer produces sync messages for UIs. One writer serves all
// sessions of a service; all per-client state lives in the UI and its
// session, which the caller has locked.
type Writer struct {
	cfg       *config.Config
	registry  Registry
	resources ResourceProvider
	log       log.Log
}

func NewWriter(cfg *config.Config, registry Registry, resources ResourceProvider, logger log.Log) *Writer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Writer{cfg: cfg, registry: registry, resources: resources, log: logger}
}

// Write runs one flush cycle for a UI: collect tree changes until the
// tree settles (bounded by MaxCollectPasses), resolve and queue the
// dependencies of newly attached component types, encode pending script
// calls and stamp the sequence counters.
//
// With resync set the tree is rewound to full state first and the
// message carries the resynchronize marker. The sent-dependency set is
// deliberately left alone: the client keeps its loaded resources across
// a resync, only the tree state is rebuilt.
//
// Write either fails before consuming anything or returns a complete
// message; a still-dirty tree after the pass bound is reported and the
// leftovers stay pending for the next cycle.
func (w *Writer) Write(u *session.UI, resync bool) (*Message, error) {
	t := u.Tree()
	if t == nil {
		return nil, ErrTreeUnavailable
	}
	if resync {
		t.PrepareResync()
	}

	msg := &Message{
		SyncID:        u.ServerSyncID(),
		ClientID:      u.LastProcessedClientID(),
		Resynchronize: resync,
	}

	maxPasses := w.cfg.MaxCollectPasses
	if maxPasses <= 0 {
		maxPasses = config.DefaultMaxCollectPasses
	}

	var (
		changes  []tree.Change
		newTypes []string
	)
	seen := make(map[string]struct{})
	passes := 0
	for t.HasDirtyNodes() && passes < maxPasses {
		passes++
		t.CollectChanges(func(c tree.Change) {
			changes = append(changes, c)
			if c.Type == tree.ChangeAttach && c.Component != "" {
				if _, dup := seen[c.Component]; !dup {
					seen[c.Component] = struct{}{}
					newTypes = append(newTypes, c.Component)
				}
			}
		})
	}
	if t.HasDirtyNodes() {
		w.log.Warn("state tree still dirty after change collection",
			log.Int("ui", u.ID()),
			log.Int("passes", passes),
		)
	}
	msg.Changes = changes

	w.appendDependencies(u, msg, newTypes)
	msg.Execute = encodeInvocations(u.DumpPendingJS())

	u.BumpServerSyncID()
	return msg, nil
}

// appendDependencies turns newly attached component types into wire
// entries. Eager and inline resources ship individually. Lazy resources
// are merged into their type's chunk: the entry the client sees is a
// single loader expression per chunk id, while the underlying resources
// are marked sent so they never ship again, not even after a resync.
func (w *Writer) appendDependencies(u *session.UI, msg *Message, types []string) {
	list := u.Dependencies()
	production := w.cfg.ProductionMode

	for _, name := range types {
		deps, err := w.registry.Resolve(name)
		if err != nil {
			w.log.Warn("attached component type is not registered",
				log.String("type", name), log.Error(err))
			continue
		}
		for _, d := range deps {
			if d.Mode == dependency.LoadLazy {
				list.MarkSent(d)
				continue
			}
			list.Add(d)
		}

		chunks, err := w.registry.Chunks(name, production)
		if err != nil {
			continue
		}
		for _, id := range chunks {
			list.Add(dependency.ChunkLoader(id))
		}
	}

	for _, d := range list.Pending() {
		entry, ok := w.buildEntry(d)
		if ok {
			msg.appendEntry(d.Mode, entry)
		}
	}
	list.ClearPending()
}

// buildEntry converts a dependency to its wire form. Inline entries
// always ship contents: a url-declared inline resource is read through
// the resource provider here and the url never reaches the client.
func (w *Writer) buildEntry(d dependency.Dependency) (DependencyEntry, bool) {
	entry := DependencyEntry{Type: d.Kind.String(), Mode: d.Mode.String()}
	if d.Mode != dependency.LoadInline {
		entry.URL = d.URL
		return entry, true
	}

	contents := d.Contents
	if contents == "" {
		if w.resources == nil {
			w.log.Error("cannot inline dependency contents",
				log.String("url", d.URL), log.Error(ErrNoResources))
			return DependencyEntry{}, false
		}
		read, err := w.resources.Contents(d.URL)
		if err != nil {
			w.log.Error("could not read inline dependency contents",
				log.String("url", d.URL), log.Error(err))
			return DependencyEntry{}, false
		}
		contents = read
	}
	entry.Contents = contents
	return entry, true
}

// encodeInvocations renders queued script calls as arrays of the form
// [param0, param1, ..., expression]. Node parameters become node ids;
// a node the client does not know (detached) becomes null.
func encodeInvocations(invocations []session.JSInvocation) [][]any {
	if len(invocations) == 0 {
		return nil
	}
	out := make([][]any, len(invocations))
	for i, inv := range invocations {
		row := make([]any, 0, len(inv.Params)+1)
		for _, p := range inv.Params {
			row = append(row, encodeParam(p))
		}
		row = append(row, inv.Expression)
		out[i] = row
	}
	return out
}

func encodeParam(p any) any {
	if n, ok := p.(*tree.Node); ok {
		if n == nil || !n.Attached() {
			return nil
		}
		return uint64(n.ID())
	}
	return p
}
