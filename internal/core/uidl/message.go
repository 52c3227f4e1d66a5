// Package uidl serializes tree changes, dependencies and queued script
// calls into the JSON messages the client runtime consumes, and hosts
// the writer that drives change collection.
package uidl

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/tree"
)

// DependencyEntry is the wire form of one dependency. Exactly one of
// URL and Contents is set: inline entries carry their payload, all
// others a reference.
type DependencyEntry struct {
	Type     string `json:"type"`
	Mode     string `json:"mode"`
	URL      string `json:"url,omitempty"`
	Contents string `json:"contents,omitempty"`
}

// Message is one server-to-client sync payload. Dependency buckets are
// keyed by load mode name at the top level; empty buckets are omitted,
// as is the resynchronize marker unless set.
type Message struct {
	SyncID        int               `json:"syncId"`
	ClientID      int               `json:"clientId"`
	Changes       []tree.Change     `json:"changes,omitempty"`
	Eager         []DependencyEntry `json:"EAGER,omitempty"`
	Lazy          []DependencyEntry `json:"LAZY,omitempty"`
	Inline        []DependencyEntry `json:"INLINE,omitempty"`
	Execute       [][]any           `json:"execute,omitempty"`
	Resynchronize bool              `json:"resynchronize,omitempty"`
}

// Bucket returns the dependency entries shipped under a load mode.
func (m *Message) Bucket(mode dependency.LoadMode) []DependencyEntry {
	switch mode {
	case dependency.LoadEager:
		return m.Eager
	case dependency.LoadLazy:
		return m.Lazy
	case dependency.LoadInline:
		return m.Inline
	default:
		return nil
	}
}

func (m *Message) appendEntry(mode dependency.LoadMode, entry DependencyEntry) {
	switch mode {
	case dependency.LoadEager:
		m.Eager = append(m.Eager, entry)
	case dependency.LoadLazy:
		m.Lazy = append(m.Lazy, entry)
	case dependency.LoadInline:
		m.Inline = append(m.Inline, entry)
	}
}

// DependencyCount totals the entries across all buckets.
func (m *Message) DependencyCount() int {
	return len(m.Eager) + len(m.Lazy) + len(m.Inline)
}

// Encode renders the message as JSON.
func (m *Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode sync message")
	}
	return raw, nil
}

// Decode parses a JSON sync message.
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "decode sync message")
	}
	return &m, nil
}
