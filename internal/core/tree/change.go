package tree

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// NodeID identifies a node within its tree. IDs are assigned once at
// creation and never reused. NoNode (zero) means "no node", it is used
// as the parent of the root in attach changes.
type NodeID uint64

const NoNode NodeID = 0

// ChangeType enumerates the change variants a node can record.
type ChangeType uint8

const (
	// ChangeAttach announces a node to the client. It carries the parent,
	// the position among the parent's children, the element tag and,
	// when the node hosts a component, the component type name.
	ChangeAttach ChangeType = iota
	// ChangeDetach tells the client to drop the node and its subtree.
	ChangeDetach
	// ChangeAttribute carries a single attribute key/value.
	ChangeAttribute
	// ChangeProperty carries a single property key/value.
	ChangeProperty
	// ChangeListInsert places an already known node into a children list.
	ChangeListInsert
	// ChangeListRemove removes the child at an index from a children list.
	ChangeListRemove
	// ChangeListClear empties a children list in one step.
	ChangeListClear
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAttach:
		return "attach"
	case ChangeDetach:
		return "detach"
	case ChangeAttribute:
		return "attr"
	case ChangeProperty:
		return "prop"
	case ChangeListInsert:
		return "insert"
	case ChangeListRemove:
		return "remove"
	case ChangeListClear:
		return "clear"
	default:
		return "unknown"
	}
}

// ParseChangeType is the inverse of ChangeType.String.
func ParseChangeType(s string) (ChangeType, error) {
	switch s {
	case "attach":
		return ChangeAttach, nil
	case "detach":
		return ChangeDetach, nil
	case "attr":
		return ChangeAttribute, nil
	case "prop":
		return ChangeProperty, nil
	case "insert":
		return ChangeListInsert, nil
	case "remove":
		return ChangeListRemove, nil
	case "clear":
		return ChangeListClear, nil
	default:
		return 0, errors.Errorf("unknown change type %q", s)
	}
}

// Change is one recorded mutation of one node. Only the fields relevant
// for the Type are set; the wire encoding omits the rest. Changes are
// immutable once recorded.
type Change struct {
	Type      ChangeType
	Node      NodeID
	Parent    NodeID // attach
	Index     int    // attach, insert, remove
	Tag       string // attach
	Component string // attach, component type name if the node hosts one
	Key       string // attr, prop
	Value     any    // attr, prop
	Child     NodeID // insert
}

func (c Change) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type": c.Type.String(),
		"node": uint64(c.Node),
	}
	switch c.Type {
	case ChangeAttach:
		m["parent"] = uint64(c.Parent)
		m["index"] = c.Index
		if c.Tag != "" {
			m["tag"] = c.Tag
		}
		if c.Component != "" {
			m["component"] = c.Component
		}
	case ChangeAttribute, ChangeProperty:
		m["key"] = c.Key
		m["value"] = c.Value
	case ChangeListInsert:
		m["index"] = c.Index
		m["child"] = uint64(c.Child)
	case ChangeListRemove:
		m["index"] = c.Index
	}
	return json.Marshal(m)
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string `json:"type"`
		Node      uint64 `json:"node"`
		Parent    uint64 `json:"parent"`
		Index     int    `json:"index"`
		Tag       string `json:"tag"`
		Component string `json:"component"`
		Key       string `json:"key"`
		Value     any    `json:"value"`
		Child     uint64 `json:"child"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode change")
	}
	typ, err := ParseChangeType(raw.Type)
	if err != nil {
		return err
	}
	*c = Change{
		Type:      typ,
		Node:      NodeID(raw.Node),
		Parent:    NodeID(raw.Parent),
		Index:     raw.Index,
		Tag:       raw.Tag,
		Component: raw.Component,
		Key:       raw.Key,
		Value:     raw.Value,
		Child:     NodeID(raw.Child),
	}
	return nil
}
