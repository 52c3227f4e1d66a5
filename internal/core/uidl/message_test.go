package uidl

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/tree"
)

func topLevelKeys(t *testing.T, raw []byte) []string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestMessageOmitsEmptySections(t *testing.T) {
	msg := &Message{SyncID: 3, ClientID: 1}
	raw, err := msg.Encode()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"syncId", "clientId"}, topLevelKeys(t, raw),
		"empty buckets, changes and the resync marker stay off the wire")
}

func TestMessageWireLayout(t *testing.T) {
	msg := &Message{
		SyncID:   4,
		ClientID: 2,
		Changes: []tree.Change{
			{Type: tree.ChangeAttach, Node: 2, Parent: 1, Index: 0, Tag: "div"},
		},
		Eager: []DependencyEntry{{
			Type: "STYLESHEET", Mode: "EAGER", URL: "theme.css",
		}},
		Inline: []DependencyEntry{{
			Type: "STYLESHEET", Mode: "INLINE", Contents: "body{margin:0}",
		}},
		Execute:       [][]any{{nil, "$0.focus()"}},
		Resynchronize: true,
	}

	raw, err := msg.Encode()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	want := map[string]any{
		"syncId":   4.0,
		"clientId": 2.0,
		"changes": []any{map[string]any{
			"type": "attach", "node": 2.0, "parent": 1.0, "index": 0.0, "tag": "div",
		}},
		"EAGER": []any{map[string]any{
			"type": "STYLESHEET", "mode": "EAGER", "url": "theme.css",
		}},
		"INLINE": []any{map[string]any{
			"type": "STYLESHEET", "mode": "INLINE", "contents": "body{margin:0}",
		}},
		"execute":       []any{[]any{nil, "$0.focus()"}},
		"resynchronize": true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wire layout mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		SyncID:   9,
		ClientID: 8,
		Changes: []tree.Change{
			{Type: tree.ChangeProperty, Node: 3, Key: "value", Value: "abc"},
		},
		Lazy: []DependencyEntry{{
			Type: "DYNAMIC_IMPORT", Mode: "LAZY",
			URL: dependency.ChunkLoader(dependency.ChunkID("app.Gauge")).URL,
		}},
	}
	raw, err := msg.Encode()
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, msg.SyncID, back.SyncID)
	assert.Equal(t, msg.ClientID, back.ClientID)
	require.Len(t, back.Changes, 1)
	assert.Equal(t, tree.ChangeProperty, back.Changes[0].Type)
	assert.Equal(t, "value", back.Changes[0].Key)
	assert.Equal(t, msg.Lazy, back.Lazy)
	assert.False(t, back.Resynchronize)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`{"changes": [{"type": "mutate"}]}`))
	require.Error(t, err)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestBucketSelection(t *testing.T) {
	msg := &Message{}
	msg.appendEntry(dependency.LoadEager, DependencyEntry{URL: "a"})
	msg.appendEntry(dependency.LoadLazy, DependencyEntry{URL: "b"})
	msg.appendEntry(dependency.LoadInline, DependencyEntry{Contents: "c"})

	assert.Len(t, msg.Bucket(dependency.LoadEager), 1)
	assert.Len(t, msg.Bucket(dependency.LoadLazy), 1)
	assert.Len(t, msg.Bucket(dependency.LoadInline), 1)
	assert.Equal(t, 3, msg.DependencyCount())
}
