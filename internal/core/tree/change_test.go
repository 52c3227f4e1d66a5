package tree

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestChangeWireShape(t *testing.T) {
	cases := []struct {
		name   string
		change Change
		want   map[string]any
	}{
		{
			name: "attach carries structure and element data",
			change: Change{
				Type: ChangeAttach, Node: 7, Parent: 1, Index: 0,
				Tag: "div", Component: "app.Counter",
			},
			want: map[string]any{
				"type": "attach", "node": 7.0, "parent": 1.0, "index": 0.0,
				"tag": "div", "component": "app.Counter",
			},
		},
		{
			name:   "detach is minimal",
			change: Change{Type: ChangeDetach, Node: 7},
			want:   map[string]any{"type": "detach", "node": 7.0},
		},
		{
			name:   "insert keeps a zero index",
			change: Change{Type: ChangeListInsert, Node: 1, Index: 0, Child: 9},
			want:   map[string]any{"type": "insert", "node": 1.0, "index": 0.0, "child": 9.0},
		},
		{
			name:   "attr keeps explicit nil values",
			change: Change{Type: ChangeAttribute, Node: 4, Key: "hidden", Value: nil},
			want:   map[string]any{"type": "attr", "node": 4.0, "key": "hidden", "value": nil},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.change)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(raw, &got))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("wire object mismatch (-want +got):\n%s", diff)
			}

			var back Change
			require.NoError(t, json.Unmarshal(raw, &back))
			require.Equal(t, tc.change.Type, back.Type)
			require.Equal(t, tc.change.Node, back.Node)
		})
	}
}

func TestParseChangeTypeRejectsUnknown(t *testing.T) {
	_, err := ParseChangeType("mutate")
	require.Error(t, err)
}
