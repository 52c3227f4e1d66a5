package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/core/dependency"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenStore(filepath.Join(t.TempDir(), "sessions.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreSaveLoadDelete(t *testing.T) {
	st := openTestStore(t)

	cp := Checkpoint{
		SessionID: "s-1",
		SavedAt:   time.Now(),
		UIs:       map[int]UICheckpoint{1: {SyncID: 5, LastClientID: 3}},
		Sent: []dependency.SentEntry{{
			Key:  dependency.Key{Kind: dependency.KindStylesheet, Ref: "theme.css"},
			Mode: dependency.LoadEager,
		}},
	}
	require.NoError(t, st.Save(cp))

	got, found, err := st.Load("s-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.Equal(t, cp.UIs, got.UIs)
	assert.Equal(t, cp.Sent, got.Sent)

	ids, err := st.SessionIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, ids)

	require.NoError(t, st.Delete("s-1"))
	_, found, err = st.Load("s-1")
	require.NoError(t, err)
	assert.False(t, found, "a closed session leaves no dependency history behind")
}

func TestStoreLoadMissing(t *testing.T) {
	st := openTestStore(t)
	_, found, err := st.Load("absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSaveReplaces(t *testing.T) {
	st := openTestStore(t)

	first := Checkpoint{SessionID: "s-2", UIs: map[int]UICheckpoint{1: {SyncID: 1}}}
	second := Checkpoint{SessionID: "s-2", UIs: map[int]UICheckpoint{1: {SyncID: 9}}}
	require.NoError(t, st.Save(first))
	require.NoError(t, st.Save(second))

	got, found, err := st.Load("s-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 9, got.UIs[1].SyncID)
}
