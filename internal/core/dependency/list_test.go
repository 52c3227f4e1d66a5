package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAddQueuesOnlyUnknown(t *testing.T) {
	l := NewList(nil)

	theme := New(KindStylesheet, "theme.css", LoadEager)
	app := New(KindJavaScript, "app.js", LoadEager)

	l.Add(theme, app, theme)
	require.Len(t, l.Pending(), 2)
	assert.Equal(t, 2, l.Len())

	l.ClearPending()
	assert.False(t, l.HasPending())

	// a later turn re-declares both: nothing new goes out
	l.Add(theme, app)
	assert.Empty(t, l.Pending())
	assert.Equal(t, 2, l.Len())
}

func TestListModeConflictKeepsFirstMode(t *testing.T) {
	l := NewList(nil)
	l.Add(New(KindStylesheet, "theme.css", LoadEager))
	l.ClearPending()

	l.Add(New(KindStylesheet, "theme.css", LoadInline))
	assert.Empty(t, l.Pending(), "conflicting re-registration must not resend")

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, LoadEager, snap[0].Mode)
}

func TestFilterNewDoesNotMutate(t *testing.T) {
	l := NewList(nil)
	known := New(KindJavaScript, "known.js", LoadEager)
	l.MarkSent(known)

	fresh := New(KindJavaScript, "fresh.js", LoadEager)
	out := l.FilterNew([]Dependency{known, fresh, fresh})
	require.Len(t, out, 1)
	assert.Equal(t, "fresh.js", out[0].URL)

	// filtering alone must not make the fresh entry known
	again := l.FilterNew([]Dependency{fresh})
	assert.Len(t, again, 1)
}

func TestMarkSentSuppressesLaterAdd(t *testing.T) {
	l := NewList(nil)
	lazy := New(KindStylesheet, "widget.css", LoadLazy)

	l.MarkSent(lazy)
	l.Add(lazy)
	assert.Empty(t, l.Pending())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := NewList(nil)
	l.Add(
		New(KindStylesheet, "theme.css", LoadEager),
		New(KindJavaScript, "app.js", LoadLazy),
	)
	l.ClearPending()

	restored := NewList(nil)
	restored.Restore(l.Snapshot())

	assert.Equal(t, l.Len(), restored.Len())
	restored.Add(New(KindStylesheet, "theme.css", LoadEager))
	assert.Empty(t, restored.Pending(), "restored keys must keep filtering")
	assert.Equal(t, l.Snapshot(), restored.Snapshot())
}
