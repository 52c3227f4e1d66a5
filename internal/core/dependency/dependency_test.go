package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		dep  Dependency
		want error
	}{
		{"url only", New(KindJavaScript, "app.js", LoadEager), nil},
		{"contents only", NewInline(KindStylesheet, "body{margin:0}"), nil},
		{"neither", Dependency{Kind: KindJavaScript, Mode: LoadEager}, ErrNoSource},
		{
			"both",
			Dependency{Kind: KindStylesheet, Mode: LoadInline, URL: "a.css", Contents: "x"},
			ErrAmbiguousSource,
		},
		{
			"contents outside inline",
			Dependency{Kind: KindStylesheet, Mode: LoadEager, Contents: "x"},
			ErrContentsNotInline,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.dep.Validate(), tc.want)
		})
	}
}

func TestKeyIgnoresLoadMode(t *testing.T) {
	eager := New(KindStylesheet, "theme.css", LoadEager)
	lazy := New(KindStylesheet, "theme.css", LoadLazy)
	assert.Equal(t, eager.Key(), lazy.Key())

	otherKind := New(KindJavaScript, "theme.css", LoadEager)
	assert.NotEqual(t, eager.Key(), otherKind.Key())

	inline := NewInline(KindStylesheet, "body{}")
	assert.Equal(t, "body{}", inline.Key().Ref)
}

func TestChunkIDStableAndDistinct(t *testing.T) {
	a := ChunkID("app.TextInput")
	b := ChunkID("app.TextInput")
	c := ChunkID("app.SearchInput")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestChunkLoaderExpression(t *testing.T) {
	id := ChunkID("app.TextInput")
	loader := ChunkLoader(id)

	assert.Equal(t, KindDynamicImport, loader.Kind)
	assert.Equal(t, LoadLazy, loader.Mode)
	assert.Equal(t, "return window.Vaadin.Flow.loadOnDemand('"+id+"');", loader.URL)
	assert.NoError(t, loader.Validate())
}

func TestKindAndModeRoundTripText(t *testing.T) {
	for _, k := range []Kind{KindJavaScript, KindJSModule, KindStylesheet, KindDynamicImport} {
		var back Kind
		require.NoError(t, back.UnmarshalText([]byte(k.String())))
		assert.Equal(t, k, back)
	}
	for _, m := range Modes() {
		var back LoadMode
		require.NoError(t, back.UnmarshalText([]byte(m.String())))
		assert.Equal(t, m, back)
	}

	var k Kind
	err := k.UnmarshalText([]byte("FONT"))
	require.ErrorIs(t, err, ErrUnknownKind)

	var m LoadMode
	err = m.UnmarshalText([]byte("later"))
	require.ErrorIs(t, err, ErrUnknownLoadMode)

	assert.Equal(t, "EAGER", LoadEager.String())
}
