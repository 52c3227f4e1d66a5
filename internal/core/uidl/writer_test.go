package uidl

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/component"
	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/session"
	"github.com/treesync/treesync/internal/core/tree"
)

type staticResources map[string]string

func (r staticResources) Contents(url string) (string, error) {
	c, ok := r[url]
	if !ok {
		return "", errors.Errorf("no resource registered for %q", url)
	}
	return c, nil
}

func eagerCSS(url string) dependency.Dependency {
	return dependency.New(dependency.KindStylesheet, url, dependency.LoadEager)
}

func eagerJS(url string) dependency.Dependency {
	return dependency.New(dependency.KindJavaScript, url, dependency.LoadEager)
}

// buildCatalog registers the widget hierarchy the writer tests run
// against:
//
//	app.BaseShell (ui) <- app.Shell (ui, shell.css)
//	app.Widget (widget.css/js)
//	  <- app.StyledWidget (+mixin HasTheme)
//	       <- app.Field (+mixin HasLabel, field.css/js)
//	            <- app.FancyField (+mixin HasBadge<-HasIcon, two css)
//	app.HomeView (routed, home-view.css)
//	app.Gauge (one dependency per load mode)
func buildCatalog(t *testing.T) *component.Registry {
	t.Helper()
	r := component.NewRegistry(nil)
	reg := func(typ component.Type) {
		t.Helper()
		require.NoError(t, r.Register(typ))
	}

	reg(component.Type{Name: "app.BaseShell", Kind: component.KindUI, Tag: "body"})
	reg(component.Type{Name: "app.Shell", Kind: component.KindUI, Extends: "app.BaseShell", Tag: "body",
		Dependencies: []dependency.Dependency{eagerCSS("shell.css")}})

	reg(component.Type{Name: "app.HasTheme", Kind: component.KindMixin,
		Dependencies: []dependency.Dependency{eagerCSS("has-theme.css"), eagerJS("has-theme.js")}})
	reg(component.Type{Name: "app.HasLabel", Kind: component.KindMixin,
		Dependencies: []dependency.Dependency{eagerCSS("has-label.css"), eagerJS("has-label.js")}})
	reg(component.Type{Name: "app.HasIcon", Kind: component.KindMixin,
		Dependencies: []dependency.Dependency{eagerCSS("has-icon.css"), eagerJS("has-icon.js")}})
	reg(component.Type{Name: "app.HasBadge", Kind: component.KindMixin, Mixins: []string{"app.HasIcon"},
		Dependencies: []dependency.Dependency{eagerCSS("has-badge.css"), eagerJS("has-badge.js")}})

	reg(component.Type{Name: "app.Widget", Tag: "div",
		Dependencies: []dependency.Dependency{eagerCSS("widget.css"), eagerJS("widget.js")}})
	reg(component.Type{Name: "app.StyledWidget", Tag: "div", Extends: "app.Widget",
		Mixins: []string{"app.HasTheme"}})
	reg(component.Type{Name: "app.Field", Tag: "div", Extends: "app.StyledWidget",
		Mixins:       []string{"app.HasLabel"},
		Dependencies: []dependency.Dependency{eagerCSS("field.css"), eagerJS("field.js")}})
	reg(component.Type{Name: "app.FancyField", Tag: "div", Extends: "app.Field",
		Mixins:       []string{"app.HasBadge"},
		Dependencies: []dependency.Dependency{eagerCSS("fancy-field.css"), eagerCSS("fancy-field-extra.css")}})

	reg(component.Type{Name: "app.HomeView", Tag: "main", Route: "/",
		Dependencies: []dependency.Dependency{eagerCSS("home-view.css")}})

	reg(component.Type{Name: "app.Gauge", Tag: "canvas", Dependencies: []dependency.Dependency{
		dependency.New(dependency.KindStylesheet, "eager.css", dependency.LoadEager),
		dependency.New(dependency.KindStylesheet, "lazy.css", dependency.LoadLazy),
		dependency.New(dependency.KindStylesheet, "inline.css", dependency.LoadInline),
	}})

	return r
}

type flushEnv struct {
	cfg    *config.Config
	writer *Writer
	ui     *session.UI
}

func newFlushEnv(t *testing.T, production bool) *flushEnv {
	t.Helper()
	cfg := config.Default()
	cfg.ProductionMode = production
	res := staticResources{"inline.css": "/* gauge baseline style */"}
	w := NewWriter(cfg, buildCatalog(t), res, nil)

	s := session.New(nil)
	s.Lock()
	u := s.CreateUI("body", "app.Shell")
	s.Unlock()

	return &flushEnv{cfg: cfg, writer: w, ui: u}
}

func (e *flushEnv) flush(t *testing.T) *Message {
	t.Helper()
	msg, err := e.writer.Write(e.ui, false)
	require.NoError(t, err)
	return msg
}

func (e *flushEnv) attach(typeName string) *tree.Node {
	tr := e.ui.Tree()
	n := tr.NewComponent("div", typeName)
	tr.Root().AppendChild(n)
	return n
}

func isLoader(e DependencyEntry) bool {
	return strings.Contains(e.URL, "loadOnDemand")
}

// loaders returns the chunk loader expressions of a message in order.
func loaders(msg *Message) []string {
	var out []string
	for _, e := range msg.Lazy {
		if isLoader(e) {
			out = append(out, e.URL)
		}
	}
	return out
}

// resourceRefs returns the non-loader entries across all buckets: urls
// for referenced resources, contents for inline ones.
func resourceRefs(msg *Message) []string {
	var out []string
	for _, mode := range dependency.Modes() {
		for _, e := range msg.Bucket(mode) {
			if isLoader(e) {
				continue
			}
			if e.URL != "" {
				out = append(out, e.URL)
			} else {
				out = append(out, e.Contents)
			}
		}
	}
	return out
}

func loaderFor(typeName string) string {
	return dependency.ChunkLoader(dependency.ChunkID(typeName)).URL
}

func TestFirstFlushAnnouncesRootAndItsDependencies(t *testing.T) {
	env := newFlushEnv(t, false)

	msg := env.flush(t)

	require.NotEmpty(t, msg.Changes)
	assert.Equal(t, tree.ChangeAttach, msg.Changes[0].Type)
	assert.Equal(t, "app.Shell", msg.Changes[0].Component)

	assert.Equal(t, []string{"shell.css"}, resourceRefs(msg))
	assert.Equal(t, []string{loaderFor("app.Shell")}, loaders(msg))

	assert.Equal(t, 0, msg.SyncID)
	assert.False(t, msg.Resynchronize)
	assert.False(t, env.ui.Dirty())
}

func TestComponentDependenciesAncestorsFirst(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)

	env.attach("app.Field")
	msg := env.flush(t)

	assert.Equal(t, []string{
		"widget.css", "widget.js",
		"has-theme.css", "has-theme.js",
		"has-label.css", "has-label.js",
		"field.css", "field.js",
	}, resourceRefs(msg), "inherited resources ship before mixin ones, own close the list")
}

func TestDependenciesAreNeverResent(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)

	env.attach("app.Field")
	second := env.flush(t)
	require.NotEmpty(t, resourceRefs(second))

	// more instances of known types: everything already shipped
	env.attach("app.Field")
	env.attach("app.Widget")
	third := env.flush(t)

	assert.Empty(t, resourceRefs(third))
	assert.Equal(t, []string{loaderFor("app.Widget")}, loaders(third),
		"only the newly seen type's chunk loader goes out")
}

func TestOnlyNewInterfaceDependenciesShip(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)
	env.attach("app.Field")
	env.flush(t)

	env.attach("app.FancyField")
	msg := env.flush(t)

	assert.Equal(t, []string{
		"has-icon.css", "has-icon.js",
		"has-badge.css", "has-badge.js",
		"fancy-field.css", "fancy-field-extra.css",
	}, resourceRefs(msg), "the whole parent chain is known, only mixin chain and own resources are new")
}

func TestAllLoadModeBuckets(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)

	env.attach("app.Gauge")
	msg := env.flush(t)

	require.Len(t, msg.Eager, 1)
	assert.Equal(t, "eager.css", msg.Eager[0].URL)
	assert.Empty(t, msg.Eager[0].Contents)
	assert.Equal(t, "STYLESHEET", msg.Eager[0].Type)
	assert.Equal(t, "EAGER", msg.Eager[0].Mode)

	require.Len(t, msg.Inline, 1)
	assert.Equal(t, "/* gauge baseline style */", msg.Inline[0].Contents)
	assert.Empty(t, msg.Inline[0].URL, "inline entries must not leak their source url")
	assert.Equal(t, "INLINE", msg.Inline[0].Mode)

	require.Len(t, msg.Lazy, 1)
	assert.Equal(t, loaderFor("app.Gauge"), msg.Lazy[0].URL,
		"lazy resources reach the client through their chunk's loader")
	assert.Equal(t, "DYNAMIC_IMPORT", msg.Lazy[0].Type)
}

func TestLazyResourceNeverShipsIndividually(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)
	env.attach("app.Gauge")
	env.flush(t)

	// even a later eager re-declaration of the same url stays filtered
	env.ui.Dependencies().Add(dependency.New(dependency.KindStylesheet, "lazy.css", dependency.LoadEager))
	assert.Empty(t, env.ui.Dependencies().Pending())
}

func TestDevelopmentChunksArePerType(t *testing.T) {
	env := newFlushEnv(t, false)
	first := env.flush(t)
	require.Equal(t, []string{loaderFor("app.Shell")}, loaders(first))

	env.attach("app.FancyField")
	env.attach("app.HomeView")
	second := env.flush(t)

	assert.Equal(t, []string{
		loaderFor("app.FancyField"),
		loaderFor("app.HomeView"),
	}, loaders(second), "development mode loads exactly the contributing type's chunk")
}

func TestProductionChunksFollowExtendsChain(t *testing.T) {
	env := newFlushEnv(t, true)
	first := env.flush(t)
	require.Equal(t, []string{loaderFor("app.Shell")}, loaders(first),
		"UI ancestors belong to the entry bundle, only the concrete shell chunk ships")

	env.attach("app.FancyField")
	env.attach("app.HomeView")
	second := env.flush(t)

	assert.Equal(t, []string{
		loaderFor("app.FancyField"),
		loaderFor("app.Field"),
		loaderFor("app.StyledWidget"),
		loaderFor("app.Widget"),
		loaderFor("app.HomeView"),
	}, loaders(second), "production walks the inheritance chain, mixins stay chunkless")
}

func TestResynchronizeRestatesTreeWithoutResendingDependencies(t *testing.T) {
	env := newFlushEnv(t, false)
	env.attach("app.Field")
	first := env.flush(t)
	require.Positive(t, first.DependencyCount())

	msg, err := env.writer.Write(env.ui, true)
	require.NoError(t, err)

	assert.True(t, msg.Resynchronize)
	assert.Equal(t, first.SyncID+1, msg.SyncID, "sync sequence continues across a resync")
	assert.Zero(t, msg.DependencyCount(), "the sent-dependency set survives resynchronization")

	attaches := 0
	for _, c := range msg.Changes {
		if c.Type == tree.ChangeAttach {
			attaches++
		}
	}
	assert.Equal(t, 2, attaches, "full state: root and the field are restated")
	assert.False(t, env.ui.Dirty())
}

func TestExecuteJavaScriptEncoding(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)

	detached := env.ui.Tree().NewElement("button")
	env.ui.ExecuteJS("$0.focus()", detached)
	env.ui.ExecuteJS("console.log($0, $1)", "Lives remaining:", 3)
	env.ui.ExecuteJS("$0.scrollIntoView()", env.ui.Tree().Root())

	msg := env.flush(t)
	require.Len(t, msg.Execute, 3)

	assert.Equal(t, []any{nil, "$0.focus()"}, msg.Execute[0],
		"a node the client does not know encodes as null")
	assert.Equal(t, []any{"Lives remaining:", 3, "console.log($0, $1)"}, msg.Execute[1])
	assert.Equal(t, []any{uint64(env.ui.Tree().Root().ID()), "$0.scrollIntoView()"}, msg.Execute[2])

	assert.Empty(t, env.flush(t).Execute, "the queue drains with the flush")
}

func TestCollectionStopsAtPassBoundWhenTreeNeverSettles(t *testing.T) {
	env := newFlushEnv(t, false)
	env.cfg.MaxCollectPasses = 7
	env.flush(t)

	tick := 0
	var loop func()
	loop = func() {
		tick++
		env.ui.Tree().Root().SetAttribute("tick", tick)
		env.ui.Tree().BeforeClientResponse(loop)
	}
	env.ui.Tree().BeforeClientResponse(loop)

	msg := env.flush(t)

	assert.Len(t, msg.Changes, 7, "one change per pass up to the bound")
	assert.True(t, env.ui.Dirty(), "leftover work is reported, not dropped")

	// the next cycle keeps making progress
	next := env.flush(t)
	assert.NotEmpty(t, next.Changes)
}

func TestUnregisteredComponentTypeIsSkipped(t *testing.T) {
	env := newFlushEnv(t, false)
	env.flush(t)

	env.attach("app.Unregistered")
	msg := env.flush(t)

	require.NotEmpty(t, msg.Changes, "tree changes still ship")
	assert.Zero(t, msg.DependencyCount())
	assert.False(t, env.ui.Dirty())
}

func TestUnreadableInlineResourceIsSkipped(t *testing.T) {
	cfg := config.Default()
	registry := buildCatalog(t)
	w := NewWriter(cfg, registry, staticResources{}, nil) // no inline.css registered

	s := session.New(nil)
	s.Lock()
	u := s.CreateUI("body", "app.Shell")
	s.Unlock()
	_, err := w.Write(u, false)
	require.NoError(t, err)

	tr := u.Tree()
	tr.Root().AppendChild(tr.NewComponent("canvas", "app.Gauge"))
	msg, err := w.Write(u, false)
	require.NoError(t, err)

	assert.Len(t, msg.Eager, 1, "readable entries still ship")
	assert.Empty(t, msg.Inline, "the unreadable inline entry is dropped, not sent broken")
}

func TestSyncSequenceAdvancesPerFlush(t *testing.T) {
	env := newFlushEnv(t, false)

	first := env.flush(t)
	second := env.flush(t)
	third := env.flush(t)

	assert.Equal(t, 0, first.SyncID)
	assert.Equal(t, 1, second.SyncID)
	assert.Equal(t, 2, third.SyncID)
	assert.Empty(t, second.Changes, "a clean tree flushes no changes")

	env.ui.SetLastProcessedClientID(5)
	fourth := env.flush(t)
	assert.Equal(t, 5, fourth.ClientID, "the newest processed client message is echoed")
}
