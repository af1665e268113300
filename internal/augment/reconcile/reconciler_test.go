package reconcile_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/classify"
	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/augment/inject"
	"github.com/xkilldash9x/depthlens/internal/augment/pattern"
	"github.com/xkilldash9x/depthlens/internal/augment/reconcile"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/testing/harness"
)

const gallery = `
	<div id="list">
		<div class="item" id="i1"><img id="a" alt="Lake at dawn" src="/photos/lake.jpg" style="display:block;width:300px;height:200px"></div>
		<div class="item" id="i2"><img id="b" alt="Forest trail" src="/photos/forest.jpg" style="display:block;width:300px;height:200px"></div>
	</div>`

type fixture struct {
	page     *harness.Page
	ctx      *core.Context
	st       *inject.Strategist
	rec      *reconcile.Reconciler
	rejected map[*html.Node]core.RejectReason
	forgot   int
}

func setup(t *testing.T, body string, tweak ...func(*core.Policy)) *fixture {
	t.Helper()
	p := harness.NewPage(t, body)
	p.LoadAll(300, 200)

	policy := core.DefaultPolicy()
	for _, fn := range tweak {
		fn(&policy)
	}
	f := &fixture{page: p, rejected: make(map[*html.Node]core.RejectReason)}
	f.ctx = core.NewContext(context.Background(), p.Doc, p.Logger, policy, core.InlineSpawner{})
	t.Cleanup(f.ctx.Shutdown)

	cls, err := classify.New(p.Logger, p.Doc, classify.Options{Policy: policy})
	require.NoError(t, err)
	analyzer := pattern.New(p.Logger, p.Doc, policy)
	f.st = inject.New(f.ctx, func(*core.InjectionRecord) {})

	process := func(img *html.Node) {
		cand := f.ctx.Candidate(img)
		if v := cls.Classify(cand); !v.Eligible {
			f.rejected[img] = v.Reason
			return
		}
		delete(f.rejected, img)
		_, err := f.st.Inject(cand, analyzer.Analyze(dom.ParentElement(img), img))
		assert.NoError(t, err)
	}
	f.rec, err = reconcile.New(f.ctx, reconcile.Deps{
		Strategist: f.st,
		Process:    process,
		Forget:     func(*core.InjectionRecord) { f.forgot++ },
	})
	require.NoError(t, err)
	t.Cleanup(f.rec.Dispose)
	f.rec.Start()
	return f
}

func (f *fixture) zones() []*html.Node { return f.page.Query("." + core.ClassZone) }

func (f *fixture) record(t *testing.T, id string) *core.InjectionRecord {
	t.Helper()
	rec, ok := f.ctx.Table.Get(f.page.Doc.ID(f.page.Node(id)))
	require.True(t, ok, "#%s is not tracked", id)
	return rec
}

// assertOneZonePerImage checks that every tracked image has exactly one
// surface and no surface lacks an owner.
func (f *fixture) assertOneZonePerImage(t *testing.T) {
	t.Helper()
	perImage := make(map[string]int)
	for _, z := range f.zones() {
		perImage[dom.AttrOr(z, core.AttrFor, "")]++
	}
	require.Len(t, perImage, f.ctx.Table.Len(), "zones: %v", perImage)
	for _, rec := range f.ctx.Table.Records() {
		assert.Equal(t, 1, perImage[forValue(rec.Node)], "record %s", rec.ID)
	}
}

func forValue(id dom.NodeID) string { return strconv.FormatUint(uint64(id), 10) }

func newImage(doc *dom.Document, src string) *html.Node {
	img := doc.CreateElement("img")
	doc.SetAttr(img, "alt", "Harbor")
	doc.SetAttr(img, "src", src)
	doc.SetAttr(img, "style", "display:block;width:300px;height:200px")
	return img
}

func TestStartProcessesExistingImages(t *testing.T) {
	f := setup(t, gallery)
	assert.Equal(t, 2, f.ctx.Table.Len())
	f.assertOneZonePerImage(t)

	// The engine's own insertions must not produce a second pass that
	// duplicates anything.
	f.page.Settle(f.ctx.Policy.MutationDebounce * 2)
	assert.Equal(t, 2, f.ctx.Table.Len())
	assert.Len(t, f.zones(), 2)
	f.assertOneZonePerImage(t)
}

func TestAddedImageWaitsForLoad(t *testing.T) {
	f := setup(t, gallery)
	img := newImage(f.page.Doc, "/photos/harbor.jpg")
	f.page.Doc.AppendChild(f.page.Node("list"), img)

	f.page.Settle(f.ctx.Policy.MutationDebounce)
	assert.False(t, f.ctx.Table.Has(f.page.Doc.ID(img)), "unloaded images are deferred")
	assert.Len(t, f.zones(), 2)

	f.page.Load(img, 300, 200)
	assert.True(t, f.ctx.Table.Has(f.page.Doc.ID(img)))
	assert.Len(t, f.zones(), 3)
	f.assertOneZonePerImage(t)
}

func TestMutationsAreDebounced(t *testing.T) {
	f := setup(t, gallery)
	list := f.page.Node("list")
	img := newImage(f.page.Doc, "/photos/harbor.jpg")
	f.page.Doc.CompleteImageSize(img, 300, 200)
	f.page.Doc.AppendChild(list, img)

	f.page.Settle(f.ctx.Policy.MutationDebounce / 2)
	assert.False(t, f.ctx.Table.Has(f.page.Doc.ID(img)), "still inside the quiet window")

	f.page.Settle(f.ctx.Policy.MutationDebounce)
	assert.True(t, f.ctx.Table.Has(f.page.Doc.ID(img)))
}

func TestLargeBatchFlushesImmediately(t *testing.T) {
	f := setup(t, gallery, func(p *core.Policy) { p.MutationMaxBatch = 2 })
	list := f.page.Node("list")
	var added []*html.Node
	for i := range 3 {
		img := newImage(f.page.Doc, fmt.Sprintf("/photos/pier-%d.jpg", i))
		f.page.Doc.CompleteImageSize(img, 300, 200)
		f.page.Doc.AppendChild(list, img)
		added = append(added, img)
	}

	// Deliver the batch without moving the clock.
	f.page.Loop.RunPending()
	for _, img := range added {
		assert.True(t, f.ctx.Table.Has(f.page.Doc.ID(img)))
	}
}

func TestScenarioBRecycledNodeGetsOneSurface(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	list := f.page.Node("list")
	item := f.page.Node("i1")
	old := f.record(t, "a")

	// A virtualized list recycles the row: the clone carries the marker, the
	// wrapper and the zone of the row it was cloned from.
	clone := doc.CloneNode(item, true)
	doc.Remove(item)
	doc.AppendChild(list, clone)
	var img *html.Node
	for _, n := range dom.Elements(clone) {
		if n.Data == "img" {
			img = n
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, old.ID, dom.AttrOr(img, core.AttrProcessed, ""))

	doc.CompleteImageSize(img, 300, 200)
	doc.ScrollBy(0, 40)
	f.page.Settle(f.ctx.Policy.ScrollDebounce)

	assert.False(t, f.ctx.Table.Has(old.Node), "the detached row's record is dropped")
	rec, ok := f.ctx.Table.Get(doc.ID(img))
	require.True(t, ok)
	assert.NotEqual(t, old.ID, rec.ID)
	assert.Equal(t, rec.ID, dom.AttrOr(img, core.AttrProcessed, ""))

	zones, err := doc.QuerySelectorAll(clone, "."+core.ClassZone)
	require.NoError(t, err)
	require.Len(t, zones, 1, f.page.HTML(clone))
	assert.Equal(t, forValue(rec.Node), dom.AttrOr(zones[0], core.AttrFor, ""))
	if rec.Strategy == core.StrategyWrap {
		wraps, err := doc.QuerySelectorAll(clone, "."+core.ClassWrap)
		require.NoError(t, err)
		assert.Len(t, wraps, 1, f.page.HTML(clone))
	}
	f.assertOneZonePerImage(t)
	assert.GreaterOrEqual(t, f.ctx.Stats.Duplicates.Load(), int64(1))
	assert.Equal(t, 1, f.forgot)
}

func TestScrollRepairsRemovedSurface(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	f.page.Settle(f.ctx.Policy.MutationDebounce)
	old := f.record(t, "a")

	// Generated-only mutations are ignored by the observer; only the scroll
	// pass can notice this.
	doc.Remove(old.Zone)
	f.page.Settle(f.ctx.Policy.MutationDebounce)
	assert.Same(t, old, f.record(t, "a"))

	doc.ScrollBy(0, 10)
	f.page.Settle(f.ctx.Policy.ScrollDebounce)

	rec := f.record(t, "a")
	assert.NotEqual(t, old.ID, rec.ID)
	assert.True(t, f.st.Live(rec))
	assert.GreaterOrEqual(t, f.ctx.Stats.StaleRepaired.Load(), int64(1))
	f.assertOneZonePerImage(t)
}

func TestDuplicateSurfacesAreSwept(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	img := f.page.Node("a")
	rec := f.record(t, "a")

	for i := range 5 {
		doc.AppendChild(dom.ParentElement(rec.Zone), doc.CloneNode(rec.Zone, true))
		doc.SetAttr(img, "class", fmt.Sprintf("v%d", i))
		f.page.Settle(f.ctx.Policy.MutationDebounce)

		assert.Same(t, rec, f.record(t, "a"), "batch %d", i)
		f.assertOneZonePerImage(t)
	}
	assert.Equal(t, int64(5), f.ctx.Stats.Duplicates.Load())
	assert.True(t, f.st.Live(rec))
}

func TestSharedOverlayHostKeepsSurfacePerImage(t *testing.T) {
	f := setup(t, `
		<div id="host" style="position:relative;width:400px;padding-bottom:56.25%;height:0">
			<img id="a" alt="Lake at dawn" src="/photos/lake.jpg" srcset="/photos/lake@2x.jpg 2x" style="position:absolute;top:0;left:0;width:200px;height:200px">
			<img id="b" alt="Forest trail" src="/photos/forest.jpg" srcset="/photos/forest@2x.jpg 2x" style="position:absolute;top:0;left:200px;width:200px;height:200px">
		</div>`)
	host := f.page.Node("host")
	recA, recB := f.record(t, "a"), f.record(t, "b")
	require.Equal(t, core.StrategyOverlay, recA.Strategy)
	require.Equal(t, core.StrategyOverlay, recB.Strategy)
	require.Same(t, host, recA.Container)
	require.Same(t, host, recB.Container)

	f.rec.Sweep()
	assert.Len(t, f.zones(), 2)
	f.assertOneZonePerImage(t)

	f.page.Doc.AppendChild(dom.ParentElement(recB.Zone), f.page.Doc.CloneNode(recB.Zone, true))
	f.rec.Sweep()
	assert.Len(t, f.zones(), 2)
	f.assertOneZonePerImage(t)
	assert.True(t, f.st.Live(recA))
	assert.True(t, f.st.Live(recB))
	assert.Equal(t, int64(1), f.ctx.Stats.Duplicates.Load())
}

func TestRemovedImageIsDetached(t *testing.T) {
	f := setup(t, gallery)
	f.page.Doc.Remove(f.page.Node("i2"))
	f.page.Settle(f.ctx.Policy.MutationDebounce)

	assert.Equal(t, 1, f.ctx.Table.Len())
	assert.Equal(t, int64(1), f.ctx.Stats.Detached.Load())
	assert.Equal(t, 1, f.forgot)
	f.assertOneZonePerImage(t)
}

func TestSourceChangeReprocesses(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	img := f.page.Node("a")
	old := f.record(t, "a")

	doc.SetAttr(img, "src", "/photos/lake-night.jpg")
	f.page.Settle(f.ctx.Policy.MutationDebounce)
	assert.False(t, f.ctx.Table.Has(doc.ID(img)), "stale record dropped while the new source loads")
	assert.False(t, dom.HasAttr(img, core.AttrProcessed))

	f.page.Load(img, 300, 200)
	rec := f.record(t, "a")
	assert.NotEqual(t, old.ID, rec.ID)
	assert.Equal(t, doc.ResolveURL("/photos/lake-night.jpg"), rec.Source)
	f.assertOneZonePerImage(t)
}

func TestRejectionIsStableUntilConditionsChange(t *testing.T) {
	f := setup(t, gallery+`<div id="bar"><img id="ico" alt="" src="/static/glyph.png" style="display:block;width:32px;height:32px"></div>`)
	doc := f.page.Doc
	ico := f.page.Node("ico")
	assert.Equal(t, core.ReasonIconLike, f.rejected[ico])

	for i := range 4 {
		doc.SetAttr(ico, "class", fmt.Sprintf("glyph-%d", i))
		doc.ScrollBy(0, 5)
		f.page.Settle(f.ctx.Policy.ScrollDebounce)

		assert.False(t, f.ctx.Table.Has(doc.ID(ico)), "cycle %d", i)
		assert.False(t, dom.HasAttr(ico, core.AttrProcessed))
		assert.Equal(t, core.ReasonIconLike, f.rejected[ico])
	}
	assert.Len(t, f.zones(), 2)

	doc.SetAttr(ico, "style", "display:block;width:300px;height:200px")
	f.page.Settle(f.ctx.Policy.MutationDebounce)
	assert.True(t, f.ctx.Table.Has(doc.ID(ico)))
	f.assertOneZonePerImage(t)
}

func TestViewerSubtreeIsIgnored(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	host := doc.CreateElement("div")
	doc.SetAttr(host, core.AttrViewerActive, "true")
	inner := newImage(doc, "/photos/poster.jpg")
	doc.CompleteImageSize(inner, 300, 200)
	doc.AppendChild(host, inner)
	doc.AppendChild(f.page.Node("i2"), host)

	f.page.Settle(f.ctx.Policy.MutationDebounce)
	doc.ScrollBy(0, 1)
	f.page.Settle(f.ctx.Policy.ScrollDebounce)
	assert.False(t, f.ctx.Table.Has(doc.ID(inner)))
}

func TestDisposeStopsReconciling(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	listeners := doc.ListenerCount()

	f.rec.Dispose()
	f.rec.Dispose()
	assert.Equal(t, listeners-1, doc.ListenerCount(), "the scroll listener is removed")
	assert.Equal(t, 0, f.page.Loop.PendingTimers())

	img := newImage(doc, "/photos/harbor.jpg")
	doc.CompleteImageSize(img, 300, 200)
	doc.AppendChild(f.page.Node("list"), img)
	doc.ScrollBy(0, 20)
	f.page.Settle(f.ctx.Policy.ScrollDebounce)

	assert.False(t, f.ctx.Table.Has(doc.ID(img)))
	assert.Equal(t, 0, f.page.Loop.PendingTimers())
}

func TestDisposeDropsLoadWaits(t *testing.T) {
	f := setup(t, gallery)
	doc := f.page.Doc
	img := newImage(doc, "/photos/harbor.jpg")
	doc.AppendChild(f.page.Node("list"), img)
	f.page.Settle(f.ctx.Policy.MutationDebounce)
	listeners := doc.ListenerCount()

	f.rec.Dispose()
	assert.Equal(t, listeners-2, doc.ListenerCount())
	f.page.Load(img, 300, 200)
	assert.False(t, f.ctx.Table.Has(doc.ID(img)))
}

func TestNewValidatesDeps(t *testing.T) {
	p := harness.NewPage(t, gallery)
	ctx := core.NewContext(context.Background(), p.Doc, p.Logger, core.DefaultPolicy(), core.InlineSpawner{})
	t.Cleanup(ctx.Shutdown)
	_, err := reconcile.New(ctx, reconcile.Deps{})
	assert.Error(t, err)
}
