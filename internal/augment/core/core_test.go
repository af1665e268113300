package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/testing/harness"
)

func TestRecordTransitions(t *testing.T) {
	r := core.NewRecord(1, nil, "https://example.com/a.jpg", core.StrategyWrap, time.Unix(0, 0))
	require.NotEmpty(t, r.ID)
	assert.Equal(t, core.StateIdle, r.State())

	_, ok := r.Artifact()
	assert.False(t, ok)

	t.Run("illegal moves from idle", func(t *testing.T) {
		var te *core.TransitionError
		assert.ErrorAs(t, r.Succeed("x"), &te)
		assert.ErrorAs(t, r.Fail(core.NewFailure(core.FailureNetwork, nil)), &te)
		assert.ErrorAs(t, r.Retry(), &te)
		assert.ErrorAs(t, r.ExternalReset(), &te)
		assert.Equal(t, core.StateIdle, r.State())
	})

	require.NoError(t, r.Begin())
	assert.Equal(t, 1, r.Attempts())
	require.Error(t, r.Begin(), "processing cannot begin again")

	failure := core.NewFailure(core.FailureTimeout, context.DeadlineExceeded)
	require.NoError(t, r.Fail(failure))
	assert.Equal(t, core.StateError, r.State())
	assert.Same(t, failure, r.Failure())
	_, ok = r.Artifact()
	assert.False(t, ok, "artifact is only set when ready")

	require.NoError(t, r.Retry())
	assert.Nil(t, r.Failure())
	require.NoError(t, r.Begin())
	assert.Equal(t, 2, r.Attempts())
	require.NoError(t, r.Succeed("https://cdn.example.com/out.glb"))

	a, ok := r.Artifact()
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/out.glb", a)

	// Ready is terminal until reset.
	assert.Error(t, r.Begin())
	assert.Error(t, r.Retry())
	require.NoError(t, r.ExternalReset())
	_, ok = r.Artifact()
	assert.False(t, ok)
	assert.Equal(t, core.StateIdle, r.State())
}

func TestRecordDetachRunsInReverse(t *testing.T) {
	r := core.NewRecord(1, nil, "", core.StrategyOverlay, time.Time{})
	var order []int
	r.OnDetach(func() { order = append(order, 1) })
	r.OnDetach(func() { order = append(order, 2) })
	r.OnDetach(func() { order = append(order, 3) })

	r.RunDetach()
	assert.Equal(t, []int{3, 2, 1}, order)

	r.RunDetach()
	assert.Len(t, order, 3, "steps run once")
}

func TestRecordTimers(t *testing.T) {
	r := core.NewRecord(1, nil, "", core.StrategyWrap, time.Time{})
	cancelled := map[string]int{}
	r.SetTimer("reset", func() { cancelled["a"]++ })
	r.SetTimer("reset", func() { cancelled["b"]++ })
	assert.Equal(t, 1, cancelled["a"], "replacing a timer cancels the previous one")

	r.SetTimer("hover", func() { cancelled["c"]++ })
	r.ClearTimer("hover")
	r.ClearTimer("hover")
	assert.Equal(t, 1, cancelled["c"])

	r.CancelTimers()
	assert.Equal(t, 1, cancelled["b"])
	r.CancelTimers()
	assert.Equal(t, 1, cancelled["b"])
}

func TestTrackingTable(t *testing.T) {
	table := core.NewTrackingTable()
	a := core.NewRecord(1, nil, "https://example.com/a.jpg", core.StrategyWrap, time.Time{})
	b := core.NewRecord(2, nil, "https://example.com/a.jpg", core.StrategyWrap, time.Time{})
	c := core.NewRecord(3, nil, "https://example.com/c.jpg", core.StrategyOverlay, time.Time{})
	table.Put(a)
	table.Put(b)
	table.Put(c)

	assert.Equal(t, 3, table.Len())
	assert.True(t, table.Has(2))
	assert.Equal(t, []*core.InjectionRecord{a, b, c}, table.Records())

	_, ok := table.ReadyArtifact("https://example.com/a.jpg")
	assert.False(t, ok)

	require.NoError(t, b.Begin())
	require.NoError(t, b.Succeed("artifact-b"))
	art, ok := table.ReadyArtifact("https://example.com/a.jpg")
	assert.True(t, ok)
	assert.Equal(t, "artifact-b", art)

	removed, ok := table.Remove(2)
	require.True(t, ok)
	assert.Same(t, b, removed)
	_, ok = table.ReadyArtifact("https://example.com/a.jpg")
	assert.False(t, ok)

	_, ok = table.Remove(2)
	assert.False(t, ok)

	table.Reindex(c, "https://example.com/c2.jpg")
	require.NoError(t, c.Begin())
	require.NoError(t, c.Succeed("artifact-c"))
	_, ok = table.ReadyArtifact("https://example.com/c.jpg")
	assert.False(t, ok)
	_, ok = table.ReadyArtifact("https://example.com/c2.jpg")
	assert.True(t, ok)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, core.DefaultPolicy().Validate())

	cases := map[string]func(*core.Policy){
		"negative viewport": func(p *core.Policy) { p.ViewportBelow = -1 },
		"aspect below one":  func(p *core.Policy) { p.MaxAspectRatio = 0.5 },
		"tolerance":         func(p *core.Policy) { p.IconSquareTolerance = 2 },
		"occlusion":         func(p *core.Policy) { p.OcclusionFactor = 1 },
		"depth":             func(p *core.Policy) { p.AncestorDepth = -1 },
		"zone":              func(p *core.Policy) { p.ZoneSize = 0 },
		"debounce":          func(p *core.Policy) { p.ScrollDebounce = 0 },
		"batch":             func(p *core.Policy) { p.MutationMaxBatch = 0 },
		"timeouts":          func(p *core.Policy) { p.RasterStepTimeout = 0 },
		"default target":    func(p *core.Policy) { p.DefaultTarget = core.Size{} },
		"raster":            func(p *core.Policy) { p.MaxRasterDimension = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := core.DefaultPolicy()
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestFailureKinds(t *testing.T) {
	err := errors.Join(errors.New("outer"), core.NewFailure(core.FailureCORS, errors.New("tainted")))
	assert.Equal(t, core.FailureCORS, core.KindOf(err))
	assert.Equal(t, core.FailureUnknown, core.KindOf(errors.New("plain")))

	assert.True(t, core.FailureNetwork.Retryable())
	assert.True(t, core.FailureTimeout.Retryable())
	assert.True(t, core.FailureServiceUnavailable.Retryable())
	assert.False(t, core.FailureCORS.Retryable())
	assert.False(t, core.FailureUnknown.Retryable())

	inner := errors.New("dial tcp: refused")
	f := core.NewFailure(core.FailureNetwork, inner)
	assert.ErrorIs(t, f, inner)
	assert.Contains(t, f.Error(), "network")
}

func TestLayoutClassificationLabel(t *testing.T) {
	var l core.LayoutClassification
	assert.True(t, l.IsAmbiguous())

	l.Label(core.LayoutFlexChild)
	l.Label(core.LayoutTransformed)
	assert.Equal(t, core.LayoutFlexChild, l.Kind, "first label wins")

	l.Flags |= core.FlagFlex | core.FlagTransform
	assert.True(t, l.Flags.Has(core.FlagFlex))
	assert.False(t, l.Flags.Has(core.FlagGrid))
	assert.False(t, l.IsAmbiguous())

	text, err := core.LayoutPaddingAspectRatio.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "padding-aspect-ratio", string(text))
}

func TestNearestAncestor(t *testing.T) {
	p := harness.NewPage(t, `
		<div id="l3" class="hit"><div id="l2"><div id="l1"><img id="img"></div></div></div>`)
	img := p.Node("img")
	hit := func(n *html.Node) bool { return dom.HasClass(n, "hit") }

	assert.Nil(t, core.NearestAncestor(img, 2, hit), "beyond depth")
	assert.Equal(t, p.Node("l3"), core.NearestAncestor(img, 3, hit))
	assert.Nil(t, core.NearestAncestor(img, 0, hit))

	assert.Equal(t, p.Node("l3"), core.SelfOrAncestor(p.Node("l3"), 0, hit))
	assert.Len(t, core.Ancestors(img, 2), 2)
	assert.Equal(t, p.Node("l1"), core.Ancestors(img, 2)[0])
}

func TestCandidateSnapshot(t *testing.T) {
	p := harness.NewPage(t, `
		<div style="opacity:0.5"><picture><img id="a" src="/img/a.jpg" alt="Sunset" class="hero wide"
			style="width:200px;height:100px;opacity:0.5"></picture></div>
		<div style="display:none"><img id="b" src="b.jpg"></div>`)
	ctx := core.NewContext(context.Background(), p.Doc, p.Logger, core.DefaultPolicy(), core.InlineSpawner{})
	defer ctx.Shutdown()

	p.Load(p.Node("a"), 400, 200)
	c := ctx.Candidate(p.Node("a"))
	assert.Equal(t, "https://example.com/img/a.jpg", c.Source)
	assert.Equal(t, "Sunset", c.Alt)
	assert.Equal(t, []string{"hero", "wide"}, c.Classes)
	assert.InDelta(t, 0.25, c.Style.Opacity, 1e-9)
	assert.True(t, c.InPicture)
	assert.True(t, c.Loaded)
	assert.Equal(t, core.Size{Width: 400, Height: 200}, c.Natural)
	assert.Equal(t, 200.0, c.Rect.Width)
	assert.Equal(t, "example.com", c.Host)
	assert.False(t, c.Tracked)

	b := ctx.Candidate(p.Node("b"))
	assert.Equal(t, "none", b.Style.Display, "hidden ancestor propagates")
	assert.False(t, b.Loaded)
}

func TestContextInFlightAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := harness.NewPage(t, `<img id="a">`)
	ctx := core.NewContext(context.Background(), p.Doc, p.Logger, core.DefaultPolicy(), nil)

	assert.True(t, ctx.Acquire(7))
	assert.False(t, ctx.Acquire(7))
	assert.True(t, ctx.InFlight(7))
	ctx.Release(7)
	assert.True(t, ctx.Acquire(7))

	done := make(chan struct{})
	ctx.Spawn(func() {
		<-ctx.Ctx().Done()
		close(done)
	})
	ctx.Shutdown()
	<-done
	assert.True(t, ctx.Closed())

	ran := false
	ctx.Post(func() { ran = true })
	p.Loop.RunPending()
	assert.False(t, ran, "results posted after shutdown are dropped")
}
