package fixup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/edgefixup/pkg/math"
)

const testRes = 16

func TestRegister_Idempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)

	require.True(t, g.Register(a.comp))
	f := a.comp.Fixup()
	recapture, patch := g.Pending()

	require.True(t, g.Register(a.comp))
	assert.Same(t, f, a.comp.Fixup())
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 1, g.Members())
	r2, p2 := g.Pending()
	assert.Equal(t, recapture, r2)
	assert.Equal(t, patch, p2)
	assert.Equal(t, 1, countActive(c, a.raster, a.comp))
}

func TestRegister_DeferredUntilLoaded(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	unloaded := newFakeRaster(0, func(int, int) uint16 { return 0 })
	comp := NewComponent("pending", gridPlacement(0, 0, testRes), unloaded)

	assert.False(t, g.Register(comp))
	assert.Nil(t, comp.Fixup())
	assert.Nil(t, c.FixupFor(unloaded.ID()))
	assert.Zero(t, g.Len())
}

func TestRegister_SingleActiveOwnerUnderContention(t *testing.T) {
	settings := testSettings()
	settings.MaxDisabledDuplicates = 0
	c, _ := newTestCoordinator(t, WithSettings(settings))
	groups := []*Group{c.NewGroup("a"), c.NewGroup("b")}
	r := newRandomRaster(testRes, 1)

	comps := make([]*Component, 16)
	for i := range comps {
		comps[i] = NewComponent("owner", gridPlacement(0, 0, testRes), r)
	}

	var wg sync.WaitGroup
	for i, comp := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			groups[i%2].Register(comp)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, countActive(c, r, comps...))
	assert.Equal(t, 15, c.FixupFor(r.ID()).DisabledCount())

	for _, comp := range comps[:8] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comp.Group().Unregister(comp)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, countActive(c, r, comps...))
	assert.Contains(t, comps[8:], c.ActiveOwner(r.ID()))
}

// Border state reads take no group lock, so they may run while the fixup
// moves in and out of its group.
func TestFixup_BorderStateDuringRegistration(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)
	f := a.comp.Fixup()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 50 {
			g.Unregister(a.comp)
			g.Register(a.comp)
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			c.Tick(context.Background())
		}
	}()
	for range 500 {
		_ = f.Modified()
		_ = f.Parked()
	}
	wg.Wait()

	converge(t, c, 3)
	assert.True(t, a.comp.IsMapped())
	assert.True(t, a.comp.Fixup().Parked().Has(Right))
}

func TestRegister_DuplicateLimit(t *testing.T) {
	settings := testSettings()
	settings.MaxDisabledDuplicates = 1
	c, logs := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	x := newTile("x", 0, 0, testRes, 1)

	require.True(t, g.Register(x.comp))
	require.True(t, g.Register(sharedTile("y", x).comp))
	assert.False(t, g.Register(sharedTile("z", x).comp))
	assert.Equal(t, 1, logs.FilterMessage("owner rejected, duplicate limit reached or raster released").Len())
}

// Scenario B: an owner in another group is held as a disabled duplicate and
// takes over when the active owner leaves.
func TestUnregister_PromotesDuplicateFromOtherGroup(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g1 := c.NewGroup("scene-1")
	g2 := c.NewGroup("scene-2")

	require.True(t, g1.Register(newTile("origin-1", 0, 0, testRes, 1).comp))
	require.True(t, g2.Register(newTile("origin-2", 0, 0, testRes, 2).comp))

	x := newTile("x", 1, 0, testRes, 3)
	y := sharedTile("y", x)
	require.True(t, g1.Register(x.comp))
	require.True(t, g2.Register(y.comp))

	assert.True(t, y.comp.IsDisabled())
	assert.False(t, y.comp.IsMapped())
	assert.Same(t, x.comp, c.ActiveOwner(x.raster.ID()))
	assert.True(t, x.comp.IsMapped())

	f := x.comp.Fixup()
	xCoord, ok := f.Coord()
	require.True(t, ok)
	assert.Equal(t, Coord{1, 0}, xCoord)

	require.True(t, g1.Unregister(x.comp))

	assert.Same(t, y.comp, c.ActiveOwner(x.raster.ID()))
	assert.False(t, y.comp.IsDisabled())
	assert.True(t, y.comp.IsMapped())
	assert.Same(t, f, y.comp.Fixup())
	assert.Same(t, g2, f.Group())
	yCoord, ok := f.Coord()
	require.True(t, ok)
	assert.Equal(t, xCoord, yCoord)
	assert.Nil(t, g1.TileAt(xCoord))
	assert.Same(t, f, g2.TileAt(xCoord))
}

func TestUnregister_PromotionKeepsSnapshotAndModified(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	x := newTile("x", 0, 0, testRes, 1)
	right := newTile("right", 1, 0, testRes, 2)
	require.Equal(t, 2, g.RegisterAll(x.comp, right.comp))
	converge(t, c, 3)

	f := x.comp.Fixup()
	snap := f.Snapshot()
	modified := f.Modified()
	require.NotNil(t, snap)
	require.True(t, modified.Has(Right))

	other := c.NewGroup("other")
	y := sharedTile("y", x)
	require.True(t, other.Register(y.comp))
	require.True(t, y.comp.IsDisabled())

	require.True(t, g.Unregister(x.comp))
	assert.Same(t, f, y.comp.Fixup())
	assert.Same(t, snap, f.Snapshot())
	assert.Equal(t, modified, f.Modified())
	assert.Same(t, y.comp, f.ActiveOwner())
	assert.Zero(t, f.DisabledCount())
}

func TestUnregister_SkipsDestroyedDuplicates(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	x := newTile("x", 0, 0, testRes, 1)
	y := sharedTile("y", x)
	z := sharedTile("z", x)
	require.Equal(t, 3, g.RegisterAll(x.comp, y.comp, z.comp))

	y.comp.Destroy()
	require.True(t, g.Unregister(x.comp))

	f := z.comp.Fixup()
	assert.Same(t, z.comp, f.ActiveOwner())
	assert.True(t, z.comp.IsMapped())
	assert.False(t, y.comp.IsMapped())

	z.comp.Destroy()
	require.True(t, g.Unregister(y.comp))
	require.True(t, g.Unregister(z.comp))
	assert.Nil(t, c.ActiveOwner(x.raster.ID()))
	assert.False(t, f.IsMapped())
	assert.Zero(t, g.Len())
	// the fixup outlives its owners until the raster is released
	assert.Same(t, f, c.FixupFor(x.raster.ID()))
}

func TestUnregister_DisabledOwnerLeavesActiveUntouched(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	x := newTile("x", 0, 0, testRes, 1)
	y := sharedTile("y", x)
	require.Equal(t, 2, g.RegisterAll(x.comp, y.comp))

	require.True(t, g.Unregister(y.comp))
	assert.Nil(t, y.comp.Fixup())
	assert.Same(t, x.comp, c.ActiveOwner(x.raster.ID()))
	assert.True(t, x.comp.IsMapped())
	assert.Zero(t, x.comp.Fixup().DisabledCount())

	assert.False(t, g.Unregister(y.comp))
	assert.False(t, c.NewGroup("other").Unregister(x.comp))
}

func TestMap_CollisionDisplacesWithoutOverwriting(t *testing.T) {
	c, logs := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 0, 0, testRes, 2)
	d := newTile("d", 0, 0, testRes, 3)
	require.Equal(t, 3, g.RegisterAll(a.comp, b.comp, d.comp))

	off := DefaultSettings().CollisionOffset
	assert.Same(t, a.comp.Fixup(), g.TileAt(Coord{0, 0}))
	assert.Same(t, b.comp.Fixup(), g.TileAt(Coord{off, off}))
	assert.Same(t, d.comp.Fixup(), g.TileAt(Coord{2 * off, 2 * off}))
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 2, logs.FilterMessage("grid coordinate collision, tile displaced").Len())

	// displaced tiles are not neighbors of anything
	converge(t, c, 3)
	assert.Equal(t, AllDirections, b.comp.Fixup().Parked())
}

func TestMap_ConfigurationMismatchWarns(t *testing.T) {
	c, logs := newTestCoordinator(t)
	g := c.NewGroup("main")
	require.True(t, g.Register(newTile("a", 0, 0, testRes, 1).comp))

	small := newRandomRaster(8, 2)
	p := gridPlacement(1, 0, testRes)
	p.scale = math.Vec3{X: 2, Y: 2, Z: 1}
	require.True(t, g.Register(NewComponent("small", p, small)))

	kinds := map[string]bool{}
	for _, entry := range logs.FilterMessage("tile does not match group configuration, seams are expected").All() {
		kinds[entry.ContextMap()["kind"].(string)] = true
	}
	assert.True(t, kinds["resolution"])
	assert.True(t, kinds["scale"])
	assert.False(t, kinds["orientation"])
	assert.Same(t, c.FixupFor(small.ID()), g.TileAt(Coord{1, 0}))
}

// Scenario A: after one pass the shared borders of three tiles agree.
func TestTick_ThreeTilesAgreeAfterOnePass(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	origin := newTile("origin", 0, 0, testRes, 1)
	east := newTile("east", 1, 0, testRes, 2)
	north := newTile("north", 0, 1, testRes, 3)
	require.Equal(t, 3, g.RegisterAll(origin.comp, east.comp, north.comp))

	require.NotEqual(t, origin.raster.heights(Right, 0), east.raster.heights(Left, 0))

	stats := c.Tick(context.Background())
	assert.Equal(t, 3, stats.Recaptured)
	assert.Positive(t, stats.Patched)

	assert.Equal(t, east.raster.heights(Left, 0), origin.raster.heights(Right, 0))
	assert.Equal(t, north.raster.heights(Bottom, 0), origin.raster.heights(Top, 0))

	re, patch := g.Pending()
	assert.Zero(t, re)
	assert.Zero(t, patch)
}

func TestTick_GridSeamsAreBitIdentical(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")

	tiles := map[Coord]tile{}
	seed := uint64(10)
	for j := range 3 {
		for i := range 3 {
			tl := newTile("tile", i, j, testRes, seed)
			seed++
			tiles[Coord{int32(i), int32(j)}] = tl
			require.True(t, g.Register(tl.comp))
		}
	}
	converge(t, c, 3)

	for at, tl := range tiles {
		if right, ok := tiles[at.Step(Right)]; ok {
			assert.Equal(t, right.raster.heights(Left, 0), tl.raster.heights(Right, 0), "right of %s", at)
		}
		if top, ok := tiles[at.Step(Top)]; ok {
			assert.Equal(t, top.raster.heights(Bottom, 0), tl.raster.heights(Top, 0), "top of %s", at)
		}
		if diag, ok := tiles[at.Step(TopRight)]; ok {
			assert.Equal(t, diag.raster.heights(BottomLeft, 0), tl.raster.heights(TopRight, 0), "corner of %s", at)
		}
		if diag, ok := tiles[at.Step(TopLeft)]; ok {
			assert.Equal(t, diag.raster.heights(BottomRight, 0), tl.raster.heights(TopLeft, 0), "corner of %s", at)
		}
	}

	// a converged grid does no further work
	writes := 0
	for _, tl := range tiles {
		writes += tl.raster.writeCount()
	}
	stats := c.Tick(context.Background())
	assert.Zero(t, stats.Patched)
	after := 0
	for _, tl := range tiles {
		after += tl.raster.writeCount()
	}
	assert.Equal(t, writes, after)
}

func TestTick_UnchangedRecaptureQueuesNothing(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)

	f := a.comp.Fixup()
	snap := f.Snapshot()
	require.True(t, g.RequestRecapture(a.comp))

	stats := c.Tick(context.Background())
	assert.Equal(t, 1, stats.Recaptured)
	assert.Zero(t, stats.Changed)
	assert.Zero(t, stats.Patched)
	assert.Same(t, snap, f.Snapshot())
	assert.True(t, g.PendingPatch(f).IsEmpty())
}

// Scenario C through the loop: an edit of the top edge re-patches only what
// touches it.
func TestTick_TopEditRecapturesTopOnly(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)

	f := a.comp.Fixup()
	before := f.Snapshot()
	for x := 1; x <= testRes-2; x++ {
		a.raster.setHeight(x, testRes-1, 50000)
	}
	require.True(t, c.NotifyRasterChanged(a.raster.ID()))

	stats := c.Tick(context.Background())
	assert.Equal(t, 1, stats.Changed)
	assert.Equal(t, SetOf(Top), Diff(before, f.Snapshot()))
}

// Scenario D: a pending load keeps the tile queued until it clears.
func TestApplyPatch_PendingLoadStaysQueued(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))
	converge(t, c, 3)

	for y := 2; y <= testRes-3; y++ {
		b.raster.setHeight(0, y, 61000)
	}
	a.raster.pending.Store(true)
	require.True(t, g.RequestRecapture(b.comp))

	stats := c.Tick(context.Background())
	assert.Equal(t, 1, stats.Deferred)
	fa := a.comp.Fixup()
	assert.True(t, g.PendingPatch(fa).Has(Right))
	assert.NotEqual(t, b.raster.heights(Left, 0), a.raster.heights(Right, 0))

	// still queued on the next tick
	c.Tick(context.Background())
	assert.True(t, g.PendingPatch(fa).Has(Right))

	a.raster.pending.Store(false)
	assert.Positive(t, g.ApplyPatch(fa))
	assert.True(t, g.PendingPatch(fa).IsEmpty())
	assert.Equal(t, b.raster.heights(Left, 0), a.raster.heights(Right, 0))
}

// A queued patch must not overwrite a raster that is being edited, even one
// that accepts writes meanwhile.
func TestApplyPatch_EditingStaysQueued(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))
	converge(t, c, 3)

	b.raster.editing.Store(true)
	for y := range testRes {
		b.raster.setHeight(0, y, 65000)
	}
	for y := 1; y <= testRes-2; y++ {
		a.raster.setHeight(testRes-1, y, 30000)
	}
	require.True(t, c.NotifyRasterChanged(a.raster.ID()))
	require.True(t, c.NotifyRasterChanged(b.raster.ID()))

	stats := c.Tick(context.Background())
	assert.Positive(t, stats.Deferred)
	fb := b.comp.Fixup()
	assert.True(t, g.PendingPatch(fb).Has(Left))
	for _, h := range b.raster.heights(Left, 0) {
		assert.Equal(t, uint16(65000), h)
	}

	b.raster.editing.Store(false)
	converge(t, c, 5)
	edge := b.raster.heights(Left, 0)
	assert.Equal(t, edge, a.raster.heights(Right, 0))
	assert.Equal(t, uint16(65000), edge[testRes/2])
}

func TestTick_NeighborLossRestoresOwnValues(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	original := a.raster.heights(Right, 0)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))
	converge(t, c, 3)

	fa := a.comp.Fixup()
	require.True(t, fa.Modified().Has(Right))
	require.NotEqual(t, original, a.raster.heights(Right, 0))

	require.True(t, g.Unregister(b.comp))
	converge(t, c, 3)

	assert.Equal(t, original, a.raster.heights(Right, 0))
	assert.False(t, fa.Modified().Has(Right))
	assert.True(t, fa.Parked().Has(Right))
}

func TestTick_LateNeighborUnparks(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)
	require.True(t, a.comp.Fixup().Parked().Has(Right))

	b := newTile("b", 1, 0, testRes, 2)
	require.True(t, g.Register(b.comp))
	assert.False(t, a.comp.Fixup().Parked().Has(Right))
	converge(t, c, 3)
	assert.Equal(t, b.raster.heights(Left, 0), a.raster.heights(Right, 0))
}

func TestTick_EditingPostponesRecapture(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	a.raster.editing.Store(true)
	require.True(t, g.Register(a.comp))

	c.Tick(context.Background())
	assert.Nil(t, a.comp.Fixup().Snapshot())
	re, _ := g.Pending()
	assert.Equal(t, 1, re)

	a.raster.editing.Store(false)
	converge(t, c, 3)
	assert.NotNil(t, a.comp.Fixup().Snapshot())
}

func TestTick_CaptureFromSource(t *testing.T) {
	settings := testSettings()
	settings.CaptureFromSource = true
	c, _ := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	a.comp.WithSource(fakeSource{height: 1234, res: testRes})
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)

	s := a.comp.Fixup().Snapshot()
	require.NotNil(t, s)
	for _, h := range s.Heights(Top, 0) {
		assert.Equal(t, uint16(1234), h)
	}
}

func TestTick_WriteFailureStaysQueued(t *testing.T) {
	c, logs := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	a.raster.failing.Store(true)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))

	c.Tick(context.Background())
	assert.True(t, g.PendingPatch(a.comp.Fixup()).Has(Right))
	assert.Positive(t, logs.FilterMessage("patching border failed").Len())

	a.raster.failing.Store(false)
	converge(t, c, 3)
	assert.Equal(t, b.raster.heights(Left, 0), a.raster.heights(Right, 0))
}

func TestValidation_HealsMovedTile(t *testing.T) {
	settings := testSettings()
	settings.SelfValidation = true
	c, logs := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))
	converge(t, c, 3)

	b.placement.move(gridPlacement(2, 0, testRes).center)

	healed := 0
	for range 2 {
		healed += c.Tick(context.Background()).Healed
	}
	assert.Equal(t, 1, healed)
	assert.Equal(t, 1, logs.FilterMessage("group invariant violated, healing").Len())
	assert.Nil(t, g.TileAt(Coord{1, 0}))
	assert.Same(t, b.comp.Fixup(), g.TileAt(Coord{2, 0}))
	assert.True(t, b.comp.IsMapped())
}

func TestValidation_HealsStaleOwnerCache(t *testing.T) {
	settings := testSettings()
	settings.SelfValidation = true
	c, _ := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	f := a.comp.Fixup()

	// simulate an out-of-band reset of the owner's cached state
	a.comp.unbind()

	stats := c.Tick(context.Background())
	assert.Equal(t, 1, stats.Healed)
	assert.Same(t, f, a.comp.Fixup())
	assert.Same(t, g, a.comp.Group())
	assert.Same(t, f, g.TileAt(Coord{0, 0}))
}

func TestPatchStreamedMips(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	b := newTile("b", 1, 0, testRes, 2)
	require.Equal(t, 2, g.RegisterAll(a.comp, b.comp))
	converge(t, c, 3)

	// only mip 0 is patched eagerly
	require.NotEqual(t, b.raster.heights(Left, 1), a.raster.heights(Right, 1))

	last := a.raster.MipCount() - 1
	assert.Positive(t, g.PatchStreamedMips(a.comp, 1, last))
	g.PatchStreamedMips(b.comp, 1, last)

	for mip := 1; testRes>>mip >= 2; mip++ {
		assert.Equal(t, b.raster.heights(Left, mip), a.raster.heights(Right, mip), "mip %d", mip)
	}
	assert.Zero(t, g.PatchStreamedMips(NewComponent("stranger", gridPlacement(0, 0, testRes), a.raster), 1, last))
}

func TestCoordinator_ReleaseRaster(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g1 := c.NewGroup("one")
	g2 := c.NewGroup("two")
	x := newTile("x", 0, 0, testRes, 1)
	y := sharedTile("y", x)
	require.True(t, g1.Register(x.comp))
	require.True(t, g2.Register(y.comp))
	old := x.comp.Fixup()

	c.ReleaseRaster(x.raster.ID())
	assert.Nil(t, x.comp.Fixup())
	assert.Nil(t, y.comp.Fixup())
	assert.Nil(t, c.FixupFor(x.raster.ID()))
	assert.Nil(t, c.ActiveOwner(x.raster.ID()))
	assert.Zero(t, g1.Len())
	assert.Zero(t, g2.Len())

	require.True(t, g1.Register(x.comp))
	assert.NotSame(t, old, x.comp.Fixup())
}

func TestCoordinator_DisabledTickIsNoop(t *testing.T) {
	settings := testSettings()
	settings.Enabled = false
	c, _ := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	require.True(t, g.Register(newTile("a", 0, 0, testRes, 1).comp))

	assert.Equal(t, TickStats{}, c.Tick(context.Background()))
	re, patch := g.Pending()
	assert.Equal(t, 1, re)
	assert.Equal(t, 1, patch)
}

func TestCoordinator_RunStopsOnCancel(t *testing.T) {
	settings := testSettings()
	settings.TickInterval = 5 * time.Millisecond
	c, _ := newTestCoordinator(t, WithSettings(settings))
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotNil(t, a.comp.Fixup().Snapshot())
}

func TestGroup_Close(t *testing.T) {
	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))

	g.Close()
	assert.Nil(t, a.comp.Fixup())
	assert.Empty(t, c.Groups())
	assert.False(t, g.Register(a.comp))
}

// memStore keeps snapshots in memory.
type memStore struct {
	snaps map[uuid.UUID]*EdgeSnapshot
}

func (m *memStore) Load(id uuid.UUID) (*EdgeSnapshot, error) {
	s, ok := m.snaps[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

func (m *memStore) Save(id uuid.UUID, s *EdgeSnapshot) error {
	m.snaps[id] = s
	return nil
}

func TestCoordinator_SaveAndLoadSnapshots(t *testing.T) {
	store := &memStore{snaps: map[uuid.UUID]*EdgeSnapshot{}}

	c, _ := newTestCoordinator(t)
	g := c.NewGroup("main")
	a := newTile("a", 0, 0, testRes, 1)
	require.True(t, g.Register(a.comp))
	converge(t, c, 3)

	saved, err := c.SaveSnapshots(store)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// a fresh process adopts the cooked snapshot instead of capturing
	c2, logs := newTestCoordinator(t)
	g2 := c2.NewGroup("main")
	a2 := NewComponent("a", gridPlacement(0, 0, testRes), a.raster)
	stale := newTile("stale", 1, 0, testRes, 2)
	store.snaps[stale.raster.ID()] = captureRaster(t, newRandomRaster(8, 3))
	require.Equal(t, 2, g2.RegisterAll(a2, stale.comp))

	loaded, err := c2.LoadSnapshots(store)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Same(t, store.snaps[a.raster.ID()], a2.Fixup().Snapshot())
	assert.Equal(t, 1, logs.FilterMessage("stale cooked snapshot ignored").Len())

	re, _ := g2.Pending()
	assert.Equal(t, 1, re)
}
