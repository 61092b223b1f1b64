package fixup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/edgefixup/pkg/math"
)

// Tolerances for placement checks against the group basis.
const (
	axisTolerance      = 1e-3
	scaleTolerance     = 1e-3
	alignmentTolerance = 0.01
)

// basis is the frame established by the first tile mapped into a group.
type basis struct {
	origin     math.Vec3
	axisX      math.Vec3
	axisY      math.Vec3
	scale      math.Vec3
	resolution int
}

// Group maps tiles onto a shared integer grid and queues the work that keeps
// their borders consistent.
type Group struct {
	name        string
	coordinator *Coordinator
	log         *zap.Logger

	mu             sync.RWMutex
	tiles          map[Coord]*Fixup
	members        map[*Component]*Fixup
	needsRecapture map[*Fixup]struct{}
	needsPatch     map[*Fixup]DirectionSet
	basis          *basis
	order          []Coord // round-robin validation order
	cursor         int
	closed         bool
}

func newGroup(c *Coordinator, name string) *Group {
	return &Group{
		name:           name,
		coordinator:    c,
		log:            c.log.Named("group").With(zap.String("group", name)),
		tiles:          make(map[Coord]*Fixup),
		members:        make(map[*Component]*Fixup),
		needsRecapture: make(map[*Fixup]struct{}),
		needsPatch:     make(map[*Fixup]DirectionSet),
	}
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// Len returns the number of mapped tiles.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tiles)
}

// Members returns the number of registered components, active or not.
func (g *Group) Members() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// TileAt returns the fixup mapped at a coordinate, or nil.
func (g *Group) TileAt(at Coord) *Fixup {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tiles[at]
}

// Pending returns the sizes of the recapture and patch queues.
func (g *Group) Pending() (recapture, patch int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.needsRecapture), len(g.needsPatch)
}

// PendingPatch returns the directions of f queued for patching.
func (g *Group) PendingPatch(f *Fixup) DirectionSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.needsPatch[f]
}

// Register adds c to the group. The first owner of a raster becomes its
// active owner and is mapped onto the grid; later owners of the same raster
// are kept as disabled duplicates. Registering twice is a no-op.
//
// It returns false when the raster is not loaded yet; the caller retries once
// it is.
func (g *Group) Register(c *Component) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Fixup() != nil {
		return true
	}
	r := c.raster
	if r == nil || c.placement == nil || r.Resolution() == 0 {
		g.log.Debug("registration deferred, raster not ready", zap.String("component", c.name))
		registrationsTotal.WithLabelValues("deferred").Inc()
		return false
	}

	f := g.coordinator.fixupFor(r)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}

	active, accepted := f.claim(c)
	if !accepted {
		g.log.Warn("owner rejected, duplicate limit reached or raster released",
			zap.String("component", c.name),
			zap.Stringer("raster", f.id))
		registrationsTotal.WithLabelValues("rejected").Inc()
		return false
	}

	g.members[c] = f
	c.bind(g, f, !active)
	if !active {
		g.log.Debug("registered as disabled duplicate",
			zap.String("component", c.name),
			zap.Stringer("raster", f.id))
		registrationsTotal.WithLabelValues("disabled").Inc()
		return true
	}

	g.activateLocked(f, c, true)
	registrationsTotal.WithLabelValues("active").Inc()
	return true
}

// RegisterAll registers every component and returns how many succeeded.
func (g *Group) RegisterAll(components ...*Component) int {
	n := 0
	for _, c := range components {
		if g.Register(c) {
			n++
		}
	}
	return n
}

// Unregister removes c from the group. When c was the active owner, the
// oldest live duplicate takes over the fixup, snapshot included; otherwise
// the tile is unmapped. It returns false if c is not registered here.
func (g *Group) Unregister(c *Component) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.Fixup()
	if f == nil || c.Group() != g {
		return false
	}

	var promoted *Component
	g.mu.Lock()
	if f.ActiveOwner() != c {
		f.removeDisabled(c)
		unregistrationsTotal.WithLabelValues("disabled").Inc()
	} else {
		g.unmapLocked(f)
		promoted = f.handOver(c)
		if promoted != nil {
			unregistrationsTotal.WithLabelValues("promoted").Inc()
		} else {
			unregistrationsTotal.WithLabelValues("unmapped").Inc()
		}
	}
	delete(g.members, c)
	c.unbind()
	g.mu.Unlock()

	if promoted != nil {
		if pg := promoted.Group(); pg != nil {
			pg.activatePromoted(promoted, f)
		}
	}
	return true
}

// UnregisterAll unregisters every component and returns how many were
// registered here.
func (g *Group) UnregisterAll(components ...*Component) int {
	n := 0
	for _, c := range components {
		if g.Unregister(c) {
			n++
		}
	}
	return n
}

// Close unregisters every member and detaches the group from its
// coordinator.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	members := make([]*Component, 0, len(g.members))
	for c := range g.members {
		members = append(members, c)
	}
	g.mu.Unlock()

	g.UnregisterAll(members...)
	g.coordinator.removeGroup(g)
	mappedTiles.DeleteLabelValues(g.name)
}

// RequestRecapture queues a snapshot recapture for the tile owned by c, for
// example after an edit. It returns false if c is not an active, mapped
// owner in this group.
func (g *Group) RequestRecapture(c *Component) bool {
	f := c.Fixup()
	if f == nil || f.ActiveOwner() != c {
		return false
	}
	return g.requestRecapture(f)
}

func (g *Group) requestRecapture(f *Fixup) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f.loadGroup() != g || !f.mapped {
		return false
	}
	g.needsRecapture[f] = struct{}{}
	return true
}

// adoptSnapshot installs a cooked snapshot in place of a live capture.
func (g *Group) adoptSnapshot(f *Fixup, s *EdgeSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.swapSnapshot(s)
	if f.loadGroup() != g || !f.mapped {
		return
	}
	delete(g.needsRecapture, f)
	g.enqueueLocked(f, AllDirections)
	g.touchNeighborsLocked(f, AllDirections)
}

// activatePromoted maps a duplicate that took over the active slot.
func (g *Group) activatePromoted(c *Component, f *Fixup) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || c.Fixup() != f || f.ActiveOwner() != c {
		return
	}
	c.setDisabled(false)
	g.activateLocked(f, c, false)
	g.log.Info("disabled duplicate promoted",
		zap.String("component", c.name),
		zap.Stringer("raster", f.id),
		zap.Stringer("coord", f.coord))
}

// activateLocked maps f for its active owner c and queues a full recapture
// and patch of it and its neighbors. A fresh activation records the live
// border state as the baseline; a promotion keeps the previous one.
func (g *Group) activateLocked(f *Fixup, c *Component, fresh bool) {
	f.setGroup(g)
	modified := f.modified
	if fresh {
		f.baseline = liveBaseline(f.raster)
		modified = NoDirections
	}
	f.setBorderState(modified, NoDirections)
	g.mapLocked(f, c)

	g.needsRecapture[f] = struct{}{}
	g.enqueueLocked(f, AllDirections)
	g.touchNeighborsLocked(f, AllDirections)
}

// mapLocked assigns f a grid coordinate from c's placement.
func (g *Group) mapLocked(f *Fixup, c *Component) {
	res := f.raster.Resolution()
	p := c.placement

	var at Coord
	if g.basis == nil {
		x, y := p.Axes()
		g.basis = &basis{
			origin:     p.Center(),
			axisX:      x,
			axisY:      y,
			scale:      p.Scale(),
			resolution: res,
		}
	} else {
		at = g.checkPlacementLocked(c, res)
	}

	f.displaced = false
	if other, taken := g.tiles[at]; taken && other != f {
		wanted := at
		off := g.coordinator.settings.CollisionOffset
		for taken {
			at = at.Offset(off, off)
			_, taken = g.tiles[at]
		}
		f.displaced = true
		collisionsTotal.Inc()
		g.log.Warn("grid coordinate collision, tile displaced",
			zap.String("component", c.name),
			zap.Stringer("raster", f.id),
			zap.Stringer("wanted", wanted),
			zap.Stringer("occupant", other.id),
			zap.Stringer("coord", at))
	}

	g.tiles[at] = f
	f.coord = at
	f.mapped = true
	g.order = append(g.order, at)
	mappedTiles.WithLabelValues(g.name).Set(float64(len(g.tiles)))
}

// checkPlacementLocked computes the coordinate of c and warns about every
// way it disagrees with the group basis.
func (g *Group) checkPlacementLocked(c *Component, res int) Coord {
	b := g.basis
	p := c.placement
	at, misalign := g.coordinateLocked(p)

	warn := func(kind string, fields ...zap.Field) {
		configMismatchTotal.WithLabelValues(kind).Inc()
		fields = append(fields, zap.String("component", c.name), zap.String("kind", kind))
		g.log.Warn("tile does not match group configuration, seams are expected", fields...)
	}

	if res != b.resolution {
		warn("resolution", zap.Int("resolution", res), zap.Int("expected", b.resolution))
	}
	x, y := p.Axes()
	if !x.ApproxEqual(b.axisX, axisTolerance) || !y.ApproxEqual(b.axisY, axisTolerance) {
		warn("orientation")
	}
	if !p.Scale().ApproxEqual(b.scale, scaleTolerance) {
		warn("scale")
	}
	if misalign > alignmentTolerance {
		warn("alignment", zap.Float32("offset", misalign))
	}
	return at
}

// coordinateLocked projects the placement center onto the group basis in
// units of tile sides. It also returns the distance to the nearest lattice
// point, in tile sides.
func (g *Group) coordinateLocked(p Placement) (Coord, float32) {
	b := g.basis
	side := float32(b.resolution - 1)
	if side <= 0 {
		side = 1
	}
	v := p.Center().Sub(b.origin).ProjectXY(b.axisX, b.axisY)
	v = math.Vec2{
		X: v.X / (side * nonZero(b.scale.X)),
		Y: v.Y / (side * nonZero(b.scale.Y)),
	}
	x, y := v.Round()
	misalign := max(abs32(v.X-float32(x)), abs32(v.Y-float32(y)))
	return Coord{x, y}, misalign
}

// unmapLocked removes f from the grid and drops its queued work. Neighbors
// are queued so they can fall back to their own values.
func (g *Group) unmapLocked(f *Fixup) {
	if f.loadGroup() != g || !f.mapped {
		return
	}
	if g.tiles[f.coord] == f {
		delete(g.tiles, f.coord)
	}
	for i, at := range g.order {
		if at == f.coord {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	delete(g.needsRecapture, f)
	delete(g.needsPatch, f)
	g.touchNeighborsLocked(f, AllDirections)

	f.mapped = false
	f.displaced = false
	f.setBorderState(f.modified, NoDirections)
	f.setGroup(nil)
	mappedTiles.WithLabelValues(g.name).Set(float64(len(g.tiles)))
}

// neighborLocked returns the tile at position p relative to f, ignoring
// displaced tiles.
func (g *Group) neighborLocked(f *Fixup, p Direction) *Fixup {
	if f.displaced {
		return nil
	}
	nb := g.tiles[f.coord.Step(p)]
	if nb == nil || nb == f || nb.displaced {
		return nil
	}
	return nb
}

// enqueueLocked queues dirs of f for patching.
func (g *Group) enqueueLocked(f *Fixup, dirs DirectionSet) {
	if dirs.IsEmpty() {
		return
	}
	f.setBorderState(f.modified, f.parked.Without(dirs))
	g.needsPatch[f] = g.needsPatch[f].Union(dirs)
}

// touchNeighborsLocked queues, for every position in positions, the
// directions of that neighbor which face f.
func (g *Group) touchNeighborsLocked(f *Fixup, positions DirectionSet) {
	positions.Each(func(p Direction) {
		if nb := g.neighborLocked(f, p); nb != nil {
			g.enqueueLocked(nb, Touching(p))
		}
	})
}

// tick runs one reconciliation pass: validation, recapture, then patching.
func (g *Group) tick(ctx context.Context) TickStats {
	var st TickStats
	if g.coordinator.settings.SelfValidation {
		st.Validated, st.Healed = g.validateNext()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return st
	}
	g.recaptureLocked(&st)
	g.patchLocked(ctx, &st)
	return st
}

// recaptureLocked drains the recapture queue. A new snapshot replaces the
// old one only when a direction changed, and only those directions and the
// neighbors touching them are queued for patching.
func (g *Group) recaptureLocked(st *TickStats) {
	for f := range g.needsRecapture {
		owner := f.ActiveOwner()
		if owner == nil || f.loadGroup() != g || !f.mapped {
			delete(g.needsRecapture, f)
			continue
		}
		if isEditing(f.raster) || f.raster.HasPendingLoad() || f.raster.Resolution() == 0 {
			continue
		}

		snap, err := g.capture(f, owner)
		delete(g.needsRecapture, f)
		if err != nil {
			g.log.Warn("snapshot capture failed",
				zap.Stringer("raster", f.id),
				zap.Error(err))
			continue
		}
		st.Recaptured++
		recapturesTotal.Inc()

		changed := Diff(f.Snapshot(), snap)
		if changed.IsEmpty() {
			continue
		}
		st.Changed += changed.Len()
		changedDirectionsTotal.Add(float64(changed.Len()))

		f.swapSnapshot(snap.WithBaseline(f.baseline))
		g.enqueueLocked(f, withEndpoints(changed))
		g.touchNeighborsLocked(f, AffectedNeighbors(changed))
		g.log.Debug("snapshot recaptured",
			zap.Stringer("raster", f.id),
			zap.Stringer("changed", changed))
	}
}

// capture snapshots f from its source data or its live raster.
func (g *Group) capture(f *Fixup, owner *Component) (*EdgeSnapshot, error) {
	res := f.raster.Resolution()
	mips := f.raster.MipCount()
	if mips < 1 {
		mips = 1
	}
	read := rasterReader(f.raster)
	if g.coordinator.settings.CaptureFromSource && owner.source != nil {
		read = owner.source.SourceBorder
	}
	return Capture(read, res, mips, placementScale(owner), g.coordinator.normals)
}

// validateNext checks the next mapped tile in round-robin order and heals it
// when the map and its owner disagree.
func (g *Group) validateNext() (validated, healed int) {
	g.mu.Lock()
	if g.closed || len(g.order) == 0 {
		g.mu.Unlock()
		return 0, 0
	}
	g.cursor %= len(g.order)
	at := g.order[g.cursor]
	g.cursor++

	f := g.tiles[at]
	var owner *Component
	if f != nil {
		owner = f.ActiveOwner()
	}

	problem := ""
	reregister := false
	switch {
	case f == nil:
		problem = "stale validation entry"
		g.order = append(g.order[:g.cursor-1], g.order[g.cursor:]...)
		g.cursor--
	case owner == nil:
		problem = "mapped tile has no active owner"
		g.unmapLocked(f)
	case owner.Group() != g || owner.Fixup() != f:
		problem = "owner disagrees with group map"
		g.unmapLocked(f)
		reregister = true
	case f.coord != at || !f.mapped:
		problem = "tile coordinate disagrees with group map"
		g.unmapLocked(f)
		reregister = true
	case !f.displaced:
		if want, _ := g.coordinateLocked(owner.placement); want != at {
			problem = "tile moved without re-registering"
			g.unmapLocked(f)
			g.activateLocked(f, owner, false)
		}
	}
	g.mu.Unlock()

	if problem == "" {
		return 1, 0
	}
	selfHealsTotal.Inc()
	fields := []zap.Field{zap.String("problem", problem), zap.Stringer("coord", at)}
	if owner != nil {
		fields = append(fields, zap.String("component", owner.name))
	}
	g.log.Warn("group invariant violated, healing", fields...)

	if reregister {
		og := owner.Group()
		if og == nil {
			og = g
		}
		og.Unregister(owner)
		og.Register(owner)
	}
	return 1, 1
}

func placementScale(c *Component) math.Vec3 {
	if c == nil || c.placement == nil {
		return math.Vec3{X: 1, Y: 1, Z: 1}
	}
	return c.placement.Scale()
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
