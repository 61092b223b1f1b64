package fixup

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// patchJob is one queued tile.
type patchJob struct {
	fixup *Fixup
	dirs  DirectionSet
}

// patchResult is what applying a patch decided for one tile. It is computed
// by a worker and committed to the group afterwards.
type patchResult struct {
	drop       bool         // tile is no longer patchable
	keep       DirectionSet // stays queued
	parked     DirectionSet // waits for a neighbor
	modified   DirectionSet // differs from baseline after the write
	unmodified DirectionSet // matches baseline or was restored
	recapture  bool
	deferred   bool
	written    int
	restored   int
}

// patchLocked drains the patch queue. Tiles are patched in parallel since
// each write only touches the tile's own raster; the queue and the map are
// read-only while workers run.
func (g *Group) patchLocked(ctx context.Context, st *TickStats) {
	if len(g.needsPatch) == 0 {
		return
	}
	jobs := make([]patchJob, 0, len(g.needsPatch))
	for f, dirs := range g.needsPatch {
		jobs = append(jobs, patchJob{fixup: f, dirs: dirs})
	}
	results := make([]patchResult, len(jobs))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.coordinator.settings.PatchWorkers)
	for i, job := range jobs {
		eg.Go(func() error {
			if ctx.Err() != nil {
				results[i] = patchResult{keep: job.dirs}
				return nil
			}
			results[i] = g.applyPatch(job.fixup, job.dirs)
			return nil
		})
	}
	_ = eg.Wait()

	for i, r := range results {
		g.commitLocked(jobs[i].fixup, r, st)
	}
}

func (g *Group) commitLocked(f *Fixup, r patchResult, st *TickStats) {
	if r.drop {
		delete(g.needsPatch, f)
		return
	}
	if r.recapture {
		g.needsRecapture[f] = struct{}{}
	}
	if r.keep.IsEmpty() {
		delete(g.needsPatch, f)
	} else {
		g.needsPatch[f] = r.keep
	}
	f.setBorderState(f.modified.Union(r.modified).Without(r.unmodified), f.parked.Union(r.parked))

	st.Patched += r.written + r.restored
	st.Parked += r.parked.Len()
	if r.deferred {
		st.Deferred++
		deferredPatchesTotal.Inc()
	}
	patchedRowsTotal.WithLabelValues("eager").Add(float64(r.written))
	patchedRowsTotal.WithLabelValues("restore").Add(float64(r.restored))
}

// ApplyPatch patches the queued directions of f at mip 0 right away and
// returns the number of rows written. It is what a tick does for each queued
// tile.
func (g *Group) ApplyPatch(f *Fixup) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	dirs, ok := g.needsPatch[f]
	if !ok {
		return 0
	}
	var st TickStats
	r := g.applyPatch(f, dirs)
	g.commitLocked(f, r, &st)
	return st.Patched
}

// applyPatch computes and writes the mip 0 rows of f for dirs. Directions
// with no neighbor are parked; a parked direction that had been rewritten
// gets its own captured values back. Rasters that are loading or being
// edited keep dirs queued untouched.
func (g *Group) applyPatch(f *Fixup, dirs DirectionSet) patchResult {
	var r patchResult
	owner := f.ActiveOwner()
	if owner == nil || f.loadGroup() != g || !f.mapped {
		r.drop = true
		return r
	}
	if f.raster.HasPendingLoad() || isEditing(f.raster) {
		r.keep = dirs
		r.deferred = true
		return r
	}

	self := f.Snapshot()
	res := f.raster.Resolution()
	if self == nil || res == 0 || self.EdgeLength != res {
		// stale or missing snapshot, patch after the next capture
		r.keep = dirs
		r.recapture = res != 0
		return r
	}

	n := g.neighborhoodLocked(f, self)
	scale := placementScale(owner)
	// edges first so corner writes land last on shared samples
	var order []Direction
	dirs.Each(func(d Direction) { order = append(order, d) })

	for _, d := range order {
		heights, ok := blendRow(&n, d, 0)
		if !ok {
			r.parked = r.parked.Add(d)
			if !f.modified.Has(d) {
				continue
			}
			heights, ok = restoreRow(&n, d, 0)
			if !ok {
				continue
			}
			if _, _, err := g.writeRow(f.raster, d, 0, heights, scale); err != nil {
				g.log.Warn("restoring border failed", zap.Stringer("raster", f.id), zap.Error(err))
				continue
			}
			r.unmodified = r.unmodified.Add(d)
			r.restored++
			continue
		}

		written, hash, err := g.writeRow(f.raster, d, 0, heights, scale)
		if err != nil {
			g.log.Warn("patching border failed",
				zap.Stringer("raster", f.id),
				zap.Stringer("direction", d),
				zap.Error(err))
			r.keep = r.keep.Add(d)
			continue
		}
		if written {
			r.written++
		}
		if hash != f.baseline[d] {
			r.modified = r.modified.Add(d)
		} else {
			r.unmodified = r.unmodified.Add(d)
		}
	}
	return r
}

// PatchStreamedMips patches mips first..last of the tile owned by c, for
// use when those mips stream in. The pending load flag is not consulted
// since the caller is the one completing the load. A tile under edit is
// left alone and queued for recapture. It returns the number of rows written.
func (g *Group) PatchStreamedMips(c *Component, first, last int) int {
	f := c.Fixup()
	if f == nil || f.ActiveOwner() != c {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if f.loadGroup() != g || !f.mapped {
		return 0
	}
	if isEditing(f.raster) {
		// mip 0 is reconciled by the recapture once the edit ends
		g.needsRecapture[f] = struct{}{}
		return 0
	}
	self := f.Snapshot()
	res := f.raster.Resolution()
	if self == nil || self.EdgeLength != res {
		g.needsRecapture[f] = struct{}{}
		return 0
	}

	first = max(first, 0)
	last = min(last, self.MipCount-1, f.raster.MipCount()-1)
	n := g.neighborhoodLocked(f, self)
	scale := placementScale(c)
	written := 0
	for mip := first; mip <= last && res>>mip >= 2; mip++ {
		for _, d := range Directions {
			heights, ok := blendRow(&n, d, mip)
			if !ok {
				continue
			}
			wrote, _, err := g.writeRow(f.raster, d, mip, heights, scale)
			if err != nil {
				g.log.Warn("patching streamed mip failed",
					zap.Stringer("raster", f.id),
					zap.Int("mip", mip),
					zap.Error(err))
				continue
			}
			if wrote {
				written++
			}
		}
	}
	patchedRowsTotal.WithLabelValues("streamed").Add(float64(written))
	return written
}

// neighborhoodLocked gathers the snapshots around f.
func (g *Group) neighborhoodLocked(f *Fixup, self *EdgeSnapshot) Neighborhood {
	n := Neighborhood{Self: self}
	for _, d := range Directions {
		nb := g.neighborLocked(f, d)
		if nb == nil {
			continue
		}
		s := nb.Snapshot()
		if s != nil && s.EdgeLength != self.EdgeLength {
			g.log.Debug("neighbor resolution differs, border left as is",
				zap.Stringer("raster", f.id),
				zap.Stringer("direction", d))
		}
		n.Neighbors[d] = s
	}
	return n
}

// blendRow resolves the heights of direction d at mip. Rows shorter than 2
// samples have no interior and are skipped.
func blendRow(n *Neighborhood, d Direction, mip int) ([]uint16, bool) {
	if !d.IsCorner() {
		return n.BlendEdge(d, mip)
	}
	v, ok := n.BlendCorner(d, mip)
	if !ok {
		return nil, false
	}
	return []uint16{v}, true
}

func restoreRow(n *Neighborhood, d Direction, mip int) ([]uint16, bool) {
	if !d.IsCorner() {
		return n.RestoreEdge(d, mip)
	}
	own := n.Self.Heights(d, mip)
	if len(own) != 1 {
		return nil, false
	}
	return own, true
}

// writeRow encodes heights with fresh normals and writes them unless the
// raster already holds those heights. It returns whether a write happened
// and the hash of the row now in the raster.
func (g *Group) writeRow(r Raster, d Direction, mip int, heights []uint16, scale math.Vec3) (bool, uint64, error) {
	live := r.ReadBorder(d, mip, 0)
	if slices.Equal(texel.Heights(live), heights) {
		return false, HashBytes(live), nil
	}

	var inner []uint16
	if r.Resolution()>>mip >= 2 {
		if buf := r.ReadBorder(d, mip, 1); len(buf) == len(heights)*texel.Size {
			inner = texel.Heights(buf)
		}
	}
	buf := texel.Encode(g.coordinator.normals.Texels(d, mip, heights, inner, scale))
	if err := r.WriteBorder(d, mip, buf); err != nil {
		return false, 0, fmt.Errorf("write %s mip %d: %w", d, mip, err)
	}
	return true, HashBytes(buf), nil
}

// rasterReader reads border heights from a live raster.
func rasterReader(r Raster) BorderReader {
	return func(d Direction, mip, inset int) ([]uint16, bool) {
		buf := r.ReadBorder(d, mip, inset)
		if buf == nil {
			return nil, false
		}
		return texel.Heights(buf), true
	}
}

// liveBaseline hashes the mip 0 borders currently in the raster.
func liveBaseline(r Raster) [NumDirections]uint64 {
	var out [NumDirections]uint64
	for _, d := range Directions {
		out[d] = HashBytes(r.ReadBorder(d, 0, 0))
	}
	return out
}
