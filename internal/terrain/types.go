// Package terrain provides heightmap tiles for the edge fixup coordinator:
// in-memory rasters with a mip chain, procedural authoring sources,
// placements and seam measurement.
package terrain

import (
	"github.com/Faultbox/edgefixup/internal/fixup"
)

// Heightmap is a square grid of 16-bit fixed point heights in row order,
// x fastest.
type Heightmap struct {
	Size    int      // samples per side
	Heights []uint16 // Size*Size samples
}

// SeamReport summarizes height mismatches between neighboring tiles.
type SeamReport struct {
	Compared   int // shared samples compared
	Mismatched int // samples whose heights differ
	MaxError   int // largest absolute difference in fixed point steps
}

// Add folds another report into r.
func (r *SeamReport) Add(o SeamReport) {
	r.Compared += o.Compared
	r.Mismatched += o.Mismatched
	r.MaxError = max(r.MaxError, o.MaxError)
}

// Clean reports whether no compared sample differs.
func (r SeamReport) Clean() bool {
	return r.Mismatched == 0
}

// Tiles maps grid coordinates to rasters.
type Tiles map[fixup.Coord]*Raster
