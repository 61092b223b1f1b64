package fixup

// Neighborhood is the set of snapshots a patch reads: the tile's own and
// those of the tiles around it, indexed by their position relative to it.
//
// Blending is deterministic and evaluated the same way from every tile, so
// two neighbors patched from the same snapshots end with bit-identical
// shared samples:
//   - along an edge the tile in the +X or +Y direction is authoritative, so a
//     Right or Top row takes the neighbor's values and a Left or Bottom row
//     keeps its own;
//   - a grid vertex takes the value of the tile to its north-east, else the
//     average of the south-east and north-west tiles, else whichever of those
//     two exists.
type Neighborhood struct {
	Self      *EdgeSnapshot
	Neighbors [NumDirections]*EdgeSnapshot
}

// vertexCorner is the corner of a tile that touches a vertex, keyed by the
// tile's position around that vertex.
var vertexCorner = map[[2]bool]Direction{
	{true, true}:   BottomLeft,  // north-east tile
	{true, false}:  TopLeft,     // south-east tile
	{false, true}:  BottomRight, // north-west tile
	{false, false}: TopRight,    // south-west tile
}

// compatible reports whether other can be blended with the own snapshot at
// mip.
func (n *Neighborhood) compatible(other *EdgeSnapshot, mip int) bool {
	return other != nil && n.Self != nil &&
		other.EdgeLength == n.Self.EdgeLength &&
		mip < len(other.Data[Bottom])
}

// tileAt returns the snapshot of the tile at relative offset (dx, dy),
// where (0, 0) is the own tile.
func (n *Neighborhood) tileAt(dx, dy int32) *EdgeSnapshot {
	if dx == 0 && dy == 0 {
		return n.Self
	}
	d, ok := DirectionFromOffset(dx, dy)
	if !ok {
		return nil
	}
	return n.Neighbors[d]
}

// BlendCorner resolves the vertex at the given corner of the own tile at mip.
// ok is false when no neighbor shares the vertex, in which case the own value
// is returned unchanged.
func (n *Neighborhood) BlendCorner(corner Direction, mip int) (value uint16, ok bool) {
	own := n.Self.Heights(corner, mip)
	if len(own) != 1 {
		return 0, false
	}
	if !corner.IsCorner() {
		return own[0], false
	}

	dx, dy := corner.Offset()
	loX, hiX := min(0, dx), max(0, dx)
	loY, hiY := min(0, dy), max(0, dy)

	sample := func(tx, ty int32) (uint16, bool) {
		s := n.tileAt(tx, ty)
		if s == nil || (s != n.Self && !n.compatible(s, mip)) {
			return 0, false
		}
		row := s.Heights(vertexCorner[[2]bool{tx == hiX, ty == hiY}], mip)
		if len(row) != 1 {
			return 0, false
		}
		return row[0], true
	}

	shared := false
	for _, off := range [3][2]int32{{dx, 0}, {0, dy}, {dx, dy}} {
		if n.tileAt(off[0], off[1]) != nil {
			shared = true
		}
	}
	if !shared {
		return own[0], false
	}

	if ne, ok := sample(hiX, hiY); ok {
		return ne, true
	}
	se, seOK := sample(hiX, loY)
	nw, nwOK := sample(loX, hiY)
	switch {
	case seOK && nwOK:
		return uint16((uint32(se) + uint32(nw)) / 2), true
	case seOK:
		return se, true
	case nwOK:
		return nw, true
	}
	return own[0], false
}

// BlendEdge returns the patched heights of edge dir at mip. ok is false when
// there is no compatible neighbor on that side or the row is too short to
// have an interior.
func (n *Neighborhood) BlendEdge(dir Direction, mip int) (heights []uint16, ok bool) {
	if dir.IsCorner() {
		return nil, false
	}
	nb := n.Neighbors[dir]
	if !n.compatible(nb, mip) {
		return nil, false
	}
	out := n.Self.Heights(dir, mip)
	if len(out) < 2 {
		return nil, false
	}
	if dir == Right || dir == Top {
		theirs := nb.Heights(dir.Opposite(), mip)
		if len(theirs) != len(out) {
			return nil, false
		}
		copy(out[1:len(out)-1], theirs[1:len(theirs)-1])
	}
	n.resolveEndpoints(dir, mip, out)
	return out, true
}

// RestoreEdge returns the own captured heights of edge dir at mip with its
// endpoints resolved against whatever neighbors remain. It is used when the
// neighbor a row was patched against goes away.
func (n *Neighborhood) RestoreEdge(dir Direction, mip int) ([]uint16, bool) {
	if dir.IsCorner() {
		return nil, false
	}
	out := n.Self.Heights(dir, mip)
	if len(out) < 2 {
		return nil, false
	}
	n.resolveEndpoints(dir, mip, out)
	return out, true
}

func (n *Neighborhood) resolveEndpoints(dir Direction, mip int, row []uint16) {
	first, last := dir.EdgeCorners()
	if v, ok := n.BlendCorner(first, mip); ok {
		row[0] = v
	}
	if v, ok := n.BlendCorner(last, mip); ok {
		row[len(row)-1] = v
	}
}
