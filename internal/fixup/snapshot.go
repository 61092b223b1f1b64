package fixup

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// Snapshot capture errors.
var (
	ErrBorderUnavailable = errors.New("border samples unavailable")
	ErrBorderLength      = errors.New("border row length does not match resolution")
	ErrInvalidResolution = errors.New("invalid raster resolution")
)

// BorderReader returns the heights of one border row, using the addressing
// of Raster.ReadBorder.
type BorderReader func(dir Direction, mip, inset int) ([]uint16, bool)

// EdgeSnapshot is an immutable capture of a tile's border texels. It is
// never modified after Capture returns; updates build a new snapshot and
// swap the reference.
type EdgeSnapshot struct {
	EdgeLength int
	MipCount   int
	// Data holds one row per direction per mip.
	Data         [NumDirections][][]texel.Texel
	CapturedHash [NumDirections]uint64
	BaselineHash [NumDirections]uint64
}

// RowLength returns the number of samples of dir at mip for a raster of the
// given resolution.
func RowLength(dir Direction, resolution, mip int) int {
	if dir.IsCorner() {
		return 1
	}
	n := resolution >> mip
	if n < 1 {
		n = 1
	}
	return n
}

// MipCountFor returns the length of a full mip chain down to 1x1.
func MipCountFor(resolution int) int {
	n := 1
	for resolution > 1 {
		resolution >>= 1
		n++
	}
	return n
}

// Capture builds a snapshot from border rows. Every direction is read at
// every mip, normals are rebuilt with strategy, and one hash per direction is
// taken over the encoded mip 0 row.
func Capture(read BorderReader, resolution, mipCount int, scale math.Vec3, strategy NormalStrategy) (*EdgeSnapshot, error) {
	if resolution < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	if mipCount < 1 {
		mipCount = 1
	}
	if strategy == nil {
		strategy = GradientNormals{}
	}

	s := &EdgeSnapshot{
		EdgeLength: resolution,
		MipCount:   mipCount,
	}
	for _, dir := range Directions {
		s.Data[dir] = make([][]texel.Texel, mipCount)
		for mip := range mipCount {
			want := RowLength(dir, resolution, mip)
			edge, ok := read(dir, mip, 0)
			if !ok {
				return nil, fmt.Errorf("%w: %s mip %d", ErrBorderUnavailable, dir, mip)
			}
			if len(edge) != want {
				return nil, fmt.Errorf("%w: %s mip %d has %d samples, want %d", ErrBorderLength, dir, mip, len(edge), want)
			}

			var inner []uint16
			if resolution>>mip >= 2 {
				if in, ok := read(dir, mip, 1); ok && len(in) == want {
					inner = in
				}
			}
			s.Data[dir][mip] = strategy.Texels(dir, mip, edge, inner, scale)
		}
		s.CapturedHash[dir] = HashRow(s.Data[dir][0])
	}
	return s, nil
}

// HashRow hashes an encoded texel row.
func HashRow(row []texel.Texel) uint64 {
	return xxhash.Sum64(texel.Encode(row))
}

// HashBytes hashes an already encoded row.
func HashBytes(buf []byte) uint64 {
	return xxhash.Sum64(buf)
}

// Row returns the texels of dir at mip, or nil if the snapshot does not hold
// that mip.
func (s *EdgeSnapshot) Row(dir Direction, mip int) []texel.Texel {
	if s == nil || mip < 0 || mip >= len(s.Data[dir]) {
		return nil
	}
	return s.Data[dir][mip]
}

// Heights returns the height channel of Row.
func (s *EdgeSnapshot) Heights(dir Direction, mip int) []uint16 {
	row := s.Row(dir, mip)
	if row == nil {
		return nil
	}
	out := make([]uint16, len(row))
	for i, t := range row {
		out[i] = t.Height
	}
	return out
}

// WithBaseline returns a copy of s carrying a new baseline. Row data is
// shared, which is safe because snapshots are immutable.
func (s *EdgeSnapshot) WithBaseline(baseline [NumDirections]uint64) *EdgeSnapshot {
	cp := *s
	cp.BaselineHash = baseline
	return &cp
}

// Diff returns the directions whose captured hash differs between old and
// next. A missing snapshot or a resolution change reports every direction.
func Diff(old, next *EdgeSnapshot) DirectionSet {
	if old == nil || next == nil || old.EdgeLength != next.EdgeLength {
		return AllDirections
	}
	var changed DirectionSet
	for _, d := range Directions {
		if old.CapturedHash[d] != next.CapturedHash[d] {
			changed = changed.Add(d)
		}
	}
	return changed
}
