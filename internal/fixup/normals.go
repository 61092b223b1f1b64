package fixup

import (
	stdmath "math"

	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// NormalStrategy rebuilds border texels from border heights.
//
// edge is the border row at mip, inner the row one sample toward the
// interior (same length, or nil when the mip is too small to have one).
// Both ends of inner lie on the perpendicular borders.
// scale is the tile's authoring grid scale.
type NormalStrategy interface {
	Texels(dir Direction, mip int, edge, inner []uint16, scale math.Vec3) []texel.Texel
}

// GradientNormals reconstructs normals from finite differences: central
// differences along the row, and the edge-minus-inner difference across it.
// The end samples of an edge take the across difference of their in-row
// neighbor, so a row's texels never depend on another border's heights.
type GradientNormals struct{}

// Texels implements NormalStrategy.
func (GradientNormals) Texels(dir Direction, mip int, edge, inner []uint16, scale math.Vec3) []texel.Texel {
	out := make([]texel.Texel, len(edge))
	spacing := float32(int(1) << mip)
	sx, sy, sz := nonZero(scale.X), nonZero(scale.Y), nonZero(scale.Z)
	ox, oy := dir.Offset()

	for i, h := range edge {
		across := acrossRow(dir, edge, inner, i)

		// gradient in fixed point height steps per sample
		var gx, gy float32
		if dir.IsCorner() {
			// the inner sample sits on the diagonal, sqrt(2) samples away
			gx = float32(ox) * across / 2
			gy = float32(oy) * across / 2
		} else {
			along := alongRow(edge, i)
			if ox != 0 {
				gx = float32(ox) * across
				gy = along
			} else {
				gx = along
				gy = float32(oy) * across
			}
		}

		slopeX := gx * texel.HeightScale * sz / (spacing * sx)
		slopeY := gy * texel.HeightScale * sz / (spacing * sy)
		n := math.Vec3{X: -slopeX, Y: -slopeY, Z: 1}.Normalize()

		out[i] = texel.Texel{
			Height:  h,
			NormalX: texel.EncodeNormal(n.X),
			NormalY: texel.EncodeNormal(n.Y),
		}
	}
	return out
}

// acrossRow is the edge-minus-inner height difference at i. Edge ends use
// index 1 or n-2 instead; rows of two samples have no interior there.
func acrossRow(dir Direction, edge, inner []uint16, i int) float32 {
	n := len(edge)
	if len(inner) != n {
		return 0
	}
	if !dir.IsCorner() && (i == 0 || i == n-1) {
		if n < 3 {
			return 0
		}
		i = min(max(i, 1), n-2)
	}
	return float32(int32(edge[i]) - int32(inner[i]))
}

// alongRow is the height derivative along the row at i.
func alongRow(row []uint16, i int) float32 {
	n := len(row)
	switch {
	case n < 2:
		return 0
	case i == 0:
		return float32(int32(row[1]) - int32(row[0]))
	case i == n-1:
		return float32(int32(row[n-1]) - int32(row[n-2]))
	default:
		return float32(int32(row[i+1])-int32(row[i-1])) / 2
	}
}

func nonZero(v float32) float32 {
	if v == 0 || stdmath.IsNaN(float64(v)) {
		return 1
	}
	if v < 0 {
		return -v
	}
	return v
}
