package terrain

import (
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// NewHeightmap returns a flat heightmap of size x size samples at height zero.
func NewHeightmap(size int) *Heightmap {
	h := &Heightmap{Size: size, Heights: make([]uint16, size*size)}
	for i := range h.Heights {
		h.Heights[i] = texel.MidHeight
	}
	return h
}

// At returns the sample at (x, y), clamped to the grid.
func (h *Heightmap) At(x, y int) uint16 {
	x = clamp(x, 0, h.Size-1)
	y = clamp(y, 0, h.Size-1)
	return h.Heights[y*h.Size+x]
}

// Set writes the sample at (x, y). Out of range writes are ignored.
func (h *Heightmap) Set(x, y int, v uint16) {
	if x < 0 || y < 0 || x >= h.Size || y >= h.Size {
		return
	}
	h.Heights[y*h.Size+x] = v
}

// Clone returns a deep copy.
func (h *Heightmap) Clone() *Heightmap {
	return &Heightmap{Size: h.Size, Heights: append([]uint16(nil), h.Heights...)}
}

// Downsample halves the resolution with a 2x2 box filter. Odd sizes clamp
// the last column and row.
func (h *Heightmap) Downsample() *Heightmap {
	size := max(h.Size/2, 1)
	out := &Heightmap{Size: size, Heights: make([]uint16, size*size)}
	for y := range size {
		for x := range size {
			sum := uint32(h.At(2*x, 2*y)) + uint32(h.At(2*x+1, 2*y)) +
				uint32(h.At(2*x, 2*y+1)) + uint32(h.At(2*x+1, 2*y+1))
			out.Heights[y*size+x] = uint16((sum + 2) / 4)
		}
	}
	return out
}

// MipChain returns h followed by successive downsamples, count levels in all.
func (h *Heightmap) MipChain(count int) []*Heightmap {
	chain := []*Heightmap{h}
	for len(chain) < count {
		chain = append(chain, chain[len(chain)-1].Downsample())
	}
	return chain
}

// GetInterpolatedHeight returns the bilinearly interpolated height at a
// fractional sample position, in fixed point steps.
func (h *Heightmap) GetInterpolatedHeight(fx, fy float32) float32 {
	if h == nil || h.Size == 0 {
		return float32(texel.MidHeight)
	}

	x := clamp(int(fx), 0, max(h.Size-2, 0))
	y := clamp(int(fy), 0, max(h.Size-2, 0))
	fracX := clampf(fx-float32(x), 0, 1)
	fracY := clampf(fy-float32(y), 0, 1)

	sw := float32(h.At(x, y))
	se := float32(h.At(x+1, y))
	nw := float32(h.At(x, y+1))
	ne := float32(h.At(x+1, y+1))

	south := sw*(1-fracX) + se*fracX
	north := nw*(1-fracX) + ne*fracX
	return south*(1-fracY) + north*fracY
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
