package terrain

import (
	"encoding/binary"
	stdmath "math"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// Noise is seeded fractal value noise over world XY. Lattice values come
// from hashing the seed and cell coordinates, so any two tiles sampling the
// same world position agree.
type Noise struct {
	Seed      uint64
	Frequency float32 // lattice cells per world unit
	Amplitude float32 // peak deviation in fixed point steps
	Octaves   int
}

// DefaultNoise returns gentle rolling hills.
func DefaultNoise(seed uint64) Noise {
	return Noise{Seed: seed, Frequency: 1.0 / 24, Amplitude: 6000, Octaves: 3}
}

func (n Noise) lattice(octave int, ix, iy int32) float32 {
	var b [20]byte
	binary.LittleEndian.PutUint64(b[0:], n.Seed)
	binary.LittleEndian.PutUint32(b[8:], uint32(octave))
	binary.LittleEndian.PutUint32(b[12:], uint32(ix))
	binary.LittleEndian.PutUint32(b[16:], uint32(iy))
	h := xxhash.Sum64(b[:])
	return float32(h>>40)/float32(1<<24)*2 - 1
}

// Value returns noise in [-1, 1] at a world position.
func (n Noise) Value(x, y float32) float32 {
	octaves := max(n.Octaves, 1)
	freq := n.Frequency
	if freq <= 0 {
		freq = 1
	}

	var sum, norm float32
	amp := float32(1)
	for o := range octaves {
		fx, fy := x*freq, y*freq
		x0 := float32(stdmath.Floor(float64(fx)))
		y0 := float32(stdmath.Floor(float64(fy)))
		ix, iy := int32(x0), int32(y0)
		tx, ty := smooth(fx-x0), smooth(fy-y0)

		south := lerp(n.lattice(o, ix, iy), n.lattice(o, ix+1, iy), tx)
		north := lerp(n.lattice(o, ix, iy+1), n.lattice(o, ix+1, iy+1), tx)
		sum += lerp(south, north, ty) * amp

		norm += amp
		amp /= 2
		freq *= 2
	}
	return sum / norm
}

// Height returns the fixed point height at a world position.
func (n Noise) Height(x, y float32) uint16 {
	return toFixed(float32(texel.MidHeight) + n.Value(x, y)*n.Amplitude)
}

// Generate samples noise for a tile of res x res samples centered on t.
// bias is added to every sample, to model tiles authored independently.
func Generate(n Noise, t math.Transform, res int, bias int) *Heightmap {
	hm := &Heightmap{Size: res, Heights: make([]uint16, res*res)}
	half := float32(res-1) / 2
	for y := range res {
		for x := range res {
			w := t.LocalToWorld(math.Vec3{X: float32(x) - half, Y: float32(y) - half})
			hm.Heights[y*res+x] = toFixed(float32(n.Height(w.X, w.Y)) + float32(bias))
		}
	}
	return hm
}

// Source is the authoring data of one tile: the unbiased noise sampled at
// the tile's placement, with the same mip chain a raster would build. It
// implements fixup.SourceProvider.
type Source struct {
	noise Noise
	t     math.Transform
	res   int

	once  sync.Once
	chain []*Heightmap
}

// NewSource returns the authoring source of a tile.
func NewSource(n Noise, t math.Transform, res int) *Source {
	return &Source{noise: n, t: t, res: res}
}

// SourceBorder implements fixup.SourceProvider.
func (s *Source) SourceBorder(dir fixup.Direction, mip, inset int) ([]uint16, bool) {
	s.once.Do(func() {
		s.chain = Generate(s.noise, s.t, s.res, 0).MipChain(fixup.MipCountFor(s.res))
	})
	if mip < 0 || mip >= len(s.chain) {
		return nil, false
	}
	level := s.chain[mip]
	cells := fixup.BorderCells(dir, level.Size, inset)
	if cells == nil {
		return nil, false
	}
	out := make([]uint16, len(cells))
	for i, c := range cells {
		out[i] = level.At(c[0], c[1])
	}
	return out, true
}

func toFixed(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > stdmath.MaxUint16 {
		return stdmath.MaxUint16
	}
	return uint16(v + 0.5)
}

func smooth(t float32) float32 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
