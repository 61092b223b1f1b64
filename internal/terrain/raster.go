package terrain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

var (
	// ErrNotLoaded is returned when writing to a raster that has no data.
	ErrNotLoaded = errors.New("raster not loaded")
	// ErrRowLength is returned when a written border has the wrong size.
	ErrRowLength = errors.New("border row length mismatch")
	// ErrLocked is returned when writing to a raster under edit.
	ErrLocked = errors.New("raster is being edited")
)

// Raster is an in-memory height/normal texture with a full mip chain. It
// implements fixup.Raster and fixup.Editable.
type Raster struct {
	id    uuid.UUID
	scale math.Vec3

	mu   sync.RWMutex
	res  int
	mips [][]texel.Texel

	pending atomic.Bool
	editing atomic.Bool
	writes  atomic.Int64
}

// NewRaster creates a loaded raster from a mip 0 heightmap.
func NewRaster(hm *Heightmap, scale math.Vec3) *Raster {
	r := NewUnloadedRaster(uuid.New(), scale)
	r.Load(hm)
	return r
}

// NewUnloadedRaster creates a raster with no data. Resolution reports 0
// until Load is called.
func NewUnloadedRaster(id uuid.UUID, scale math.Vec3) *Raster {
	return &Raster{id: id, scale: scale}
}

// Load replaces the raster contents with hm and its box-filtered mips.
func (r *Raster) Load(hm *Heightmap) {
	chain := hm.MipChain(fixup.MipCountFor(hm.Size))
	mips := make([][]texel.Texel, len(chain))
	for m, level := range chain {
		mips[m] = buildTexels(level, m, r.scale)
	}

	r.mu.Lock()
	r.res = hm.Size
	r.mips = mips
	r.mu.Unlock()
}

// ID implements fixup.Raster.
func (r *Raster) ID() uuid.UUID { return r.id }

// Resolution implements fixup.Raster.
func (r *Raster) Resolution() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.res
}

// MipCount implements fixup.Raster.
func (r *Raster) MipCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mips)
}

// HasPendingLoad implements fixup.Raster.
func (r *Raster) HasPendingLoad() bool { return r.pending.Load() }

// IsEditing implements fixup.Editable.
func (r *Raster) IsEditing() bool { return r.editing.Load() }

// SetPendingLoad marks the raster as streaming in.
func (r *Raster) SetPendingLoad(pending bool) { r.pending.Store(pending) }

// BeginEdit locks the raster against border writes.
func (r *Raster) BeginEdit() { r.editing.Store(true) }

// EndEdit releases the edit lock.
func (r *Raster) EndEdit() { r.editing.Store(false) }

// Writes returns the number of successful border writes.
func (r *Raster) Writes() int64 { return r.writes.Load() }

// Scale returns the authoring grid scale used for normals.
func (r *Raster) Scale() math.Vec3 { return r.scale }

func (r *Raster) size(mip int) int {
	return max(r.res>>mip, 1)
}

// ReadBorder implements fixup.Raster.
func (r *Raster) ReadBorder(dir fixup.Direction, mip, inset int) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mip < 0 || mip >= len(r.mips) {
		return nil
	}
	size := r.size(mip)
	cells := fixup.BorderCells(dir, size, inset)
	if cells == nil {
		return nil
	}
	buf := make([]byte, len(cells)*texel.Size)
	for i, c := range cells {
		r.mips[mip][c[1]*size+c[0]].Put(buf[i*texel.Size:])
	}
	return buf
}

// WriteBorder implements fixup.Raster.
func (r *Raster) WriteBorder(dir fixup.Direction, mip int, data []byte) error {
	if r.editing.Load() {
		return ErrLocked
	}
	row, err := texel.Decode(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mip < 0 || mip >= len(r.mips) {
		return fmt.Errorf("%w: mip %d", ErrNotLoaded, mip)
	}
	size := r.size(mip)
	cells := fixup.BorderCells(dir, size, 0)
	if len(row) != len(cells) {
		return fmt.Errorf("%w: %s got %d want %d", ErrRowLength, dir, len(row), len(cells))
	}
	for i, c := range cells {
		r.mips[mip][c[1]*size+c[0]] = row[i]
	}
	r.writes.Add(1)
	return nil
}

// Sample returns the texel at (x, y) of mip.
func (r *Raster) Sample(mip, x, y int) texel.Texel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mip < 0 || mip >= len(r.mips) {
		return texel.Texel{}
	}
	size := r.size(mip)
	return r.mips[mip][clamp(y, 0, size-1)*size+clamp(x, 0, size-1)]
}

// Heightmap returns a copy of the heights of mip.
func (r *Raster) Heightmap(mip int) *Heightmap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mip < 0 || mip >= len(r.mips) {
		return nil
	}
	size := r.size(mip)
	hm := &Heightmap{Size: size, Heights: make([]uint16, size*size)}
	for i, t := range r.mips[mip] {
		hm.Heights[i] = t.Height
	}
	return hm
}

// Edit applies fn to the mip 0 heights and rebuilds every mip. The raster is
// reported as editing while fn runs.
func (r *Raster) Edit(fn func(hm *Heightmap)) error {
	hm := r.Heightmap(0)
	if hm == nil {
		return ErrNotLoaded
	}
	r.BeginEdit()
	defer r.EndEdit()
	fn(hm)
	r.Load(hm)
	return nil
}

// buildTexels packs a heightmap level with interior normals from central
// differences.
func buildTexels(hm *Heightmap, mip int, scale math.Vec3) []texel.Texel {
	size := hm.Size
	out := make([]texel.Texel, size*size)
	spacing := float32(int(1) << mip)
	sx, sy, sz := nonZero(scale.X), nonZero(scale.Y), nonZero(scale.Z)

	for y := range size {
		for x := range size {
			gx := gradient(hm.At(x-1, y), hm.At(x+1, y), x, size)
			gy := gradient(hm.At(x, y-1), hm.At(x, y+1), y, size)
			slopeX := gx * texel.HeightScale * sz / (spacing * sx)
			slopeY := gy * texel.HeightScale * sz / (spacing * sy)
			n := math.Vec3{X: -slopeX, Y: -slopeY, Z: 1}.Normalize()
			out[y*size+x] = texel.Texel{
				Height:  hm.At(x, y),
				NormalX: texel.EncodeNormal(n.X),
				NormalY: texel.EncodeNormal(n.Y),
			}
		}
	}
	return out
}

// gradient is the height derivative at i given the samples either side.
// Neighbors are clamped at the borders, which halves the span.
func gradient(lo, hi uint16, i, size int) float32 {
	d := float32(int32(hi) - int32(lo))
	if size < 2 {
		return 0
	}
	if i == 0 || i == size-1 {
		return d
	}
	return d / 2
}

func nonZero(v float32) float32 {
	if v == 0 {
		return 1
	}
	if v < 0 {
		return -v
	}
	return v
}
