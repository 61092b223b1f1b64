package fixup

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/edgefixup/pkg/math"
	"github.com/Faultbox/edgefixup/pkg/texel"
)

// fakeRaster is an in-memory raster with a point-sampled mip chain.
type fakeRaster struct {
	id  uuid.UUID
	res int

	mu     sync.Mutex
	mips   [][]texel.Texel
	writes int

	pending atomic.Bool
	editing atomic.Bool
	failing atomic.Bool
}

func newFakeRaster(res int, height func(x, y int) uint16) *fakeRaster {
	r := &fakeRaster{id: uuid.New(), res: res}
	for m := range MipCountFor(res) {
		size := max(res>>m, 1)
		grid := make([]texel.Texel, size*size)
		for y := range size {
			for x := range size {
				grid[y*size+x] = texel.Texel{Height: height(min(x<<m, res-1), min(y<<m, res-1))}
			}
		}
		r.mips = append(r.mips, grid)
	}
	return r
}

// newRandomRaster fills a raster with seeded noise.
func newRandomRaster(res int, seed uint64) *fakeRaster {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	vals := make([]uint16, res*res)
	for i := range vals {
		vals[i] = uint16(20000 + rng.IntN(20000))
	}
	return newFakeRaster(res, func(x, y int) uint16 { return vals[y*res+x] })
}

func (r *fakeRaster) ID() uuid.UUID        { return r.id }
func (r *fakeRaster) Resolution() int      { return r.res }
func (r *fakeRaster) MipCount() int        { return len(r.mips) }
func (r *fakeRaster) HasPendingLoad() bool { return r.pending.Load() }
func (r *fakeRaster) IsEditing() bool      { return r.editing.Load() }

func (r *fakeRaster) size(mip int) int {
	return max(r.res>>mip, 1)
}

func (r *fakeRaster) ReadBorder(d Direction, mip, inset int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mip < 0 || mip >= len(r.mips) {
		return nil
	}
	size := r.size(mip)
	cells := BorderCells(d, size, inset)
	if cells == nil {
		return nil
	}
	buf := make([]byte, len(cells)*texel.Size)
	for i, c := range cells {
		r.mips[mip][c[1]*size+c[0]].Put(buf[i*texel.Size:])
	}
	return buf
}

func (r *fakeRaster) WriteBorder(d Direction, mip int, data []byte) error {
	if r.failing.Load() {
		return errors.New("raster locked")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.size(mip)
	cells := BorderCells(d, size, 0)
	row, err := texel.Decode(data)
	if err != nil {
		return err
	}
	if len(row) != len(cells) {
		return errors.New("row length mismatch")
	}
	for i, c := range cells {
		r.mips[mip][c[1]*size+c[0]] = row[i]
	}
	r.writes++
	return nil
}

// heights returns the mip heights of direction d.
func (r *fakeRaster) heights(d Direction, mip int) []uint16 {
	return texel.Heights(r.ReadBorder(d, mip, 0))
}

// setHeight overwrites one mip 0 sample.
func (r *fakeRaster) setHeight(x, y int, h uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mips[0][y*r.res+x].Height = h
}

func (r *fakeRaster) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// fakePlacement is an axis-aligned placement.
type fakePlacement struct {
	mu     sync.Mutex
	center math.Vec3
	x, y   math.Vec3
	scale  math.Vec3
}

func (p *fakePlacement) Center() math.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.center
}

func (p *fakePlacement) Axes() (math.Vec3, math.Vec3) { return p.x, p.y }
func (p *fakePlacement) Scale() math.Vec3             { return p.scale }

func (p *fakePlacement) move(center math.Vec3) {
	p.mu.Lock()
	p.center = center
	p.mu.Unlock()
}

// gridPlacement places a tile of resolution res at grid cell (i, j).
func gridPlacement(i, j, res int) *fakePlacement {
	side := float32(res - 1)
	return &fakePlacement{
		center: math.Vec3{X: float32(i) * side, Y: float32(j) * side},
		x:      math.Vec3{X: 1},
		y:      math.Vec3{Y: 1},
		scale:  math.Vec3{X: 1, Y: 1, Z: 1},
	}
}

// fakeSource serves fixed heights for every border.
type fakeSource struct {
	height uint16
	res    int
}

func (s fakeSource) SourceBorder(d Direction, mip, inset int) ([]uint16, bool) {
	cells := BorderCells(d, max(s.res>>mip, 1), inset)
	if cells == nil {
		return nil, false
	}
	out := make([]uint16, len(cells))
	for i := range out {
		out[i] = s.height
	}
	return out, true
}

// testSettings disables validation and parallelism unless a test opts in.
func testSettings() Settings {
	s := DefaultSettings()
	s.SelfValidation = false
	s.PatchWorkers = 2
	return s
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	all := append([]Option{WithSettings(testSettings()), WithLogger(zap.New(core))}, opts...)
	return NewCoordinator(all...), logs
}

// tile bundles a component with its fake raster and placement.
type tile struct {
	comp      *Component
	raster    *fakeRaster
	placement *fakePlacement
}

func newTile(name string, i, j, res int, seed uint64) tile {
	r := newRandomRaster(res, seed)
	p := gridPlacement(i, j, res)
	return tile{comp: NewComponent(name, p, r), raster: r, placement: p}
}

// sharedTile creates another owner of an existing raster.
func sharedTile(name string, other tile) tile {
	p := &fakePlacement{center: other.placement.center, x: other.placement.x, y: other.placement.y, scale: other.placement.scale}
	return tile{comp: NewComponent(name, p, other.raster), raster: other.raster, placement: p}
}

// countActive counts components the coordinator reports as active owners of
// r, checked over the candidates.
func countActive(c *Coordinator, r Raster, candidates ...*Component) int {
	n := 0
	f := c.FixupFor(r.ID())
	for _, comp := range candidates {
		if f != nil && f.ActiveOwner() == comp && !comp.IsDisabled() {
			n++
		}
	}
	return n
}

// converge ticks until the patch queues are empty.
func converge(t *testing.T, c *Coordinator, maxTicks int) {
	t.Helper()
	for range maxTicks {
		c.Tick(t.Context())
		done := true
		for _, g := range c.Groups() {
			if re, p := g.Pending(); re+p > 0 {
				done = false
			}
		}
		if done {
			return
		}
	}
	t.Fatalf("queues not drained after %d ticks", maxTicks)
}
