package terrain

import (
	"sync"

	"github.com/Faultbox/edgefixup/pkg/math"
)

// Placement is a movable tile transform. It implements fixup.Placement.
type Placement struct {
	mu sync.RWMutex
	t  math.Transform
}

// NewPlacement returns a placement at t.
func NewPlacement(t math.Transform) *Placement {
	return &Placement{t: t}
}

// GridTransform returns the transform of the tile at grid cell (i, j) for
// tiles of res samples per side. Neighboring tiles share their border row.
func GridTransform(i, j, res int, scale math.Vec3) math.Transform {
	side := float32(res - 1)
	return math.Transform{
		Translation: math.Vec3{X: float32(i) * side * scale.X, Y: float32(j) * side * scale.Y},
		Scale:       scale,
	}
}

// Transform returns the current transform.
func (p *Placement) Transform() math.Transform {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.t
}

// SetTransform moves the tile.
func (p *Placement) SetTransform(t math.Transform) {
	p.mu.Lock()
	p.t = t
	p.mu.Unlock()
}

// Center implements fixup.Placement.
func (p *Placement) Center() math.Vec3 {
	return p.Transform().Translation
}

// Axes implements fixup.Placement.
func (p *Placement) Axes() (math.Vec3, math.Vec3) {
	return p.Transform().Axes()
}

// Scale implements fixup.Placement.
func (p *Placement) Scale() math.Vec3 {
	return p.Transform().Scale
}
