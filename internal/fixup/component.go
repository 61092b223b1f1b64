package fixup

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Faultbox/edgefixup/pkg/math"
)

// Raster is the backing height/normal texture of a tile.
//
// Border buffers are flat texel.Size-byte samples in row order. inset selects
// the row that many samples toward the interior; corners return one sample
// (the diagonal one for inset > 0).
type Raster interface {
	ID() uuid.UUID
	// Resolution is the mip 0 edge length in samples; 0 means not loaded.
	Resolution() int
	MipCount() int
	ReadBorder(dir Direction, mip, inset int) []byte
	WriteBorder(dir Direction, mip int, data []byte) error
	HasPendingLoad() bool
}

// Editable is implemented by rasters that can be locked by an external edit.
// Recapture and patching are postponed while IsEditing reports true.
type Editable interface {
	IsEditing() bool
}

func isEditing(r Raster) bool {
	ed, ok := r.(Editable)
	return ok && ed.IsEditing()
}

// Placement positions a tile in world space. It is read at registration
// time and by self-validation.
type Placement interface {
	Center() math.Vec3
	Axes() (x, y math.Vec3)
	Scale() math.Vec3
}

// SourceProvider supplies authoritative heights from authoring data, using
// the same addressing as Raster.ReadBorder.
type SourceProvider interface {
	SourceBorder(dir Direction, mip, inset int) ([]uint16, bool)
}

// Component is an owner of a raster: the host object that registers a tile
// with a group. Fixups only hold weak references to disabled components, so
// dropping a Component (or calling Destroy) is enough to retire it.
type Component struct {
	name      string
	placement Placement
	raster    Raster
	source    SourceProvider

	mu       sync.Mutex // serializes Register/Unregister of this component
	state    sync.Mutex // guards the cached fields below
	group    *Group
	fixup    *Fixup
	disabled bool

	destroyed atomic.Bool
}

// NewComponent creates an owner for raster placed by placement.
func NewComponent(name string, placement Placement, raster Raster) *Component {
	return &Component{
		name:      name,
		placement: placement,
		raster:    raster,
	}
}

// WithSource attaches authoring data used when capturing from source.
func (c *Component) WithSource(src SourceProvider) *Component {
	c.source = src
	return c
}

// Name returns the diagnostic name.
func (c *Component) Name() string {
	return c.name
}

// Raster returns the backing raster.
func (c *Component) Raster() Raster {
	return c.raster
}

// Placement returns the placement provider.
func (c *Component) Placement() Placement {
	return c.placement
}

// Group returns the group this component is registered with, if any.
func (c *Component) Group() *Group {
	c.state.Lock()
	defer c.state.Unlock()
	return c.group
}

// Fixup returns the fixup this component is registered against, if any.
func (c *Component) Fixup() *Fixup {
	c.state.Lock()
	defer c.state.Unlock()
	return c.fixup
}

// IsDisabled reports whether the component is registered as a disabled
// duplicate.
func (c *Component) IsDisabled() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.fixup != nil && c.disabled
}

// IsMapped reports whether the component is the active owner of a fixup
// that currently occupies a grid coordinate.
func (c *Component) IsMapped() bool {
	f := c.Fixup()
	if f == nil || c.IsDisabled() {
		return false
	}
	return f.ActiveOwner() == c && f.IsMapped()
}

// Destroy marks the component dead. Fixups skip dead components when looking
// for a duplicate to promote.
func (c *Component) Destroy() {
	c.destroyed.Store(true)
}

// IsAlive reports whether Destroy has not been called.
func (c *Component) IsAlive() bool {
	return !c.destroyed.Load()
}

func (c *Component) bind(g *Group, f *Fixup, disabled bool) {
	c.state.Lock()
	c.group, c.fixup, c.disabled = g, f, disabled
	c.state.Unlock()
}

func (c *Component) setDisabled(disabled bool) {
	c.state.Lock()
	c.disabled = disabled
	c.state.Unlock()
}

func (c *Component) unbind() {
	c.bind(nil, nil, false)
}
