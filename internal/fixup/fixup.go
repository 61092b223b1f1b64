package fixup

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// Fixup is the per-raster runtime state: the current snapshot, which owner
// is writing the raster, and which border directions have been rewritten.
//
// A Fixup is created the first time any owner registers its raster and lives
// until the raster is released, independent of the owners coming and going.
type Fixup struct {
	raster Raster
	id     uuid.UUID

	snapshot atomic.Pointer[EdgeSnapshot]

	owners *sync.Map // process-wide raster id to active owner

	mu          sync.Mutex // guards the owner fields
	active      *Component
	disabled    []weak.Pointer[Component]
	maxDisabled int
	released    bool

	// Fields below are guarded by the lock of the group the fixup is
	// registered in. group, modified and parked are also written under mu so
	// they can be read without knowing the group.
	group     *Group
	coord     Coord
	mapped    bool
	displaced bool
	baseline  [NumDirections]uint64
	modified  DirectionSet
	parked    DirectionSet
}

func newFixup(r Raster, maxDisabled int, owners *sync.Map) *Fixup {
	return &Fixup{
		raster:      r,
		id:          r.ID(),
		owners:      owners,
		maxDisabled: maxDisabled,
	}
}

// ID returns the raster identity.
func (f *Fixup) ID() uuid.UUID {
	return f.id
}

// Raster returns the backing raster.
func (f *Fixup) Raster() Raster {
	return f.raster
}

// Snapshot returns the current snapshot, or nil before the first capture.
// The returned value is immutable and stays valid after a recapture.
func (f *Fixup) Snapshot() *EdgeSnapshot {
	return f.snapshot.Load()
}

func (f *Fixup) swapSnapshot(s *EdgeSnapshot) {
	f.snapshot.Store(s)
}

// ActiveOwner returns the component currently writing the raster.
func (f *Fixup) ActiveOwner() *Component {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// DisabledCount returns the number of live disabled duplicates.
func (f *Fixup) DisabledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked()
	return len(f.disabled)
}

// Group returns the group the fixup is mapped in, if any.
func (f *Fixup) Group() *Group {
	g := f.loadGroup()
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if f.group != g {
		return nil
	}
	return g
}

// IsMapped reports whether the fixup occupies a coordinate in a group.
func (f *Fixup) IsMapped() bool {
	g := f.loadGroup()
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return f.group == g && f.mapped
}

// Coord returns the grid coordinate; ok is false when unmapped.
func (f *Fixup) Coord() (c Coord, ok bool) {
	g := f.loadGroup()
	if g == nil {
		return Coord{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if f.group != g || !f.mapped {
		return Coord{}, false
	}
	return f.coord, true
}

// Modified returns the directions whose live raster content differs from the
// state it had when the fixup became active.
func (f *Fixup) Modified() DirectionSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modified
}

// Parked returns the directions waiting for a neighbor to appear.
func (f *Fixup) Parked() DirectionSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parked
}

// setBorderState stores the modified and parked sets. The caller holds the
// group lock.
func (f *Fixup) setBorderState(modified, parked DirectionSet) {
	f.mu.Lock()
	f.modified = modified
	f.parked = parked
	f.mu.Unlock()
}

// loadGroup reads the group pointer through the owner lock. The group field
// itself is written with both the group and the owner lock held.
func (f *Fixup) loadGroup() *Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.group
}

func (f *Fixup) setGroup(g *Group) {
	f.mu.Lock()
	f.group = g
	f.mu.Unlock()
}

// claim arbitrates ownership for c. c becomes the active owner when nobody
// holds the raster; otherwise it is remembered as a disabled duplicate.
// The second result is false when the duplicate list is full.
func (f *Fixup) claim(c *Component) (active bool, accepted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released {
		return false, false
	}
	if f.active == nil || f.active == c {
		f.active = c
		f.owners.Store(f.id, c)
		f.removeDisabledLocked(c)
		return true, true
	}
	f.pruneLocked()
	for _, w := range f.disabled {
		if w.Value() == c {
			return false, true
		}
	}
	if f.maxDisabled > 0 && len(f.disabled) >= f.maxDisabled {
		return false, false
	}
	f.disabled = append(f.disabled, weak.Make(c))
	return false, true
}

// removeDisabled drops c from the duplicate list.
func (f *Fixup) removeDisabled(c *Component) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeDisabledLocked(c)
}

func (f *Fixup) removeDisabledLocked(c *Component) {
	kept := f.disabled[:0]
	for _, w := range f.disabled {
		if v := w.Value(); v != nil && v != c {
			kept = append(kept, w)
		}
	}
	clear(f.disabled[len(kept):])
	f.disabled = kept
}

// pruneLocked drops collected or destroyed duplicates.
func (f *Fixup) pruneLocked() {
	kept := f.disabled[:0]
	for _, w := range f.disabled {
		if v := w.Value(); v != nil && v.IsAlive() {
			kept = append(kept, w)
		}
	}
	clear(f.disabled[len(kept):])
	f.disabled = kept
}

// handOver releases the active slot held by c and passes it to the oldest
// live duplicate, which is returned. It returns nil when no duplicate is
// left, in which case the raster has no active owner.
func (f *Fixup) handOver(c *Component) *Component {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != c {
		return nil
	}
	f.active = nil
	f.pruneLocked()
	for !f.released && len(f.disabled) > 0 {
		next := f.disabled[0].Value()
		f.disabled = f.disabled[1:]
		if next == nil {
			continue
		}
		f.active = next
		f.owners.Store(f.id, next)
		return next
	}
	f.owners.CompareAndDelete(f.id, c)
	return nil
}

// release marks the raster destroyed and returns every owner still
// referencing it, the active one first.
func (f *Fixup) release() []*Component {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	var out []*Component
	if f.active != nil {
		out = append(out, f.active)
	}
	for _, w := range f.disabled {
		if v := w.Value(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (f *Fixup) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}
