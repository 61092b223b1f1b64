// Package fixup keeps the borders of neighboring terrain tiles in agreement.
//
// Tiles register with a Group, which maps them onto an integer grid and
// arbitrates between owners sharing one raster. A Coordinator ticks every
// group: snapshots of changed borders are recaptured and the affected rows
// are rewritten so that adjacent tiles share bit-identical border heights.
package fixup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSnapshotNotFound is returned by a SnapshotStore holding no snapshot for
// a raster.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists cooked snapshots keyed by raster identity.
type SnapshotStore interface {
	Load(id uuid.UUID) (*EdgeSnapshot, error)
	Save(id uuid.UUID, s *EdgeSnapshot) error
}

// Settings tunes the reconciliation loop.
type Settings struct {
	// Enabled turns Tick into a no-op when false.
	Enabled      bool
	TickInterval time.Duration
	// SelfValidation checks one mapped tile per tick against its owner.
	SelfValidation bool
	// MaxDisabledDuplicates bounds the duplicate owners kept per raster;
	// 0 means unbounded.
	MaxDisabledDuplicates int
	// CollisionOffset is added to both axes of a coordinate that is already
	// taken, until a free one is found.
	CollisionOffset int32
	// PatchWorkers bounds how many tiles are patched in parallel.
	PatchWorkers int
	// CaptureFromSource captures snapshots from the owner's SourceProvider
	// instead of the live raster when one is attached.
	CaptureFromSource bool
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		Enabled:               true,
		TickInterval:          100 * time.Millisecond,
		SelfValidation:        true,
		MaxDisabledDuplicates: 8,
		CollisionOffset:       1_000_000,
		PatchWorkers:          4,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the diagnostics sink.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(c *Coordinator) {
		c.settings = s
	}
}

// WithNormalStrategy replaces GradientNormals.
func WithNormalStrategy(n NormalStrategy) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.normals = n
		}
	}
}

// Coordinator owns the process-wide raster tables and drives every group.
type Coordinator struct {
	log      *zap.Logger
	settings Settings
	normals  NormalStrategy

	owners sync.Map // uuid.UUID -> *Component, active owner per raster
	fixups sync.Map // uuid.UUID -> *Fixup

	mu     sync.Mutex
	groups []*Group
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		log:      zap.NewNop(),
		settings: DefaultSettings(),
		normals:  GradientNormals{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.settings.PatchWorkers < 1 {
		c.settings.PatchWorkers = 1
	}
	if c.settings.CollisionOffset == 0 {
		c.settings.CollisionOffset = DefaultSettings().CollisionOffset
	}
	c.log = c.log.Named("fixup")
	return c
}

// Settings returns the active settings.
func (c *Coordinator) Settings() Settings {
	return c.settings
}

// NewGroup creates a group ticked by this coordinator.
func (c *Coordinator) NewGroup(name string) *Group {
	g := newGroup(c, name)
	c.mu.Lock()
	c.groups = append(c.groups, g)
	c.mu.Unlock()
	return g
}

// Groups returns the live groups.
func (c *Coordinator) Groups() []*Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Group, len(c.groups))
	copy(out, c.groups)
	return out
}

func (c *Coordinator) removeGroup(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.groups {
		if other == g {
			c.groups = append(c.groups[:i], c.groups[i+1:]...)
			return
		}
	}
}

// ActiveOwner returns the component writing the raster, or nil.
func (c *Coordinator) ActiveOwner(id uuid.UUID) *Component {
	v, ok := c.owners.Load(id)
	if !ok {
		return nil
	}
	return v.(*Component)
}

// FixupFor returns the fixup tracking the raster, or nil.
func (c *Coordinator) FixupFor(id uuid.UUID) *Fixup {
	v, ok := c.fixups.Load(id)
	if !ok {
		return nil
	}
	return v.(*Fixup)
}

// fixupFor finds or creates the fixup of r.
func (c *Coordinator) fixupFor(r Raster) *Fixup {
	id := r.ID()
	if f := c.FixupFor(id); f != nil {
		return f
	}
	v, _ := c.fixups.LoadOrStore(id, newFixup(r, c.settings.MaxDisabledDuplicates, &c.owners))
	return v.(*Fixup)
}

// TickStats summarizes one tick.
type TickStats struct {
	Validated  int
	Healed     int
	Recaptured int
	Changed    int
	Patched    int
	Deferred   int
	Parked     int
}

func (s *TickStats) add(o TickStats) {
	s.Validated += o.Validated
	s.Healed += o.Healed
	s.Recaptured += o.Recaptured
	s.Changed += o.Changed
	s.Patched += o.Patched
	s.Deferred += o.Deferred
	s.Parked += o.Parked
}

// Tick runs one reconciliation pass over every group.
func (c *Coordinator) Tick(ctx context.Context) TickStats {
	var total TickStats
	if !c.settings.Enabled {
		return total
	}
	start := time.Now()
	for _, g := range c.Groups() {
		if ctx.Err() != nil {
			break
		}
		total.add(g.tick(ctx))
	}
	tickDuration.Observe(time.Since(start).Seconds())
	return total
}

// Run ticks at the configured interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.settings.TickInterval
	if interval <= 0 {
		interval = DefaultSettings().TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("reconciliation started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			c.log.Info("reconciliation stopping")
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// NotifyRasterChanged queues a recapture of the raster after the host
// modified its contents.
func (c *Coordinator) NotifyRasterChanged(id uuid.UUID) bool {
	f := c.FixupFor(id)
	if f == nil {
		return false
	}
	g := f.loadGroup()
	if g == nil {
		return false
	}
	return g.requestRecapture(f)
}

// ReleaseRaster destroys the fixup of a raster: every owner still
// referencing it is unregistered and the fixup is dropped from the tables.
func (c *Coordinator) ReleaseRaster(id uuid.UUID) {
	f := c.FixupFor(id)
	if f == nil {
		return
	}
	for _, owner := range f.release() {
		if g := owner.Group(); g != nil {
			g.Unregister(owner)
		}
	}
	c.fixups.CompareAndDelete(id, f)
	c.owners.Delete(id)
	c.log.Debug("raster released", zap.Stringer("raster", id))
}

// LoadSnapshots installs cooked snapshots from store for every known raster
// whose resolution still matches. It returns the number installed.
func (c *Coordinator) LoadSnapshots(store SnapshotStore) (int, error) {
	var errs []error
	loaded := 0
	c.fixups.Range(func(key, value any) bool {
		id, f := key.(uuid.UUID), value.(*Fixup)
		s, err := store.Load(id)
		if errors.Is(err, ErrSnapshotNotFound) {
			return true
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load snapshot %s: %w", id, err))
			return true
		}
		if res := f.raster.Resolution(); s.EdgeLength != res {
			c.log.Warn("stale cooked snapshot ignored",
				zap.Stringer("raster", id),
				zap.Int("snapshot_resolution", s.EdgeLength),
				zap.Int("raster_resolution", res))
			return true
		}
		if g := f.loadGroup(); g != nil {
			g.adoptSnapshot(f, s)
		} else {
			f.swapSnapshot(s)
		}
		loaded++
		return true
	})
	return loaded, errors.Join(errs...)
}

// SaveSnapshots writes the current snapshot of every known raster to store.
// It returns the number saved.
func (c *Coordinator) SaveSnapshots(store SnapshotStore) (int, error) {
	var errs []error
	saved := 0
	c.fixups.Range(func(key, value any) bool {
		id, f := key.(uuid.UUID), value.(*Fixup)
		s := f.Snapshot()
		if s == nil {
			return true
		}
		if err := store.Save(id, s); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot %s: %w", id, err))
			return true
		}
		saved++
		return true
	})
	return saved, errors.Join(errs...)
}
