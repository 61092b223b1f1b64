package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/edgefixup/internal/config"
	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/internal/terrain"
	"github.com/Faultbox/edgefixup/pkg/math"
)

// rasterNamespace derives stable raster ids, so cooked snapshots written by
// one run are found by the next.
var rasterNamespace = uuid.MustParse("6f1c1a52-3f0e-4c57-9d0c-5b6f0b8e2a71")

// demoTile is one terrain tile with its owners.
type demoTile struct {
	at        fixup.Coord
	raster    *terrain.Raster
	primary   *fixup.Component
	duplicate *fixup.Component // nil unless a duplicate group is built
}

// demo is the grid the driver reconciles.
type demo struct {
	cfg   config.DemoConfig
	tiles []demoTile
	grid  terrain.Tiles

	terrain *fixup.Group
	preview *fixup.Group
}

// settingsFrom converts the config section into coordinator settings.
func settingsFrom(cfg config.EdgeFixupConfig) fixup.Settings {
	s := fixup.DefaultSettings()
	s.Enabled = cfg.Enabled
	s.TickInterval = cfg.TickInterval
	s.SelfValidation = cfg.SelfValidation
	s.MaxDisabledDuplicates = cfg.MaxDisabledDuplicates
	s.CollisionOffset = cfg.CollisionOffset
	s.PatchWorkers = cfg.PatchWorkers
	s.CaptureFromSource = cfg.CaptureFromSource
	return s
}

// buildDemo generates a grid of independently biased tiles and registers
// them with coord. With DuplicateGroup set, every raster also gets a second
// owner in a preview group, which registers as a disabled duplicate.
func buildDemo(coord *fixup.Coordinator, cfg config.DemoConfig, log *zap.Logger) *demo {
	d := &demo{
		cfg:     cfg,
		grid:    terrain.Tiles{},
		terrain: coord.NewGroup("terrain"),
	}
	if cfg.DuplicateGroup {
		d.preview = coord.NewGroup("preview")
	}

	noise := terrain.DefaultNoise(cfg.Seed)
	scale := math.Vec3{X: cfg.GridScale, Y: cfg.GridScale, Z: 1}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5bd1e995))

	for j := range cfg.GridHeight {
		for i := range cfg.GridWidth {
			at := fixup.Coord{X: int32(i), Y: int32(j)}
			tr := terrain.GridTransform(i, j, cfg.Resolution, scale)

			bias := 0
			if cfg.SeamBias > 0 {
				bias = rng.IntN(2*cfg.SeamBias+1) - cfg.SeamBias
			}
			id := uuid.NewSHA1(rasterNamespace, fmt.Appendf(nil, "%d/%d/%d/%d", cfg.Seed, cfg.Resolution, i, j))
			r := terrain.NewUnloadedRaster(id, scale)
			r.Load(terrain.Generate(noise, tr, cfg.Resolution, bias))

			name := fmt.Sprintf("tile%s", at)
			src := terrain.NewSource(noise, tr, cfg.Resolution)
			t := demoTile{
				at:      at,
				raster:  r,
				primary: fixup.NewComponent(name, terrain.NewPlacement(tr), r).WithSource(src),
			}
			d.terrain.Register(t.primary)

			if d.preview != nil {
				t.duplicate = fixup.NewComponent(name+"/preview", terrain.NewPlacement(tr), r).WithSource(src)
				d.preview.Register(t.duplicate)
			}

			d.tiles = append(d.tiles, t)
			d.grid[at] = r
		}
	}

	log.Info("demo grid built",
		zap.Int("width", cfg.GridWidth),
		zap.Int("height", cfg.GridHeight),
		zap.Int("resolution", cfg.Resolution),
		zap.Int("mapped", d.terrain.Len()))
	return d
}

// streamMips patches every mip above 0, as a streaming system would when
// the lower mips arrive.
func (d *demo) streamMips() int {
	written := 0
	for _, t := range d.tiles {
		written += d.terrain.PatchStreamedMips(t.primary, 1, t.raster.MipCount()-1)
	}
	return written
}

// handOver unregisters the primary owner of the first tile so its preview
// duplicate takes over.
func (d *demo) handOver(log *zap.Logger) {
	if d.preview == nil || len(d.tiles) == 0 {
		return
	}
	t := d.tiles[0]
	d.terrain.Unregister(t.primary)
	log.Info("primary owner released",
		zap.String("tile", t.at.String()),
		zap.Bool("duplicate_active", t.duplicate.IsMapped()))
}

// report logs the seam state of mip.
func (d *demo) report(log *zap.Logger, stage string, mip int) terrain.SeamReport {
	rep := d.grid.Seams(mip)
	log.Info("seam report",
		zap.String("stage", stage),
		zap.Int("mip", mip),
		zap.Int("compared", rep.Compared),
		zap.Int("mismatched", rep.Mismatched),
		zap.Int("max_error", rep.MaxError))
	return rep
}
