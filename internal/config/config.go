// Package config handles edge fixup configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all settings.
type Config struct {
	EdgeFixup EdgeFixupConfig `yaml:"edge_fixup"`
	Demo      DemoConfig      `yaml:"demo"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EdgeFixupConfig holds coordinator settings.
type EdgeFixupConfig struct {
	Enabled               bool          `yaml:"enabled"`
	TickInterval          time.Duration `yaml:"tick_interval"`
	SelfValidation        bool          `yaml:"self_validation"`
	MaxDisabledDuplicates int           `yaml:"max_disabled_duplicates"` // 0 = unbounded
	CollisionOffset       int32         `yaml:"collision_offset"`
	PatchWorkers          int           `yaml:"patch_workers"`
	CaptureFromSource     bool          `yaml:"capture_from_source"`
	SnapshotDir           string        `yaml:"snapshot_dir"` // empty disables cooked snapshots
	SnapshotDSN           string        `yaml:"snapshot_dsn"` // PostgreSQL store, takes precedence over SnapshotDir
}

// DemoConfig describes the tile grid built by the demo driver.
type DemoConfig struct {
	GridWidth      int     `yaml:"grid_width"`
	GridHeight     int     `yaml:"grid_height"`
	Resolution     int     `yaml:"resolution"` // samples per tile side
	Seed           uint64  `yaml:"seed"`
	Ticks          int     `yaml:"ticks"` // 0 runs until interrupted
	GridScale      float32 `yaml:"grid_scale"`
	SeamBias       int     `yaml:"seam_bias"` // per-tile height offset in fixed point steps
	DuplicateGroup bool    `yaml:"duplicate_group"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the endpoint
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		EdgeFixup: EdgeFixupConfig{
			Enabled:               true,
			TickInterval:          100 * time.Millisecond,
			SelfValidation:        true,
			MaxDisabledDuplicates: 8,
			CollisionOffset:       1_000_000,
			PatchWorkers:          4,
		},
		Demo: DemoConfig{
			GridWidth:  4,
			GridHeight: 4,
			Resolution: 64,
			Seed:       1,
			Ticks:      20,
			GridScale:  1,
			SeamBias:   200,
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.EdgeFixup.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("edge_fixup.tick_interval must be positive, got %v", c.EdgeFixup.TickInterval))
	}
	if c.EdgeFixup.MaxDisabledDuplicates < 0 {
		errs = append(errs, fmt.Errorf("edge_fixup.max_disabled_duplicates must not be negative, got %d", c.EdgeFixup.MaxDisabledDuplicates))
	}
	if c.EdgeFixup.PatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("edge_fixup.patch_workers must be at least 1, got %d", c.EdgeFixup.PatchWorkers))
	}
	if c.Demo.Resolution < 2 {
		errs = append(errs, fmt.Errorf("demo.resolution must be at least 2, got %d", c.Demo.Resolution))
	}
	if c.Demo.GridWidth < 1 || c.Demo.GridHeight < 1 {
		errs = append(errs, fmt.Errorf("demo grid must be at least 1x1, got %dx%d", c.Demo.GridWidth, c.Demo.GridHeight))
	}
	if c.Demo.GridScale <= 0 {
		errs = append(errs, fmt.Errorf("demo.grid_scale must be positive, got %v", c.Demo.GridScale))
	}
	return errors.Join(errs...)
}
