package config

import "flag"

var (
	flagConfig      = flag.String("config", "", "Path to config file")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging")
	flagTick        = flag.Duration("tick", 0, "Reconciliation tick interval")
	flagNoValidate  = flag.Bool("no-validate", false, "Disable self-validation")
	flagGrid        = flag.Int("grid", 0, "Demo grid side length in tiles")
	flagResolution  = flag.Int("resolution", 0, "Demo tile resolution in samples")
	flagMetricsAddr = flag.String("metrics-addr", "", "Prometheus listen address")
	flagSnapshots   = flag.String("snapshots", "", "Cooked snapshot directory")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagTick > 0 {
		cfg.EdgeFixup.TickInterval = *flagTick
	}
	if *flagNoValidate {
		cfg.EdgeFixup.SelfValidation = false
	}
	if *flagGrid > 0 {
		cfg.Demo.GridWidth = *flagGrid
		cfg.Demo.GridHeight = *flagGrid
	}
	if *flagResolution > 0 {
		cfg.Demo.Resolution = *flagResolution
	}
	if *flagMetricsAddr != "" {
		cfg.Metrics.ListenAddr = *flagMetricsAddr
	}
	if *flagSnapshots != "" {
		cfg.EdgeFixup.SnapshotDir = *flagSnapshots
	}
}
