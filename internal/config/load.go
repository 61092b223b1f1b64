package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load. They sit between the config file and
// the command line flags.
const (
	EnvConfig      = "EDGEFIXUP_CONFIG"
	EnvSnapshotDSN = "EDGEFIXUP_SNAPSHOT_DSN"
	EnvSnapshotDir = "EDGEFIXUP_SNAPSHOT_DIR"
	EnvLogLevel    = "EDGEFIXUP_LOG_LEVEL"
	EnvMetricsAddr = "EDGEFIXUP_METRICS_ADDR"
	EnvTick        = "EDGEFIXUP_TICK"
)

// Load builds the configuration from defaults, then the config file, then
// the environment, then flags, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFile(); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configFile picks the file to load: the -config flag, then EnvConfig, then
// the first existing standard location.
func configFile() string {
	if p := ConfigPath(); p != "" {
		return p
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return findConfigFile()
}

func findConfigFile() string {
	candidates := []string{"edgefixup.yaml"}
	if dir := ConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, path := range candidates {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the per-user config directory, or "" when the platform
// has none.
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "edgefixup")
}

// loadFromFile merges a YAML file into cfg. Unknown keys are rejected so a
// misspelt setting does not silently keep its default.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg from the EDGEFIXUP_* variables that are set.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvSnapshotDSN); ok {
		cfg.EdgeFixup.SnapshotDSN = v
	}
	if v, ok := os.LookupEnv(EnvSnapshotDir); ok {
		cfg.EdgeFixup.SnapshotDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv(EnvTick); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTick, err)
		}
		cfg.EdgeFixup.TickInterval = d
	}
	return nil
}
