// Package config loads fluxpipe's runtime configuration: the default
// buffer strategy, the scheduler's real-vs-virtual clock mode, and which
// replaystore backend a DurableReplaySubject uses. Load reads environment
// variables via getenv/getenvInt/getenvBool helpers, returning an
// immutable Config value consumed at wiring time rather than a
// process-wide mutable singleton. An optional YAML override file
// (gopkg.in/yaml.v3) may be layered in between the defaults and the
// environment variables, which always win.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fluxpipe/internal/logger"
)

// Config is fluxpipe's runtime configuration.
type Config struct {
	// HighWaterMark is the default buffer capacity every operator and
	// source constructs with unless a call site overrides it.
	HighWaterMark int
	// VirtualClock records the real-vs-virtual clock mode requested via
	// FLUXPIPE_VIRTUAL_CLOCK or the override file. Load fills it in;
	// nothing in this module reads it to swap the process clock.
	VirtualClock bool
	// ReplayStoreDriver selects DurableReplaySubject's backend: "memory",
	// "redis", "sqlite", or "postgres".
	ReplayStoreDriver string
	ReplayStoreDSN    string
	// MetricsAddr is the address the Prometheus /metrics handler binds,
	// empty to disable.
	MetricsAddr string
}

// fileOverrides is the shape of an optional YAML config file, layered
// between defaults and environment variables: env vars still win.
type fileOverrides struct {
	HighWaterMark     *int    `yaml:"highWaterMark"`
	VirtualClock      *bool   `yaml:"virtualClock"`
	ReplayStoreDriver *string `yaml:"replayStoreDriver"`
	ReplayStoreDSN    *string `yaml:"replayStoreDsn"`
	MetricsAddr       *string `yaml:"metricsAddr"`
}

// Load builds a Config from defaults, an optional YAML file named by the
// FLUXPIPE_CONFIG_FILE environment variable, then environment variables
// (highest precedence).
func Load() Config {
	log := logger.WithComponent("config")

	cfg := Config{
		HighWaterMark:     16,
		VirtualClock:      false,
		ReplayStoreDriver: "memory",
		MetricsAddr:       "",
	}

	if path := strings.TrimSpace(os.Getenv("FLUXPIPE_CONFIG_FILE")); path != "" {
		overrides, err := loadFile(path)
		if err != nil {
			log.Warn("failed to load config file, using defaults", "path", path, "error", err)
		} else {
			applyFile(&cfg, overrides)
		}
	}

	cfg.HighWaterMark = getenvInt("FLUXPIPE_HIGH_WATER_MARK", cfg.HighWaterMark)
	cfg.VirtualClock = getenvBool("FLUXPIPE_VIRTUAL_CLOCK", cfg.VirtualClock)
	cfg.ReplayStoreDriver = getenv("FLUXPIPE_REPLAYSTORE_DRIVER", cfg.ReplayStoreDriver)
	cfg.ReplayStoreDSN = getenv("FLUXPIPE_REPLAYSTORE_DSN", cfg.ReplayStoreDSN)
	cfg.MetricsAddr = getenv("FLUXPIPE_METRICS_ADDR", cfg.MetricsAddr)

	return cfg
}

func loadFile(path string) (fileOverrides, error) {
	var overrides fileOverrides
	raw, err := os.ReadFile(path)
	if err != nil {
		return overrides, err
	}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return overrides, err
	}
	return overrides, nil
}

func applyFile(cfg *Config, overrides fileOverrides) {
	if overrides.HighWaterMark != nil {
		cfg.HighWaterMark = *overrides.HighWaterMark
	}
	if overrides.VirtualClock != nil {
		cfg.VirtualClock = *overrides.VirtualClock
	}
	if overrides.ReplayStoreDriver != nil {
		cfg.ReplayStoreDriver = *overrides.ReplayStoreDriver
	}
	if overrides.ReplayStoreDSN != nil {
		cfg.ReplayStoreDSN = *overrides.ReplayStoreDSN
	}
	if overrides.MetricsAddr != nil {
		cfg.MetricsAddr = *overrides.MetricsAddr
	}
}

// Snapshot returns a loggable summary of cfg.
func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"highWaterMark":     c.HighWaterMark,
		"virtualClock":      c.VirtualClock,
		"replayStoreDriver": c.ReplayStoreDriver,
		"metricsAddr":       c.MetricsAddr,
	}
}

func getenv(k, fallback string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getenvBool(k string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
