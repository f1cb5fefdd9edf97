package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HighWaterMark != 16 {
		t.Errorf("expected default highWaterMark of 16, got %d", cfg.HighWaterMark)
	}
	if cfg.VirtualClock {
		t.Error("expected virtual clock disabled by default")
	}
	if cfg.ReplayStoreDriver != "memory" {
		t.Errorf("expected default replaystore driver memory, got %s", cfg.ReplayStoreDriver)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLUXPIPE_HIGH_WATER_MARK", "64")
	t.Setenv("FLUXPIPE_VIRTUAL_CLOCK", "true")
	t.Setenv("FLUXPIPE_REPLAYSTORE_DRIVER", "redis")

	cfg := Load()

	if cfg.HighWaterMark != 64 {
		t.Errorf("expected highWaterMark 64, got %d", cfg.HighWaterMark)
	}
	if !cfg.VirtualClock {
		t.Error("expected virtual clock enabled")
	}
	if cfg.ReplayStoreDriver != "redis" {
		t.Errorf("expected replaystore driver redis, got %s", cfg.ReplayStoreDriver)
	}
}

func TestLoadFileOverridesThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxpipe.yaml")
	err := os.WriteFile(path, []byte("highWaterMark: 32\nreplayStoreDriver: sqlite\n"), 0o644)
	if err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("FLUXPIPE_CONFIG_FILE", path)
	cfg := Load()

	if cfg.HighWaterMark != 32 {
		t.Errorf("expected highWaterMark 32 from file, got %d", cfg.HighWaterMark)
	}
	if cfg.ReplayStoreDriver != "sqlite" {
		t.Errorf("expected replaystore driver sqlite from file, got %s", cfg.ReplayStoreDriver)
	}

	t.Setenv("FLUXPIPE_REPLAYSTORE_DRIVER", "postgres")
	cfg = Load()
	if cfg.ReplayStoreDriver != "postgres" {
		t.Errorf("expected env var to win over file, got %s", cfg.ReplayStoreDriver)
	}
}

func TestLoadInvalidFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("highWaterMark: [not, a, number]\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("FLUXPIPE_CONFIG_FILE", path)
	cfg := Load()

	if cfg.HighWaterMark != 16 {
		t.Errorf("expected fallback to default highWaterMark, got %d", cfg.HighWaterMark)
	}
}

func TestGetenvIntRejectsNegativeAndInvalid(t *testing.T) {
	t.Setenv("FLUXPIPE_TEST_INT", "-5")
	if v := getenvInt("FLUXPIPE_TEST_INT", 10); v != 10 {
		t.Errorf("expected fallback for negative value, got %d", v)
	}

	t.Setenv("FLUXPIPE_TEST_INT", "not-a-number")
	if v := getenvInt("FLUXPIPE_TEST_INT", 10); v != 10 {
		t.Errorf("expected fallback for invalid value, got %d", v)
	}
}
