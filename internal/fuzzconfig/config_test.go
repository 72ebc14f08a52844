package fuzzconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Run.Workers <= 0 {
		t.Error("default Workers should be positive")
	}
	if cfg.Run.CaseTimeout <= 0 {
		t.Error("default CaseTimeout should be positive")
	}
	if cfg.Pool.MaxPoolSize <= 0 {
		t.Error("default MaxPoolSize should be positive")
	}
	if !cfg.Failure.EnableTLSH {
		t.Error("TLSH should be enabled by default")
	}
	if cfg.Output.WebAddr == "" {
		t.Error("default WebAddr should not be empty")
	}
}

func TestLoadAppliesOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corefuzz.yaml")
	content := `
run:
  workers: 16
pool:
  group_weighted: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Run.Workers != 16 {
		t.Errorf("Run.Workers = %d, want 16", cfg.Run.Workers)
	}
	if !cfg.Pool.GroupWeighted {
		t.Error("Pool.GroupWeighted should be true after override")
	}
	// Fields omitted from the override file should keep their defaults.
	if cfg.Run.CaseTimeout != 2*time.Second {
		t.Errorf("Run.CaseTimeout = %v, want default 2s", cfg.Run.CaseTimeout)
	}
	if cfg.Failure.TLSHMinBytes != 50 {
		t.Errorf("Failure.TLSHMinBytes = %d, want default 50", cfg.Failure.TLSHMinBytes)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load on a missing file should return an error")
	}
}
