package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdirTemp isolates every config path under a throwaway workspace so
// tests never touch a real .memstore directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
	return dir
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.DBPath != want.DBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want.DBPath)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Backend != "" {
		t.Errorf("Backend = %q, want empty (detect)", cfg.Backend)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := chdirTemp(t)

	cfg := DefaultConfig()
	cfg.DBPath = "custom/memory.db"
	cfg.Backend = "wasm"
	cfg.SnapshotThreshold = 4
	cfg.Logging.DebugMode = true
	cfg.Logging.Categories = map[string]bool{"backend": true}

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".memstore", "memstore.yaml")); err != nil {
		t.Fatalf("config file not written to local .memstore: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DBPath != cfg.DBPath {
		t.Errorf("DBPath = %q, want %q", loaded.DBPath, cfg.DBPath)
	}
	if loaded.Backend != "wasm" {
		t.Errorf("Backend = %q, want wasm", loaded.Backend)
	}
	if loaded.SnapshotThreshold != 4 {
		t.Errorf("SnapshotThreshold = %d, want 4", loaded.SnapshotThreshold)
	}
	if !loaded.Logging.DebugMode {
		t.Error("Logging.DebugMode not preserved")
	}
	if !loaded.Logging.Categories["backend"] {
		t.Error("Logging.Categories not preserved")
	}
}

func TestDirPrefersLocalWorkspace(t *testing.T) {
	dir := chdirTemp(t)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	want := filepath.Join(dir, ".memstore")
	if got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}
}

func TestLoadCorruptFileFallsBack(t *testing.T) {
	dir := chdirTemp(t)

	cfgDir := filepath.Join(dir, ".memstore")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "memstore.yaml"), []byte("{not yaml: ["), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("expected parse error for corrupt config")
	}
	if cfg.DBPath != DefaultConfig().DBPath {
		t.Errorf("corrupt config must fall back to defaults, got DBPath %q", cfg.DBPath)
	}
}
