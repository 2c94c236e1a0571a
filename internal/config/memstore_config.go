// Package config holds user preferences for the memstore CLI and the
// defaults the store is opened with. Config lives in
// .memstore/memstore.yaml under the workspace, falling back to the home
// directory.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoggingConfig mirrors internal/logging's config section.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Config holds user preferences.
type Config struct {
	// DBPath is the default database file used when the CLI is invoked
	// without --db.
	DBPath string `yaml:"db_path"`
	// Backend forces a specific engine ("native-sync", "native-async",
	// "wasm"); empty means detect and use the recommendation.
	Backend string `yaml:"backend,omitempty"`
	// SnapshotThreshold tunes the wasm backend's batch flush.
	SnapshotThreshold int `yaml:"snapshot_threshold,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DBPath: filepath.Join(".memstore", "memory.db"),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns the directory where config is stored. A project-local
// .memstore directory wins over the home-level one.
func Dir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		localDir := filepath.Join(cwd, ".memstore")
		if stat, err := os.Stat(localDir); (err == nil && stat.IsDir()) || os.IsNotExist(err) {
			return localDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".memstore"), nil
}

// File returns the full path to the config file.
func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memstore.yaml"), nil
}

// Load reads the configuration from disk. A missing file yields the
// defaults without an error.
func Load() (Config, error) {
	path, err := File()
	if err != nil {
		return DefaultConfig(), err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Save writes the configuration to disk.
func Save(cfg Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "memstore.yaml")
	return os.WriteFile(path, data, 0644)
}
