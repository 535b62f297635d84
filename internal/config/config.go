// Package config provides configuration management for the key-value store.
// It loads settings from a YAML file and an optional .env overlay.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration values.
type Config struct {
	DataDir          string `yaml:"DATA_DIR"`          // Directory holding generation log/data file pairs
	EntrySize        uint32 `yaml:"ENTRY_SIZE"`        // S: fixed log-record slot size in bytes
	CompactThreshold uint64 `yaml:"COMPACT_THRESHOLD"` // T: entry position that triggers compaction
	BatchSize        uint32 `yaml:"BATCH_SIZE"`        // bufio.Writer flush threshold, bytes
	SyncInterval     uint32 `yaml:"SYNC_INTERVAL"`     // seconds; time-based auto-flush fallback
	Addr             string `yaml:"ADDR"`              // default TCP bind/dial address
	Engine           string `yaml:"ENGINE"`            // "builtin" | "alt"
}

// Default returns the built-in configuration used when no config file is
// present. It matches the values documented in config.yml.
func Default() *Config {
	return &Config{
		DataDir:          "./data",
		EntrySize:        64,
		CompactThreshold: 4000,
		BatchSize:        4096,
		SyncInterval:     5,
		Addr:             "127.0.0.1:4000",
		Engine:           "builtin",
	}
}

// LoadConfig reads configuration values from the given path, overlaying any
// values found there on top of Default(). Environment variables in the YAML
// file are expanded using os.ExpandEnv. A missing file is not an error; it
// yields Default() unchanged.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file found or error loading it", "error", err)
	} else {
		slog.Debug("config: .env file loaded successfully")
	}

	cfg := Default()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config: no config file found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(file))), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
