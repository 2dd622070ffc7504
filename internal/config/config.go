// Package config loads node configuration the layered way the teacher's
// pkg/config does with plain env vars, generalized with koanf so the node
// can also read a rune.yaml file and a .env (the pattern
// kirbs-btw-spotify-playlist-dataset uses for local development).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full set of node-level settings. Field names match the
// upper-snake-case environment variables via the RUNE_ prefix (e.g.
// RUNE_LIBRARY_ROOT).
type Config struct {
	LibraryRoot      string        `koanf:"library_root"`
	DataDir          string        `koanf:"data_dir"`
	NodeAlias        string        `koanf:"node_alias"`
	HTTPPort         int           `koanf:"http_port"`
	DiscoveryEnabled bool          `koanf:"discovery_enabled"`
	AnalysisDevice   string        `koanf:"analysis_device"` // "cpu" | "gpu"
	BatchSizeOverride int          `koanf:"batch_size_override"`
	LogLevel         string        `koanf:"log_level"`
	SyncInterval     time.Duration `koanf:"sync_interval"`
}

// Defaults returns the struct-default layer, the lowest-precedence source.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LibraryRoot:       filepath.Join(home, "Music"),
		DataDir:           filepath.Join(home, ".rune"),
		NodeAlias:         "rune-node",
		HTTPPort:          7863,
		DiscoveryEnabled:  true,
		AnalysisDevice:    "cpu",
		BatchSizeOverride: 0,
		LogLevel:          "info",
		SyncInterval:      30 * time.Second,
	}
}

// Load layers, lowest to highest precedence: struct defaults, an optional
// rune.yaml at yamlPath, then the RUNE_ prefixed environment (the prefix
// is stripped and the rest lowercased, e.g. RUNE_HTTP_PORT -> http_port).
// An optional .env file in the working directory is loaded into the
// process environment first, without overriding variables already set,
// so its RUNE_ values also take precedence over rune.yaml.
func Load(yamlPath string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("config: load .env: %w", err)
		}
	}

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", yamlPath, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue("RUNE_", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func envTransform(key, value string) (string, any) {
	// RUNE_LIBRARY_ROOT -> library_root
	return strings.ToLower(strings.TrimPrefix(key, "RUNE_")), value
}
