// Package config loads deriver configuration from an optional YAML file
// and DERIVER_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/trajectory-deriver/internal/storage/dialect"
)

type Config struct {
	Derivation DerivationConfig `koanf:"derivation"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Storage    StorageConfig    `koanf:"storage"`
	Server     ServerConfig     `koanf:"server"`
	Runner     RunnerConfig     `koanf:"runner"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type DerivationConfig struct {
	// GraceWindow closes unterminated turns and sessions this long after
	// the last observed event timestamp.
	GraceWindow time.Duration `koanf:"grace_window"`

	// CrossTurnPairing lets request/response pairs span turn boundaries.
	CrossTurnPairing bool `koanf:"cross_turn_pairing"`
}

type IngestConfig struct {
	// DataDir is the root of the app-*/conv-* event directories.
	DataDir string `koanf:"data_dir"`

	// Watch enables the directory watcher for incremental batches.
	Watch bool `koanf:"watch"`

	// EstimateTokens fills missing user-message token counts with a
	// tokenizer-based estimate.
	EstimateTokens bool `koanf:"estimate_tokens"`
}

type StorageConfig struct {
	// Driver selects the backing database dialect: "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type TelemetryConfig struct {
	// Exporter selects the trace exporter: "stdout" or "none".
	Exporter string `koanf:"exporter"`
}

type RunnerConfig struct {
	// Workers bounds the number of sessions derived concurrently. Output
	// is identical for any value.
	Workers int `koanf:"workers"`
}

// Load reads configuration from path (ignored when empty) and the
// environment. Invalid values fail here, before any event processing
// begins.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DERIVER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DERIVER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"derivation.grace_window": "5s",
		"ingest.data_dir":         "./data/events",
		"ingest.estimate_tokens":  true,
		"storage.driver":          "sqlite",
		"storage.dsn":             "./data/deriver.db",
		"server.port":             8080,
		"runner.workers":          4,
		"telemetry.exporter":      "stdout",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	if c.Derivation.GraceWindow <= 0 {
		return fmt.Errorf("derivation.grace_window must be positive, got %s", c.Derivation.GraceWindow)
	}
	if _, err := dialect.FromDriverName(c.Storage.Driver); err != nil {
		return fmt.Errorf("storage.driver: %w", err)
	}
	if c.Runner.Workers < 1 {
		return fmt.Errorf("runner.workers must be at least 1, got %d", c.Runner.Workers)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Telemetry.Exporter != "stdout" && c.Telemetry.Exporter != "none" {
		return fmt.Errorf("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	return nil
}
