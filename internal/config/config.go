// Package config loads operator configuration from a JSON5 file with
// environment variable overlays. Secrets (bot token, postgres DSN) are
// env-only and never persisted back to disk.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/titanous/json5"
)

// Config is the root configuration for a flowgram process.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// TelegramConfig holds the bot credential. The token is read from env
// FLOWGRAM_TELEGRAM_TOKEN only and never written to config.json.
type TelegramConfig struct {
	Token string `json:"-"`
}

// DatabaseConfig configures the Postgres backing store. The DSN is a
// secret: env FLOWGRAM_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	// MigrationsDir feeds the migrate command; empty means the built-in
	// schema printed by the schema command is applied manually.
	MigrationsDir string `json:"migrations_dir,omitempty"`
}

// SessionsConfig selects the session backend: "memory" (default) or
// "sqlite" with a database path.
type SessionsConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Sessions: SessionsConfig{
			Backend: "memory",
			Path:    "~/.flowgram/sessions.db",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			SampleRatio: 1.0,
			ServiceName: "flowgram",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("FLOWGRAM_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("FLOWGRAM_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("FLOWGRAM_MIGRATIONS_DIR", &c.Database.MigrationsDir)

	envStr("FLOWGRAM_SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("FLOWGRAM_SESSIONS_PATH", &c.Sessions.Path)

	envStr("FLOWGRAM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FLOWGRAM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("FLOWGRAM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWGRAM_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWGRAM_TELEMETRY_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0 && ratio <= 1 {
			c.Telemetry.SampleRatio = ratio
		}
	}
}

// ApplyEnvOverrides re-applies environment overrides, restoring env-only
// secrets after a reload from disk.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Env-only secrets carry `json:"-"`
// and never land on disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config so reload watchers can
// skip no-op rewrites.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SessionsPath returns the expanded sqlite path.
func (c *Config) SessionsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.Path)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
