package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddr       string `toml:"listen_addr"`
	LogLevel         string `toml:"log_level"`
	ServerSignature  string `toml:"server_signature"`
	TranscriptPath   string `toml:"transcript_path"`
	TranscriptRedact bool   `toml:"transcript_redact"`
	ShutdownGraceSec int    `toml:"shutdown_grace_sec"`
	DashboardEnabled bool   `toml:"dashboard_enabled"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:       "127.0.0.1:3000",
		LogLevel:         "info",
		ServerSignature:  "CFTI HTTP 1.0",
		TranscriptPath:   "",
		TranscriptRedact: true,
		ShutdownGraceSec: 5,
		DashboardEnabled: true,
	}
}

// Load reads the TOML file at path over DefaultConfig and then applies
// JIGBRIDGE_* environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JIGBRIDGE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("JIGBRIDGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("JIGBRIDGE_SIGNATURE"); v != "" {
		c.ServerSignature = v
	}
	if v := os.Getenv("JIGBRIDGE_TRANSCRIPT_PATH"); v != "" {
		c.TranscriptPath = v
	}
	if v := os.Getenv("JIGBRIDGE_TRANSCRIPT_REDACT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TranscriptRedact = b
		}
	}
	if v := os.Getenv("JIGBRIDGE_SHUTDOWN_GRACE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShutdownGraceSec = n
		}
	}
	if v := os.Getenv("JIGBRIDGE_DASHBOARD_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DashboardEnabled = b
		}
	}
}

func (c Config) ShutdownGrace() time.Duration {
	if c.ShutdownGraceSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// Level maps LogLevel onto slog's scale. Unknown values fall back to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "jigbridge", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "jigbridge.toml"
	}
	return filepath.Join(home, ".config", "jigbridge", "config.toml")
}
