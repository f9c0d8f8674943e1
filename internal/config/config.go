// Package config loads taskdesk configuration from config.yaml under the
// taskdesk home directory, applying defaults and environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchedulesConfig holds cron expressions for unattended skill runs.
// An empty expression disables that schedule.
type SchedulesConfig struct {
	// Prioritize recomputes due-date priorities, e.g. "*/30 * * * *".
	Prioritize string `yaml:"prioritize"`
	// Cleanup archives stale completed tasks, e.g. "0 3 * * 0".
	Cleanup string `yaml:"cleanup"`
	// Brief renders the daily brief and hands it to the notifier,
	// e.g. "0 7 * * *".
	Brief string `yaml:"brief"`
}

// TelegramConfig configures daily-brief delivery via Telegram.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// TelemetryConfig configures the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	// AuthToken gates every gateway endpoint except /healthz. Empty
	// disables auth (local development).
	AuthToken string `yaml:"auth_token"`

	// AllowOrigins lists Origin headers accepted for cross-origin
	// browser requests. Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	// CleanupDays is the default age threshold for the cleanup skill
	// when a request or schedule does not supply one.
	CleanupDays int `yaml:"cleanup_days"`

	Schedules SchedulesConfig `yaml:"schedules"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:    "127.0.0.1:18590",
		LogLevel:    "info",
		CleanupDays: 7,
		Schedules: SchedulesConfig{
			Prioritize: "*/30 * * * *",
			Cleanup:    "0 3 * * 0",
			Brief:      "0 7 * * *",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "otlp-http",
			ServiceName: "taskdesk",
			SampleRate:  1.0,
		},
	}
}

// HomeDir returns the taskdesk data directory, honoring TASKDESK_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKDESK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskdesk")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml (if present), applies env overrides, and
// normalizes defaults. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskdesk home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18590"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "taskdesk.db")
	}
	if cfg.CleanupDays < 0 {
		cfg.CleanupDays = 7
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "taskdesk"
	}
	if cfg.Telemetry.SampleRate <= 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKDESK_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKDESK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKDESK_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TASKDESK_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("TASKDESK_CLEANUP_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			cfg.CleanupDays = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Telegram.ChatID = v
		}
	}
}

// Fingerprint returns a stable hash of the active config, exposed by
// /healthz so operators can tell which configuration a daemon runs.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|days=%d|sched=%s,%s,%s|origins=%v",
		c.BindAddr, c.LogLevel, c.DBPath, c.CleanupDays,
		c.Schedules.Prioritize, c.Schedules.Cleanup, c.Schedules.Brief,
		c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
