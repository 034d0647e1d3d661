package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
// Durations are stored as plain integers so the file stays easy to edit by hand.
type Config struct {
	// MaxEvents caps the number of captured prompts kept locally.
	// Oldest prompts are evicted first, whatever their sync status.
	MaxEvents int `json:"max_events" yaml:"max_events"`

	// MaxBatch is the maximum number of queue entries delivered per sync cycle.
	MaxBatch int `json:"max_batch" yaml:"max_batch"`

	// MaxAttempts is the number of failed deliveries after which a prompt is dead-lettered.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseBackoffMs and BackoffCapExponent define the retry delay:
	// BaseBackoffMs * 2^min(BackoffCapExponent, attempts).
	BaseBackoffMs      int `json:"base_backoff_ms" yaml:"base_backoff_ms"`
	BackoffCapExponent int `json:"backoff_cap_exponent" yaml:"backoff_cap_exponent"`

	// DedupWindowMs is the time bucket width used by the capture fingerprint.
	DedupWindowMs int `json:"dedup_window_ms" yaml:"dedup_window_ms"`

	// LegacyDedupWindowMs drops a capture whose content hash matches the previous
	// prompt when it arrives within this window.
	LegacyDedupWindowMs int `json:"legacy_dedup_window_ms" yaml:"legacy_dedup_window_ms"`

	// SendingStaleMs is how long an entry may stay marked sending before it is
	// presumed orphaned by a crash and reset to pending.
	SendingStaleMs int `json:"sending_stale_ms" yaml:"sending_stale_ms"`

	// SyncIntervalSec is the period of the sync alarm.
	SyncIntervalSec int `json:"sync_interval_sec" yaml:"sync_interval_sec"`

	// HeartbeatIntervalSec is the period of the status heartbeat alarm.
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec"`

	// RecentLimit is the number of prompts returned by GET_RECENT.
	RecentLimit int `json:"recent_limit" yaml:"recent_limit"`

	// MaxLogs caps the local activity log.
	MaxLogs int `json:"max_logs" yaml:"max_logs"`

	// HTTPTimeoutSec bounds a single request to the sync server.
	HTTPTimeoutSec int `json:"http_timeout_sec" yaml:"http_timeout_sec"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" yaml:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" yaml:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxEvents:            5000,
		MaxBatch:             5,
		MaxAttempts:          5,
		BaseBackoffMs:        2000,
		BackoffCapExponent:   4,
		DedupWindowMs:        30_000,
		LegacyDedupWindowMs:  6000,
		SendingStaleMs:       120_000,
		SyncIntervalSec:      30,
		HeartbeatIntervalSec: 15,
		RecentLimit:          10,
		MaxLogs:              200,
		HTTPTimeoutSec:       30,
		LogLevel:             "info",
	}
}

func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

func (c *Config) LegacyDedupWindow() time.Duration {
	return time.Duration(c.LegacyDedupWindowMs) * time.Millisecond
}

func (c *Config) SendingStale() time.Duration {
	return time.Duration(c.SendingStaleMs) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// SlogLevel maps LogLevel to a slog level. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
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

// Load loads configuration from baseDir/config.json (or baseDir/config.yaml).
// Returns default config if neither file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.spr.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadDirRaw(baseDir)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo loads configuration from both global (~/.spr) and repo (.spr) directories.
// Repo config is found by walking upward from startDir to find the nearest .spr directory
// holding a config file. Repo config takes precedence for scalar values; arrays are merged
// (deduplicated). Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadDirRaw(globalDir)
	if err != nil {
		return nil, err
	}

	repo := &Config{}
	if repoDir := FindRepoConfig(startDir); repoDir != "" {
		repo, err = loadDirRaw(repoDir)
		if err != nil {
			return nil, err
		}
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .spr directory
// containing config.json or config.yaml.
// Returns the directory if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		candidate := filepath.Join(dir, ".spr")
		for _, name := range []string{"config.json", "config.yaml"} {
			if _, err := os.Stat(filepath.Join(candidate, name)); err == nil {
				return candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// loadDirRaw loads config.json from dir, falling back to config.yaml.
// Returns zero-valued config if neither exists (not defaults).
func loadDirRaw(dir string) (*Config, error) {
	cfg, found, err := loadFileRaw(filepath.Join(dir, "config.json"), json.Unmarshal)
	if err != nil || found {
		return cfg, err
	}
	cfg, _, err = loadFileRaw(filepath.Join(dir, "config.yaml"), yaml.Unmarshal)
	return cfg, err
}

// loadFileRaw loads configuration from a specific file path with the given decoder.
func loadFileRaw(configPath string, unmarshal func([]byte, any) error) (*Config, bool, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}

	cfg := &Config{}
	if err := unmarshal(data, cfg); err != nil {
		return nil, true, err
	}

	return cfg, true, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		MaxEvents:            pickInt(overlay.MaxEvents, base.MaxEvents),
		MaxBatch:             pickInt(overlay.MaxBatch, base.MaxBatch),
		MaxAttempts:          pickInt(overlay.MaxAttempts, base.MaxAttempts),
		BaseBackoffMs:        pickInt(overlay.BaseBackoffMs, base.BaseBackoffMs),
		BackoffCapExponent:   pickInt(overlay.BackoffCapExponent, base.BackoffCapExponent),
		DedupWindowMs:        pickInt(overlay.DedupWindowMs, base.DedupWindowMs),
		LegacyDedupWindowMs:  pickInt(overlay.LegacyDedupWindowMs, base.LegacyDedupWindowMs),
		SendingStaleMs:       pickInt(overlay.SendingStaleMs, base.SendingStaleMs),
		SyncIntervalSec:      pickInt(overlay.SyncIntervalSec, base.SyncIntervalSec),
		HeartbeatIntervalSec: pickInt(overlay.HeartbeatIntervalSec, base.HeartbeatIntervalSec),
		RecentLimit:          pickInt(overlay.RecentLimit, base.RecentLimit),
		MaxLogs:              pickInt(overlay.MaxLogs, base.MaxLogs),
		HTTPTimeoutSec:       pickInt(overlay.HTTPTimeoutSec, base.HTTPTimeoutSec),
		DBMaxOpenConns:       pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:       pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.LogLevel = strings.TrimSpace(overlay.LogLevel)
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// pickInt returns overlay if positive, else base.
func pickInt(overlay, base int) int {
	if overlay > 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
