package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.MaxEvents != def.MaxEvents {
		t.Fatalf("MaxEvents = %d, want %d", cfg.MaxEvents, def.MaxEvents)
	}
	if cfg.MaxBatch != 5 || cfg.MaxAttempts != 5 {
		t.Fatalf("MaxBatch/MaxAttempts = %d/%d, want 5/5", cfg.MaxBatch, cfg.MaxAttempts)
	}
}

func TestDefaultConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"base backoff", cfg.BaseBackoff(), 2 * time.Second},
		{"dedup window", cfg.DedupWindow(), 30 * time.Second},
		{"legacy dedup window", cfg.LegacyDedupWindow(), 6 * time.Second},
		{"sending stale", cfg.SendingStale(), 2 * time.Minute},
		{"sync interval", cfg.SyncInterval(), 30 * time.Second},
		{"heartbeat interval", cfg.HeartbeatInterval(), 15 * time.Second},
		{"http timeout", cfg.HTTPTimeout(), 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"max_events": 500, "max_batch": 2}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxEvents != 500 {
		t.Fatalf("MaxEvents = %d, want %d", cfg.MaxEvents, 500)
	}
	if cfg.MaxBatch != 2 {
		t.Fatalf("MaxBatch = %d, want %d", cfg.MaxBatch, 2)
	}
	// Untouched values keep defaults
	if cfg.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want default 5", cfg.MaxAttempts)
	}
}

func TestLoad_YAMLWhenNoJSON(t *testing.T) {
	tmpDir := t.TempDir()
	yamlConfig := "max_attempts: 3\nlog_level: debug\ndisabled_tools:\n  - sync_trigger\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.SlogLevel())
	}
	if len(cfg.DisabledTools) != 1 || cfg.DisabledTools[0] != "sync_trigger" {
		t.Errorf("DisabledTools = %v, want [sync_trigger]", cfg.DisabledTools)
	}
}

func TestLoad_JSONWinsOverYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(`{"max_batch": 7}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("max_batch: 9\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxBatch != 7 {
		t.Errorf("MaxBatch = %d, want 7 from config.json", cfg.MaxBatch)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("max_batch: [unterminated"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["sync_trigger", "settings_set"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "sync_trigger" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "sync_trigger")
	}
	if cfg.DisabledTools[1] != "settings_set" {
		t.Errorf("DisabledTools[1] = %q, want %q", cfg.DisabledTools[1], "settings_set")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"max_events": 8000, "max_batch": 3, "disabled_tools": ["sync_trigger"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	sprDir := filepath.Join(repoRoot, ".spr")
	if err := os.MkdirAll(sprDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"max_events": 100, "disabled_tools": ["settings_set"]}`
	if err := os.WriteFile(filepath.Join(sprDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	// Repo overrides scalar
	if cfg.MaxEvents != 100 {
		t.Errorf("MaxEvents = %d, want 100 (repo override)", cfg.MaxEvents)
	}
	// Global survives where repo is silent
	if cfg.MaxBatch != 3 {
		t.Errorf("MaxBatch = %d, want 3 (global)", cfg.MaxBatch)
	}
	// Arrays merged
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want merged list of 2", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	sprDir := filepath.Join(repoRoot, ".spr")
	if err := os.MkdirAll(sprDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(sprDir, "config.yaml"), []byte("recent_limit: 25\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.RecentLimit != 25 {
		t.Errorf("RecentLimit = %d, want 25", cfg.RecentLimit)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.SendingStaleMs != DefaultConfig().SendingStaleMs {
		t.Errorf("SendingStaleMs = %d, want default", cfg.SendingStaleMs)
	}
}

func TestMerge_ZeroOverlayKeepsBase(t *testing.T) {
	base := DefaultConfig()
	merged := Merge(base, &Config{})

	if merged.MaxEvents != base.MaxEvents || merged.LogLevel != base.LogLevel {
		t.Errorf("Merge with empty overlay changed values: %+v", merged)
	}
	if merged.DisabledTools != nil {
		t.Errorf("DisabledTools = %v, want nil", merged.DisabledTools)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
