package config

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.UserID == "" {
		t.Fatalf("expected non-empty user ID")
	}
	if firstCfg.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, firstCfg.PageSize)
	}
	if firstCfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, firstCfg.LogLevel)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}
	if firstCfg.DatabasePath != filepath.Join(tempDir, "messages.db") {
		t.Fatalf("unexpected database path %q", firstCfg.DatabasePath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.UserID != firstCfg.UserID {
		t.Fatalf("expected stable user ID, got %q then %q", firstCfg.UserID, secondCfg.UserID)
	}
	if secondCfg.DisplayName != firstCfg.DisplayName {
		t.Fatalf("expected stable display name, got %q then %q", firstCfg.DisplayName, secondCfg.DisplayName)
	}
}

func TestLoadOrCreateNormalizesInvalidFields(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	if err := EnsureDataDirectory(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectory failed: %v", err)
	}
	legacy := &UserConfig{
		UserID:      "alice",
		DisplayName: "Alice",
		PageSize:    100000,
		LogLevel:    "chatty",
	}
	if err := Save(ConfigPath(tempDir), legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.UserID != "alice" || cfg.DisplayName != "Alice" {
		t.Fatalf("expected identity to be retained, got %+v", cfg)
	}
	if cfg.PageSize != MaxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", MaxPageSize, cfg.PageSize)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected invalid log level to reset, got %q", cfg.LogLevel)
	}

	reloaded, err := Load(ConfigPath(tempDir))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.PageSize != MaxPageSize {
		t.Fatalf("expected normalized config to be saved")
	}
}

func TestLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"nope":  zerolog.InfoLevel,
	}
	for raw, want := range cases {
		cfg := &UserConfig{LogLevel: raw}
		if got := cfg.Level(); got != want {
			t.Fatalf("Level(%q) = %s, want %s", raw, got, want)
		}
	}
}
