package config

import (
	"os"
	"path/filepath"
	"testing"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Storage.Path != filepath.Join(cfg.DataDir, "artifacts") {
		t.Errorf("storage path not resolved: %s", cfg.Storage.Path)
	}
	if cfg.Data.Aliases["userId"] != "entity_id" {
		t.Error("default aliases missing")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Features.InactivityDays = 0 }},
		{"empty target", func(c *Config) { c.Features.Target = "" }},
		{"no play types", func(c *Config) { c.Features.PlayEventTypes = nil }},
		{"blank play type", func(c *Config) { c.Features.PlayEventTypes = []string{""} }},
		{"bad status", func(c *Config) { c.Features.OKStatus = 42 }},
		{"negative workers", func(c *Config) { c.Features.Workers = -1 }},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"bad endpoint", func(c *Config) { c.Storage.S3.Endpoint = "not a url" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"dropping the target", func(c *Config) { c.Features.Drop = []string{"churn"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if ferrors.GetCode(err) != ferrors.CodeInvalidConfig {
				t.Errorf("got code %q, want %q", ferrors.GetCode(err), ferrors.CodeInvalidConfig)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cfg.yaml")
	yamlDoc := `
data_dir: /tmp/cf
data:
  input: events.json
  drop_columns: [auth, method]
features:
  inactivity_days: 14
  workers: 4
storage:
  type: s3
  s3:
    bucket: runs
    use_path_style: true
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Features.InactivityDays != 14 || cfg.Features.Workers != 4 {
		t.Errorf("features not loaded: %+v", cfg.Features)
	}
	if cfg.Features.Target != "churn" {
		t.Errorf("defaults should survive partial files, got target %q", cfg.Features.Target)
	}
	if len(cfg.Data.DropColumns) != 2 || !cfg.Storage.S3.UsePathStyle || cfg.Storage.S3.Bucket != "runs" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}

	jsonPath := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(jsonPath, []byte(`{"features":{"target":"label"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadFromFile json: %v", err)
	}
	if cfg.Features.Target != "label" || cfg.Features.InactivityDays != 30 {
		t.Errorf("unexpected json config: %+v", cfg.Features)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	tomlPath := filepath.Join(dir, "cfg.toml")
	os.WriteFile(tomlPath, []byte("x = 1"), 0644)
	if _, err := LoadFromFile(tomlPath); ferrors.GetCode(err) != ferrors.CodeInvalidConfig {
		t.Errorf("unsupported format should be a config error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHURNFEAT_INACTIVITY_DAYS", "7")
	t.Setenv("CHURNFEAT_PLAY_EVENT_TYPES", "nextsong, listen ,")
	t.Setenv("CHURNFEAT_SCALE_NUMERIC", "false")
	t.Setenv("CHURNFEAT_STORAGE_TYPE", "s3")
	t.Setenv("CHURNFEAT_S3_BUCKET", "b")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Features.InactivityDays != 7 {
		t.Errorf("got %d, want 7", cfg.Features.InactivityDays)
	}
	if len(cfg.Features.PlayEventTypes) != 2 || cfg.Features.PlayEventTypes[1] != "listen" {
		t.Errorf("got %v", cfg.Features.PlayEventTypes)
	}
	if cfg.Matrix.ScaleNumeric {
		t.Error("scale_numeric should be disabled")
	}
	if cfg.Storage.Type != "s3" || cfg.Storage.S3.Bucket != "b" {
		t.Errorf("storage not overridden: %+v", cfg.Storage)
	}
}

func TestLoadFromEnv_Malformed(t *testing.T) {
	t.Setenv("CHURNFEAT_WORKERS", "many")
	t.Setenv("CHURNFEAT_WITH_MEAN", "maybe")

	err := LoadFromEnv(DefaultConfig())
	if ferrors.GetCode(err) != ferrors.CodeInvalidConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "cf")
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{cfg.StagingDir(), cfg.Storage.Path, cfg.Storage.CacheDir} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("%s not created: %v", d, err)
		}
	}
}
