package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != ":8090" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Inference.Timeout != 60*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Inference.Timeout)
	}
	if cfg.Credits.DefaultLimit != 3 {
		t.Fatalf("unexpected default credits %d", cfg.Credits.DefaultLimit)
	}
	if cfg.Credits.BootstrapAdminEmail != "" {
		t.Fatalf("bootstrap elevation must be disabled by default")
	}
	if !cfg.Database.AtomicIncrement {
		t.Fatalf("atomic increment should default to true")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cvtriage.yaml")
	content := `
server:
  address: ":9000"
database:
  driver: sqlite3
  dsn: data/screening.db
inference:
  provider: openai
  model: gpt-4o-mini
  timeout: 30s
credits:
  default_limit: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CVTRIAGE_CREDITS_BOOTSTRAP_ADMIN_EMAIL", "root@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("address not read from file: %q", cfg.Server.Address)
	}
	if cfg.Inference.Provider != "openai" || cfg.Inference.Model != "gpt-4o-mini" {
		t.Fatalf("inference not read from file: %+v", cfg.Inference)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Fatalf("timeout not parsed: %s", cfg.Inference.Timeout)
	}
	if cfg.Credits.DefaultLimit != 5 {
		t.Fatalf("credits not read from file: %d", cfg.Credits.DefaultLimit)
	}
	if cfg.Credits.BootstrapAdminEmail != "root@example.com" {
		t.Fatalf("env override not applied: %q", cfg.Credits.BootstrapAdminEmail)
	}
	want := filepath.Join(dir, "data/screening.db")
	if cfg.Database.DSN != want {
		t.Fatalf("expected sqlite dsn resolved to %s, got %s", want, cfg.Database.DSN)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"provider", func(c *Config) { c.Inference.Provider = "llama" }},
		{"timeout", func(c *Config) { c.Inference.Timeout = 0 }},
		{"workers", func(c *Config) { c.Worker.MaxWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database:  DatabaseConfig{Driver: "sqlite3"},
				Inference: InferenceConfig{Provider: "gemini", Timeout: time.Second},
				Worker:    WorkerConfig{MaxWorkers: 1},
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
