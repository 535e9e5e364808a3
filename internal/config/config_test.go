package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with no file: %v", err)
	}
	if cfg.Stack.Name != "default" || cfg.Backend.Type != "file" || cfg.Provider.Type != "local" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level should be info, got %q", cfg.Log.Level)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creact.yaml")
	content := `
stack:
  name: production
  user: ops
backend:
  type: redis
  redis_addr: redis.internal:6379
provider:
  type: remote
  url: ws://providerd.internal/ws
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stack.Name != "production" || cfg.Stack.User != "ops" {
		t.Errorf("stack section wrong: %+v", cfg.Stack)
	}
	if cfg.Backend.Type != "redis" || cfg.Backend.RedisAddr != "redis.internal:6379" {
		t.Errorf("backend section wrong: %+v", cfg.Backend)
	}
	if cfg.Provider.URL != "ws://providerd.internal/ws" {
		t.Errorf("provider section wrong: %+v", cfg.Provider)
	}
}

func TestValidateRejectsBadCombos(t *testing.T) {
	dir := t.TempDir()

	write := func(content string) string {
		path := filepath.Join(dir, "creact.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	if _, err := Load(write("backend:\n  type: dynamo\n")); err == nil {
		t.Error("unknown backend type must fail")
	}
	if _, err := Load(write("provider:\n  type: remote\n")); err == nil {
		t.Error("remote provider without url must fail")
	}
	if _, err := Load(write("backend:\n  type: postgres\n")); err == nil {
		t.Error("postgres backend without url must fail")
	}
}

func TestEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CREACT_STACK_NAME", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stack.Name != "from-env" {
		t.Errorf("env override ignored, got %q", cfg.Stack.Name)
	}
}
