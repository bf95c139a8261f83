package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port != 11300 {
		t.Fatalf("default port")
	}
	if cfg.MaxJobSize != 65535 {
		t.Fatalf("default max job size")
	}
	if cfg.Tick.Duration != 10*time.Millisecond {
		t.Fatalf("default tick")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:11300" {
		t.Fatalf("addr: %s", cfg.Addr())
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tubed.json")
	data := []byte(`{"port":11400,"maxJobSize":1024,"tick":"25ms","admin":{"http":"127.0.0.1:8080"},"log":{"level":"debug","format":"json"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 11400 || cfg.MaxJobSize != 1024 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Tick.Duration != 25*time.Millisecond {
		t.Fatalf("tick: %v", cfg.Tick)
	}
	if cfg.Admin.HTTP != "127.0.0.1:8080" || cfg.Log.Format != "json" {
		t.Fatalf("nested: %+v", cfg)
	}
	if cfg.Listen != "0.0.0.0" {
		t.Fatalf("unset fields keep defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tubed.yaml")
	data := []byte("listen: 127.0.0.1\nmaxJobsPerTube: 500\ntick: 50ms\nacceptRate: 200\nadmin:\n  grpc: 127.0.0.1:9090\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1" || cfg.MaxJobsPerTube != 500 || cfg.AcceptRate != 200 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Tick.Duration != 50*time.Millisecond || cfg.Admin.GRPC != "127.0.0.1:9090" {
		t.Fatalf("nested: %+v", cfg)
	}
	if cfg.Port != 11300 {
		t.Fatalf("port default lost")
	}
}

func TestLoadBadDuration(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tubed.yml")
	if err := os.WriteFile(file, []byte("tick: soon\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("TUBED_PORT", "12000")
	t.Setenv("TUBED_MAX_JOB_SIZE", "2048")
	t.Setenv("TUBED_TICK", "5ms")
	t.Setenv("TUBED_ADMIN_HTTP", ":8081")
	t.Setenv("TUBED_LOG_LEVEL", "debug")
	t.Setenv("TUBED_MAX_JOBS_PER_TUBE", "not-a-number")
	t.Setenv("TUBED_MAX_JOBS", "1000")
	FromEnv(&cfg)
	if cfg.Port != 12000 {
		t.Fatalf("env override port")
	}
	if cfg.MaxJobSize != 2048 {
		t.Fatalf("env override max job size")
	}
	if cfg.Tick.Duration != 5*time.Millisecond {
		t.Fatalf("env override tick")
	}
	if cfg.Admin.HTTP != ":8081" || cfg.Log.Level != "debug" {
		t.Fatalf("env override admin/log")
	}
	if cfg.MaxJobsPerTube != 0 {
		t.Fatalf("bad value should be ignored")
	}
	if cfg.MaxJobs != 1000 {
		t.Fatalf("env override max jobs")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":       func(c *Config) { c.Port = 70000 },
		"size":       func(c *Config) { c.MaxJobSize = 0 },
		"perTube":    func(c *Config) { c.MaxJobsPerTube = -1 },
		"maxJobs":    func(c *Config) { c.MaxJobs = -1 },
		"tick":       func(c *Config) { c.Tick.Duration = 0 },
		"acceptRate": func(c *Config) { c.AcceptRate = -1 },
		"level":      func(c *Config) { c.Log.Level = "chatty" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}
