package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigPath(t *testing.T) {
	t.Run("TUBED_CONFIG wins", func(t *testing.T) {
		t.Setenv("TUBED_CONFIG", "/some/where.yaml")
		if got := DefaultConfigPath(); got != "/some/where.yaml" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("XDG_CONFIG_HOME file", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TUBED_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", dir)
		want := filepath.Join(dir, "tubed", "tubed.yaml")
		if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(want, []byte("port: 1\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got := DefaultConfigPath(); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("directory is not a config file", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TUBED_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", dir)
		if err := os.MkdirAll(filepath.Join(dir, "tubed", "tubed.yaml"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for _, p := range candidatePaths() {
			if p == filepath.Join(dir, "tubed", "tubed.yaml") && isFile(p) {
				t.Fatalf("directory treated as file")
			}
		}
	})
}
