package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_NoFile_ReturnsDefaults(t *testing.T) {
	l := NewLoader("")
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 3333 {
		t.Errorf("Port = %d, want 3333", cfg.Port)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want 127.0.0.1", cfg.Bind)
	}
}

func TestLoader_MissingFile_ReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(filepath.Join(dir, "does-not-exist.yaml"))
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load with missing file should not fail: %v", err)
	}
	if cfg.Port != 3333 {
		t.Errorf("Port = %d, want 3333", cfg.Port)
	}
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := "port: 9999\nbind: \"0.0.0.0\"\nallow_remote: true\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	l := NewLoader(path)
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Bind != "0.0.0.0" {
		t.Errorf("Bind = %q, want 0.0.0.0", cfg.Bind)
	}
	if !cfg.AllowRemote {
		t.Error("AllowRemote should be true from file")
	}
	// Unset fields still default
	if cfg.Cache.FileContentTTLSeconds != 30 {
		t.Errorf("Cache.FileContentTTLSeconds = %d, want 30 (default)", cfg.Cache.FileContentTTLSeconds)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("KODELENS_PORT", "5555")

	l := NewLoader(path)
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 5555 {
		t.Errorf("Port = %d, want 5555 (env override)", cfg.Port)
	}
}

func TestDefaultRoot(t *testing.T) {
	root, err := DefaultRoot()
	if err != nil {
		t.Fatalf("DefaultRoot failed: %v", err)
	}
	if filepath.Base(root) != ".kodelens" {
		t.Errorf("DefaultRoot() = %q, want basename .kodelens", root)
	}
}
