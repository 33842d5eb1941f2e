package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("USBPOWER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("USBPOWER_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("default path: got %q", got)
	}

	t.Setenv("USBPOWER_CONFIG", "/etc/usbpower/config.yaml")
	if got := getConfigPath(); got != "/etc/usbpower/config.yaml" {
		t.Errorf("env path: got %q", got)
	}
}

func TestResolveHelperPath(t *testing.T) {
	path, err := resolveHelperPath("./helper.exe")
	if err != nil {
		t.Fatalf("resolveHelperPath: %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("configured path not absolute: %q", path)
	}

	path, err = resolveHelperPath("")
	if err != nil {
		t.Fatalf("resolveHelperPath default: %v", err)
	}
	exe, _ := os.Executable()
	if filepath.Dir(path) != filepath.Dir(exe) {
		t.Errorf("default helper should sit beside the executable, got %q", path)
	}
	if filepath.Base(path) != helperBinaryName {
		t.Errorf("default helper name: got %q", filepath.Base(path))
	}
}
