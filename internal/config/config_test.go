package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
log:
  level: debug
  console: true
server:
  listen: ":9000"
  poll_interval: 250ms
storage:
  driver: sqlite
  path: ./speed.db
  busy_timeout: 2s
contracted_speeds:
  download_mbps: 500
  upload_mbps: 50
schedule:
  enabled: true
  spec: "@every 30m"
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.Log.Level)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("unexpected listen: %q", cfg.Server.Listen)
	}
	if got := cfg.Server.PollIntervalDuration(); got != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", got)
	}
	if got := cfg.Storage.BusyTimeoutDuration(); got != 2*time.Second {
		t.Fatalf("unexpected busy timeout: %v", got)
	}
	if cfg.Speeds.DownloadMbps != 500 {
		t.Fatalf("unexpected contracted download: %v", cfg.Speeds.DownloadMbps)
	}
	if !cfg.Cron.Enabled || cfg.Cron.Spec != "@every 30m" {
		t.Fatalf("unexpected schedule: %+v", cfg.Cron)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{"log":{"level":"info","console":true}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":8050" {
		t.Fatalf("expected default listen, got %q", cfg.Server.Listen)
	}
	if cfg.Speeds.DownloadMbps != 1100 || cfg.Speeds.UploadMbps != 35 {
		t.Fatalf("expected default contracted speeds, got %+v", cfg.Speeds)
	}
	if got := cfg.Server.PollIntervalDuration(); got != 500*time.Millisecond {
		t.Fatalf("expected default poll interval, got %v", got)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", "bogus_key: 1\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server:\n  poll_interval: soon\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestScheduleRequiresSpec(t *testing.T) {
	path := writeConfig(t, "config.yaml", "schedule:\n  enabled: true\n  spec: \"\"\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected error for enabled schedule without spec")
	}
}
