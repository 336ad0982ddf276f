package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restwell.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 8080 {
		t.Errorf("api port = %d", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("storage type = %s", cfg.Storage.Type)
	}

	snap, err := cfg.SettingsDefaults()
	if err != nil {
		t.Fatalf("SettingsDefaults: %v", err)
	}
	if snap.InactivityThreshold != 30*time.Minute || snap.BinSize != time.Hour {
		t.Errorf("unexpected defaults: %+v", snap)
	}
	if snap.Precedence != schedule.PreferSchedule {
		t.Errorf("precedence = %s", snap.Precedence)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 9000
  timezone: UTC
storage:
  type: redis
  redis:
    host: redis.local
bedtime:
  manual_bedtime: "21:30"
  manual_wake: "06:45"
  precedence: manual
usage:
  palette:
    - package: com.google.*
      color: "#4285F4"
    - package: com.chat
      color: "#00FF00"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 9000 || cfg.Storage.Redis.Host != "redis.local" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location = %v, %v", loc, err)
	}
	palette := cfg.Palette()
	if palette["com.google.*"] != "#4285F4" || len(palette) != 2 {
		t.Errorf("palette = %v", palette)
	}
	snap, err := cfg.SettingsDefaults()
	if err != nil {
		t.Fatalf("SettingsDefaults: %v", err)
	}
	if snap.Precedence != schedule.PreferManual || snap.ManualBedtime != "21:30" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RESTWELL_SERVER_API_PORT", "8181")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 8181 {
		t.Errorf("api port = %d, want 8181", cfg.Server.APIPort)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad port", "server:\n  api_port: 70000\n", "invalid API port"},
		{"bad storage", "storage:\n  type: sqlite\n", "unsupported storage type"},
		{"bad threshold", "bedtime:\n  inactivity_threshold: soon\n", "inactivity_threshold"},
		{"bad precedence", "bedtime:\n  precedence: whichever\n", "precedence"},
		{"bad manual window", "bedtime:\n  manual_wake: \"25:00\"\n", "manual window"},
		{"kafka dispatch without brokers", "dispatch:\n  type: kafka\n", "dispatch.kafka"},
		{"ingest without brokers", "ingest:\n  enabled: true\n", "ingest.kafka"},
		{"bad timezone", "server:\n  timezone: Mars/Olympus\n", "invalid timezone"},
		{"bad log format", "logging:\n  format: xml\n", "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", time.Second); got != time.Second {
		t.Errorf("empty = %v", got)
	}
	if got := Duration("bogus", time.Second); got != time.Second {
		t.Errorf("bogus = %v", got)
	}
	if got := Duration("5m", time.Second); got != 5*time.Minute {
		t.Errorf("5m = %v", got)
	}
}
