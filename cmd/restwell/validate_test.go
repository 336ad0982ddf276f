package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`server:
  api_port: 8081
bedtime:
  manual_bedtime: "22:30"
  manual_bedtme: "22:30"
usage:
  palette:
    - package: com.example.*
      color: "#ff0000"
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "bedtime.manual_bedtme" {
		t.Errorf("unknown keys = %v, want [bedtime.manual_bedtme]", unknown)
	}
}

func TestDefaultConfigHasEveryKnownSection(t *testing.T) {
	cfg := getDefaultConfig()
	if cfg.Server.APIPort != 8080 {
		t.Errorf("api_port default = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("storage.type default = %q, want bolt", cfg.Storage.Type)
	}
	if cfg.Dispatch.Type != "log" {
		t.Errorf("dispatch.type default = %q, want log", cfg.Dispatch.Type)
	}
}

func TestParseCheckTime(t *testing.T) {
	got, err := parseCheckTime("friday", "23:30")
	if err != nil {
		t.Fatalf("parseCheckTime: %v", err)
	}
	if got.Weekday() != time.Friday || got.Hour() != 23 || got.Minute() != 30 {
		t.Errorf("parseCheckTime = %s, want Friday 23:30", got)
	}
	if got.Before(time.Now().Add(-24 * time.Hour)) {
		t.Errorf("parseCheckTime = %s, want this week or later", got)
	}

	for _, tt := range []struct{ day, tm string }{
		{"someday", ""},
		{"", "25:00"},
		{"", "2330"},
	} {
		if _, err := parseCheckTime(tt.day, tt.tm); err == nil {
			t.Errorf("parseCheckTime(%q, %q) expected error", tt.day, tt.tm)
		}
	}
}
