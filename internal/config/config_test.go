package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.APIURL != "http://localhost:8000" {
		t.Errorf("unexpected default api_url %q", cfg.APIURL)
	}
	if cfg.WSURL != "ws://localhost:8000" {
		t.Errorf("unexpected default ws_url %q", cfg.WSURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unexpected default log_level %q", cfg.LogLevel)
	}
	if cfg.EventBuffer != 64 {
		t.Errorf("unexpected default event_buffer %d", cfg.EventBuffer)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("unexpected default write_timeout %v", cfg.WriteTimeout)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("api_url: https://chat.example.com\nws_url: wss://chat.example.com\nlog_level: debug\nwrite_timeout: 10s\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.APIURL != "https://chat.example.com" {
		t.Errorf("expected overridden api_url, got %q", cfg.APIURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected overridden log_level, got %q", cfg.LogLevel)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("expected overridden write_timeout, got %v", cfg.WriteTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.EventBuffer != 64 {
		t.Errorf("expected default event_buffer, got %d", cfg.EventBuffer)
	}
}

func TestLoadFileParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_url: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unparseable config")
	}
}
