package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seeyonai/summit-sub000/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "summit.log")
	log, closer, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hidden")
	log.Warn("socket lost", slog.String("session", "upload"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "socket lost" || rec["session"] != "upload" {
		t.Errorf("record = %v", rec)
	}
}

func TestStandardStreams(t *testing.T) {
	for _, out := range []string{"stdout", "stderr", ""} {
		log, closer, err := New(config.LoggingConfig{Level: "info", Format: "text", Output: out})
		if err != nil {
			t.Fatalf("New(%q): %v", out, err)
		}
		if log == nil {
			t.Fatalf("New(%q) returned nil logger", out)
		}
		if err := closer.Close(); err != nil {
			t.Errorf("close %q: %v", out, err)
		}
	}
}
