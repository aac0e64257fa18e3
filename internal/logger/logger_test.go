package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"7", slog.LevelDebug},
		{"6", slog.LevelInfo},
		{"5", slog.LevelInfo},
		{"4", slog.LevelWarn},
		{"3", slog.LevelError},
		{"0", slog.LevelError},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	path := filepath.Join(t.TempDir(), "logs", "sercd.log")
	log, closer, err := Setup(Options{Level: "warn", File: path, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}

	log.Info("hidden")
	log.With("component", "test").Warn("port busy", "device", "/dev/ttyS0")
	closer.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "port busy") || !strings.Contains(out, "component=test") {
		t.Errorf("missing warn record: %q", out)
	}
}
