// ABOUTME: Tests for logger setup
// ABOUTME: Checks level parsing, formats and file output
package logging

import (
	"bytes"
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
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{Format: "json", Service: "falcon-input"}).Info("hello", "port", 3335)

	out := buf.String()
	if !strings.Contains(out, `"service":"falcon-input"`) || !strings.Contains(out, `"port":3335`) {
		t.Errorf("unexpected json record: %s", out)
	}

	buf.Reset()
	logger := New(&buf, Options{Level: "warn"})
	logger.Info("hidden")
	logger.Warn("shown")

	out = buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestSetupWritesFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	path := filepath.Join(t.TempDir(), "falcon.log")
	logger, closer, err := Setup(Options{File: path})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestSetupBadPath(t *testing.T) {
	_, _, err := Setup(Options{File: filepath.Join(t.TempDir(), "missing", "falcon.log")})
	if err == nil {
		t.Error("expected error for unwritable log path")
	}
}
