package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithClipID(WithComponent(New(&buf, slog.LevelInfo), "session"), "c1")
	logger.Debug("hidden")
	logger.Info("clip placed", "track", "video")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["component"] != "session" || rec["clip_id"] != "c1" || rec["track"] != "video" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLoggerWithOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closer := NewLoggerWithOptions(Options{Level: "info", File: path})
	logger.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file = %q", data)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("SanitizeToken = %q", got)
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}
	if got := SanitizePath(filepath.Join(home, "media", "a.mp4")); !strings.HasPrefix(got, "~") {
		t.Errorf("SanitizePath = %q", got)
	}
	if got := SanitizePath("/srv/a.mp4"); got != "/srv/a.mp4" && !strings.HasPrefix(home, "/srv") {
		t.Errorf("SanitizePath changed unrelated path: %q", got)
	}
}
