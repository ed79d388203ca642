package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("command allowed", "root_command", "git")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "command allowed" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["root_command"] != "git" {
		t.Errorf("root_command = %v", record["root_command"])
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/info should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn should pass:\n%s", out)
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	logger.Info("env adjusted", "value", "api_key=abcdef0123456789abcdef")
	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("secret leaked into log output:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker:\n%s", out)
	}
}

func TestLoggerRedactsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	derived := logger.With("token", "bearer 0123456789abcdef0123")
	derived.Info("derived logger")
	if strings.Contains(buf.String(), "0123456789abcdef0123") {
		t.Errorf("secret leaked through With:\n%s", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := LogLevelFromString(tc.in); got != tc.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
