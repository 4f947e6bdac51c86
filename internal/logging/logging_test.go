package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func newCaptureLogger(sanitize bool) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewSanitizingHandler(handler, sanitize)), &buf
}

func TestSanitizingHandler_RedactsSensitiveAttrs(t *testing.T) {
	log, buf := newCaptureLogger(true)

	log.Info("connecting",
		slog.String("host", "web01"),
		slog.String("password", "hunter2"),
		slog.String("sudo_password", "hunter3"),
		slog.String("api_token", "tok123"),
	)

	out := buf.String()
	for _, secret := range []string{"hunter2", "hunter3", "tok123"} {
		if strings.Contains(out, secret) {
			t.Errorf("log output leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker in output: %s", out)
	}
	if !strings.Contains(out, "web01") {
		t.Errorf("non-sensitive attribute was dropped: %s", out)
	}
}

func TestSanitizingHandler_Disabled(t *testing.T) {
	log, buf := newCaptureLogger(false)

	log.Info("connecting", slog.String("password", "hunter2"))

	if !strings.Contains(buf.String(), "hunter2") {
		t.Errorf("sanitization disabled but value redacted: %s", buf.String())
	}
}

func TestSanitizingHandler_WithAttrs(t *testing.T) {
	log, buf := newCaptureLogger(true)

	log.With(slog.String("passphrase", "opensesame")).Info("unlock")

	if strings.Contains(buf.String(), "opensesame") {
		t.Errorf("With-attached attribute leaked: %s", buf.String())
	}
}

func TestSanitizingHandler_Groups(t *testing.T) {
	log, buf := newCaptureLogger(true)

	log.Info("login",
		slog.Group("session",
			slog.String("user", "alice"),
			slog.String("secret", "s3cret"),
		),
	)

	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Errorf("grouped secret leaked: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("grouped non-sensitive attribute dropped: %s", out)
	}
}

func TestSetupWriter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", true)
	defer SetupWriter(&bytes.Buffer{}, "info", true)

	slog.Debug("probe", slog.String("k", "v"))

	var record map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, line)
	}
	if record["msg"] != "probe" {
		t.Errorf("msg = %v, want probe", record["msg"])
	}
}
