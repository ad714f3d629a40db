package redact_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bdobrica/Hana/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		secrets []string
		want    string
	}{
		{"single", "Bearer syt_hana_abcdef (sync)", []string{"syt_hana_abcdef"}, "Bearer [REDACTED] (sync)"},
		{"multiple", "key=AIzaSy123 dsn=https://pub@sentry/1", []string{"AIzaSy123", "https://pub@sentry/1"}, "key=[REDACTED] dsn=[REDACTED]"},
		{"short skipped", "abc token", []string{"abc"}, "abc token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.String(tt.line, tt.secrets...); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	m := map[string]any{
		"job":          "compaction",
		"access_token": "syt_123",
		"api_key":      "AIza",
		"count":        42,
	}
	out := redact.Map(m)

	if out["job"] != "compaction" || out["count"] != 42 {
		t.Errorf("plain values changed: %v", out)
	}
	if out["access_token"] != "[REDACTED]" || out["api_key"] != "[REDACTED]" {
		t.Errorf("sensitive values kept: %v", out)
	}
	if m["access_token"] != "syt_123" {
		t.Error("Map mutated its input")
	}
}

func TestReplaceAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: redact.ReplaceAttr("AIzaSecretKey", "ab"),
	}))

	logger.Info("call failed",
		"err", errors.New("401: key AIzaSecretKey rejected"),
		"url", "https://api/?key=AIzaSecretKey",
		"access_token", "syt_anything",
		"key", "identity:name",
	)

	out := buf.String()
	if strings.Contains(out, "AIzaSecretKey") || strings.Contains(out, "syt_anything") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "key=identity:name") {
		t.Errorf("non-secret attribute redacted: %s", out)
	}
	if strings.Count(out, "[REDACTED]") != 3 {
		t.Errorf("expected 3 redactions: %s", out)
	}
}
