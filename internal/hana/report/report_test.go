package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/bdobrica/Hana/common/trace"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestLogReporter(t *testing.T) {
	logger, buf := bufferLogger()
	r := LogReporter{Logger: logger}
	ctx := trace.WithTraceID(context.Background(), "t_abc")

	r.ReportException(ctx, errors.New("gemini down"), map[string]any{"component": "inference"})

	out := buf.String()
	for _, want := range []string{"level=ERROR", "gemini down", "trace_id=t_abc", "component=inference"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogReporter_NilErrorIgnored(t *testing.T) {
	logger, buf := bufferLogger()
	LogReporter{Logger: logger}.ReportException(context.Background(), nil, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestSentryReporter_CapturesWithTraceTag(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	logger, buf := bufferLogger()
	r, err := newSentryReporter(sentry.ClientOptions{
		Dsn:         "https://public@sentry.example.com/1",
		Environment: "test",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil // drop, never hit the network
		},
	}, logger)
	if err != nil {
		t.Fatalf("newSentryReporter: %v", err)
	}

	ctx := trace.WithTraceID(context.Background(), "t_xyz")
	r.ReportException(ctx, errors.New("vacuum failed"), map[string]any{"job": "compaction"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("captured %d events, want 1", len(events))
	}
	e := events[0]
	if e.Tags["trace_id"] != "t_xyz" {
		t.Errorf("trace_id tag = %q", e.Tags["trace_id"])
	}
	if e.Environment != "test" {
		t.Errorf("environment = %q", e.Environment)
	}
	if got := e.Contexts["hana"]["job"]; got != "compaction" {
		t.Errorf("hana context job = %v", got)
	}
	if !strings.Contains(buf.String(), "vacuum failed") {
		t.Error("sentry reporter should also log the exception")
	}
}

func TestNew_FallsBackToLog(t *testing.T) {
	if _, ok := New("", "dev", "v0", nil).(LogReporter); !ok {
		t.Error("empty DSN should yield a LogReporter")
	}
	if _, ok := New("not a dsn", "dev", "v0", nil).(LogReporter); !ok {
		t.Error("invalid DSN should fall back to a LogReporter")
	}
}
