// Package report forwards recoverable errors to an error-tracking sink.
//
// Reporting never fails the caller: a sink that cannot deliver logs and
// moves on.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/bdobrica/Hana/common/redact"
	"github.com/bdobrica/Hana/common/trace"
)

// Reporter receives exceptions worth tracking outside the process log.
type Reporter interface {
	ReportException(ctx context.Context, err error, fields map[string]any)
}

// LogReporter writes exceptions to the structured log only. It is used when
// no Sentry DSN is configured.
type LogReporter struct {
	Logger *slog.Logger
}

var _ Reporter = LogReporter{}

// ReportException logs err at ERROR with the trace ID from ctx and fields.
func (r LogReporter) ReportException(ctx context.Context, err error, fields map[string]any) {
	if err == nil {
		return
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "exception", logArgs(ctx, err, fields)...)
}

func logArgs(ctx context.Context, err error, fields map[string]any) []any {
	args := make([]any, 0, 4+2*len(fields))
	args = append(args, "err", err)
	if tid := trace.FromContext(ctx); tid != "" {
		args = append(args, "trace_id", tid)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// SentryReporter captures exceptions with Sentry and also logs them.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

var _ Reporter = (*SentryReporter)(nil)

// NewSentryReporter initialises a dedicated Sentry client for dsn.
func NewSentryReporter(dsn, environment, release string, logger *slog.Logger) (*SentryReporter, error) {
	return newSentryReporter(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}, logger)
}

func newSentryReporter(opts sentry.ClientOptions, logger *slog.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("report: init sentry: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// ReportException tags the event with the trace ID and attaches fields,
// with credential-like values redacted, as the "hana" context.
func (r *SentryReporter) ReportException(ctx context.Context, err error, fields map[string]any) {
	if err == nil {
		return
	}
	r.logger.ErrorContext(ctx, "exception", logArgs(ctx, err, fields)...)

	r.hub.WithScope(func(scope *sentry.Scope) {
		if tid := trace.FromContext(ctx); tid != "" {
			scope.SetTag("trace_id", tid)
		}
		if len(fields) > 0 {
			scope.SetContext("hana", sentry.Context(redact.Map(fields)))
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// New returns a SentryReporter when dsn is set and a LogReporter otherwise.
// A DSN that Sentry rejects falls back to logging.
func New(dsn, environment, release string, logger *slog.Logger) Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return LogReporter{Logger: logger}
	}
	r, err := NewSentryReporter(dsn, environment, release, logger)
	if err != nil {
		logger.Warn("report: sentry disabled", "err", err)
		return LogReporter{Logger: logger}
	}
	return r
}
