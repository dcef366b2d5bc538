package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// StandardLogger wraps log/slog for local development and single-process
	// deployments that do not export to an observability backend.
	StandardLogger struct {
		l *slog.Logger
	}

	// StandardMetrics writes each counter/timer/gauge call as an slog line
	// as it happens; nothing is accumulated. It is useful for tests and CLI
	// runs that want metrics visible without standing up a metrics backend.
	StandardMetrics struct {
		l *slog.Logger
	}

	// StandardTracer emits span start/end as log lines instead of exporting
	// real traces; a development fallback for StandardLogger-only setups.
	StandardTracer struct {
		l *slog.Logger
	}

	standardSpan struct {
		l     *slog.Logger
		name  string
		start time.Time
	}
)

// NewStandardLogger wraps the given slog.Logger, or slog.Default() if nil.
func NewStandardLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return StandardLogger{l: l}
}

// NewStandardMetrics wraps the given slog.Logger for metric summaries.
func NewStandardMetrics(l *slog.Logger) Metrics {
	if l == nil {
		l = slog.Default()
	}
	return StandardMetrics{l: l}
}

// NewStandardTracer wraps the given slog.Logger for span start/end lines.
func NewStandardTracer(l *slog.Logger) Tracer {
	if l == nil {
		l = slog.Default()
	}
	return StandardTracer{l: l}
}

func (s StandardLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.l.DebugContext(ctx, msg, kv...)
}
func (s StandardLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.l.InfoContext(ctx, msg, kv...)
}
func (s StandardLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.l.WarnContext(ctx, msg, kv...)
}
func (s StandardLogger) Error(ctx context.Context, msg string, kv ...any) {
	s.l.ErrorContext(ctx, msg, kv...)
}

func (s StandardMetrics) IncCounter(name string, value float64, tags ...string) {
	s.l.Info("metric.counter", "name", name, "value", value, "tags", tags)
}
func (s StandardMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	s.l.Info("metric.timer", "name", name, "duration", d, "tags", tags)
}
func (s StandardMetrics) RecordGauge(name string, value float64, tags ...string) {
	s.l.Info("metric.gauge", "name", name, "value", value, "tags", tags)
}

func (s StandardTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, &standardSpan{l: s.l, name: name, start: time.Now()}
}
func (s StandardTracer) Span(context.Context) Span { return &standardSpan{l: s.l} }

func (sp *standardSpan) End(...trace.SpanEndOption) {
	sp.l.Debug("span.end", "name", sp.name, "duration", time.Since(sp.start))
}
func (sp *standardSpan) AddEvent(name string, attrs ...any) {
	sp.l.Debug("span.event", append([]any{"span", sp.name, "event", name}, attrs...)...)
}
func (sp *standardSpan) SetStatus(code codes.Code, description string) {
	sp.l.Debug("span.status", "span", sp.name, "code", code.String(), "description", description)
}
func (sp *standardSpan) RecordError(err error, _ ...trace.EventOption) {
	sp.l.Error("span.error", "span", sp.name, "error", err)
}
