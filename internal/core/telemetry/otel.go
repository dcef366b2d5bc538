package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	cluelog "goa.design/clue/log"
)

type (
	// OTelLogger wraps goa.design/clue/log, which formats and enriches log
	// records from fields carried on the context (see clue.Log).
	OTelLogger struct{}

	// OTelMetrics wraps the global OTel MeterProvider. Configure it via
	// clue.ConfigureOpenTelemetry or otel.SetMeterProvider before use.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer wraps the global OTel TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOTelLogger constructs a Logger that delegates to goa.design/clue/log.
func NewOTelLogger() Logger { return OTelLogger{} }

// NewOTelMetrics constructs a Metrics recorder backed by the named OTel meter.
func NewOTelMetrics(instrumentationName string) Metrics {
	return &OTelMetrics{meter: otel.Meter(instrumentationName)}
}

// NewOTelTracer constructs a Tracer backed by the named OTel tracer.
func NewOTelTracer(instrumentationName string) Tracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (OTelLogger) Debug(ctx context.Context, msg string, kv ...any) {
	cluelog.Debug(ctx, append([]cluelog.Fielder{cluelog.KV{K: "msg", V: msg}}, kvToFielders(kv)...)...)
}
func (OTelLogger) Info(ctx context.Context, msg string, kv ...any) {
	cluelog.Info(ctx, append([]cluelog.Fielder{cluelog.KV{K: "msg", V: msg}}, kvToFielders(kv)...)...)
}
func (OTelLogger) Warn(ctx context.Context, msg string, kv ...any) {
	fielders := []cluelog.Fielder{cluelog.KV{K: "msg", V: msg}, cluelog.KV{K: "severity", V: "warning"}}
	cluelog.Warn(ctx, append(fielders, kvToFielders(kv)...)...)
}
func (OTelLogger) Error(ctx context.Context, msg string, kv ...any) {
	cluelog.Error(ctx, nil, append([]cluelog.Fielder{cluelog.KV{K: "msg", V: msg}}, kvToFielders(kv)...)...)
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}
func (m *OTelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}
func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	h, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}
func (t *OTelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}
func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// kvToFielders converts alternating (key, value) pairs into clue log fields.
// A trailing unpaired key is given a nil value. Non-string keys are skipped.
func kvToFielders(kv []any) []cluelog.Fielder {
	var out []cluelog.Fielder
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		out = append(out, cluelog.KV{K: k, V: v})
	}
	return out
}

// tagsToAttrs converts alternating (key, value) tag strings into OTel
// attributes for metric dimensions. A trailing unpaired key gets "".
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

// kvToAttrs converts alternating (key, value) pairs into OTel span attributes.
func kvToAttrs(kv []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = ""
		}
		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
