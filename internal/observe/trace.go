package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Aegis tracer.
const tracerName = "github.com/quietharbor/aegis"

// stageKey tags spans with the pipeline stage that produced them, so one
// escalation's detect, broadcast, and anchor legs can be grouped in a
// trace backend.
const stageKey = attribute.Key("aegis.stage")

// Tracer returns the Aegis [trace.Tracer] from the globally registered
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStageSpan starts a span for one pipeline stage ("broadcast",
// "anchor", ...), tagged with the aegis.stage attribute.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "aegis."+stage,
		trace.WithAttributes(stageKey.String(stage)),
	)
}

// CorrelationID returns the trace ID of the active span in ctx, or the
// empty string when there is none. The trace ID ties log lines, HTTP
// responses, and spans of one request together.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] carrying trace_id and span_id from the
// active span in ctx, or the default logger when no span is active.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
