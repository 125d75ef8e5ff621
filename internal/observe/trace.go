package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every huddle span.
const tracerName = "github.com/MrWong99/huddle"

// Span attributes shared by call and turn spans.
const (
	AttrChatID     = attribute.Key("huddle.chat_id")
	AttrJobID      = attribute.Key("huddle.job_id")
	AttrStage      = attribute.Key("huddle.stage")
	AttrDelivery   = attribute.Key("huddle.delivery")
	AttrReason     = attribute.Key("huddle.reason")
	AttrAutoJoined = attribute.Key("huddle.auto_joined")
)

// StartSpan starts a span on the globally registered tracer provider. The
// caller must end it, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartChatSpan starts a span for work on one chat's call.
func StartChatSpan(ctx context.Context, name, chatID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs)+1)
	kv = append(kv, AttrChatID.String(chatID))
	kv = append(kv, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(kv...))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there
// is none. Log lines and notices use it to tie events to one speech turn.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id of
// the span in ctx, if any.
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
