// Package observe provides application-wide observability primitives for
// huddle: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all huddle metrics.
const meterName = "github.com/MrWong99/huddle"

// Turn stages, used as the "stage" attribute of [Metrics.StageDuration].
const (
	StageConvert    = "convert"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageStream     = "stream"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks the latency of one speech-turn stage. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// TurnDuration tracks a whole speech turn from capture to delivery.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Replies counts spoken or written replies. Use with attribute:
	//   attribute.String("delivery", ...)
	Replies metric.Int64Counter

	// CallJoins counts join attempts. Use with attributes:
	//   attribute.String("mode", "manual"|"auto"), attribute.String("status", ...)
	CallJoins metric.Int64Counter

	// CallLeaves counts completed leaves. Use with attribute:
	//   attribute.String("reason", ...)
	CallLeaves metric.Int64Counter

	// DroppedTurns counts utterances discarded because a chat's queue was full
	// or the call ended.
	DroppedTurns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// DegradedNotices counts "service degraded" notices sent to chats.
	DegradedNotices metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of joined calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips and audio conversion.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("huddle.turn.stage.duration",
		metric.WithDescription("Latency of one speech-turn stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("huddle.turn.duration",
		metric.WithDescription("Latency of a whole speech turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("huddle.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("huddle.replies",
		metric.WithDescription("Total replies by delivery channel."),
	); err != nil {
		return nil, err
	}
	if met.CallJoins, err = m.Int64Counter("huddle.call.joins",
		metric.WithDescription("Total call join attempts by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.CallLeaves, err = m.Int64Counter("huddle.call.leaves",
		metric.WithDescription("Total call leaves by reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedTurns, err = m.Int64Counter("huddle.turn.dropped",
		metric.WithDescription("Utterances discarded before processing."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("huddle.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.DegradedNotices, err = m.Int64Counter("huddle.degraded_notices",
		metric.WithDescription("Service-degraded notices sent to chats."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("huddle.active_calls",
		metric.WithDescription("Number of joined calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("huddle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one turn stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReply counts one reply delivered through delivery.
func (m *Metrics) RecordReply(ctx context.Context, delivery string) {
	m.Replies.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery", delivery)))
}

// RecordJoin counts a join attempt.
func (m *Metrics) RecordJoin(ctx context.Context, auto bool, status string) {
	mode := "manual"
	if auto {
		mode = "auto"
	}
	m.CallJoins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordLeave counts a completed leave.
func (m *Metrics) RecordLeave(ctx context.Context, reason string) {
	m.CallLeaves.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
