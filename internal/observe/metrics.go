// Package observe provides application-wide observability primitives for
// Aegis: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Aegis metrics.
const meterName = "github.com/quietharbor/aegis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DetectDuration tracks per-frame acoustic classification latency.
	DetectDuration metric.Float64Histogram

	// AssemblyDuration tracks evidence package assembly latency.
	AssemblyDuration metric.Float64Histogram

	// AnchorDuration tracks ledger anchoring round-trip latency.
	AnchorDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFrames counts classified audio frames.
	AudioFrames metric.Int64Counter

	// Escalations counts emergency escalations. Use with attribute:
	//   attribute.String("threat", ...)
	Escalations metric.Int64Counter

	// Broadcasts counts SOS mesh broadcasts. Use with attribute:
	//   attribute.String("urgency", ...)
	Broadcasts metric.Int64Counter

	// AnchorOutcomes counts ledger anchor attempts by outcome. Use with
	// attribute: attribute.String("status", ...) — one of "confirmed",
	// "queued", "abandoned".
	AnchorOutcomes metric.Int64Counter

	// --- Error counters ---

	// PipelineErrors counts pipeline errors. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// NearbyHelpers tracks the number of helpers currently in the roster.
	NearbyHelpers metric.Int64UpDownCounter

	// AnchorQueueDepth tracks the number of anchor jobs awaiting retry.
	AnchorQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for detection-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectDuration, err = m.Float64Histogram("aegis.detect.duration",
		metric.WithDescription("Latency of per-frame acoustic classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = m.Float64Histogram("aegis.assembly.duration",
		metric.WithDescription("Latency of evidence package assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnchorDuration, err = m.Float64Histogram("aegis.anchor.duration",
		metric.WithDescription("Round-trip latency of ledger anchoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFrames, err = m.Int64Counter("aegis.audio.frames",
		metric.WithDescription("Total audio frames run through the classifier."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("aegis.escalations",
		metric.WithDescription("Total emergency escalations by threat type."),
	); err != nil {
		return nil, err
	}
	if met.Broadcasts, err = m.Int64Counter("aegis.broadcasts",
		metric.WithDescription("Total SOS mesh broadcasts by urgency."),
	); err != nil {
		return nil, err
	}
	if met.AnchorOutcomes, err = m.Int64Counter("aegis.anchor.outcomes",
		metric.WithDescription("Total ledger anchor attempts by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PipelineErrors, err = m.Int64Counter("aegis.pipeline.errors",
		metric.WithDescription("Total pipeline errors by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.NearbyHelpers, err = m.Int64UpDownCounter("aegis.nearby_helpers",
		metric.WithDescription("Number of helpers currently in the roster."),
	); err != nil {
		return nil, err
	}
	if met.AnchorQueueDepth, err = m.Int64UpDownCounter("aegis.anchor_queue_depth",
		metric.WithDescription("Number of anchor jobs awaiting retry."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aegis.http.request.duration",
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

// RecordEscalation is a convenience method that records an escalation counter
// increment with the threat attribute.
func (m *Metrics) RecordEscalation(ctx context.Context, threat string) {
	m.Escalations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("threat", threat)),
	)
}

// RecordBroadcast is a convenience method that records an SOS broadcast
// counter increment with the urgency attribute.
func (m *Metrics) RecordBroadcast(ctx context.Context, urgency string) {
	m.Broadcasts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("urgency", urgency)),
	)
}

// RecordAnchorOutcome is a convenience method that records an anchor outcome
// counter increment with the status attribute.
func (m *Metrics) RecordAnchorOutcome(ctx context.Context, status string) {
	m.AnchorOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordPipelineError is a convenience method that records a pipeline error
// counter increment with the stage attribute.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
