// Package observe provides observability primitives for clio: OpenTelemetry
// metrics, tracing helpers, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through the Prometheus bridge installed by [InitProvider], so /metrics
// serves them in the usual scrape format. Tests should build their own
// [Metrics] with [NewMetrics] and a private [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all clio metrics.
const meterName = "github.com/cliolabs/clio"

// Metrics holds all OpenTelemetry metric instruments for the pipeline. All
// fields are safe for concurrent use.
type Metrics struct {
	// --- Audio path ---

	// AudioFramesSent counts frames delivered to the transcription service.
	AudioFramesSent metric.Int64Counter

	// AudioFramesDropped counts frames lost to a full audio queue.
	AudioFramesDropped metric.Int64Counter

	// --- Transcript path ---

	// SegmentsReceived counts segment events applied by the aggregator.
	SegmentsReceived metric.Int64Counter

	// SegmentsCommitted counts FINAL-to-COMMITTED transitions.
	SegmentsCommitted metric.Int64Counter

	// SegmentsEvicted counts segments pushed out of the live window.
	SegmentsEvicted metric.Int64Counter

	// EventsDropped counts events lost to a full event queue.
	EventsDropped metric.Int64Counter

	// QuestionsExtracted counts newly created questions.
	QuestionsExtracted metric.Int64Counter

	// --- Upstream session ---

	// Reconnects counts upstream session re-establishments.
	Reconnects metric.Int64Counter

	// ProtocolErrors counts malformed upstream messages.
	ProtocolErrors metric.Int64Counter

	// --- Fan-out ---

	// Subscribers tracks connected stream subscribers. Use with
	// attribute.String("kind", "sse"|"ws").
	Subscribers metric.Int64UpDownCounter

	// --- Latency histograms ---

	// EventProcessingDuration tracks aggregator per-event handling time.
	EventProcessingDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a realtime transcript pipeline.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct on the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.AudioFramesSent, "clio.audio.frames_sent", "Audio frames delivered to the transcription service."},
		{&met.AudioFramesDropped, "clio.audio.frames_dropped", "Audio frames dropped on a full queue."},
		{&met.SegmentsReceived, "clio.segments.received", "Segment events applied by the aggregator."},
		{&met.SegmentsCommitted, "clio.segments.committed", "Segments transitioned to COMMITTED."},
		{&met.SegmentsEvicted, "clio.segments.evicted", "Segments evicted from the live window."},
		{&met.EventsDropped, "clio.events.dropped", "Events dropped on a full queue."},
		{&met.QuestionsExtracted, "clio.questions.extracted", "Questions extracted from committed segments."},
		{&met.Reconnects, "clio.upstream.reconnects", "Upstream session re-establishments."},
		{&met.ProtocolErrors, "clio.upstream.protocol_errors", "Malformed messages received from the service."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.Subscribers, err = m.Int64UpDownCounter("clio.stream.subscribers",
		metric.WithDescription("Connected stream subscribers by kind."),
	); err != nil {
		return nil, err
	}

	if met.EventProcessingDuration, err = m.Float64Histogram("clio.aggregator.event.duration",
		metric.WithDescription("Per-event aggregator processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from the global meter provider. Panics if instrument creation
// fails, which cannot happen with the global provider.
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

// SubscriberConnected records a new stream subscriber of the given kind
// ("sse" or "ws").
func (m *Metrics) SubscriberConnected(ctx context.Context, kind string) {
	m.Subscribers.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SubscriberDisconnected records a departed stream subscriber.
func (m *Metrics) SubscriberDisconnected(ctx context.Context, kind string) {
	m.Subscribers.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}
