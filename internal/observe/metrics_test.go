package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.AudioFramesSent == nil || m.SegmentsCommitted == nil || m.Subscribers == nil {
		t.Fatal("instrument fields should be populated")
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SegmentsReceived.Add(ctx, 3)
	m.Reconnects.Add(ctx, 1)

	rm := collect(t, reader)

	got := findMetric(rm, "clio.segments.received")
	if got == nil {
		t.Fatal("clio.segments.received not found")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", got.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("data points = %+v, want one point of 3", sum.DataPoints)
	}

	if findMetric(rm, "clio.upstream.reconnects") == nil {
		t.Error("clio.upstream.reconnects not found")
	}
}

func TestSubscriberGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SubscriberConnected(ctx, "sse")
	m.SubscriberConnected(ctx, "sse")
	m.SubscriberConnected(ctx, "ws")
	m.SubscriberDisconnected(ctx, "sse")

	rm := collect(t, reader)
	got := findMetric(rm, "clio.stream.subscribers")
	if got == nil {
		t.Fatal("clio.stream.subscribers not found")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", got.Data)
	}

	byKind := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if kind, ok := dp.Attributes.Value(attribute.Key("kind")); ok {
			byKind[kind.AsString()] = dp.Value
		}
	}
	if byKind["sse"] != 1 {
		t.Errorf("sse subscribers = %d, want 1", byKind["sse"])
	}
	if byKind["ws"] != 1 {
		t.Errorf("ws subscribers = %d, want 1", byKind["ws"])
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EventProcessingDuration.Record(ctx, 0.002)
	m.EventProcessingDuration.Record(ctx, 0.004)

	rm := collect(t, reader)
	got := findMetric(rm, "clio.aggregator.event.duration")
	if got == nil {
		t.Fatal("clio.aggregator.event.duration not found")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", got.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("data points = %+v, want one point with count 2", hist.DataPoints)
	}
}
