package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a started pipeline with in-memory span and metric capture.
// It does not touch the global providers and starts no probes.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *TestMetricReader
	LogRecorder  *TestLogRecorder
}

// NewTestTelemetry starts telemetry with in-memory exporters for testing.
func NewTestTelemetry(tb testing.TB) *TestTelemetry {
	tb.Helper()

	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := &TestMetricReader{reader: sdkmetric.NewManualReader()}
	logs := &TestLogRecorder{}

	tel, err := Start(context.Background(), cfg,
		WithSpanProcessor(recorder),
		WithMetricReader(reader.reader),
		WithLogProcessor(sdklog.NewSimpleProcessor(logs)),
		WithProbes(),
		WithGlobals(false),
	)
	if err != nil {
		tb.Fatalf("starting test telemetry: %v", err)
	}
	tb.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return &TestTelemetry{
		Telemetry:    tel,
		SpanRecorder: recorder,
		MetricReader: reader,
		LogRecorder:  logs,
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			if got := attr.Value.AsInterface(); got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// TestMetricReader wraps the SDK's ManualReader for testing.
type TestMetricReader struct {
	reader *sdkmetric.ManualReader

	mu      sync.Mutex
	metrics []metricdata.ResourceMetrics
}

// Collect gathers current metrics and keeps them.
func (r *TestMetricReader) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return rm, err
	}
	r.mu.Lock()
	r.metrics = append(r.metrics, rm)
	r.mu.Unlock()
	return rm, nil
}

// Metrics returns everything collected so far.
func (r *TestMetricReader) Metrics() []metricdata.ResourceMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// FindMetric returns the named metric from a collection, if present.
func FindMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// ResourceValue returns a resource attribute value as a string.
func ResourceValue(t *Telemetry, key string) (string, bool) {
	res := t.Resource()
	if res == nil {
		return "", false
	}
	v, ok := res.Set().Value(attribute.Key(key))
	if !ok {
		return "", false
	}
	return v.Emit(), true
}

// TestLogRecorder is an in-memory log exporter.
type TestLogRecorder struct {
	mu      sync.Mutex
	records []sdklog.Record
}

// Export implements sdklog.Exporter.
func (r *TestLogRecorder) Export(_ context.Context, records []sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		r.records = append(r.records, records[i].Clone())
	}
	return nil
}

// Shutdown implements sdklog.Exporter.
func (r *TestLogRecorder) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdklog.Exporter.
func (r *TestLogRecorder) ForceFlush(context.Context) error { return nil }

// Bodies returns the string body of every exported record.
func (r *TestLogRecorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i := range r.records {
		out[i] = r.records[i].Body().AsString()
	}
	return out
}
