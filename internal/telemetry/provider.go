package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

// newResource creates a resource describing the service.
//
// service.name and service.version are appended last so resource_attributes
// cannot override them.
func newResource(cfg *Config) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+3)
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	attrs = append(attrs,
		semconv.ServiceInstanceID(uuid.NewString()),
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
	// Standalone resource to avoid schema URL conflicts with resource.Default().
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// newTraceExporter creates the OTLP span exporter. Neither transport dials
// at construction; connection errors surface on the first export.
func newTraceExporter(ctx context.Context, cfg ExporterConfig) (trace.SpanExporter, error) {
	var (
		exporter trace.SpanExporter
		err      error
	)

	switch cfg.protocol() {
	case ProtocolHTTPProtobuf:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.URL)}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlptracehttp.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			}))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(cfg.URL)}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlptracegrpc.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			})))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}

	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return exporter, nil
}

// cumulativeSelector pins cumulative temporality regardless of
// OTEL_EXPORTER_OTLP_METRICS_TEMPORALITY_PREFERENCE inherited from a parent process.
func cumulativeSelector(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// newMetricExporter creates the OTLP metric exporter.
func newMetricExporter(ctx context.Context, cfg ExporterConfig) (metric.Exporter, error) {
	var (
		exporter metric.Exporter
		err      error
	)

	switch cfg.protocol() {
	case ProtocolHTTPProtobuf:
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpointURL(cfg.URL),
			otlpmetrichttp.WithTemporalitySelector(cumulativeSelector),
		}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlpmetrichttp.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlpmetrichttp.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			}))
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpointURL(cfg.URL),
			otlpmetricgrpc.WithTemporalitySelector(cumulativeSelector),
		}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlpmetricgrpc.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlpmetricgrpc.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			})))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	}

	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	return exporter, nil
}

// newLogExporter creates the OTLP log exporter fed by the zap bridge.
func newLogExporter(ctx context.Context, cfg ExporterConfig) (sdklog.Exporter, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)

	switch cfg.protocol() {
	case ProtocolHTTPProtobuf:
		opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(cfg.URL)}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlploghttp.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlploghttp.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlploghttp.WithTLSClientConfig(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			}))
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	default:
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpointURL(cfg.URL)}
		if h := cfg.headers(); h != nil {
			opts = append(opts, otlploggrpc.WithHeaders(h))
		}
		if d := cfg.Timeout.Duration(); d > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(d))
		}
		if cfg.TLSSkipVerify {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // User explicitly requested
			})))
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	}

	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}
	return exporter, nil
}

// newLoggerProvider wires a batching LoggerProvider, or returns nil when
// there is nothing to send records to.
func newLoggerProvider(res *resource.Resource, exporter sdklog.Exporter, processors []sdklog.Processor) *sdklog.LoggerProvider {
	if exporter == nil && len(processors) == 0 {
		return nil
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	}
	for _, p := range processors {
		opts = append(opts, sdklog.WithProcessor(p))
	}
	return sdklog.NewLoggerProvider(opts...)
}

// newTracerProvider wires a batching TracerProvider around exporter.
func newTracerProvider(res *resource.Resource, exporter trace.SpanExporter, processors []trace.SpanProcessor) *trace.TracerProvider {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}
	for _, sp := range processors {
		opts = append(opts, trace.WithSpanProcessor(sp))
	}
	return trace.NewTracerProvider(opts...)
}

// newMeterProvider wires a MeterProvider. The exporter, when set, is wrapped
// in a periodic reader firing every MetricExportInterval.
func newMeterProvider(res *resource.Resource, exporter metric.Exporter, readers []metric.Reader) *metric.MeterProvider {
	opts := []metric.Option{metric.WithResource(res)}
	if exporter != nil {
		opts = append(opts, metric.WithReader(
			metric.NewPeriodicReader(exporter, metric.WithInterval(MetricExportInterval)),
		))
	}
	for _, r := range readers {
		opts = append(opts, metric.WithReader(r))
	}
	return metric.NewMeterProvider(opts...)
}
