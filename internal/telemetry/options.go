package telemetry

import (
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Option configures Start.
type Option func(*options)

type options struct {
	logger         *logging.Logger
	traceExporter  trace.SpanExporter
	metricExporter sdkmetric.Exporter
	spanProcessors []trace.SpanProcessor
	metricReaders  []sdkmetric.Reader
	logExporter    sdklog.Exporter
	logProcessors  []sdklog.Processor
	prometheus     prometheus.Registerer
	probes         []Probe
	probesSet      bool
	globals        bool
}

func defaultOptions() *options {
	return &options{
		logger:  logging.Nop(),
		globals: true,
	}
}

// WithLogger routes lifecycle and exporter error logs to logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTraceExporter overrides the OTLP span exporter.
func WithTraceExporter(exp trace.SpanExporter) Option {
	return func(o *options) {
		o.traceExporter = exp
	}
}

// WithMetricExporter overrides the OTLP metric exporter. It is still driven
// by the periodic reader.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *options) {
		o.metricExporter = exp
	}
}

// WithSpanProcessor registers a span processor. Once any processor is
// registered the OTLP exporter is only built if WithTraceExporter also set one.
func WithSpanProcessor(sp trace.SpanProcessor) Option {
	return func(o *options) {
		o.spanProcessors = append(o.spanProcessors, sp)
	}
}

// WithMetricReader registers a metric reader. Once any reader is registered
// the OTLP periodic reader is only built if WithMetricExporter also set one.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.metricReaders = append(o.metricReaders, r)
	}
}

// WithLogExporter overrides the OTLP log exporter.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) {
		o.logExporter = exp
	}
}

// WithLogProcessor registers a log record processor. Once any processor is
// registered the OTLP exporter is only built if WithLogExporter also set one.
func WithLogProcessor(p sdklog.Processor) Option {
	return func(o *options) {
		o.logProcessors = append(o.logProcessors, p)
	}
}

// WithPrometheus also exposes every meter through reg, next to the OTLP
// export. Pass prometheus.DefaultRegisterer to surface them on promhttp.Handler.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.prometheus = reg
	}
}

// WithProbes replaces the probes derived from Config.Instrumentation.
func WithProbes(probes ...Probe) Option {
	return func(o *options) {
		o.probes = probes
		o.probesSet = true
	}
}

// WithGlobals controls whether Start installs the process-wide providers,
// propagators and error handler. They are installed only after every probe
// started. Defaults to true.
func WithGlobals(enabled bool) Option {
	return func(o *options) {
		o.globals = enabled
	}
}
