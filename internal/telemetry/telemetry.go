package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the pipeline lifecycle position. It only moves forward.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Telemetry is the handle for a started pipeline.
//
// It owns the tracer, meter and logger providers and the started probes.
// Shutdown runs once; later calls return the first result.
type Telemetry struct {
	config *Config
	logger *logging.Logger

	resource       *resource.Resource
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider // nil when log export is off
	propagator     propagation.TextMapPropagator
	probes         []Probe // started, in start order

	state       atomic.Int32
	once        sync.Once
	shutdownErr error
}

// Start builds the pipeline described by cfg and starts it.
//
// When cfg.Enabled is false nothing is constructed: the returned handle is
// Running with no-op providers so callers keep a single code path.
// Exporters never dial here, so an unreachable collector does not block Start.
func Start(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("invalid telemetry config: nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	t := &Telemetry{
		config: cfg,
		logger: o.logger.Named("telemetry"),
	}

	if !cfg.Enabled {
		t.state.Store(int32(StateRunning))
		t.logger.Info(ctx, "telemetry disabled")
		return t, nil
	}

	t.resource = newResource(cfg)

	// Exporters built so far; shut down if a later step fails.
	var built []func(context.Context) error
	abort := func(err error) (*Telemetry, error) {
		for _, stop := range built {
			_ = stop(ctx)
		}
		return nil, err
	}

	traceExporter := o.traceExporter
	if traceExporter == nil && len(o.spanProcessors) == 0 {
		exp, err := newTraceExporter(ctx, cfg.Traces)
		if err != nil {
			return nil, err
		}
		traceExporter = exp
		built = append(built, exp.Shutdown)
	}

	metricExporter := o.metricExporter
	if metricExporter == nil && len(o.metricReaders) == 0 {
		exp, err := newMetricExporter(ctx, cfg.Metrics)
		if err != nil {
			return abort(err)
		}
		metricExporter = exp
		built = append(built, exp.Shutdown)
	}

	logExporter := o.logExporter
	if logExporter == nil && len(o.logProcessors) == 0 && cfg.Logs.URL != "" {
		exp, err := newLogExporter(ctx, cfg.Logs)
		if err != nil {
			return abort(err)
		}
		logExporter = exp
		built = append(built, exp.Shutdown)
	}

	readers := o.metricReaders
	if o.prometheus != nil {
		promReader, err := otelprom.New(otelprom.WithRegisterer(o.prometheus))
		if err != nil {
			return abort(fmt.Errorf("creating prometheus reader: %w", err))
		}
		readers = append(readers[:len(readers):len(readers)], promReader)
	}

	t.tracerProvider = newTracerProvider(t.resource, traceExporter, o.spanProcessors)
	t.meterProvider = newMeterProvider(t.resource, metricExporter, readers)
	t.loggerProvider = newLoggerProvider(t.resource, logExporter, o.logProcessors)
	t.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	probes := o.probes
	if !o.probesSet {
		probes = DefaultProbes(cfg.Instrumentation)
	}
	providers := Providers{
		TracerProvider: t.tracerProvider,
		MeterProvider:  t.meterProvider,
		Propagator:     t.propagator,
	}
	for _, p := range probes {
		if err := p.Start(ctx, providers); err != nil {
			startErr := fmt.Errorf("starting probe %s: %w", p.Name(), err)
			t.state.Store(int32(StateRunning))
			if shutdownErr := t.Shutdown(ctx); shutdownErr != nil {
				startErr = errors.Join(startErr, shutdownErr)
			}
			return nil, startErr
		}
		t.probes = append(t.probes, p)
	}

	// Globals go in last so a failed Start leaves the previous providers in place.
	if o.globals {
		otel.SetTracerProvider(t.tracerProvider)
		otel.SetMeterProvider(t.meterProvider)
		otel.SetTextMapPropagator(t.propagator)
		otel.SetErrorHandler(newErrorHandler(t.logger))
		if t.loggerProvider != nil {
			global.SetLoggerProvider(t.loggerProvider)
		}
	}

	t.state.Store(int32(StateRunning))
	t.logger.Info(ctx, "telemetry started",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
		zap.String("traces.url", cfg.Traces.URL),
		zap.String("traces.protocol", cfg.Traces.protocol()),
		logging.Headers("traces.headers", cfg.Traces.Headers),
		zap.String("metrics.url", cfg.Metrics.URL),
		zap.String("metrics.protocol", cfg.Metrics.protocol()),
		logging.Headers("metrics.headers", cfg.Metrics.Headers),
		zap.Duration("metrics.interval", MetricExportInterval),
		zap.String("logs.url", cfg.Logs.URL),
		zap.Strings("probes", t.ProbeNames()))

	return t, nil
}

// State returns the current lifecycle state.
func (t *Telemetry) State() State {
	if t == nil {
		return StateUninitialized
	}
	return State(t.state.Load())
}

// IsEnabled reports whether a real pipeline was constructed.
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.config != nil && t.config.Enabled && t.tracerProvider != nil
}

// Resource returns the resource attached to every signal, or nil when disabled.
func (t *Telemetry) Resource() *resource.Resource {
	if t == nil {
		return nil
	}
	return t.resource
}

// ExportInterval returns the periodic metric export interval.
func (t *Telemetry) ExportInterval() time.Duration {
	return MetricExportInterval
}

// ProbeNames lists started probes in start order.
func (t *Telemetry) ProbeNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.probes))
	for i, p := range t.probes {
		names[i] = p.Name()
	}
	return names
}

// Database returns the started database probe, or nil when none is running.
func (t *Telemetry) Database() *SQLProbe {
	if t == nil {
		return nil
	}
	for _, p := range t.probes {
		if sp, ok := p.(*SQLProbe); ok {
			return sp
		}
	}
	return nil
}

// LoggerProvider returns the OTEL log provider for the zap bridge.
//
// Returns nil when telemetry or log export is disabled.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// Tracer returns a tracer for the given instrumentation scope.
//
// Returns the global tracer if telemetry is disabled.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
//
// Returns the global meter if telemetry is disabled.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Shutdown flushes and closes the pipeline.
//
// Probes stop in reverse start order, then the tracer, meter and logger
// providers shut down. The configured timeout applies when ctx has no deadline.
// Only the first call does any work.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		t.shutdownErr = t.shutdown(ctx)
	})
	return t.shutdownErr
}

func (t *Telemetry) shutdown(ctx context.Context) error {
	t.state.Store(int32(StateShuttingDown))
	defer t.state.Store(int32(StateTerminated))

	if _, ok := ctx.Deadline(); !ok && t.config != nil && t.config.Shutdown.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error

	for i := len(t.probes) - 1; i >= 0; i-- {
		if err := t.probes[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe %s stop: %w", t.probes[i].Name(), err))
		}
	}

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ForceFlush immediately exports all pending telemetry data.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger flush: %w", err))
		}
	}

	return errors.Join(errs...)
}
