package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zapcore"
)

// fakeProbe records lifecycle calls.
type fakeProbe struct {
	name     string
	startErr error
	stopErr  error

	started atomic.Int32
	stopped atomic.Int32
	order   *[]string
	mu      *sync.Mutex
}

func (p *fakeProbe) Name() string { return p.name }

func (p *fakeProbe) Start(context.Context, Providers) error {
	p.started.Add(1)
	return p.startErr
}

func (p *fakeProbe) Stop(context.Context) error {
	p.stopped.Add(1)
	if p.order != nil {
		p.mu.Lock()
		*p.order = append(*p.order, p.name)
		p.mu.Unlock()
	}
	return p.stopErr
}

func TestStart_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	tl := logging.NewTestLogger()

	tel, err := Start(context.Background(), cfg, WithLogger(tl.Logger))
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.Equal(t, StateRunning, tel.State())
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.Resource())
	assert.Nil(t, tel.LoggerProvider())
	assert.Empty(t, tel.ProbeNames())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	tl.AssertLogged(t, zapcore.InfoLevel, "telemetry disabled")

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, tel.State())
}

func TestStart_InvalidConfig(t *testing.T) {
	cfg := enabledConfig()
	cfg.Traces.URL = ""

	tel, err := Start(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")

	_, err = Start(context.Background(), nil)
	require.Error(t, err)
}

func TestStart_UnreachableCollectorDoesNotBlock(t *testing.T) {
	cfg := enabledConfig()
	cfg.Traces.URL = "http://127.0.0.1:1"
	cfg.Metrics.URL = "http://127.0.0.1:1/v1/metrics"
	cfg.Shutdown.Timeout = config.Duration(500 * time.Millisecond)

	begin := time.Now()
	tel, err := Start(context.Background(), cfg, WithProbes(), WithGlobals(false))
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Equal(t, StateRunning, tel.State())
	assert.True(t, tel.IsEnabled())

	// Flushing to a dead collector may fail; the lifecycle still completes.
	_ = tel.Shutdown(context.Background())
	assert.Equal(t, StateTerminated, tel.State())
}

func TestStart_ResourceCarriesServiceIdentity(t *testing.T) {
	tt := NewTestTelemetry(t)

	assert.Equal(t, "api", resourceAttr(t, tt.Telemetry, "service.name"))
	assert.Equal(t, "1.0", resourceAttr(t, tt.Telemetry, "service.version"))
	assert.Equal(t, MetricExportInterval, tt.ExportInterval())
}

func TestStart_SpansCarryResource(t *testing.T) {
	tt := NewTestTelemetry(t)

	_, span := tt.Tracer("test").Start(context.Background(), "request")
	span.SetAttributes(attribute.String("key", "value"))
	span.End()

	tt.AssertSpanExists(t, "request")
	tt.AssertSpanAttribute(t, "request", "key", "value")

	got := tt.SpanByName("request")
	v, ok := got.Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "api", v.AsString())
}

func TestStart_MetersRecord(t *testing.T) {
	tt := NewTestTelemetry(t)

	counter, err := tt.Meter("test").Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	counter.Add(context.Background(), 2)

	rm, err := tt.MetricReader.Collect(context.Background())
	require.NoError(t, err)

	_, ok := FindMetric(rm, "test.counter")
	assert.True(t, ok)
	assert.Len(t, tt.MetricReader.Metrics(), 1)
}

func TestStart_InjectedTraceExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := enabledConfig()

	tel, err := Start(context.Background(), cfg,
		WithTraceExporter(exp),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithProbes(),
		WithGlobals(false),
	)
	require.NoError(t, err)

	_, span := tel.Tracer("test").Start(context.Background(), "batched")
	span.End()

	// Batched spans reach the exporter on flush.
	require.NoError(t, tel.ForceFlush(context.Background()))
	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "batched", exp.GetSpans()[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdown_ExactlyOnce(t *testing.T) {
	probe := &fakeProbe{name: "fake", stopErr: errors.New("boom")}
	cfg := enabledConfig()

	tel, err := Start(context.Background(), cfg,
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithProbes(probe),
		WithGlobals(false),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"fake"}, tel.ProbeNames())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tel.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), probe.stopped.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probe fake stop: boom")
	}
	assert.Equal(t, StateTerminated, tel.State())
}

func TestShutdown_StopsProbesInReverseOrder(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	a := &fakeProbe{name: "a", order: &order, mu: &mu}
	b := &fakeProbe{name: "b", order: &order, mu: &mu}
	c := &fakeProbe{name: "c", order: &order, mu: &mu}

	tel, err := Start(context.Background(), enabledConfig(),
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithProbes(a, b, c),
		WithGlobals(false),
	)
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Equal(t, []string{"c", "b", "a"}, order)
}

// resetGlobals puts no-op providers back once a test installed SDK ones.
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		global.SetLoggerProvider(lognoop.NewLoggerProvider())
	})
}

func TestStart_ProbeFailureUnwinds(t *testing.T) {
	resetGlobals(t)

	good := &fakeProbe{name: "good"}
	bad := &fakeProbe{name: "bad", startErr: errors.New("no driver")}
	never := &fakeProbe{name: "never"}

	tel, err := Start(context.Background(), enabledConfig(),
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithLogProcessor(sdklog.NewSimpleProcessor(&TestLogRecorder{})),
		WithProbes(good, bad, never),
	)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "starting probe bad: no driver")

	assert.Equal(t, int32(1), good.stopped.Load())
	assert.Equal(t, int32(0), bad.stopped.Load())
	assert.Equal(t, int32(0), never.started.Load())

	// The shut-down SDK providers never become the process-wide ones.
	_, isSDKTracer := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, isSDKMeter := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	_, isSDKLogger := global.GetLoggerProvider().(*sdklog.LoggerProvider)
	assert.False(t, isSDKTracer)
	assert.False(t, isSDKMeter)
	assert.False(t, isSDKLogger)
}

func TestStart_InstallsGlobals(t *testing.T) {
	resetGlobals(t)

	tel, err := Start(context.Background(), enabledConfig(),
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithLogProcessor(sdklog.NewSimpleProcessor(&TestLogRecorder{})),
		WithProbes(&fakeProbe{name: "ok"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	assert.Same(t, tel.tracerProvider, otel.GetTracerProvider())
	assert.Same(t, tel.meterProvider, otel.GetMeterProvider())
	assert.Same(t, tel.loggerProvider, global.GetLoggerProvider())
}

func TestTelemetry_LogsReachLoggerProvider(t *testing.T) {
	tt := NewTestTelemetry(t)
	require.NotNil(t, tt.LoggerProvider())

	cfg := logging.NewDefaultConfig()
	cfg.Output.OTEL = true
	logger, err := logging.NewLogger(cfg, tt.LoggerProvider())
	require.NoError(t, err)

	logger.Info(context.Background(), "bridged record")

	assert.Contains(t, tt.LogRecorder.Bodies(), "bridged record")
}

func TestStart_PrometheusBridge(t *testing.T) {
	reg := prometheus.NewRegistry()

	tel, err := Start(context.Background(), enabledConfig(),
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithPrometheus(reg),
		WithProbes(),
		WithGlobals(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	counter, err := tel.Meter("test").Int64Counter("bridge.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "bridge_counter") {
			found = true
		}
	}
	assert.True(t, found, "bridged counter missing from registry")
}

func TestStart_LogExportOff(t *testing.T) {
	cfg := enabledConfig()
	cfg.Logs.URL = ""

	tel, err := Start(context.Background(), cfg,
		WithSpanProcessor(tracetest.NewSpanRecorder()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithProbes(),
		WithGlobals(false),
	)
	require.NoError(t, err)
	assert.Nil(t, tel.LoggerProvider())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetry_ShutdownHonoursCallerDeadline(t *testing.T) {
	tt := NewTestTelemetry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, tt.Shutdown(ctx))
	assert.Equal(t, StateTerminated, tt.State())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.IsEnabled()
		_ = tel.ProbeNames()
		_ = tel.Database()
		_ = tel.Resource()
		_ = tel.LoggerProvider()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, StateUninitialized, tel.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
