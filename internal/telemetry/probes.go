package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Providers is what a probe instruments against.
type Providers struct {
	TracerProvider oteltrace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator
}

// Probe is an instrumentation plugin started with the pipeline.
type Probe interface {
	Name() string
	Start(ctx context.Context, p Providers) error
	Stop(ctx context.Context) error
}

// DefaultProbes returns the generic probes plus at most one database probe.
func DefaultProbes(cfg InstrumentationConfig) []Probe {
	var probes []Probe
	if cfg.Runtime {
		probes = append(probes, &RuntimeProbe{})
	}
	if cfg.HTTPClient {
		probes = append(probes, &HTTPClientProbe{})
	}
	if cfg.Database.Enabled {
		probes = append(probes, NewSQLProbe(cfg.Database.Driver, cfg.Database.System))
	}
	return probes
}

// RuntimeProbe reports Go runtime metrics (GC, heap, goroutines).
type RuntimeProbe struct{}

func (p *RuntimeProbe) Name() string { return "runtime" }

func (p *RuntimeProbe) Start(_ context.Context, pr Providers) error {
	return otelruntime.Start(otelruntime.WithMeterProvider(pr.MeterProvider))
}

// Stop is a no-op; runtime callbacks end with the MeterProvider.
func (p *RuntimeProbe) Stop(context.Context) error { return nil }

// HTTPClientProbe swaps http.DefaultTransport for an otelhttp transport so
// every client built on the default transport emits spans and metrics.
type HTTPClientProbe struct {
	mu       sync.Mutex
	previous http.RoundTripper
	active   bool
}

func (p *HTTPClientProbe) Name() string { return "http_client" }

func (p *HTTPClientProbe) Start(_ context.Context, pr Providers) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return fmt.Errorf("already started")
	}
	p.previous = http.DefaultTransport
	http.DefaultTransport = otelhttp.NewTransport(p.previous,
		otelhttp.WithTracerProvider(pr.TracerProvider),
		otelhttp.WithMeterProvider(pr.MeterProvider),
		otelhttp.WithPropagators(pr.Propagator),
	)
	p.active = true
	return nil
}

// Stop restores the transport that was installed before Start.
func (p *HTTPClientProbe) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil
	}
	http.DefaultTransport = p.previous
	p.previous = nil
	p.active = false
	return nil
}

// SQLProbe registers an otelsql-wrapped copy of a database/sql driver.
// Applications open connections through DriverName or Open to get spans for
// every query plus connection metrics.
type SQLProbe struct {
	driver string
	system string

	mu         sync.RWMutex
	driverName string
}

// NewSQLProbe wraps the named driver, tagging spans with db.system.
func NewSQLProbe(driver, system string) *SQLProbe {
	return &SQLProbe{driver: driver, system: system}
}

func (p *SQLProbe) Name() string { return "database/" + p.driver }

func (p *SQLProbe) Start(_ context.Context, pr Providers) error {
	opts := []otelsql.Option{
		otelsql.WithTracerProvider(pr.TracerProvider),
		otelsql.WithMeterProvider(pr.MeterProvider),
	}
	if p.system != "" {
		opts = append(opts, otelsql.WithAttributes(attribute.String("db.system", p.system)))
	}
	name, err := otelsql.Register(p.driver, opts...)
	if err != nil {
		return fmt.Errorf("registering instrumented %s driver: %w", p.driver, err)
	}
	p.mu.Lock()
	p.driverName = name
	p.mu.Unlock()
	return nil
}

// Stop is a no-op; database/sql drivers cannot be unregistered.
func (p *SQLProbe) Stop(context.Context) error { return nil }

// DriverName returns the registered instrumented driver, or "" before Start.
func (p *SQLProbe) DriverName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.driverName
}

// Open opens a database through the instrumented driver.
func (p *SQLProbe) Open(dsn string) (*sql.DB, error) {
	name := p.DriverName()
	if name == "" {
		return nil, fmt.Errorf("probe %s not started", p.Name())
	}
	return sql.Open(name, dsn)
}

// HTTPHandler wraps h so inbound requests produce server spans and metrics
// through the global providers.
func HTTPHandler(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}
