// Package telemetry wires the OpenTelemetry SDK for a service.
//
// Start builds a TracerProvider with a batching OTLP span exporter and a
// MeterProvider whose periodic reader pushes to an OTLP metric exporter
// every MetricExportInterval. Both carry a resource with the configured
// service name and version. Probes instrument the Go runtime, the default
// HTTP client transport and exactly one database/sql driver.
//
//	tel, err := telemetry.Start(ctx, cfg, telemetry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	db, err := tel.Database().Open(dsn)
//
// When Config.Enabled is false Start returns a running handle backed by the
// global no-op providers. Shutdown is safe to call from several goroutines;
// only the first call flushes.
//
// Exporter errors are delivered through the global error handler and
// logged at a bounded rate.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory
// without touching the global providers.
package telemetry
