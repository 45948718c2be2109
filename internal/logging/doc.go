// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - Dual output (stdout + the OTEL log bridge)
//   - Automatic trace_id/span_id injection from the context
//   - Redacted fields for exporter credentials
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, global.GetLoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info(ctx, "pipeline started", zap.String("traces", url))
//
// Use NewTestLogger in tests to observe emitted entries.
package logging
