// Package bootstrap runs a telemetry pipeline for the life of a process.
//
// Run starts the pipeline, waits for SIGTERM (or SIGINT, or ctx), shuts the
// pipeline down once, logs a completion message and exits with status 0.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/fyrsmithlabs/otelboot/internal/telemetry"
	"go.uber.org/zap"
)

// CompletionMessage is logged after the pipeline has been shut down.
const CompletionMessage = "OpenTelemetry shut down"

// Option configures Run.
type Option func(*options)

type options struct {
	exit          func(code int)
	signals       <-chan os.Signal
	telemetryOpts []telemetry.Option
	started       func(*telemetry.Telemetry)
}

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(o *options) {
		if fn != nil {
			o.exit = fn
		}
	}
}

// WithSignals supplies the termination signal channel instead of
// subscribing to SIGTERM and SIGINT.
func WithSignals(ch <-chan os.Signal) Option {
	return func(o *options) {
		o.signals = ch
	}
}

// WithTelemetryOptions passes options through to telemetry.Start.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *options) {
		o.telemetryOpts = append(o.telemetryOpts, opts...)
	}
}

// OnStarted is called with the running pipeline before Run starts waiting.
func OnStarted(fn func(*telemetry.Telemetry)) Option {
	return func(o *options) {
		o.started = fn
	}
}

// Run starts telemetry for cfg and blocks until a termination signal arrives
// or ctx is done.
//
// A start failure is returned without exiting. After a signal the pipeline
// is shut down exactly once; shutdown errors are logged and the exit
// function is still called with 0. Run returns only if the exit function
// returns.
func Run(ctx context.Context, cfg *telemetry.Config, logger *logging.Logger, opts ...Option) error {
	if logger == nil {
		logger = logging.Nop()
	}

	o := &options{exit: os.Exit}
	for _, opt := range opts {
		opt(o)
	}

	signals := o.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(ch)
		signals = ch
	}

	tel, err := telemetry.Start(ctx, cfg,
		append([]telemetry.Option{telemetry.WithLogger(logger)}, o.telemetryOpts...)...)
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}

	if o.started != nil {
		o.started(tel)
	}

	select {
	case sig := <-signals:
		logger.Info(ctx, "received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info(ctx, "context done, shutting down", zap.Error(ctx.Err()))
	}

	// ctx may already be cancelled; the flush still gets the configured timeout.
	shutdownCtx := context.WithoutCancel(ctx)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	logger.Info(shutdownCtx, CompletionMessage, zap.String("state", tel.State().String()))
	_ = logger.Sync()

	o.exit(0)
	return nil
}
