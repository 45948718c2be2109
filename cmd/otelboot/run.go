package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/fyrsmithlabs/otelboot/internal/bootstrap"
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/fyrsmithlabs/otelboot/internal/server"
	"github.com/fyrsmithlabs/otelboot/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the telemetry pipeline and wait for SIGTERM",
	Long: `Start the OpenTelemetry pipeline and block until SIGTERM or SIGINT.

On the signal the pipeline is flushed and shut down once, "OpenTelemetry shut down"
is logged and the process exits with status 0.

Examples:
  # Enable telemetry with the legacy variables
  MONITORING_ENABLED=true \
  TRACE_EXPORTER_URL=http://collector:4317 \
  METRIC_EXPORTER_URL=http://collector:4318/v1/metrics \
  otelboot run

  # Also serve /health, /metrics and /debug/pprof
  OTELBOOT_SERVER__ENABLED=true otelboot run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&settings.Logging, global.GetLoggerProvider())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return serve(ctx, settings, logger, os.Exit)
}

// serve runs the telemetry lifecycle next to the optional admin server.
// exit receives the final status after the admin server has stopped.
func serve(ctx context.Context, settings *Settings, logger *logging.Logger, exit func(int), opts ...bootstrap.Option) error {
	ctx = logging.WithLogger(ctx, logger)
	admin := startAdmin(ctx, settings)

	var telOpts []telemetry.Option
	if settings.Server.Enabled {
		telOpts = append(telOpts, telemetry.WithPrometheus(prometheus.DefaultRegisterer))
	}

	base := []bootstrap.Option{
		bootstrap.WithTelemetryOptions(telOpts...),
		bootstrap.OnStarted(func(tel *telemetry.Telemetry) {
			pingDatabase(ctx, tel, settings.Database)
		}),
		bootstrap.WithExit(func(code int) {
			admin.stop()
			exit(code)
		}),
	}
	if err := bootstrap.Run(ctx, &settings.Telemetry, logger, append(base, opts...)...); err != nil {
		admin.stop()
		return err
	}
	return nil
}

type adminHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *adminHandle) stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

func startAdmin(ctx context.Context, settings *Settings) *adminHandle {
	if !settings.Server.Enabled {
		return nil
	}
	logger := logging.FromContext(ctx)

	srv := server.NewServer(&settings.Server, settings.Telemetry.ServiceName, logger)
	srvCtx, cancel := context.WithCancel(ctx)
	h := &adminHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		if err := srv.Start(srvCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "admin server failed", zap.Error(err))
		}
	}()
	return h
}

// pingDatabase checks the configured database through the instrumented
// driver, so the first query span shows up as soon as the pipeline starts.
func pingDatabase(ctx context.Context, tel *telemetry.Telemetry, cfg DatabaseConfig) {
	probe := tel.Database()
	if probe == nil || !cfg.DSN.IsSet() {
		return
	}
	logger := logging.FromContext(ctx).With(
		zap.String("driver", probe.DriverName()),
		logging.Secret("database.dsn", cfg.DSN),
	)

	db, err := probe.Open(cfg.DSN.Value())
	if err != nil {
		logger.Warn(ctx, "database open failed", zap.Error(err))
		return
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout.Duration())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Warn(ctx, "database ping failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "database reachable")
}
