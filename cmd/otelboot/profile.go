package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/fyrsmithlabs/otelboot/internal/profiler"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
)

var (
	profileURL      string
	profileDuration time.Duration
	profileOutput   string
	profileFormat   string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Capture a CPU profile",
	Long: `Capture CPU samples for a fixed window and write them to a file.

Without --url the otelboot process profiles itself. With --url it profiles a
process that serves net/http/pprof, such as "otelboot run" with the admin
server enabled. The output file is replaced on every run.

Examples:
  # 10s profile of this process into ./profile.cpuprofile
  otelboot profile

  # 30s profile of a running service as raw pprof
  otelboot profile --url http://127.0.0.1:6060 --duration 30s --format pprof --output cpu.pb.gz`,
	Args: cobra.NoArgs,
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().StringVar(&profileURL, "url", "", "base URL of a remote net/http/pprof server")
	profileCmd.Flags().DurationVar(&profileDuration, "duration", 0, "sampling window (default from config, 10s)")
	profileCmd.Flags().StringVarP(&profileOutput, "output", "o", "", "output file (default from config, ./profile.cpuprofile)")
	profileCmd.Flags().StringVar(&profileFormat, "format", "", "output format: json or pprof (default from config, json)")
}

func runProfile(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(configPath)
	if err != nil {
		return err
	}

	opts := settings.Profile
	if cmd.Flags().Changed("duration") {
		opts.Duration = config.Duration(profileDuration)
	}
	if profileOutput != "" {
		opts.Output = profileOutput
	}
	if profileFormat != "" {
		opts.Format = profileFormat
	}

	logger, err := logging.NewLogger(&settings.Logging, global.GetLoggerProvider())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var sess profiler.Session = profiler.NewLocalSession()
	if profileURL != "" {
		remote, err := profiler.NewRemoteSession(profileURL, opts.Duration.Duration(), nil)
		if err != nil {
			return err
		}
		sess = remote
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := profiler.Capture(ctx, sess, opts, profiler.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
