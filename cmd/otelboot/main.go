// Otelboot bootstraps OpenTelemetry for a service and captures CPU profiles.
//
// Usage:
//
//	# Run the telemetry pipeline until SIGTERM
//	MONITORING_ENABLED=true TRACE_EXPORTER_URL=http://collector:4317 otelboot run
//
//	# Capture 10s of CPU samples from this process into ./profile.cpuprofile
//	otelboot profile
//
//	# Capture from a running otelboot admin server
//	otelboot profile --url http://127.0.0.1:6060
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the optional YAML or TOML config file.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "otelboot",
	Short: "OpenTelemetry bootstrap and CPU profile capture",
	Long: `otelboot starts an OpenTelemetry pipeline (OTLP traces, OTLP metrics every 5s,
runtime, HTTP client and database probes) and shuts it down cleanly on SIGTERM.
It can also capture a time-boxed CPU profile to a file DevTools can open.

Configuration comes from an optional YAML or TOML file, OTELBOOT_* variables
and the TRACE_EXPORTER_URL, METRIC_EXPORTER_URL and MONITORING_ENABLED variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .toml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "otelboot by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
