package profiler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/otelboot/internal/profiler"

// CaptureOption configures Capture.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	logger        *logging.Logger
	meterProvider metric.MeterProvider
}

// WithLogger logs capture progress to l.
func WithLogger(l *logging.Logger) CaptureOption {
	return func(o *captureOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeterProvider records capture metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) CaptureOption {
	return func(o *captureOptions) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

type captureMetrics struct {
	captures metric.Int64Counter
	duration metric.Float64Histogram
	written  metric.Int64Counter
}

func newCaptureMetrics(mp metric.MeterProvider) (*captureMetrics, error) {
	meter := mp.Meter(instrumentationName)

	captures, err := meter.Int64Counter("profiler.captures",
		metric.WithDescription("Completed profile captures by result"),
		metric.WithUnit("{capture}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("profiler.capture.duration",
		metric.WithDescription("Wall time of a profile capture"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	written, err := meter.Int64Counter("profiler.output.size",
		metric.WithDescription("Bytes of profile data written"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &captureMetrics{captures: captures, duration: duration, written: written}, nil
}

// Capture runs one profiling window on sess and writes the result.
//
// It starts sampling, waits opts.Duration, stops, encodes in opts.Format and
// writes opts.Output, replacing any existing file. The session is always
// closed. Cancelling ctx during the window aborts without writing.
// It returns the path written.
func Capture(ctx context.Context, sess Session, opts Options, copts ...CaptureOption) (path string, err error) {
	if sess == nil {
		return "", fmt.Errorf("nil profiling session")
	}
	if err := opts.Validate(); err != nil {
		return "", fmt.Errorf("invalid profile options: %w", err)
	}

	o := &captureOptions{
		logger:        logging.Nop(),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range copts {
		opt(o)
	}
	logger := o.logger.Named("profiler")

	m, err := newCaptureMetrics(o.meterProvider)
	if err != nil {
		return "", fmt.Errorf("creating profiler metrics: %w", err)
	}

	begin := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("format", opts.Format),
			attribute.String("result", result),
		)
		m.captures.Add(ctx, 1, attrs)
		m.duration.Record(ctx, time.Since(begin).Seconds(), attrs)
	}()

	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			path, err = "", fmt.Errorf("closing profiling session: %w", cerr)
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return "", fmt.Errorf("starting profiler: %w", err)
	}
	logger.Info(ctx, "cpu profiling started",
		zap.Duration("duration", opts.Duration.Duration()),
		zap.String("output", opts.Output))

	timer := time.NewTimer(opts.Duration.Duration())
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", fmt.Errorf("profiling interrupted: %w", ctx.Err())
	}

	prof, err := sess.Stop(ctx)
	if err != nil {
		return "", fmt.Errorf("stopping profiler: %w", err)
	}

	data, err := Encode(prof, opts.Format)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return "", fmt.Errorf("writing profile: %w", err)
	}
	m.written.Add(ctx, int64(len(data)), metric.WithAttributes(attribute.String("format", opts.Format)))

	logger.Info(ctx, "profile written",
		zap.String("path", opts.Output),
		zap.String("format", opts.Format),
		zap.Int("bytes", len(data)),
		zap.Int("samples", len(prof.Sample)))

	return opts.Output, nil
}
