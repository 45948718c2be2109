package profiler

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
)

const (
	// DefaultDuration is the sampling window.
	DefaultDuration = 10 * time.Second

	// DefaultOutput is where Capture writes unless told otherwise.
	DefaultOutput = "./profile.cpuprofile"

	FormatJSON  = "json"
	FormatPprof = "pprof"
)

// Options controls a single capture.
type Options struct {
	Duration config.Duration `koanf:"duration"`
	Output   string          `koanf:"output"`
	Format   string          `koanf:"format"`
}

// NewDefaultOptions returns a 10s capture to ./profile.cpuprofile as JSON.
func NewDefaultOptions() Options {
	return Options{
		Duration: config.Duration(DefaultDuration),
		Output:   DefaultOutput,
		Format:   FormatJSON,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if o.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %s", o.Duration.Duration()))
	}
	if o.Output == "" {
		errs = append(errs, errors.New("output is required"))
	}
	switch o.Format {
	case FormatJSON, FormatPprof:
	default:
		errs = append(errs, fmt.Errorf("format must be %q or %q, got %q", FormatJSON, FormatPprof, o.Format))
	}
	return errors.Join(errs...)
}
