package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
	"github.com/fyrsmithlabs/otelboot/internal/logging"
	"github.com/fyrsmithlabs/otelboot/internal/profiler"
	"github.com/fyrsmithlabs/otelboot/internal/server"
	"github.com/fyrsmithlabs/otelboot/internal/telemetry"
)

// Settings is the full otelboot configuration.
type Settings struct {
	Telemetry telemetry.Config `koanf:"telemetry"`
	Logging   logging.Config   `koanf:"logging"`
	Profile   profiler.Options `koanf:"profile"`
	Server    server.Config    `koanf:"server"`
	Database  DatabaseConfig   `koanf:"database"`
}

// DatabaseConfig points the run command at the database the probe instruments.
type DatabaseConfig struct {
	DSN         config.Secret   `koanf:"dsn"`
	PingTimeout config.Duration `koanf:"ping_timeout"`
}

func newDefaultSettings() *Settings {
	return &Settings{
		Telemetry: *telemetry.NewDefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Profile:   profiler.NewDefaultOptions(),
		Server:    *server.NewDefaultConfig(),
		Database: DatabaseConfig{
			PingTimeout: config.Duration(5 * time.Second),
		},
	}
}

// loadSettings reads defaults, the config file and the environment.
func loadSettings(path string) (*Settings, error) {
	s := newDefaultSettings()
	if err := config.Load(path, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Validate checks every section.
func (s *Settings) Validate() error {
	var errs []error
	if err := s.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if err := s.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := s.Profile.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	}
	if err := s.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	return errors.Join(errs...)
}
