// Package config provides configuration loading for otelboot.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every structured environment override.
	EnvPrefix = "OTELBOOT_"
)

// Alias maps a bare environment variable onto a config key.
//
// Flag aliases are parsed with ParseFlag instead of being passed through
// verbatim, so " TRUE " enables and anything else disables.
type Alias struct {
	Env  string
	Key  string
	Flag bool
}

// LegacyAliases are the environment variables existing deployments already
// read. They win over both the file and OTELBOOT_* variables.
var LegacyAliases = []Alias{
	{Env: "TRACE_EXPORTER_URL", Key: "telemetry.traces.url"},
	{Env: "METRIC_EXPORTER_URL", Key: "telemetry.metrics.url"},
	{Env: "MONITORING_ENABLED", Key: "telemetry.enabled", Flag: true},
}

// ParseFlag reports whether s is "true", ignoring case and surrounding whitespace.
func ParseFlag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// Load fills target from a config file and the environment.
//
// target should already hold defaults; only keys present in a source are
// overwritten. Precedence (highest to lowest):
//  1. Legacy aliases (TRACE_EXPORTER_URL, METRIC_EXPORTER_URL, MONITORING_ENABLED)
//  2. OTELBOOT_* environment variables
//  3. Config file (.yaml, .yml or .toml)
//  4. Defaults already in target
//
// # Environment Variable Mapping
//
// The prefix is stripped, the rest is lowercased, and a double underscore
// separates nesting levels. Single underscores stay part of the field name:
//
//	OTELBOOT_TELEMETRY__SERVICE_NAME -> telemetry.service_name
//	OTELBOOT_TELEMETRY__TRACES__URL  -> telemetry.traces.url
//
// An empty path skips the file. A path that does not exist is not an error.
func Load(path string, target interface{}) error {
	return LoadWithAliases(path, target, LegacyAliases)
}

// LoadWithAliases is Load with an explicit alias table.
func LoadWithAliases(path string, target interface{}, aliases []Alias) error {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	for _, a := range aliases {
		raw, ok := os.LookupEnv(a.Env)
		if !ok {
			continue
		}
		var val interface{} = raw
		if a.Flag {
			val = ParseFlag(raw)
		}
		if err := k.Set(a.Key, val); err != nil {
			return fmt.Errorf("failed to apply %s: %w", a.Env, err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// envKey maps OTELBOOT_SECTION__FIELD_NAME to section.field_name.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func loadFile(k *koanf.Koanf, path string) error {
	parser, err := parserFor(path)
	if err != nil {
		return err
	}

	// Open once and stat the descriptor to avoid a TOCTOU race.
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOML(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}
