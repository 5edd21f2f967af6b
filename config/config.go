// Package config loads diagnostic settings for the lifecycle kernel.
//
// Configuration is resolved in three layers: defaults, an optional YAML file,
// then LIFECYCLE_* environment variables. The result is plain data; callers
// convert it with diag.FromConfig and pass it to constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvResourceTracing  = "LIFECYCLE_RESOURCE_TRACING"
	EnvReferenceTracing = "LIFECYCLE_REFERENCE_TRACING"
	EnvLeakWarnings     = "LIFECYCLE_LEAK_WARNINGS"
	EnvLogLevel         = "LIFECYCLE_LOG_LEVEL"
	EnvLogFormat        = "LIFECYCLE_LOG_FORMAT"
)

// Config is the top-level configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`
}

// TracingConfig selects diagnostic modes.
type TracingConfig struct {
	// Resources captures creation/close traces and distinct temporary owners.
	Resources bool `yaml:"resources"`
	// References selects the owner-tracking counter.
	References bool `yaml:"references"`
	// LeakWarnings warns when an unreleased resource is garbage collected.
	LeakWarnings bool `yaml:"leak_warnings"`
}

// LogConfig configures the zap logger built by NewLogger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the production defaults: tracing off, leak warnings on.
func Default() Config {
	return Config{
		Tracing: TracingConfig{LeakWarnings: true},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load resolves configuration from defaults, path (if non-empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := envBool(EnvResourceTracing); ok {
		cfg.Tracing.Resources = v
	}
	if v, ok := envBool(EnvReferenceTracing); ok {
		cfg.Tracing.References = v
	}
	if v, ok := envBool(EnvLeakWarnings); ok {
		cfg.Tracing.LeakWarnings = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate reports unusable settings.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds a zap logger for the configured level and format.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
