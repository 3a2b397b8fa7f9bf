// Package config loads the service configuration from the environment and
// calibration jobs from TOML files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the calibration service configuration.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Calibration struct {
		DataDir          string `env:"CALIB_DATA_DIR" envDefault:"data"`
		DefaultAlgorithm string `env:"CALIB_DEFAULT_ALGORITHM" envDefault:"hooke"`
		Seed             int64  `env:"CALIB_SEED" envDefault:"1"`
		MaxJobs          int    `env:"CALIB_MAX_JOBS" envDefault:"4"`
	}
}

// Load parses the environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	cfg.Calibration.DefaultAlgorithm = strings.ToLower(strings.TrimSpace(cfg.Calibration.DefaultAlgorithm))
	if !KnownAlgorithm(cfg.Calibration.DefaultAlgorithm) {
		return nil, fmt.Errorf("CALIB_DEFAULT_ALGORITHM: unknown algorithm %q", cfg.Calibration.DefaultAlgorithm)
	}
	if cfg.Calibration.MaxJobs <= 0 {
		return nil, fmt.Errorf("CALIB_MAX_JOBS must be positive, got %d", cfg.Calibration.MaxJobs)
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return nil, fmt.Errorf("HTTP_PORT out of range: %d", cfg.HTTP.Port)
	}

	return cfg, nil
}
