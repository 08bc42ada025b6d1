package app

import "errors"

// Config holds everything an App needs to serve one CLI invocation.
type Config struct {
	// PlanPath is the pipeline file declaring the targets.
	PlanPath string
	// StoreDir is the root of the fingerprint store.
	StoreDir string

	LogFormat string
	LogLevel  string
	Workers   int
}

// NewConfig validates a config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PlanPath == "" {
		return nil, errors.New("a pipeline file is required")
	}
	if cfg.StoreDir == "" {
		return nil, errors.New("a store directory is required")
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, errors.New("log format must be 'text' or 'json'")
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, errors.New("log level must be 'debug', 'info', 'warn', or 'error'")
	}
	return &cfg, nil
}
