// Package config loads server configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen              string `yaml:"listen"`
	Workers             int    `yaml:"workers"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	UserAgent           string `yaml:"user_agent"`
	DBPath              string `yaml:"db_path"`
	LogLevel            string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen:              ":8080",
		Workers:             5,
		FetchTimeoutSeconds: 15,
		PollIntervalMs:      100,
		DBPath:              "extractor.db",
		LogLevel:            "info",
	}
}

// Load merges defaults, the YAML file at path (if any), and environment
// overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("EXTRACTOR_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("EXTRACTOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("EXTRACTOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EXTRACTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}

	if cfg.Workers < 1 {
		cfg.Workers = Default().Workers
	}
	if cfg.FetchTimeoutSeconds < 1 {
		cfg.FetchTimeoutSeconds = Default().FetchTimeoutSeconds
	}
	if cfg.PollIntervalMs < 1 {
		cfg.PollIntervalMs = Default().PollIntervalMs
	}
	return cfg, nil
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
