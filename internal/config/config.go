package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded once at startup from an
// optional YAML file with environment overrides for deployment knobs.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Refresh struct {
		// IntervalSeconds is the scheduler tick period.
		IntervalSeconds int `yaml:"interval_seconds"`
		// LookaheadSeconds refreshes tokens expiring within this window.
		LookaheadSeconds int `yaml:"lookahead_seconds"`
		// AttemptTimeoutSeconds bounds a single upstream refresh call.
		AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
		MaxAttempts           int `yaml:"max_attempts"`
		// BackoffBaseMillis is the first retry delay; it doubles per attempt.
		BackoffBaseMillis int `yaml:"backoff_base_millis"`
	} `yaml:"refresh"`

	Selector struct {
		// MinQuotaRemaining excludes accounts whose known remaining quota
		// (limit - used) falls below this value. Zero disables the check.
		MinQuotaRemaining float64 `yaml:"min_quota_remaining"`
	} `yaml:"selector"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "8080"
	cfg.Database.Path = "kiro-nexus.db"
	cfg.Refresh.IntervalSeconds = 3600
	cfg.Refresh.LookaheadSeconds = 300
	cfg.Refresh.AttemptTimeoutSeconds = 30
	cfg.Refresh.MaxAttempts = 3
	cfg.Refresh.BackoffBaseMillis = 2000
	cfg.Selector.MinQuotaRemaining = 1
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 14
	return cfg
}

// Load reads the YAML file at path (skipped when empty or missing) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("NEXUS_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if level := os.Getenv("NEXUS_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalSeconds) * time.Second
}

func (c *Config) RefreshLookahead() time.Duration {
	return time.Duration(c.Refresh.LookaheadSeconds) * time.Second
}

func (c *Config) RefreshAttemptTimeout() time.Duration {
	return time.Duration(c.Refresh.AttemptTimeoutSeconds) * time.Second
}

func (c *Config) RefreshBackoffBase() time.Duration {
	return time.Duration(c.Refresh.BackoffBaseMillis) * time.Millisecond
}
