// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the daemon configuration: YAML file, then
// environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the validator instance for config structs.
var validate = validator.New()

// Config is the full daemon configuration.
//
// Duration fields are plain integers in the unit their name states so
// the YAML stays obvious; accessor methods convert to time.Duration.
type Config struct {
	Display  DisplayConfig  `yaml:"display"`
	Events   EventsConfig   `yaml:"events"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Gather   GatherConfig   `yaml:"gather"`
	LSP      LSPConfig      `yaml:"lsp"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DisplayConfig covers the connection to the display client.
type DisplayConfig struct {
	SocketPath           string `yaml:"socket_path" validate:"required"`
	ConnectTimeoutMs     int    `yaml:"connect_timeout_ms" validate:"gt=0"`
	ReconnectBaseMs      int    `yaml:"reconnect_base_ms" validate:"gt=0"`
	ReconnectMaxMs       int    `yaml:"reconnect_max_ms" validate:"gt=0"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" validate:"gte=0"`
	HeartbeatIntervalMs  int    `yaml:"heartbeat_interval_ms" validate:"gt=0"`
	HeartbeatTimeoutMs   int    `yaml:"heartbeat_timeout_ms" validate:"gt=0"`
	QueueSize            int    `yaml:"queue_size" validate:"gt=0"`
}

// EventsConfig covers the socket the editor plugin writes to.
type EventsConfig struct {
	SocketPath string `yaml:"socket_path" validate:"required"`
}

// CacheConfig covers the context cache.
type CacheConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds" validate:"gt=0"`
	MaxEntries           int `yaml:"max_entries" validate:"gt=0"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" validate:"gt=0"`
}

// PrefetchConfig covers background prefetch.
type PrefetchConfig struct {
	Enabled       bool `yaml:"enabled"`
	Radius        int  `yaml:"radius" validate:"gte=0"`
	MaxConcurrent int  `yaml:"max_concurrent" validate:"gt=0"`
}

// TrackerConfig covers cursor debouncing.
type TrackerConfig struct {
	DebounceMs       int `yaml:"debounce_ms" validate:"gt=0"`
	FailureThreshold int `yaml:"failure_threshold" validate:"gt=0"`
}

// GatherConfig covers per-position fact collection.
type GatherConfig struct {
	MaxReferences    int `yaml:"max_references" validate:"gt=0"`
	RequestTimeoutMs int `yaml:"request_timeout_ms" validate:"gt=0"`
}

// LSPConfig covers language server management.
type LSPConfig struct {
	RootPath              string `yaml:"root_path"`
	IdleTimeoutMinutes    int    `yaml:"idle_timeout_minutes" validate:"gte=0"`
	StartupTimeoutSeconds int    `yaml:"startup_timeout_seconds" validate:"gt=0"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"gt=0"`
}

// HTTPConfig covers the operational HTTP surface.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// LoggingConfig covers structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration the daemon runs with when no file
// is present.
func Default() Config {
	return Config{
		Display: DisplayConfig{
			SocketPath:           "/tmp/nvim_context.sock",
			ConnectTimeoutMs:     5000,
			ReconnectBaseMs:      2000,
			ReconnectMaxMs:       30000,
			MaxReconnectAttempts: 6,
			HeartbeatIntervalMs:  10000,
			HeartbeatTimeoutMs:   30000,
			QueueSize:            100,
		},
		Events: EventsConfig{
			SocketPath: "/tmp/nvim_context_events.sock",
		},
		Cache: CacheConfig{
			TTLSeconds:           45,
			MaxEntries:           500,
			SweepIntervalSeconds: 30,
		},
		Prefetch: PrefetchConfig{
			Enabled:       true,
			Radius:        30,
			MaxConcurrent: 2,
		},
		Tracker: TrackerConfig{
			DebounceMs:       150,
			FailureThreshold: 3,
		},
		Gather: GatherConfig{
			MaxReferences:    8,
			RequestTimeoutMs: 5000,
		},
		LSP: LSPConfig{
			IdleTimeoutMinutes:    10,
			StartupTimeoutSeconds: 30,
			RequestTimeoutSeconds: 10,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9187",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads the config file at path, applies environment overrides,
// and validates the result. A missing file is not an error; defaults
// apply. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks all constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Display.ReconnectMaxMs < c.Display.ReconnectBaseMs {
		return fmt.Errorf("invalid config: reconnect_max_ms %d below reconnect_base_ms %d",
			c.Display.ReconnectMaxMs, c.Display.ReconnectBaseMs)
	}
	return nil
}

// applyEnvOverrides lets the plugin override socket locations and log
// level without writing a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTEXTSYNC_DISPLAY_SOCKET"); v != "" {
		cfg.Display.SocketPath = v
	}
	if v := os.Getenv("CONTEXTSYNC_EVENTS_SOCKET"); v != "" {
		cfg.Events.SocketPath = v
	}
	if v := os.Getenv("CONTEXTSYNC_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
		cfg.HTTP.Enabled = true
	}
	if v := os.Getenv("CONTEXTSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CONTEXTSYNC_ROOT_PATH"); v != "" {
		cfg.LSP.RootPath = v
	}
	if v := os.Getenv("CONTEXTSYNC_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.TTLSeconds = n
		}
	}
	if v := os.Getenv("CONTEXTSYNC_PREFETCH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Prefetch.Enabled = b
		}
	}
}

// Duration accessors.

func (c DisplayConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c DisplayConfig) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

func (c DisplayConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

func (c DisplayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c DisplayConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c TrackerConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c GatherConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c LSPConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

func (c LSPConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

func (c LSPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
