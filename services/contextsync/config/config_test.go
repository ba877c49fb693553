// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/nvim_context.sock", cfg.Display.SocketPath)
	assert.Equal(t, 6, cfg.Display.MaxReconnectAttempts)
	assert.Equal(t, 45*time.Second, cfg.Cache.TTL())
	assert.Equal(t, 150*time.Millisecond, cfg.Tracker.Debounce())
	assert.Equal(t, 30, cfg.Prefetch.Radius)
	assert.True(t, cfg.Prefetch.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Display.SocketPath, cfg.Display.SocketPath)
}

func TestLoad_EmptyPathSkipsFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Cache.TTLSeconds, cfg.Cache.TTLSeconds)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
display:
  socket_path: /run/user/1000/display.sock
  reconnect_base_ms: 500
  reconnect_max_ms: 10000
cache:
  ttl_seconds: 90
prefetch:
  enabled: false
tracker:
  debounce_ms: 80
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/user/1000/display.sock", cfg.Display.SocketPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Display.ReconnectBase())
	assert.Equal(t, 90, cfg.Cache.TTLSeconds)
	assert.False(t, cfg.Prefetch.Enabled)
	assert.Equal(t, 80*time.Millisecond, cfg.Tracker.Debounce())

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Gather.MaxReferences, cfg.Gather.MaxReferences)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONTEXTSYNC_DISPLAY_SOCKET", "/tmp/override.sock")
	t.Setenv("CONTEXTSYNC_LOG_LEVEL", "debug")
	t.Setenv("CONTEXTSYNC_CACHE_TTL_SECONDS", "120")
	t.Setenv("CONTEXTSYNC_PREFETCH_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.sock", cfg.Display.SocketPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
	assert.False(t, cfg.Prefetch.Enabled)
}

func TestLoad_EnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display:\n  socket_path: /tmp/from_file.sock\n"), 0o644))
	t.Setenv("CONTEXTSYNC_DISPLAY_SOCKET", "/tmp/from_env.sock")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from_env.sock", cfg.Display.SocketPath)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty display socket", func(c *Config) { c.Display.SocketPath = "" }},
		{"zero ttl", func(c *Config) { c.Cache.TTLSeconds = 0 }},
		{"negative debounce", func(c *Config) { c.Tracker.DebounceMs = -1 }},
		{"zero max concurrent", func(c *Config) { c.Prefetch.MaxConcurrent = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"reconnect ceiling below base", func(c *Config) {
			c.Display.ReconnectBaseMs = 5000
			c.Display.ReconnectMaxMs = 1000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Second, cfg.Display.ConnectTimeout())
	assert.Equal(t, 2*time.Second, cfg.Display.ReconnectBase())
	assert.Equal(t, 30*time.Second, cfg.Display.ReconnectMax())
	assert.Equal(t, 10*time.Second, cfg.Display.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, cfg.Display.HeartbeatTimeout())
	assert.Equal(t, 30*time.Second, cfg.Cache.SweepInterval())
	assert.Equal(t, 5*time.Second, cfg.Gather.RequestTimeout())
	assert.Equal(t, 10*time.Minute, cfg.LSP.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.LSP.StartupTimeout())
	assert.Equal(t, 10*time.Second, cfg.LSP.RequestTimeout())
}
