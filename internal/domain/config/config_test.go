// Package config provides unit tests for configuration domain models.
package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
)

// TestDefaultConfig tests the default configuration.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "psql postgres", cfg.Workload.Command)
	assert.Equal(t, "-f", cfg.Workload.ScriptFlag)
	assert.Equal(t, phase.ModeBoth, cfg.Run.Mode)
	assert.True(t, cfg.Run.Interactive)
	assert.Equal(t, 10*time.Second, cfg.Monitor.WaitTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.GracePeriod)
	assert.Equal(t, 500, cfg.Monitor.TotalBatches)
	assert.Equal(t, "history.db", filepath.Base(cfg.History.Path))
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unsupported version", func(c *Config) { c.Version = 2 }, true},
		{"empty command", func(c *Config) { c.Workload.Command = "" }, true},
		{"empty scripts dir", func(c *Config) { c.Workload.ScriptsDir = "" }, true},
		{"env without equals", func(c *Config) { c.Workload.Env = []string{"PGHOST"} }, true},
		{"env pair", func(c *Config) { c.Workload.Env = []string{"PGHOST=localhost"} }, false},
		{"invalid mode", func(c *Config) { c.Run.Mode = "3" }, true},
		{"phase 1 mode", func(c *Config) { c.Run.Mode = phase.ModePhase1 }, false},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = 0 }, true},
		{"poll interval too slow", func(c *Config) { c.Monitor.PollInterval = 2 * time.Second }, true},
		{"wait interval above timeout", func(c *Config) {
			c.Monitor.WaitTimeout = 50 * time.Millisecond
			c.Monitor.WaitInterval = 100 * time.Millisecond
		}, true},
		{"no completion markers", func(c *Config) { c.Monitor.CompletionMarkers = nil }, true},
		{"empty completion marker", func(c *Config) { c.Monitor.CompletionMarkers = []string{""} }, true},
		{"empty critical marker", func(c *Config) { c.Markers.Critical = "" }, true},
		{"bad pushgateway url", func(c *Config) { c.Metrics.PushgatewayURL = "not a url" }, true},
		{"pushgateway url", func(c *Config) { c.Metrics.PushgatewayURL = "http://localhost:9091" }, false},
		{"unknown driver", func(c *Config) {
			c.Preflight.Driver = "sqlite"
			c.Preflight.DSN = "x"
		}, true},
		{"driver without dsn", func(c *Config) { c.Preflight.Driver = "postgres" }, true},
		{"driver with dsn", func(c *Config) {
			c.Preflight.Driver = "postgres"
			c.Preflight.DSN = "postgres://localhost/postgres"
		}, false},
		{"invalid log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"invalid plan", func(c *Config) { c.Plan = &phase.Plan{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestConfig_EffectivePlan tests plan selection.
func TestConfig_EffectivePlan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Markers.Critical = "BLOAT!"

	plan := cfg.EffectivePlan()
	require.NotNil(t, plan)
	for _, st := range plan.Phase1 {
		if st.ID == "8" {
			require.NotNil(t, st.Gate)
			assert.Equal(t, "BLOAT!", st.Gate.Marker)
		}
	}

	custom := &phase.Plan{}
	cfg.Plan = custom
	assert.Same(t, custom, cfg.EffectivePlan())
}

// TestDefaultResultsDir tests the timestamped results directory name.
func TestDefaultResultsDir(t *testing.T) {
	now := time.Date(2026, 3, 7, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, filepath.Join("base", "results", "run_20260307_140509"), DefaultResultsDir("base", now))
}
