// Package config provides configuration domain models.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
)

var (
	// ErrInvalidConfiguration is returned when configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WorkloadConfig describes how each phase's workload unit is invoked.
type WorkloadConfig struct {
	// Command is the client command line, e.g. "psql postgres".
	Command string `mapstructure:"command" yaml:"command" validate:"required"`

	// ScriptFlag precedes the script path. Empty passes the path positionally.
	ScriptFlag string `mapstructure:"script_flag" yaml:"script_flag"`

	// ScriptsDir holds the per-phase SQL files.
	ScriptsDir string `mapstructure:"scripts_dir" yaml:"scripts_dir" validate:"required"`

	// Env is appended to the process environment, KEY=VALUE.
	Env []string `mapstructure:"env" yaml:"env,omitempty" validate:"dive,contains=="`
}

// RunConfig controls which phases run and how.
type RunConfig struct {
	// ResultsDir receives logs and artifacts. Empty means results/run_<timestamp>.
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir"`

	// Mode is "1", "2" or "both".
	Mode phase.Mode `mapstructure:"mode" yaml:"mode" validate:"oneof=1 2 both"`

	// Interactive asks before phase 2.
	Interactive bool `mapstructure:"interactive" yaml:"interactive"`
}

// MonitorConfig tunes the live log tail.
type MonitorConfig struct {
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout" validate:"gt=0"`
	WaitInterval      time.Duration `mapstructure:"wait_interval" yaml:"wait_interval" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0,lt=1s"`
	GracePeriod       time.Duration `mapstructure:"grace_period" yaml:"grace_period" validate:"gte=0"`
	TotalBatches      int           `mapstructure:"total_batches" yaml:"total_batches" validate:"gte=0"`
	CompletionMarkers []string      `mapstructure:"completion_markers" yaml:"completion_markers" validate:"min=1,dive,required"`
}

// MarkersConfig holds the gate markers.
type MarkersConfig struct {
	Unsafe   string `mapstructure:"unsafe" yaml:"unsafe" validate:"required"`
	Critical string `mapstructure:"critical" yaml:"critical" validate:"required"`
	Failed   string `mapstructure:"failed" yaml:"failed" validate:"required"`
}

// HistoryConfig represents run history storage configuration.
type HistoryConfig struct {
	// Path is the path to the SQLite database file. Empty disables history.
	Path string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig represents metrics export configuration.
type MetricsConfig struct {
	// PushgatewayURL receives the final metrics when set.
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url" validate:"omitempty,url"`

	// Job is the pushgateway job label.
	Job string `mapstructure:"job" yaml:"job" validate:"required"`

	// Textfile writes metrics.prom into the results dir.
	Textfile bool `mapstructure:"textfile" yaml:"textfile"`
}

// PreflightConfig represents checks run before the first phase.
type PreflightConfig struct {
	// CheckTool verifies the workload client is on PATH.
	CheckTool bool `mapstructure:"check_tool" yaml:"check_tool"`

	// Driver and DSN enable a ping of the target database.
	Driver  string        `mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=postgres mysql sqlserver oracle"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn" validate:"required_with=Driver"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// Config represents the complete application configuration.
type Config struct {
	// Version is the configuration version.
	Version int `mapstructure:"version" yaml:"version"`

	Workload  WorkloadConfig  `mapstructure:"workload" yaml:"workload"`
	Run       RunConfig       `mapstructure:"run" yaml:"run"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Markers   MarkersConfig   `mapstructure:"markers" yaml:"markers"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Preflight PreflightConfig `mapstructure:"preflight" yaml:"preflight"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// Plan overrides the built-in phase plan when set.
	Plan *phase.Plan `mapstructure:"plan" yaml:"plan,omitempty"`
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: unsupported configuration version: %d", ErrInvalidConfiguration, c.Version)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfiguration, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if c.Monitor.WaitInterval > c.Monitor.WaitTimeout {
		return fmt.Errorf("%w: monitor.wait_interval cannot exceed monitor.wait_timeout", ErrInvalidConfiguration)
	}

	if c.Plan != nil {
		if err := c.Plan.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}

	return nil
}

// PhaseMarkers returns the gate markers.
func (c *Config) PhaseMarkers() phase.Markers {
	return phase.Markers{
		Unsafe:   c.Markers.Unsafe,
		Critical: c.Markers.Critical,
		Failed:   c.Markers.Failed,
	}
}

// EffectivePlan returns the configured plan, or the default plan built from the markers.
func (c *Config) EffectivePlan() *phase.Plan {
	if c.Plan != nil {
		return c.Plan
	}
	return phase.DefaultPlan(c.PhaseMarkers())
}

// DefaultResultsDir returns results/run_YYYYMMDD_HHMMSS under base.
func DefaultResultsDir(base string, now time.Time) string {
	return filepath.Join(base, "results", "run_"+now.Format("20060102_150405"))
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	userHomeDir, _ := os.UserHomeDir()
	defaultHistoryPath := filepath.Join(userHomeDir, ".streambench", "history.db")

	m := phase.DefaultMarkers()

	return &Config{
		Version: 1,
		Workload: WorkloadConfig{
			Command:    "psql postgres",
			ScriptFlag: "-f",
			ScriptsDir: "sql",
		},
		Run: RunConfig{
			Mode:        phase.ModeBoth,
			Interactive: true,
		},
		Monitor: MonitorConfig{
			WaitTimeout:       10 * time.Second,
			WaitInterval:      100 * time.Millisecond,
			PollInterval:      100 * time.Millisecond,
			GracePeriod:       500 * time.Millisecond,
			TotalBatches:      500,
			CompletionMarkers: append([]string(nil), progress.DefaultCompletionMarkers...),
		},
		Markers: MarkersConfig{
			Unsafe:   m.Unsafe,
			Critical: m.Critical,
			Failed:   m.Failed,
		},
		History: HistoryConfig{
			Path: defaultHistoryPath,
		},
		Metrics: MetricsConfig{
			Job:      "streambench",
			Textfile: true,
		},
		Preflight: PreflightConfig{
			CheckTool: true,
			Timeout:   5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
