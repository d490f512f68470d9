// Package settings loads the benchmark configuration from file, environment and flags.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
)

// EnvPrefix is the prefix for environment overrides, e.g. STREAMBENCH_WORKLOAD_COMMAND.
const EnvPrefix = "STREAMBENCH"

// ConfigName is the base name searched for when no file is given.
const ConfigName = "streambench"

// Options controls where configuration comes from.
type Options struct {
	// File is an explicit config file. Empty searches SearchDirs for streambench.yaml.
	File string

	// SearchDirs are tried in order when File is empty.
	SearchDirs []string

	// Flags maps config keys (e.g. "workload.command") to command-line flags.
	// A flag only overrides when it was set on the command line.
	Flags map[string]*pflag.Flag
}

// Load resolves configuration with the precedence flag > env > file > default,
// then validates it.
func Load(logger *slog.Logger, opts Options) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readFile(logger, v, opts); err != nil {
		return nil, err
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := &config.Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(logger *slog.Logger, v *viper.Viper, opts Options) error {
	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", opts.File, err)
		}
		logger.Info("Read the configuration file", "file", v.ConfigFileUsed())
		return nil
	}

	dirs := opts.SearchDirs
	if len(dirs) == 0 {
		dirs = []string{".", "./config"}
	}
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		logger.Info("Read the configuration file", "file", v.ConfigFileUsed())
	case errors.As(err, &notFound):
		logger.Debug("No configuration file found, using defaults", "dirs", dirs)
	default:
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// setDefaults registers every key so that env and flag bindings resolve.
func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("workload.command", d.Workload.Command)
	v.SetDefault("workload.script_flag", d.Workload.ScriptFlag)
	v.SetDefault("workload.scripts_dir", d.Workload.ScriptsDir)
	v.SetDefault("workload.env", d.Workload.Env)

	v.SetDefault("run.results_dir", d.Run.ResultsDir)
	v.SetDefault("run.mode", string(d.Run.Mode))
	v.SetDefault("run.interactive", d.Run.Interactive)

	v.SetDefault("monitor.wait_timeout", d.Monitor.WaitTimeout)
	v.SetDefault("monitor.wait_interval", d.Monitor.WaitInterval)
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.grace_period", d.Monitor.GracePeriod)
	v.SetDefault("monitor.total_batches", d.Monitor.TotalBatches)
	v.SetDefault("monitor.completion_markers", d.Monitor.CompletionMarkers)

	v.SetDefault("markers.unsafe", d.Markers.Unsafe)
	v.SetDefault("markers.critical", d.Markers.Critical)
	v.SetDefault("markers.failed", d.Markers.Failed)

	v.SetDefault("history.path", d.History.Path)

	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.job", d.Metrics.Job)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)

	v.SetDefault("preflight.check_tool", d.Preflight.CheckTool)
	v.SetDefault("preflight.driver", d.Preflight.Driver)
	v.SetDefault("preflight.dsn", d.Preflight.DSN)
	v.SetDefault("preflight.timeout", d.Preflight.Timeout)

	v.SetDefault("log.level", d.Log.Level)
}
