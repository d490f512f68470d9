package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/database"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/database/repository"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/logging"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/settings"
)

// cli carries state shared by the subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	cfgFile string
	verbose bool

	// exitCode is the process status once the command returned without error.
	exitCode int
}

func execute(args []string) int {
	c := &cli{stdout: os.Stdout, stderr: os.Stderr, stdin: os.Stdin}
	root := c.rootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	return c.exitCode
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streambench",
		Short: "Streaming INSERT benchmark orchestrator",
		Long: `streambench drives a multi-phase streaming INSERT benchmark through an
external SQL client. It sequences setup, phase 1 (no indexes) and phase 2
(with indexes), shows live progress while each load runs, and stops the run
when a validation gate finds a disqualifying marker.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "path to config file (YAML)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(c.runCmd(), c.historyCmd(), c.detectCmd())
	return root
}

// loadConfig resolves configuration. flags maps config keys to this command's flags.
func (c *cli) loadConfig(flags map[string]*pflag.Flag) (*config.Config, error) {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	bootstrap, shutdown, err := logging.New(level, "")
	if err != nil {
		return nil, err
	}
	defer shutdown()

	return settings.Load(bootstrap, settings.Options{File: c.cfgFile, Flags: flags})
}

// logLevel returns the configured level, or debug with --verbose.
func (c *cli) logLevel(cfg *config.Config) string {
	if c.verbose {
		return "debug"
	}
	return cfg.Log.Level
}

// openHistory opens the history database. It returns a nil repository when history
// is disabled.
func openHistory(ctx context.Context, path string, logger *slog.Logger) (*repository.SQLiteRunRepository, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	db, err := database.InitializeSQLite(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	logger.Debug("History database opened", "path", path)
	return repository.NewSQLiteRunRepository(db), func() { db.Close() }, nil
}
