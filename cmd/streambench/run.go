package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/whhaicheng/DB-StreamBench/internal/app/usecase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/console"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/logging"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/metrics"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/preflight"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/runner"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tail"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tool"
)

// BenchmarkLog is the orchestrator's own log inside the results dir.
const BenchmarkLog = "benchmark.log"

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Long: `Run setup, then phase 1 (no indexes) and/or phase 2 (with indexes).

Exit status is 0 when the run completes (including a declined phase 2),
1 on any failure and 130 when interrupted.`,
		Example: `  streambench run
  streambench run --phase 1 --no-interactive
  streambench run --psql "psql -h db01 bench" --sql-dir ./sql`,
		Args: cobra.NoArgs,
		RunE: c.runBenchmark,
	}

	f := cmd.Flags()
	f.String("psql", "", "workload client command line (default \"psql postgres\")")
	f.String("sql-dir", "", "directory holding the phase scripts (default \"sql\")")
	f.String("results-dir", "", "results directory (default results/run_YYYYMMDD_HHMMSS)")
	f.String("phase", "", "phases to run: 1, 2 or both (default \"both\")")
	f.Bool("no-interactive", false, "run phase 2 without asking")
	return cmd
}

func runFlags(f *pflag.FlagSet) map[string]*pflag.Flag {
	return map[string]*pflag.Flag{
		"workload.command":     f.Lookup("psql"),
		"workload.scripts_dir": f.Lookup("sql-dir"),
		"run.results_dir":      f.Lookup("results-dir"),
		"run.mode":             f.Lookup("phase"),
	}
}

func (c *cli) runBenchmark(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(runFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	if noInteractive, _ := cmd.Flags().GetBool("no-interactive"); noInteractive {
		cfg.Run.Interactive = false
	}

	startedAt := time.Now()
	resultsDir := cfg.Run.ResultsDir
	if resultsDir == "" {
		resultsDir = config.DefaultResultsDir(".", startedAt)
	}

	logger, shutdown, err := logging.New(c.logLevel(cfg), filepath.Join(resultsDir, BenchmarkLog))
	if err != nil {
		return err
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("streambench starting", "version", Version, "results_dir", resultsDir)

	con := console.New(c.stdout, c.stdin, console.Options{TotalBatches: cfg.Monitor.TotalBatches})

	deps := usecase.OrchestratorDeps{
		Run: phase.RunContext{
			ID:          runID,
			StartedAt:   startedAt,
			ResultsDir:  resultsDir,
			Mode:        cfg.Run.Mode,
			Interactive: cfg.Run.Interactive,
		},
		Plan:     cfg.EffectivePlan(),
		Workload: cfg.Workload,
		Runner:   runner.New(runner.Options{Env: cfg.Workload.Env, Logger: logger}),
		Monitor: tail.NewMonitor(tail.Options{
			WaitTimeout:  cfg.Monitor.WaitTimeout,
			WaitInterval: cfg.Monitor.WaitInterval,
			PollInterval: cfg.Monitor.PollInterval,
			Grammar:      progress.NewGrammar(cfg.Monitor.CompletionMarkers...),
			Logger:       logger,
		}),
		Grace:    cfg.Monitor.GracePeriod,
		Sink:     con,
		Prompter: con,
		Preflight: usecase.NewPreflightUseCase(
			cfg.Preflight,
			cfg.Workload.Command,
			tool.NewDetector(),
			preflight.NewChecker(cfg.Preflight.Timeout, logger),
			con,
			logger,
		),
		Metrics: metrics.NewRecorder(runID),
		Export: usecase.MetricsExport{
			Textfile:       cfg.Metrics.Textfile,
			PushgatewayURL: cfg.Metrics.PushgatewayURL,
			Job:            cfg.Metrics.Job,
		},
		Logger: logger,
	}

	repo, closeHistory, err := openHistory(context.WithoutCancel(ctx), cfg.History.Path, logger)
	if err != nil {
		// A broken history store must not block a benchmark.
		logger.Warn("Run history disabled", "path", cfg.History.Path, "error", err)
		con.Warning(fmt.Sprintf("Run history disabled: %v", err))
	} else {
		defer closeHistory()
		if repo != nil {
			deps.History = repo
		}
	}

	orch, err := usecase.NewOrchestrator(deps)
	if err != nil {
		return err
	}

	out := orch.Run(ctx)
	c.exitCode = out.ExitCode()
	return nil
}
