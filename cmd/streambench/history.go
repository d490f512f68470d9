package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/whhaicheng/DB-StreamBench/internal/app/usecase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/logging"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/timing"
)

var errHistoryDisabled = errors.New("run history is disabled (history.path is empty)")

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	var state string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withHistory(cmd, func(uc *usecase.HistoryUseCase) error {
				runs, err := uc.ListRuns(cmd.Context(), history.ListOptions{Limit: limit, State: phase.State(state)})
				if err != nil {
					return err
				}
				printRuns(c.stdout, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 = all)")
	cmd.Flags().StringVar(&state, "state", "", "only runs in this final state (e.g. COMPLETE, FAILED)")

	show := &cobra.Command{
		Use:   "show <run-id | results-dir>",
		Short: "Show one run and its phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// A results directory is read from its manifest, no database needed.
			manifestPath := filepath.Join(args[0], usecase.ManifestFile)
			if _, err := os.Stat(manifestPath); err == nil {
				m, err := usecase.LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				printManifest(c.stdout, m)
				return nil
			}
			return c.withHistory(cmd, func(uc *usecase.HistoryUseCase) error {
				rec, err := uc.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRun(c.stdout, rec)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove a run from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withHistory(cmd, func(uc *usecase.HistoryUseCase) error {
				if err := uc.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Deleted run %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(show, del)
	return cmd
}

func (c *cli) withHistory(cmd *cobra.Command, fn func(uc *usecase.HistoryUseCase) error) error {
	cfg, err := c.loadConfig(nil)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return errHistoryDisabled
	}
	repo, closeHistory, err := openHistory(cmd.Context(), cfg.History.Path, logging.Discard())
	if err != nil {
		return err
	}
	defer closeHistory()
	return fn(usecase.NewHistoryUseCase(repo))
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func printRuns(w io.Writer, runs []*history.Record) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	t := newTable().Headers("RUN ID", "STARTED", "MODE", "STATE", "PHASE 1", "PHASE 2", "DURATION", "EXIT")
	for _, r := range runs {
		t.Row(
			r.ID,
			humanize.Time(r.StartedAt),
			string(r.Mode),
			string(r.State),
			string(r.Phase1),
			string(r.Phase2),
			timing.FormatDuration(r.Duration),
			strconv.Itoa(r.ExitCode),
		)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d run(s)\n", len(runs))
}

func printRun(w io.Writer, r *history.Record) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Started:  %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Fprintf(w, "Mode:     %s\n", r.Mode)
	fmt.Fprintf(w, "State:    %s (exit %d)\n", r.State, r.ExitCode)
	fmt.Fprintf(w, "Phase 1:  %s\n", r.Phase1.Label())
	fmt.Fprintf(w, "Phase 2:  %s\n", r.Phase2.Label())
	fmt.Fprintf(w, "Duration: %s\n", timing.FormatDuration(r.Duration))
	fmt.Fprintf(w, "Results:  %s\n", r.ResultsDir)
	fmt.Fprintf(w, "Command:  %s\n", r.Command)
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.ErrorMessage)
	}
	printPhases(w, r.Phases)
}

func printManifest(w io.Writer, m *usecase.Manifest) {
	fmt.Fprintf(w, "Run:      %s\n", m.RunID)
	fmt.Fprintf(w, "Started:  %s\n", m.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Mode:     %s\n", m.Mode)
	fmt.Fprintf(w, "State:    %s (exit %d)\n", m.State, m.ExitCode)
	fmt.Fprintf(w, "Phase 1:  %s\n", m.Phase1.Label())
	fmt.Fprintf(w, "Phase 2:  %s\n", m.Phase2.Label())
	fmt.Fprintf(w, "Elapsed:  %.1fs\n", m.ElapsedSeconds)
	if m.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", m.Error)
	}
	results := make([]phase.Result, 0, len(m.Phases))
	for _, p := range m.Phases {
		results = append(results, phase.Result{
			PhaseID:  p.ID,
			Name:     p.Name,
			Success:  p.Success,
			ExitCode: p.ExitCode,
			LogPath:  p.Log,
			Duration: secondsToDuration(p.DurationSeconds),
		})
	}
	printPhases(w, results)
}

func printPhases(w io.Writer, results []phase.Result) {
	if len(results) == 0 {
		return
	}
	t := newTable().Headers("PHASE", "NAME", "OK", "EXIT", "SECONDS", "LOG")
	for _, r := range results {
		ok := "✅"
		if !r.Success {
			ok = "❌"
		}
		t.Row(r.PhaseID, r.Name, ok, strconv.Itoa(r.ExitCode), fmt.Sprintf("%.1f", r.Duration.Seconds()), r.LogPath)
	}
	fmt.Fprintln(w, t.Render())
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
