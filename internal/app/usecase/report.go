package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/timing"
)

// pushTimeout bounds the pushgateway request at the end of a run.
const pushTimeout = 10 * time.Second

// Manifest is the run.yaml document.
type Manifest struct {
	RunID          string          `yaml:"run_id"`
	StartedAt      time.Time       `yaml:"started_at"`
	ElapsedSeconds float64         `yaml:"elapsed_seconds"`
	Mode           phase.Mode      `yaml:"mode"`
	Interactive    bool            `yaml:"interactive"`
	Command        string          `yaml:"command"`
	State          phase.State     `yaml:"state"`
	States         []phase.State   `yaml:"states"`
	ExitCode       int             `yaml:"exit_code"`
	Phase1         phase.Status    `yaml:"phase1"`
	Phase2         phase.Status    `yaml:"phase2"`
	Error          string          `yaml:"error,omitempty"`
	Phases         []ManifestPhase `yaml:"phases"`
}

// ManifestPhase is one phase entry in run.yaml.
type ManifestPhase struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Success         bool    `yaml:"success"`
	ExitCode        int     `yaml:"exit_code"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	Log             string  `yaml:"log"`
}

// report emits the summary to the sink and writes summary.txt and run.yaml.
// It runs on every terminal state so partial results are never lost.
func (o *Orchestrator) report(out *Outcome) {
	lines := o.summaryLines(out)

	o.deps.Sink.Section("BENCHMARK SUMMARY")
	for _, l := range lines[:len(lines)-1] {
		o.deps.Sink.Info(l)
	}
	verdict := lines[len(lines)-1]
	switch out.State {
	case phase.StateComplete:
		o.deps.Sink.Success(verdict)
	case phase.StateInterrupted:
		o.deps.Sink.Warning(verdict)
	default:
		o.deps.Sink.Error(verdict)
	}

	summaryPath := filepath.Join(out.ResultsDir, SummaryFile)
	if err := os.WriteFile(summaryPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		o.logger.Warn("Orchestrator: write summary", "path", summaryPath, "error", err)
	}

	if err := o.writeManifest(out); err != nil {
		o.logger.Warn("Orchestrator: write manifest", "error", err)
	}
}

func (o *Orchestrator) summaryLines(out *Outcome) []string {
	lines := []string{
		"Run ID: " + out.RunID,
		"Total Runtime: " + timing.FormatDuration(out.Elapsed),
		"Phase 1 (No Indexes): " + out.Phase1.Label(),
		"Phase 2 (With Indexes): " + out.Phase2.Label(),
		"Results Directory: " + out.ResultsDir,
	}

	if files := o.keyFiles(out); len(files) > 0 {
		lines = append(lines, "Key Files:")
		for _, f := range files {
			lines = append(lines, "  - "+f)
		}
	}
	timingPath := filepath.Join(out.ResultsDir, TimingFile)
	if _, err := os.Stat(timingPath); err == nil {
		lines = append(lines, "Timing: "+timingPath)
	}

	switch out.State {
	case phase.StateComplete:
		lines = append(lines, "✅ Benchmark complete")
	case phase.StateInterrupted:
		lines = append(lines, "⚠️  Benchmark interrupted")
	default:
		msg := "❌ Benchmark failed"
		if out.Err != nil {
			msg += ": " + out.Err.Error()
		}
		lines = append(lines, msg)
	}
	return lines
}

// keyFiles lists the monitored and gated logs of the completed load phases that exist.
func (o *Orchestrator) keyFiles(out *Outcome) []string {
	var files []string
	add := func(stage phase.Stage, status phase.Status) {
		if status != phase.StatusCompleted {
			return
		}
		for _, st := range o.deps.Plan.Steps(stage) {
			if !st.Monitor && !st.RequiresValidation() {
				continue
			}
			path := filepath.Join(out.ResultsDir, st.LogFile)
			if _, err := os.Stat(path); err == nil {
				files = append(files, path)
			}
		}
	}
	add(phase.StagePhase1, out.Phase1)
	add(phase.StagePhase2, out.Phase2)
	return files
}

func (o *Orchestrator) writeManifest(out *Outcome) error {
	m := Manifest{
		RunID:          out.RunID,
		StartedAt:      o.deps.Run.StartedAt.UTC(),
		ElapsedSeconds: out.Elapsed.Seconds(),
		Mode:           o.deps.Run.Mode,
		Interactive:    o.deps.Run.Interactive,
		Command:        o.deps.Workload.Command,
		State:          out.State,
		States:         out.States,
		ExitCode:       out.ExitCode(),
		Phase1:         out.Phase1,
		Phase2:         out.Phase2,
		Phases:         make([]ManifestPhase, 0, len(out.Results)),
	}
	if out.Err != nil {
		m.Error = out.Err.Error()
	}
	for _, r := range out.Results {
		m.Phases = append(m.Phases, ManifestPhase{
			ID:              r.PhaseID,
			Name:            r.Name,
			Success:         r.Success,
			ExitCode:        r.ExitCode,
			DurationSeconds: r.Duration.Seconds(),
			Log:             r.LogPath,
		})
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out.ResultsDir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// exportMetrics writes the textfile and pushes to the gateway when configured.
// Export failures are logged; they never change the outcome.
func (o *Orchestrator) exportMetrics(ctx context.Context, out *Outcome) {
	rec := o.deps.Metrics
	if rec == nil {
		return
	}
	rec.ObserveRun(o.deps.Run.Mode, out.State, out.ExitCode(), out.Elapsed)

	if o.deps.Export.Textfile {
		path := filepath.Join(out.ResultsDir, MetricsFile)
		if err := rec.WriteTextfile(path); err != nil {
			o.logger.Warn("Orchestrator: write metrics textfile", "path", path, "error", err)
		}
	}

	if o.deps.Export.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()
		if err := rec.Push(pushCtx, o.deps.Export.PushgatewayURL, o.deps.Export.Job); err != nil {
			o.logger.Warn("Orchestrator: push metrics", "url", o.deps.Export.PushgatewayURL, "error", err)
		}
	}
}

// LoadManifest reads a run.yaml written by a previous run.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
