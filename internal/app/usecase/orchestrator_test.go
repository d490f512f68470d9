package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/console"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/logging"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/metrics"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/runner"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tail"
)

// scripted is what the fake runner does for one log file.
type scripted struct {
	exitCode  int
	output    []string
	startErr  error
	interrupt bool
}

// fakeRunner writes scripted output to the log file instead of running a process.
type fakeRunner struct {
	mu     sync.Mutex
	plan   map[string]scripted // keyed by log file base name
	calls  []string
	argv   map[string][]string
	cancel context.CancelFunc
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{plan: make(map[string]scripted), argv: make(map[string][]string)}
}

func (f *fakeRunner) on(logFile string, s scripted) *fakeRunner {
	f.plan[logFile] = s
	return f
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, logPath string) (runner.Result, error) {
	base := filepath.Base(logPath)
	f.mu.Lock()
	f.calls = append(f.calls, base)
	f.argv[base] = argv
	s := f.plan[base]
	f.mu.Unlock()

	res := runner.Result{ExitCode: -1, StartedAt: time.Now(), LogPath: logPath}
	if s.startErr != nil {
		return res, s.startErr
	}

	out, err := os.Create(logPath)
	if err != nil {
		return res, err
	}
	for _, line := range s.output {
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			out.Close()
			return res, err
		}
	}
	out.Close()

	res.Duration = 10 * time.Millisecond
	if s.interrupt {
		f.cancel()
		res.Interrupted = true
		return res, nil
	}
	res.ExitCode = s.exitCode
	return res, nil
}

func (f *fakeRunner) called(logFile string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == logFile {
			return true
		}
	}
	return false
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var streamOutput = []string{
	"psql:06_streaming_inserts_noindex.sql:12: NOTICE:  starting stream",
	"NOTICE:  [Batch 10/500] Hour: 2, Size: 10000 rows, Total rows so far: 0.1M",
	"NOTICE:  CHECKPOINT: 50 batches complete, 5.0M rows",
	"NOTICE:  Streaming complete!",
}

type harness struct {
	t          *testing.T
	runner     *fakeRunner
	out        *bytes.Buffer
	repo       *MemoryRunRepository
	recorder   *metrics.Recorder
	scriptsDir string
	resultsDir string
	deps       OrchestratorDeps
}

func newHarness(t *testing.T, mode phase.Mode, interactive bool, answers string) *harness {
	t.Helper()
	root := t.TempDir()
	scriptsDir := filepath.Join(root, "sql")
	resultsDir := filepath.Join(root, "results", "run_20250101_120000")
	require.NoError(t, os.MkdirAll(scriptsDir, 0o755))

	plan := phase.DefaultPlan(phase.DefaultMarkers())
	for _, stage := range []phase.Stage{phase.StageSetup, phase.StagePhase1, phase.StagePhase2} {
		for _, st := range plan.Steps(stage) {
			require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, st.Script), []byte("SELECT 1;\n"), 0o644))
		}
	}

	fr := newFakeRunner().
		on("06_streaming_phase1.log", scripted{output: streamOutput}).
		on("07_streaming_phase2.log", scripted{output: streamOutput})

	var in io.Reader
	if answers != "" {
		in = strings.NewReader(answers)
	}
	out := &bytes.Buffer{}
	con := console.New(out, in, console.Options{TotalBatches: 500})
	repo := NewMemoryRunRepository()
	rec := metrics.NewRecorder("run-test")

	h := &harness{
		t:          t,
		runner:     fr,
		out:        out,
		repo:       repo,
		recorder:   rec,
		scriptsDir: scriptsDir,
		resultsDir: resultsDir,
	}
	h.deps = OrchestratorDeps{
		Run: phase.RunContext{
			ID:          "run-test",
			StartedAt:   time.Now(),
			ResultsDir:  resultsDir,
			Mode:        mode,
			Interactive: interactive,
		},
		Plan: plan,
		Workload: config.WorkloadConfig{
			Command:    "psql postgres",
			ScriptFlag: "-f",
			ScriptsDir: scriptsDir,
		},
		Runner: fr,
		Monitor: tail.NewMonitor(tail.Options{
			WaitTimeout:  2 * time.Second,
			WaitInterval: 5 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			Grammar:      progress.NewGrammar(),
			Logger:       logging.Discard(),
		}),
		Grace:    2 * time.Second,
		Sink:     con,
		Prompter: con,
		History:  repo,
		Metrics:  rec,
		Export:   MetricsExport{Textfile: true, Job: "streambench"},
		Logger:   logging.Discard(),
	}
	return h
}

func (h *harness) run(ctx context.Context) *Outcome {
	h.t.Helper()
	o, err := NewOrchestrator(h.deps)
	require.NoError(h.t, err)
	return o.Run(ctx)
}

func (h *harness) read(name string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.resultsDir, name))
	require.NoError(h.t, err)
	return string(data)
}

func TestOrchestrator_Phase1OnlySuccess(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.True(t, out.Reached(phase.StatePhase1Done))
	assert.False(t, out.Reached(phase.StateAwaitingPhase2Consent))
	assert.Equal(t, 0, out.ExitCode())
	assert.NoError(t, out.Err)
	assert.Equal(t, phase.StatusCompleted, out.Phase1)
	assert.Equal(t, phase.StatusNotRequested, out.Phase2)
	require.Len(t, out.Results, 10)
	for _, r := range out.Results {
		assert.True(t, r.Success, r.PhaseID)
	}

	// Every setup and phase-1 step ran, nothing from phase 2.
	assert.Equal(t, 10, h.runner.callCount())
	assert.False(t, h.runner.called("05_create_indexes.log"))

	// Command line is the client, the flag and the script path.
	assert.Equal(t,
		[]string{"psql", "postgres", "-f", filepath.Join(h.scriptsDir, "01_setup_schema.sql")},
		h.runner.argv["01_setup_schema.log"])

	// Live progress reached the console.
	text := h.out.String()
	assert.Contains(t, text, "Batch 10/500")
	assert.Contains(t, text, "Checkpoint: 50 batches, 5.0M rows")
	assert.Contains(t, text, "Stream complete")
	assert.Contains(t, text, "Clustering overhead is acceptable")
	assert.Contains(t, text, "All validation gates passed for Phase 1")

	timingLines := strings.Split(strings.TrimSpace(h.read(TimingFile)), "\n")
	assert.Len(t, timingLines, 10)
	assert.True(t, strings.HasPrefix(timingLines[5], "Phase 6a (Streaming INSERTs - Phase 1 (NO INDEXES)): "), timingLines[5])

	summary := h.read(SummaryFile)
	assert.Contains(t, summary, "Phase 1 (No Indexes): ✅ Complete")
	assert.Contains(t, summary, "Phase 2 (With Indexes): Not requested")
	assert.Contains(t, summary, "11_validation_phase1.txt")
	assert.Contains(t, summary, "✅ Benchmark complete")

	m, err := LoadManifest(filepath.Join(h.resultsDir, ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, phase.StateComplete, m.State)
	assert.Contains(t, m.States, phase.StatePhase1Done)
	assert.Len(t, m.Phases, 10)

	rec, err := h.repo.FindByID(context.Background(), "run-test")
	require.NoError(t, err)
	assert.Equal(t, phase.StateComplete, rec.State)
	assert.Equal(t, phase.StatusCompleted, rec.Phase1)
	assert.NotNil(t, rec.FinishedAt)
	assert.Len(t, rec.Phases, 10)

	prom := h.read(MetricsFile)
	assert.Contains(t, prom, `streambench_checkpoints_total{phase="6a"} 1`)
	assert.Contains(t, prom, `streambench_run_exit_code 0`)
}

func TestOrchestrator_CriticalMarkerFails(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")
	h.runner.on("08_optimize_pax.log", scripted{
		exitCode: 0,
		output: []string{
			"variant | bloat_ratio | status",
			"cdr_pax | 3.20        | ❌ CRITICAL: storage bloat",
		},
	})

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.Equal(t, 1, out.ExitCode())
	assert.False(t, out.Reached(phase.StatePhase1Done))
	assert.True(t, errors.Is(out.Err, ErrValidationFailure))
	assert.Equal(t, phase.StatusFailed, out.Phase1)
	assert.Equal(t, phase.StatusNotRun, out.Phase2)

	var pe *PhaseError
	require.True(t, errors.As(out.Err, &pe))
	assert.Equal(t, "8", pe.PhaseID)
	assert.Equal(t, filepath.Join(h.resultsDir, "08_optimize_pax.log"), pe.LogPath)

	assert.False(t, h.runner.called("09_queries_phase1.log"))

	last := out.Results[len(out.Results)-1]
	assert.Equal(t, "8", last.PhaseID)
	assert.False(t, last.Success)
	assert.Equal(t, 0, last.ExitCode)

	text := h.out.String()
	assert.Contains(t, text, "CRITICAL STORAGE BLOAT DETECTED after clustering (1 matches)")
	assert.Contains(t, text, "Check log: "+filepath.Join(h.resultsDir, "08_optimize_pax.log"))

	// Partial results are still emitted.
	assert.Contains(t, h.read(SummaryFile), "❌ Benchmark failed")
	assert.Contains(t, h.read(TimingFile), "Phase 8 (PAX Z-order Clustering): ")
	assert.Contains(t, h.read(TimingFile), "FAILED (exit 0)")
}

func TestOrchestrator_ValidationFailedMarker(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	h.runner.on("11_validation_phase1.txt", scripted{output: []string{"gate 3: ❌ FAILED row count mismatch"}})

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, ErrValidationFailure))
	assert.False(t, out.Reached(phase.StatePhase1Done))
}

func TestOrchestrator_BothNonInteractive(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, []phase.State{
		phase.StateSetup,
		phase.StatePhase1Running,
		phase.StatePhase1Done,
		phase.StateAwaitingPhase2Consent,
		phase.StatePhase2Running,
		phase.StatePhase2Done,
		phase.StateComplete,
	}, out.States)
	assert.Equal(t, phase.StatusCompleted, out.Phase1)
	assert.Equal(t, phase.StatusCompleted, out.Phase2)
	assert.Equal(t, 17, h.runner.callCount())
	assert.Len(t, out.Results, 17)
	assert.NotContains(t, h.out.String(), Phase2Question)
}

func TestOrchestrator_InteractiveDecline(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, true, "n\n")

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.Equal(t, 0, out.ExitCode())
	assert.NoError(t, out.Err)
	assert.Equal(t, phase.StatusCompleted, out.Phase1)
	assert.Equal(t, phase.StatusSkipped, out.Phase2)
	assert.False(t, out.Reached(phase.StatePhase2Running))
	assert.False(t, h.runner.called("04b_create_variants_phase2.log"))

	text := h.out.String()
	assert.Contains(t, text, Phase2Question+" [Y/n]: ")
	assert.Contains(t, text, "streambench run --phase 2")
	assert.Contains(t, h.read(SummaryFile), "Phase 2 (With Indexes): ⏭  Skipped")
}

func TestOrchestrator_InteractiveAccept(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, true, "\n")

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.Equal(t, phase.StatusCompleted, out.Phase2)
	assert.True(t, h.runner.called("11_validation_phase2.txt"))
}

type cancellingPrompter struct {
	cancel context.CancelFunc
}

func (p cancellingPrompter) Confirm(ctx context.Context, _ string) (bool, error) {
	p.cancel()
	<-ctx.Done()
	return false, ctx.Err()
}

func TestOrchestrator_InterruptAtPrompt(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, true, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deps.Prompter = cancellingPrompter{cancel: cancel}

	out := h.run(ctx)

	assert.Equal(t, phase.StateInterrupted, out.State)
	assert.Equal(t, 130, out.ExitCode())
	assert.Equal(t, phase.StatusCompleted, out.Phase1)
	assert.Equal(t, phase.StatusInterrupted, out.Phase2)
}

func TestOrchestrator_SetupFailure(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")
	h.runner.on("01_setup_schema.log", scripted{exitCode: 3, output: []string{"ERROR:  relation exists"}})

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.Equal(t, 1, out.ExitCode())
	assert.True(t, errors.Is(out.Err, ErrSetupFailure))
	assert.Equal(t, phase.StatusNotRun, out.Phase1)
	assert.Equal(t, phase.StatusNotRun, out.Phase2)
	assert.Equal(t, []phase.State{phase.StateSetup, phase.StateFailed}, out.States)

	var pe *PhaseError
	require.True(t, errors.As(out.Err, &pe))
	assert.Equal(t, 3, pe.ExitCode)
	assert.Equal(t, 2, h.runner.callCount())

	assert.Contains(t, h.out.String(), "Phase 1 (CDR Schema Setup (10K cell towers)) failed: exit code 3")
	assert.FileExists(t, filepath.Join(h.resultsDir, SummaryFile))

	rec, err := h.repo.FindByID(context.Background(), "run-test")
	require.NoError(t, err)
	assert.Equal(t, phase.StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "setup failed")
}

func TestOrchestrator_UnsafeMarkerWarns(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	h.runner.on("02_cardinality_analysis.txt", scripted{output: []string{
		"col_a | 9 | ❌ UNSAFE",
		"col_b | 2 | ❌ UNSAFE",
		"col_c | 90000 | ✅ SAFE",
	}})

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.True(t, out.Reached(phase.StatePhase1Done))
	assert.Contains(t, h.out.String(), "columns marked UNSAFE for bloom filters; they will be EXCLUDED from the configuration (2 matches)")
	assert.NotContains(t, h.out.String(), "All proposed bloom filter columns passed validation")
}

func TestOrchestrator_MissingScript(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	require.NoError(t, os.Remove(filepath.Join(h.scriptsDir, "09_run_queries.sql")))

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, ErrScriptNotFound))
	assert.True(t, errors.Is(out.Err, ErrPhaseFailed))
	assert.False(t, h.runner.called("09_queries_phase1.log"))
	assert.Contains(t, h.out.String(), "script not found")
}

func TestOrchestrator_StartError(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	h.runner.on("09_queries_phase1.log", scripted{startErr: errors.New("exec: \"psql\": executable file not found in $PATH")})

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, ErrPhaseFailed))
	assert.False(t, h.runner.called("10_metrics_phase1.txt"))
}

func TestOrchestrator_Interrupt(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runner.cancel = cancel
	h.runner.on("06_streaming_phase1.log", scripted{interrupt: true, output: streamOutput[:2]})

	out := h.run(ctx)

	assert.Equal(t, phase.StateInterrupted, out.State)
	assert.Equal(t, 130, out.ExitCode())
	assert.True(t, errors.Is(out.Err, ErrInterrupted))
	assert.Equal(t, phase.StatusInterrupted, out.Phase1)
	assert.Equal(t, phase.StatusNotRun, out.Phase2)
	assert.False(t, h.runner.called("08_optimize_pax.log"))

	assert.Contains(t, h.out.String(), "Benchmark interrupted")
	assert.Contains(t, h.read(SummaryFile), "Phase 1 (No Indexes): ⚠️  Interrupted")

	// Bookkeeping lands even though the context is cancelled.
	rec, err := h.repo.FindByID(context.Background(), "run-test")
	require.NoError(t, err)
	assert.Equal(t, phase.StateInterrupted, rec.State)
	assert.Equal(t, 130, rec.ExitCode)
}

func TestOrchestrator_Phase2Only(t *testing.T) {
	h := newHarness(t, phase.ModePhase2, false, "")

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.Equal(t, []phase.State{
		phase.StateSetup,
		phase.StateAwaitingPhase2Consent,
		phase.StatePhase2Running,
		phase.StatePhase2Done,
		phase.StateComplete,
	}, out.States)
	assert.Equal(t, phase.StatusNotRequested, out.Phase1)
	assert.Equal(t, phase.StatusCompleted, out.Phase2)
	assert.False(t, h.runner.called("06_streaming_phase1.log"))
	assert.Equal(t, 12, h.runner.callCount())
}

func TestOrchestrator_StaleLogNotReplayed(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	require.NoError(t, os.MkdirAll(h.resultsDir, 0o755))
	stale := "NOTICE:  [Batch 499/500] Hour: 23, Size: 10000 rows, Total rows so far: 49.9M\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.resultsDir, "06_streaming_phase1.log"), []byte(stale), 0o644))

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.NotContains(t, h.out.String(), "Batch 499/500")
	assert.Contains(t, h.out.String(), "Batch 10/500")
}

func TestOrchestrator_ReportsWithoutMonitor(t *testing.T) {
	h := newHarness(t, phase.ModePhase1, false, "")
	h.deps.Monitor = nil
	h.deps.Metrics = nil
	h.deps.History = nil

	out := h.run(context.Background())

	assert.Equal(t, phase.StateComplete, out.State)
	assert.NotContains(t, h.out.String(), "Batch 10/500")
	assert.NoFileExists(t, filepath.Join(h.resultsDir, MetricsFile))
}

type failingPreflight struct{}

func (failingPreflight) Check(context.Context) error {
	return errors.Join(ErrPreflightFailed, errors.New("workload client: psql not found in PATH"))
}

func TestOrchestrator_PreflightFailure(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")
	h.deps.Preflight = failingPreflight{}

	out := h.run(context.Background())

	assert.Equal(t, phase.StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, ErrSetupFailure))
	assert.True(t, errors.Is(out.Err, ErrPreflightFailed))
	assert.Equal(t, 0, h.runner.callCount())
}

func TestNewOrchestrator_Validation(t *testing.T) {
	h := newHarness(t, phase.ModeBoth, false, "")

	tests := []struct {
		name   string
		mutate func(d *OrchestratorDeps)
	}{
		{"no runner", func(d *OrchestratorDeps) { d.Runner = nil }},
		{"no sink", func(d *OrchestratorDeps) { d.Sink = nil }},
		{"no plan", func(d *OrchestratorDeps) { d.Plan = nil }},
		{"bad plan", func(d *OrchestratorDeps) { d.Plan = &phase.Plan{} }},
		{"bad mode", func(d *OrchestratorDeps) { d.Run.Mode = "3" }},
		{"no results dir", func(d *OrchestratorDeps) { d.Run.ResultsDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := h.deps
			tt.mutate(&deps)
			_, err := NewOrchestrator(deps)
			assert.Error(t, err)
		})
	}
}

func TestOutcome_ExitCode(t *testing.T) {
	assert.Equal(t, 0, (&Outcome{State: phase.StateComplete}).ExitCode())
	assert.Equal(t, 1, (&Outcome{State: phase.StateFailed}).ExitCode())
	assert.Equal(t, 130, (&Outcome{State: phase.StateInterrupted}).ExitCode())
}
