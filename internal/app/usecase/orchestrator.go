// Package usecase provides the benchmark run orchestration logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/config"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/history"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/gate"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/metrics"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/runner"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/tail"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/timing"
)

const (
	// TimingFile is the cumulative per-phase timing file in the results dir.
	TimingFile = "timing.txt"
	// SummaryFile is the final textual summary in the results dir.
	SummaryFile = "summary.txt"
	// ManifestFile is the machine-readable run manifest in the results dir.
	ManifestFile = "run.yaml"
	// MetricsFile is the Prometheus textfile in the results dir.
	MetricsFile = "metrics.prom"

	// Phase2Question is the consent prompt shown between the load phases.
	Phase2Question = "Continue with Phase 2 (with indexes)?"
)

// ProcessRunner runs one workload command to completion.
type ProcessRunner interface {
	Run(ctx context.Context, argv []string, logPath string) (runner.Result, error)
}

// Sink receives everything the operator sees. Progress is called from the monitor
// goroutine; all other methods from the orchestrator goroutine.
type Sink interface {
	Header(title string, fields [][2]string)
	Section(title string)
	PhaseStart(p phase.Phase)
	PhaseSuccess(p phase.Phase, d time.Duration)
	PhaseFailure(p phase.Phase, reason, logPath string)
	Success(msg string)
	Warning(msg string)
	Error(msg string)
	Info(msg string)
	Progress(ev progress.Event)
}

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Preflighter checks the environment before the first phase.
type Preflighter interface {
	Check(ctx context.Context) error
}

// MetricsExport controls where the run's metrics go at the end of the run.
type MetricsExport struct {
	Textfile       bool
	PushgatewayURL string
	Job            string
}

// OrchestratorDeps wires an Orchestrator. Run, Plan, Workload, Runner and Sink are
// required; the rest are optional.
type OrchestratorDeps struct {
	Run      phase.RunContext
	Plan     *phase.Plan
	Workload config.WorkloadConfig

	Runner  ProcessRunner
	Monitor *tail.Monitor
	// Grace is how long to wait for the monitor after a monitored process exits.
	Grace time.Duration

	Sink      Sink
	Prompter  Prompter
	Preflight Preflighter
	History   RunRepository
	Metrics   *metrics.Recorder
	Export    MetricsExport
	Logger    *slog.Logger
}

// Outcome is the result of a run.
type Outcome struct {
	RunID      string
	ResultsDir string
	State      phase.State
	States     []phase.State
	Phase1     phase.Status
	Phase2     phase.Status
	Results    []phase.Result
	Err        error
	Elapsed    time.Duration
}

// ExitCode maps the final state to the process exit status.
func (o *Outcome) ExitCode() int {
	switch o.State {
	case phase.StateComplete:
		return 0
	case phase.StateInterrupted:
		return 130
	default:
		return 1
	}
}

// Reached reports whether the run passed through s.
func (o *Outcome) Reached(s phase.State) bool {
	for _, st := range o.States {
		if st == s {
			return true
		}
	}
	return false
}

// Orchestrator sequences the phases of one run. It is single-use.
type Orchestrator struct {
	deps   OrchestratorDeps
	logger *slog.Logger

	machine *phase.Machine
	timer   *timing.Timer
	phase1  phase.Status
	phase2  phase.Status
	err     error
}

// NewOrchestrator creates an orchestrator for one run.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.Runner == nil || deps.Sink == nil {
		return nil, errors.New("orchestrator: runner and sink are required")
	}
	if deps.Plan == nil {
		return nil, errors.New("orchestrator: plan is required")
	}
	if err := deps.Plan.Validate(); err != nil {
		return nil, err
	}
	if !deps.Run.Mode.IsValid() {
		return nil, fmt.Errorf("orchestrator: invalid mode %q", deps.Run.Mode)
	}
	if deps.Run.ResultsDir == "" {
		return nil, errors.New("orchestrator: results dir is required")
	}
	if deps.Run.StartedAt.IsZero() {
		deps.Run.StartedAt = time.Now()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", deps.Run.ID)

	o := &Orchestrator{
		deps:    deps,
		logger:  logger,
		machine: phase.NewMachine(),
		phase1:  phase.StatusNotRequested,
		phase2:  phase.StatusNotRequested,
	}
	if deps.Run.Mode.IncludesPhase1() {
		o.phase1 = phase.StatusNotRun
	}
	if deps.Run.Mode.IncludesPhase2() {
		o.phase2 = phase.StatusNotRun
	}
	return o, nil
}

// Run executes the run to a terminal state and emits the summary.
// It never returns nil; failures are reported in the Outcome.
func (o *Orchestrator) Run(ctx context.Context) *Outcome {
	o.timer = timing.New()
	rc := o.deps.Run

	o.deps.Sink.Header("Streaming INSERT Benchmark", [][2]string{
		{"Run ID", rc.ID},
		{"Results", rc.ResultsDir},
		{"Phase", string(rc.Mode)},
		{"Interactive", fmt.Sprintf("%t", rc.Interactive)},
		{"Command", o.deps.Workload.Command},
		{"Scripts", o.deps.Workload.ScriptsDir},
	})
	o.logger.Info("Orchestrator: run started",
		"mode", rc.Mode,
		"results_dir", rc.ResultsDir,
		"interactive", rc.Interactive)

	if err := os.MkdirAll(rc.ResultsDir, 0o755); err != nil {
		o.abort(fmt.Errorf("%w: create results dir: %v", ErrSetupFailure, err), nil)
		return o.finish(ctx)
	}
	o.saveHistory(ctx)

	if o.runSetup(ctx) && o.runPhase1(ctx) && o.awaitConsent(ctx) {
		o.runPhase2(ctx)
	}
	return o.finish(ctx)
}

// runSetup runs preflight and the setup stage. It reports whether the run continues.
func (o *Orchestrator) runSetup(ctx context.Context) bool {
	o.deps.Sink.Section("SETUP & VALIDATION")

	if o.deps.Preflight != nil {
		if err := o.deps.Preflight.Check(ctx); err != nil {
			if ctx.Err() != nil {
				err = ErrInterrupted
			} else {
				err = fmt.Errorf("%w: %w", ErrSetupFailure, err)
			}
			o.deps.Sink.Error(err.Error())
			o.abort(err, nil)
			return false
		}
	}

	if err := o.runStage(ctx, phase.StageSetup); err != nil {
		o.abort(err, nil)
		return false
	}
	o.deps.Sink.Success("Setup complete")
	return true
}

// runPhase1 runs phase 1 when requested. It reports whether the run continues to
// the consent step.
func (o *Orchestrator) runPhase1(ctx context.Context) bool {
	if !o.deps.Run.Mode.IncludesPhase1() {
		return o.transition(phase.StateAwaitingPhase2Consent)
	}

	if !o.transition(phase.StatePhase1Running) {
		return false
	}
	o.deps.Sink.Section("PHASE 1: STREAMING INSERTS (NO INDEXES)")
	if err := o.runStage(ctx, phase.StagePhase1); err != nil {
		o.abort(err, &o.phase1)
		return false
	}
	o.phase1 = phase.StatusCompleted
	if !o.transition(phase.StatePhase1Done) {
		return false
	}
	o.deps.Sink.Success("Phase 1 complete")

	if !o.deps.Run.Mode.IncludesPhase2() {
		o.transition(phase.StateComplete)
		return false
	}
	return o.transition(phase.StateAwaitingPhase2Consent)
}

// awaitConsent decides whether phase 2 runs. It reports whether it should.
func (o *Orchestrator) awaitConsent(ctx context.Context) bool {
	if ctx.Err() != nil {
		o.abort(ErrInterrupted, &o.phase2)
		return false
	}

	if !o.deps.Run.Interactive || o.deps.Prompter == nil {
		o.logger.Info("Orchestrator: phase 2 consent is automatic")
		return true
	}

	yes, err := o.deps.Prompter.Confirm(ctx, Phase2Question)
	if err != nil {
		if ctx.Err() != nil {
			o.abort(ErrInterrupted, &o.phase2)
			return false
		}
		o.logger.Warn("Orchestrator: consent prompt failed, treating as no", "error", err)
		yes = false
	}
	if yes {
		return true
	}

	o.phase2 = phase.StatusSkipped
	o.logger.Info("Orchestrator: phase 2 declined")
	o.deps.Sink.Info("Skipping Phase 2. Phase 1 results are in " + o.deps.Run.ResultsDir)
	o.deps.Sink.Info("To run Phase 2 later: streambench run --phase 2")
	o.transition(phase.StateComplete)
	return false
}

func (o *Orchestrator) runPhase2(ctx context.Context) {
	if !o.transition(phase.StatePhase2Running) {
		return
	}
	o.deps.Sink.Section("PHASE 2: STREAMING INSERTS (WITH INDEXES)")
	if err := o.runStage(ctx, phase.StagePhase2); err != nil {
		o.abort(err, &o.phase2)
		return
	}
	o.phase2 = phase.StatusCompleted
	if !o.transition(phase.StatePhase2Done) {
		return
	}
	o.deps.Sink.Success("Phase 2 complete")
	o.transition(phase.StateComplete)
}

// runStage runs every step of a stage in order and stops at the first failure.
func (o *Orchestrator) runStage(ctx context.Context, stage phase.Stage) error {
	for _, step := range o.deps.Plan.Steps(stage) {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		if err := o.runStep(ctx, stage, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep runs one phase: script check, optional live monitor, the process, then
// the gate against the finished log.
func (o *Orchestrator) runStep(ctx context.Context, stage phase.Stage, step phase.Step) error {
	p := step.Phase
	script := filepath.Join(o.deps.Workload.ScriptsDir, p.Script)
	logPath := filepath.Join(o.deps.Run.ResultsDir, p.LogFile)
	logger := o.logger.With("phase", p.ID, "log_file", logPath)

	failKind := ErrPhaseFailed
	if stage == phase.StageSetup {
		failKind = ErrSetupFailure
	}
	phaseErr := func(exitCode int, err error) *PhaseError {
		return &PhaseError{PhaseID: p.ID, Name: p.Name, LogPath: logPath, ExitCode: exitCode, Err: err}
	}

	o.deps.Sink.PhaseStart(p)
	logger.Info("Orchestrator: phase started", "name", p.Name, "script", script, "monitor", p.Monitor)

	if _, err := os.Stat(script); err != nil {
		res := phase.Result{PhaseID: p.ID, Name: p.Name, ExitCode: -1, LogPath: logPath}
		o.record(ctx, stage, res)
		o.deps.Sink.PhaseFailure(p, "script not found: "+script, "")
		logger.Error("Orchestrator: script not found", "script", script, "error", err)
		return &PhaseError{PhaseID: p.ID, Name: p.Name, ExitCode: -1,
			Err: fmt.Errorf("%w: %w: %s", failKind, ErrScriptNotFound, script)}
	}

	argv, err := runner.BuildCommand(o.deps.Workload.Command, o.deps.Workload.ScriptFlag, script)
	if err != nil {
		res := phase.Result{PhaseID: p.ID, Name: p.Name, ExitCode: -1, LogPath: logPath}
		o.record(ctx, stage, res)
		o.deps.Sink.PhaseFailure(p, err.Error(), "")
		return phaseErr(-1, fmt.Errorf("%w: build command: %v", failKind, err))
	}

	var sess *tail.Session
	if p.Monitor && o.deps.Monitor != nil {
		// A rerun leaves the previous log behind; the new one is tailed from zero.
		if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("Orchestrator: could not remove stale log", "error", err)
		}
		sess = o.deps.Monitor.Start(ctx, logPath, o.progressHandler(p.ID))
		<-sess.Ready()
	}

	runRes, runErr := o.deps.Runner.Run(ctx, argv, logPath)

	if sess != nil {
		finished := sess.Stop(o.deps.Grace)
		logger.Debug("Orchestrator: monitor stopped",
			"finished", finished,
			"events", sess.Events(),
			"stream_complete", sess.Completed())
	}

	res := phase.Result{
		PhaseID:  p.ID,
		Name:     p.Name,
		Success:  runErr == nil && runRes.Success(),
		ExitCode: runRes.ExitCode,
		Duration: runRes.Duration,
		LogPath:  logPath,
	}

	switch {
	case runErr != nil:
		o.record(ctx, stage, res)
		o.deps.Sink.PhaseFailure(p, runErr.Error(), logPath)
		logger.Error("Orchestrator: phase could not start", "error", runErr)
		return phaseErr(res.ExitCode, fmt.Errorf("%w: %v", failKind, runErr))

	case runRes.Interrupted || ctx.Err() != nil:
		res.Success = false
		o.record(ctx, stage, res)
		o.deps.Sink.Warning(fmt.Sprintf("Phase %s (%s) interrupted", p.ID, p.Name))
		logger.Warn("Orchestrator: phase interrupted", "exit_code", res.ExitCode)
		return phaseErr(res.ExitCode, ErrInterrupted)

	case runRes.ExitCode != 0:
		o.record(ctx, stage, res)
		o.deps.Sink.PhaseFailure(p, fmt.Sprintf("exit code %d", res.ExitCode), logPath)
		logger.Error("Orchestrator: phase failed", "exit_code", res.ExitCode, "duration", res.Duration)
		return phaseErr(res.ExitCode, failKind)
	}

	o.deps.Sink.PhaseSuccess(p, res.Duration)
	logger.Info("Orchestrator: phase finished", "exit_code", res.ExitCode, "duration", res.Duration)

	if step.RequiresValidation() {
		if err := o.checkGate(stage, step, logPath, logger); err != nil {
			res.Success = false
			o.record(ctx, stage, res)
			return phaseErr(res.ExitCode, err)
		}
	}

	o.record(ctx, stage, res)
	return nil
}

// checkGate runs the step's gate against its finished log. It returns an error only
// for a fatal match or an unreadable artifact.
func (o *Orchestrator) checkGate(stage phase.Stage, step phase.Step, logPath string, logger *slog.Logger) error {
	g := step.Gate
	verdict, err := gate.Check(logPath, g.Marker)
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveGate(step.ID, g.Severity, verdict.Count)
	}
	if err != nil {
		o.deps.Sink.PhaseFailure(step.Phase, "cannot read validation artifact: "+err.Error(), logPath)
		logger.Error("Orchestrator: gate check failed", "marker", g.Marker, "error", err)
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	if !verdict.HasMatches() {
		if g.PassNote != "" {
			o.deps.Sink.Success(g.PassNote)
		}
		logger.Info("Orchestrator: gate passed", "marker", g.Marker)
		return nil
	}

	note := g.MatchNote
	if note == "" {
		note = fmt.Sprintf("marker %q found", g.Marker)
	}
	note = fmt.Sprintf("%s (%d matches)", note, verdict.Count)

	if g.Severity == phase.SeverityWarning {
		o.deps.Sink.Warning(note)
		logger.Warn("Orchestrator: gate warning", "marker", g.Marker, "count", verdict.Count)
		return nil
	}

	o.deps.Sink.PhaseFailure(step.Phase, note, logPath)
	logger.Error("Orchestrator: gate failed", "marker", g.Marker, "count", verdict.Count, "stage", stage)
	return fmt.Errorf("%w: %s", ErrValidationFailure, note)
}

// progressHandler fans one monitor event out to the sink and the metrics.
func (o *Orchestrator) progressHandler(phaseID string) progress.Handler {
	return func(ev progress.Event) {
		o.deps.Sink.Progress(ev)
		if o.deps.Metrics != nil {
			o.deps.Metrics.ObserveProgress(phaseID, ev)
		}
	}
}

// record stores a phase result in the timer, timing file, history and metrics.
func (o *Orchestrator) record(ctx context.Context, stage phase.Stage, res phase.Result) {
	o.timer.Record(res)

	if err := timing.AppendTimingLine(filepath.Join(o.deps.Run.ResultsDir, TimingFile), res); err != nil {
		o.logger.Warn("Orchestrator: write timing line", "phase", res.PhaseID, "error", err)
	}
	if o.deps.History != nil {
		if err := o.deps.History.SavePhaseResult(context.WithoutCancel(ctx), o.deps.Run.ID, res); err != nil {
			o.logger.Warn("Orchestrator: save phase result", "phase", res.PhaseID, "error", err)
		}
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObservePhase(stage, res)
	}
}

// transition moves the state machine. An illegal transition is a programming error;
// it is logged and recorded as the run's failure.
func (o *Orchestrator) transition(target phase.State) bool {
	from := o.machine.Current()
	if err := o.machine.Transition(target); err != nil {
		o.logger.Error("Orchestrator: illegal transition", "error", err)
		if o.err == nil {
			o.err = err
		}
		return false
	}
	o.logger.Info("Orchestrator: state changed", "from", from, "to", target)
	return true
}

// abort moves the run to FAILED, or INTERRUPTED when err is an interrupt.
// status, when set, is the load phase that was running.
func (o *Orchestrator) abort(err error, status *phase.Status) {
	if o.err == nil {
		o.err = err
	}

	target := phase.StateFailed
	st := phase.StatusFailed
	if errors.Is(err, ErrInterrupted) {
		target = phase.StateInterrupted
		st = phase.StatusInterrupted
	}
	if status != nil {
		*status = st
	}

	if !o.machine.Current().CanTransitionTo(target) {
		// finish reports a non-terminal state as FAILED.
		o.logger.Warn("Orchestrator: no transition to terminal state", "from", o.machine.Current(), "to", target)
		return
	}
	o.transition(target)

	if target == phase.StateInterrupted {
		o.deps.Sink.Warning("Benchmark interrupted by user")
		o.logger.Warn("Orchestrator: run interrupted", "error", err)
		return
	}
	o.logger.Error("Orchestrator: run failed", "error", err)
}

// finish closes out the run: final state, summary, manifest, history and metrics.
func (o *Orchestrator) finish(ctx context.Context) *Outcome {
	if !o.machine.Current().IsTerminal() {
		o.logger.Error("Orchestrator: run ended in a non-terminal state", "state", o.machine.Current())
		if o.err == nil {
			o.err = fmt.Errorf("run ended in state %s", o.machine.Current())
		}
	}

	out := &Outcome{
		RunID:      o.deps.Run.ID,
		ResultsDir: o.deps.Run.ResultsDir,
		State:      o.machine.Current(),
		States:     o.machine.History(),
		Phase1:     o.phase1,
		Phase2:     o.phase2,
		Results:    o.timer.Results(),
		Err:        o.err,
		Elapsed:    o.timer.TotalElapsed(),
	}
	if !out.State.IsTerminal() {
		// Never report success for a run that did not reach a terminal state.
		out.State = phase.StateFailed
	}

	// The run context may already be cancelled; bookkeeping still has to land.
	bg := context.WithoutCancel(ctx)
	o.report(out)
	o.saveFinal(bg, out)
	o.exportMetrics(bg, out)

	o.logger.Info("Orchestrator: run finished",
		"state", out.State,
		"exit_code", out.ExitCode(),
		"elapsed", out.Elapsed)
	return out
}

func (o *Orchestrator) saveHistory(ctx context.Context) {
	if o.deps.History == nil {
		return
	}
	rec := o.historyRecord()
	if err := o.deps.History.Save(ctx, rec); err != nil {
		o.logger.Warn("Orchestrator: save run history", "error", err)
	}
}

func (o *Orchestrator) saveFinal(ctx context.Context, out *Outcome) {
	if o.deps.History == nil {
		return
	}
	rec := o.historyRecord()
	finished := o.deps.Run.StartedAt.Add(out.Elapsed)
	rec.FinishedAt = &finished
	rec.State = out.State
	rec.ExitCode = out.ExitCode()
	rec.Duration = out.Elapsed
	if out.Err != nil {
		rec.ErrorMessage = out.Err.Error()
	}
	if err := o.deps.History.Save(ctx, rec); err != nil {
		o.logger.Warn("Orchestrator: save run history", "error", err)
	}
}

func (o *Orchestrator) historyRecord() *history.Record {
	return &history.Record{
		ID:         o.deps.Run.ID,
		StartedAt:  o.deps.Run.StartedAt,
		Mode:       o.deps.Run.Mode,
		State:      o.machine.Current(),
		ResultsDir: o.deps.Run.ResultsDir,
		Command:    o.deps.Workload.Command,
		Phase1:     o.phase1,
		Phase2:     o.phase2,
	}
}
