package phase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPlan is returned when a plan fails validation.
	ErrInvalidPlan = errors.New("invalid plan")
)

// Stage groups the steps the orchestrator runs under one state.
type Stage string

const (
	StageSetup  Stage = "setup"  // Runs under SETUP
	StagePhase1 Stage = "phase1" // Runs under PHASE_1_RUNNING
	StagePhase2 Stage = "phase2" // Runs under PHASE_2_RUNNING
)

// Severity tells the orchestrator what a positive gate match means.
type Severity string

const (
	// SeverityWarning logs the match and continues.
	SeverityWarning Severity = "warning"
	// SeverityFatal fails the phase.
	SeverityFatal Severity = "fatal"
)

// Phase is one discrete, ordered step of the pipeline backed by one external command.
type Phase struct {
	ID      string `json:"id" yaml:"id" mapstructure:"id"`                   // e.g. "6a"
	Name    string `json:"name" yaml:"name" mapstructure:"name"`             // Human readable
	Script  string `json:"script" yaml:"script" mapstructure:"script"`       // Workload unit, relative to the scripts dir
	LogFile string `json:"log_file" yaml:"log_file" mapstructure:"log_file"` // Output artifact, relative to the results dir
	Monitor bool   `json:"monitor" yaml:"monitor" mapstructure:"monitor"`    // Tail the log for progress markers
}

// Gate is a post-hoc validation check against a phase's log artifact.
type Gate struct {
	Marker   string   `json:"marker" yaml:"marker" mapstructure:"marker"`
	Severity Severity `json:"severity" yaml:"severity" mapstructure:"severity"`
	// PassNote is reported when the marker is absent.
	PassNote string `json:"pass_note,omitempty" yaml:"pass_note,omitempty" mapstructure:"pass_note"`
	// MatchNote is reported (with the count) when the marker is present.
	MatchNote string `json:"match_note,omitempty" yaml:"match_note,omitempty" mapstructure:"match_note"`
}

// Step is a phase plus its optional gate.
type Step struct {
	Phase `yaml:",inline" mapstructure:",squash"`
	Gate  *Gate `json:"gate,omitempty" yaml:"gate,omitempty" mapstructure:"gate"`
}

// RequiresValidation reports whether the step is followed by a gate check.
func (s Step) RequiresValidation() bool {
	return s.Gate != nil && s.Gate.Marker != ""
}

// Plan is the statically ordered list of steps for each stage.
type Plan struct {
	Setup  []Step `json:"setup" yaml:"setup" mapstructure:"setup"`
	Phase1 []Step `json:"phase1" yaml:"phase1" mapstructure:"phase1"`
	Phase2 []Step `json:"phase2" yaml:"phase2" mapstructure:"phase2"`
}

// Steps returns the steps for a stage.
func (p *Plan) Steps(stage Stage) []Step {
	switch stage {
	case StageSetup:
		return p.Setup
	case StagePhase1:
		return p.Phase1
	case StagePhase2:
		return p.Phase2
	default:
		return nil
	}
}

// Validate validates the plan.
func (p *Plan) Validate() error {
	seen := make(map[string]Stage)
	for _, stage := range []Stage{StageSetup, StagePhase1, StagePhase2} {
		steps := p.Steps(stage)
		if len(steps) == 0 {
			return fmt.Errorf("%w: stage %s has no steps", ErrInvalidPlan, stage)
		}
		for _, st := range steps {
			if st.ID == "" {
				return fmt.Errorf("%w: stage %s has a step without an id", ErrInvalidPlan, stage)
			}
			if prev, ok := seen[st.ID]; ok {
				return fmt.Errorf("%w: phase id %q used in both %s and %s", ErrInvalidPlan, st.ID, prev, stage)
			}
			seen[st.ID] = stage
			if st.Script == "" || st.LogFile == "" {
				return fmt.Errorf("%w: phase %s needs both script and log_file", ErrInvalidPlan, st.ID)
			}
			if st.Gate != nil {
				if st.Gate.Marker == "" {
					return fmt.Errorf("%w: phase %s gate has no marker", ErrInvalidPlan, st.ID)
				}
				if st.Gate.Severity != SeverityWarning && st.Gate.Severity != SeverityFatal {
					return fmt.Errorf("%w: phase %s gate severity %q", ErrInvalidPlan, st.ID, st.Gate.Severity)
				}
			}
		}
	}
	return nil
}

// Result is the recorded outcome of one phase execution. Immutable once recorded.
type Result struct {
	PhaseID  string        `json:"phase_id" yaml:"phase_id"`
	Name     string        `json:"name" yaml:"name"`
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	LogPath  string        `json:"log_path" yaml:"log_path"`
}

// Mode selects which load phases a run executes.
type Mode string

const (
	ModePhase1 Mode = "1"
	ModePhase2 Mode = "2"
	ModeBoth   Mode = "both"
)

// IsValid checks if the mode is valid.
func (m Mode) IsValid() bool {
	return m == ModePhase1 || m == ModePhase2 || m == ModeBoth
}

// IncludesPhase1 reports whether phase 1 is requested.
func (m Mode) IncludesPhase1() bool {
	return m == ModePhase1 || m == ModeBoth
}

// IncludesPhase2 reports whether phase 2 is requested.
func (m Mode) IncludesPhase2() bool {
	return m == ModePhase2 || m == ModeBoth
}

// Status is the summary status of a load phase.
type Status string

const (
	StatusNotRequested Status = "not_requested"
	StatusNotRun       Status = "not_run" // Requested, but the run ended before it started
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
	StatusInterrupted  Status = "interrupted"
)

// Label returns the text used in the run summary.
func (s Status) Label() string {
	switch s {
	case StatusCompleted:
		return "✅ Complete"
	case StatusFailed:
		return "❌ Failed"
	case StatusSkipped:
		return "⏭  Skipped"
	case StatusInterrupted:
		return "⚠️  Interrupted"
	case StatusNotRun:
		return "Not run"
	default:
		return "Not requested"
	}
}

// RunContext is the process-wide state of one benchmark execution.
// It is mutated only by the orchestrator goroutine.
type RunContext struct {
	ID          string
	StartedAt   time.Time
	ResultsDir  string
	Mode        Mode
	Interactive bool
}
