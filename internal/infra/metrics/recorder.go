// Package metrics exports run and phase measurements in Prometheus format.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
)

const namespace = "streambench"

// Recorder owns a private registry for one run.
// It is safe for concurrent use: progress arrives from the monitor goroutine.
type Recorder struct {
	runID string
	reg   *prometheus.Registry

	phaseDuration *prometheus.GaugeVec
	phaseSuccess  *prometheus.GaugeVec
	phaseExitCode *prometheus.GaugeVec
	phaseHist     *prometheus.HistogramVec
	batches       *prometheus.GaugeVec
	rows          *prometheus.GaugeVec
	checkpoints   *prometheus.CounterVec
	gateMatches   *prometheus.GaugeVec
	runDuration   prometheus.Gauge
	runExitCode   prometheus.Gauge
	runInfo       *prometheus.GaugeVec
}

// NewRecorder creates a recorder for a run.
func NewRecorder(runID string) *Recorder {
	r := &Recorder{
		runID: runID,
		reg:   prometheus.NewRegistry(),
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of the last execution of each phase.",
		}, []string{"stage", "phase", "name"}),
		phaseSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_success",
			Help:      "1 when the phase exited zero and passed its gate.",
		}, []string{"stage", "phase"}),
		phaseExitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_exit_code",
			Help:      "Exit code of the phase's workload process.",
		}, []string{"stage", "phase"}),
		phaseHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_distribution_seconds",
			Help:      "Distribution of phase durations per stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"stage"}),
		batches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_batches",
			Help:      "Last batch number reported by a monitored phase.",
		}, []string{"phase"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_rows_millions",
			Help:      "Running row total, in millions, reported by a monitored phase.",
		}, []string{"phase"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoint markers seen in a monitored phase.",
		}, []string{"phase"}),
		gateMatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_matches",
			Help:      "Lines matching a gate marker in a phase's log.",
		}, []string{"phase", "severity"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total elapsed time of the run.",
		}),
		runExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_exit_code",
			Help:      "Process exit status of the run.",
		}),
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_info",
			Help:      "Constant 1 labelled with the run's identity and final state.",
		}, []string{"run_id", "mode", "state"}),
	}

	r.reg.MustRegister(
		r.phaseDuration, r.phaseSuccess, r.phaseExitCode, r.phaseHist,
		r.batches, r.rows, r.checkpoints, r.gateMatches,
		r.runDuration, r.runExitCode, r.runInfo,
	)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObservePhase records a finished phase.
func (r *Recorder) ObservePhase(stage phase.Stage, res phase.Result) {
	s := string(stage)
	r.phaseDuration.WithLabelValues(s, res.PhaseID, res.Name).Set(res.Duration.Seconds())
	r.phaseSuccess.WithLabelValues(s, res.PhaseID).Set(boolToFloat(res.Success))
	r.phaseExitCode.WithLabelValues(s, res.PhaseID).Set(float64(res.ExitCode))
	r.phaseHist.WithLabelValues(s).Observe(res.Duration.Seconds())
}

// ObserveProgress records one live progress event.
func (r *Recorder) ObserveProgress(phaseID string, ev progress.Event) {
	switch ev.Kind {
	case progress.KindBatch:
		r.batches.WithLabelValues(phaseID).Set(float64(ev.Batch))
		r.rows.WithLabelValues(phaseID).Set(ev.TotalRows)
	case progress.KindCheckpoint:
		r.checkpoints.WithLabelValues(phaseID).Inc()
		r.rows.WithLabelValues(phaseID).Set(ev.Rows)
	}
}

// ObserveGate records a gate verdict.
func (r *Recorder) ObserveGate(phaseID string, severity phase.Severity, count int) {
	r.gateMatches.WithLabelValues(phaseID, string(severity)).Set(float64(count))
}

// ObserveRun records the final state of the run.
func (r *Recorder) ObserveRun(mode phase.Mode, state phase.State, exitCode int, elapsed time.Duration) {
	r.runDuration.Set(elapsed.Seconds())
	r.runExitCode.Set(float64(exitCode))
	r.runInfo.WithLabelValues(r.runID, string(mode), string(state)).Set(1)
}

// WriteTextfile writes the registry in text exposition format, for node_exporter's
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Prometheus pushgateway, grouped by run.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).
		Gatherer(r.reg).
		Grouping("run", r.runID).
		PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
