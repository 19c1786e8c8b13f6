// Package engine orchestrates a load run: setup, the staged VU ramp, drain,
// freeze and threshold evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/config"
	"github.com/wesleyorama2/rpzload/internal/performance/executor"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
	"github.com/wesleyorama2/rpzload/internal/performance/threshold"
)

var (
	// ErrSetup wraps every error that aborted the setup phase.
	ErrSetup = errors.New("setup aborted")

	// ErrAlreadyRunning is returned by Run while a run is in progress.
	ErrAlreadyRunning = errors.New("engine is already running")
)

// shutdownTimeout bounds the final scheduler shutdown. Every VU goroutine
// has already exited by then, so it only matters for leaked connections.
const shutdownTimeout = time.Second

// Engine is the orchestrator of one load run.
//
// It coordinates:
//   - the setup phase and fixture publication
//   - the ramping VU executor
//   - metrics collection and the final freeze
//   - threshold evaluation
//
// Example usage:
//
//	cfg := &config.TestConfig{}
//	config.ApplyDefaults(cfg)
//	e, _ := engine.New(cfg, rpz.NewWorkload(cfg), logger)
//	result, _ := e.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config   *config.TestConfig
	workload performance.Workload
	logger   logrus.FieldLogger
	criteria map[string][]threshold.Criterion

	mu          sync.RWMutex
	running     bool
	stopped     bool
	runID       string
	startTime   time.Time
	collector   *metrics.Collector
	exec        executor.Executor
	setupCancel context.CancelFunc
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	Target    string        `json:"target"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// SetupDuration is how long the setup phase took
	SetupDuration time.Duration `json:"setupDuration"`

	// Metrics is the live view at the end of the run
	Metrics      *metrics.Snapshot               `json:"metrics,omitempty"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	RequestStats map[string]metrics.LatencyStats `json:"requestStats,omitempty"`
	Phases       []metrics.PhaseChange           `json:"phases,omitempty"`
	Executor     *executor.Stats                 `json:"executor,omitempty"`

	// Summary holds the frozen statistics of every series
	Summary []metrics.MetricSummary `json:"summary"`
	Checks  []metrics.CheckStats    `json:"checks"`

	// Threshold evaluation
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Interrupted is set when the run was stopped before its stages ended
	Interrupted bool `json:"interrupted,omitempty"`

	// LateRecords counts outcomes that arrived after the freeze
	LateRecords int64 `json:"lateRecords,omitempty"`

	// Error if the run failed catastrophically
	Error string `json:"error,omitempty"`
}

// New creates an engine for cfg. Defaults are applied to cfg and the result
// is validated; cfg must not be modified afterwards.
func New(cfg *config.TestConfig, workload performance.Workload, logger logrus.FieldLogger) (*Engine, error) {
	if workload == nil {
		return nil, errors.New("workload is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	criteria, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Engine{
		config:   cfg,
		workload: workload,
		logger:   logger.WithField("component", "engine"),
		criteria: criteria,
	}, nil
}

// Run executes the setup phase and the stage profile, then evaluates the
// thresholds. It returns a result even when the run fails; the error is
// non-nil only for setup failures (wrapping ErrSetup) and executor errors.
//
// Cancelling ctx abandons in-flight requests at once. Use Stop for a
// graceful interrupt.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	exec, err := executor.CreateAndInitExecutor(ctx, e.config.ToExecutorConfig(), e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.stopped = false
	e.runID = uuid.NewString()
	e.startTime = time.Now()
	e.collector = metrics.NewCollector()
	e.exec = exec
	runID, startTime, collector := e.runID, e.startTime, e.collector
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	log := e.logger.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"target": e.config.Target.BaseURL(),
		"vus":    e.config.VUs,
		"stages": len(e.config.Stages),
	}).Info("starting run")

	fixture := performance.NewFixtureStore()
	scheduler := performance.NewVUScheduler(e.workload, fixture, collector, e.config.HTTPClientConfig(),
		performance.WithSeed(e.config.Seed),
		performance.WithLogger(log),
	)

	collector.SetPhase(metrics.PhaseSetup)
	setupStart := time.Now()
	data, setupErr := e.runSetup(ctx, scheduler)
	setupDuration := time.Since(setupStart)

	if setupErr == nil {
		if err := fixture.Publish(data); err != nil {
			setupErr = err
		}
	}

	var runErr error
	if setupErr != nil {
		log.WithError(setupErr).Error("setup failed, no iterations will run")
		runErr = fmt.Errorf("%w: %w", ErrSetup, setupErr)
	} else {
		log.WithField("duration", setupDuration).Info("setup finished")
		if err := exec.Run(ctx, scheduler, collector); err != nil {
			runErr = fmt.Errorf("executor failed: %w", err)
		}
	}

	scheduler.Shutdown(shutdownTimeout)
	collector.Freeze()
	log.Debug("metrics frozen")

	result := e.buildResult(runID, startTime, collector, exec)
	result.SetupDuration = setupDuration
	result.Interrupted = ctx.Err() != nil || e.wasStopped()

	if runErr != nil {
		result.Passed = false
		result.Error = runErr.Error()
		return result, runErr
	}

	log.WithFields(logrus.Fields{
		"passed":      result.Passed,
		"interrupted": result.Interrupted,
		"duration":    result.Duration,
	}).Info("run finished")

	return result, nil
}

// runSetup calls the workload's Setup once under the setup timeout.
func (e *Engine) runSetup(ctx context.Context, scheduler *performance.VUScheduler) (any, error) {
	setupCtx, cancel := context.WithTimeout(ctx, e.config.SetupTimeout.Duration())
	defer cancel()

	e.mu.Lock()
	e.setupCancel = cancel
	stopped := e.stopped
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.setupCancel = nil
		e.mu.Unlock()
	}()

	if stopped {
		return nil, context.Canceled
	}

	e.logger.WithField("items", e.config.ItemsCount).Info("running setup")
	return e.workload.Setup(setupCtx, scheduler.SetupSession())
}

func (e *Engine) buildResult(runID string, startTime time.Time, collector *metrics.Collector, exec executor.Executor) *TestResult {
	verdict := threshold.Evaluate(collector, e.criteria)
	for _, r := range verdict.Failed() {
		e.logger.WithFields(logrus.Fields{
			"metric": r.Metric,
			"reason": r.Reason,
		}).Warn("threshold failed: " + r.Message)
	}

	endTime := time.Now()
	return &TestResult{
		RunID:        runID,
		Name:         e.config.Name,
		Target:       e.config.Target.BaseURL(),
		StartTime:    startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(startTime),
		Metrics:      collector.Snapshot(),
		TimeSeries:   collector.GetTimeSeries(),
		RequestStats: collector.GetRequestStats(),
		Phases:       collector.GetPhaseHistory(),
		Executor:     exec.GetStats(),
		Summary:      collector.Summary(),
		Checks:       collector.Checks(),
		Passed:       verdict.Passed,
		Thresholds:   verdict.Results,
		LateRecords:  collector.Late(),
	}
}

func (e *Engine) wasStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

// Stop interrupts the run gracefully: setup is cancelled, or the stages end
// now and running iterations get the configured graceful stop. If ctx
// expires first, in-flight requests are abandoned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancelSetup, exec := e.setupCancel, e.exec
	e.mu.Unlock()

	e.logger.Info("stop requested")
	if cancelSetup != nil {
		cancelSetup()
	}
	return exec.Stop(ctx)
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// RunID returns the ID of the current or last run.
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// GetConfig returns the resolved run configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// GetProgress returns the stage progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.exec == nil {
		return 0.0
	}
	return e.exec.GetProgress()
}

// GetStats returns the executor statistics, or nil before the first run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.exec == nil {
		return nil
	}
	return e.exec.GetStats()
}

// GetMetrics returns the current live metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.collector == nil {
		return nil
	}
	return e.collector.Snapshot()
}
