package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// A controller reconciles the live VU pool with TargetVUs on every tick.
// Excess VUs finish their current iteration before exiting. When the stages
// end (or Stop is called) every VU is asked to stop; VUs still running after
// GracefulStop have their context cancelled, which abandons their in-flight
// requests.
//
// Example stages:
//
//	stages:
//	  - duration: 5s
//	    target: 100    # Ramp from 0 to 100 VUs over 5s
//	  - duration: 50s
//	    target: 100    # Stay at 100 VUs
//	  - duration: 5s
//	    target: 0      # Ramp down to 0 VUs over 5s
type RampingVUs struct {
	config *Config
	logger logrus.FieldLogger

	scheduler *performance.VUScheduler
	collector *metrics.Collector

	// State
	mu         sync.RWMutex
	startTime  time.Time
	endTime    time.Time
	stopStages context.CancelFunc
	forceStop  context.CancelFunc
	done       chan struct{}
	stopEarly  bool

	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	forcedStops  atomic.Int32
	running      atomic.Bool

	wg sync.WaitGroup
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(logger logrus.FieldLogger) *RampingVUs {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &RampingVUs{logger: logger.WithField("executor", TypeRampingVUs)}
	e.currentStage.Store(-1)
	return e
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init validates config and applies defaults.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != "" && config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	cfg := *config
	cfg.Type = TypeRampingVUs
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	e.config = &cfg
	return nil
}

// Run starts the executor and blocks until every VU has exited.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, collector *metrics.Collector) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor already running")
	}

	totalDuration := e.config.TotalDuration()

	stagesCtx, stopStages := context.WithTimeout(ctx, totalDuration)
	defer stopStages()
	iterCtx, forceStop := context.WithCancel(ctx)
	defer forceStop()

	done := make(chan struct{})
	defer close(done)

	e.mu.Lock()
	e.scheduler = scheduler
	e.collector = collector
	e.startTime = time.Now()
	e.stopStages = stopStages
	e.forceStop = forceStop
	e.done = done
	if e.stopEarly {
		stopStages()
	}
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"stages":       len(e.config.Stages),
		"duration":     totalDuration,
		"gracefulStop": e.config.GracefulStop,
	}).Info("starting VU ramp")

	e.vuController(stagesCtx, iterCtx)
	e.drain(forceStop)

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()
	e.running.Store(false)

	return nil
}

// vuController reconciles the VU pool with the stage profile until the
// stages end.
func (e *RampingVUs) vuController(stagesCtx, iterCtx context.Context) {
	ticker := time.NewTicker(e.config.Tick)
	defer ticker.Stop()

	e.reconcile(iterCtx)
	for {
		select {
		case <-stagesCtx.Done():
			return
		case <-ticker.C:
			e.reconcile(iterCtx)
		}
	}
}

func (e *RampingVUs) reconcile(iterCtx context.Context) {
	elapsed := e.elapsed()
	target := TargetVUs(e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))

	if idx := StageAt(e.config.Stages, elapsed); idx >= 0 {
		if prev := e.currentStage.Swap(int32(idx)); int(prev) != idx {
			stage := e.config.Stages[idx]
			e.logger.WithFields(logrus.Fields{
				"stage":  idx,
				"name":   stage.Name,
				"target": stage.Target,
			}).Info("stage started")
		}
		e.collector.SetPhase(PhaseOf(e.config.Stages, idx))
	}

	pacing := e.pacing()
	e.scheduler.ScaleVUs(target, func(vu *performance.VirtualUser) {
		e.wg.Add(1)
		go e.runVU(iterCtx, vu, pacing)
	})
}

// drain asks every VU to stop, waits up to GracefulStop and then cancels
// the stragglers. It returns once every VU goroutine has exited.
func (e *RampingVUs) drain(forceStop context.CancelFunc) {
	e.collector.SetPhase(metrics.PhaseDraining)
	e.scheduler.StopAllVUs()

	stragglers := e.scheduler.WaitForAllVUs(e.config.GracefulStop)
	if stragglers > 0 {
		e.forcedStops.Store(int32(stragglers))
		e.logger.WithField("vus", stragglers).Warn("graceful stop expired, cancelling in-flight iterations")
		forceStop()
	}

	e.wg.Wait()
	e.collector.SetActiveVUs(0)
	e.logger.WithField("forced", stragglers).Info("all VUs stopped")
}

// runVU runs a single VU until stopped.
func (e *RampingVUs) runVU(ctx context.Context, vu *performance.VirtualUser, pacing performance.Pacing) {
	defer e.wg.Done()

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	e.scheduler.RunVU(ctx, vu, pacing)
}

// pacing returns the wait between iterations, or nil for none.
func (e *RampingVUs) pacing() performance.Pacing {
	p := e.config.Pacing
	if p == nil {
		return nil
	}

	switch p.Type {
	case PacingConstant:
		wait := p.Duration
		return func(*performance.VirtualUser) time.Duration { return wait }
	case PacingRandom:
		lo, hi := p.Min, p.Max
		return func(vu *performance.VirtualUser) time.Duration {
			if hi <= lo {
				return lo
			}
			return lo + time.Duration(vu.Rand().Int64N(int64(hi-lo)))
		}
	default:
		return nil
	}
}

func (e *RampingVUs) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.startTime.IsZero():
		return 0
	case !e.endTime.IsZero():
		return e.endTime.Sub(e.startTime)
	default:
		return time.Since(e.startTime)
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	started, ended := !e.startTime.IsZero(), !e.endTime.IsZero()
	e.mu.RUnlock()

	switch {
	case !started:
		return 0.0
	case ended:
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(e.elapsed()) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of VU goroutines currently running.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	startTime := e.startTime
	scheduler := e.scheduler
	e.mu.RUnlock()

	stats := &Stats{
		StartTime:    startTime,
		CurrentTime:  time.Now(),
		Elapsed:      e.elapsed(),
		ActiveVUs:    int(e.activeVUs.Load()),
		TargetVUs:    int(e.targetVUs.Load()),
		CurrentStage: int(e.currentStage.Load()),
		ForcedStops:  int(e.forcedStops.Load()),
	}
	if scheduler != nil {
		stats.Iterations = scheduler.Iterations()
	}
	if e.config != nil {
		stats.TotalDuration = e.config.TotalDuration()
		stats.TotalStages = len(e.config.Stages)
		if stats.CurrentStage >= 0 && stats.CurrentStage < len(e.config.Stages) {
			stats.CurrentStageName = e.config.Stages[stats.CurrentStage].Name
		}
	}
	return stats
}

// Stop ends the stages now and drains VUs with the usual graceful stop. If
// ctx expires first, in-flight iterations are cancelled. A Stop before Run
// makes the next Run end its stages immediately.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.mu.Lock()
	stopStages, forceStop, done := e.stopStages, e.forceStop, e.done
	if stopStages == nil {
		e.stopEarly = true
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.logger.Info("stop requested")
	stopStages()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		forceStop()
		<-done
		return ctx.Err()
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
