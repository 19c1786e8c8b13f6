// Package performance provides the virtual users, the VU pool and the
// request session a load test workload runs on.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// ErrVUNotIdle is returned by RunIteration when the VU is running another
// iteration or has been asked to stop.
var ErrVUNotIdle = errors.New("VU not idle")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU will exit after its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client running workload iterations in a loop.
//
// A VU owns its random source and iteration counter. It holds only a
// reference to the shared fixture, which it never modifies.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	workload   Workload
	fixture    *FixtureStore
	httpClient *http.Client
	collector  *metrics.Collector
	logger     logrus.FieldLogger
	rng        *rand.Rand

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	iteration atomic.Int64
	onStart   func()
}

// NewVirtualUser creates a VU. A non-zero seed makes its random source
// deterministic for a given (seed, id) pair.
func NewVirtualUser(id int, workload Workload, fixture *FixtureStore, httpClient *http.Client,
	collector *metrics.Collector, logger logrus.FieldLogger, seed int64) *VirtualUser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var src rand.Source
	if seed != 0 {
		src = rand.NewPCG(uint64(seed), uint64(id))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &VirtualUser{
		ID:         id,
		workload:   workload,
		fixture:    fixture,
		httpClient: httpClient,
		collector:  collector,
		logger:     logger.WithField("vu", id),
		rng:        rand.New(src),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's random source. It must only be used from the VU's
// own goroutine.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// Stopping returns a channel closed once RequestStop has been called.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// RunIteration runs the workload once.
//
// Iterations that run to completion are recorded in iteration metrics; an
// iteration cut short by ctx is not. Errors returned by the workload are
// passed through for the caller to log.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("%w: VU %d is %s", ErrVUNotIdle, vu.ID, vu.GetState())
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	if vu.onStart != nil {
		vu.onStart()
	}

	n := vu.iteration.Add(1)
	it := &Iteration{
		VUID:    vu.ID,
		Number:  n,
		Fixture: vu.fixture.Get(),
		Rand:    vu.rng,
		Session: NewSession(vu.httpClient, vu.collector, vu.logger, vu.ID, n, false),
	}

	start := time.Now()
	err := vu.workload.Iterate(ctx, it)
	if ctx.Err() == nil {
		_ = vu.collector.RecordIteration(vu.ID, time.Since(start))
	}
	return err
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
