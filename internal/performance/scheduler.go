package performance

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// VUScheduler owns the VU pool. Executors ask it to grow or shrink the
// pool; every VU it creates shares the workload, the fixture and the
// collector it was built with.
type VUScheduler struct {
	workload  Workload
	fixture   *FixtureStore
	collector *metrics.Collector
	logger    logrus.FieldLogger
	seed      int64

	httpClientConfig HTTPClientConfig
	sharedClient     *http.Client

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID   atomic.Int32
	iterations atomic.Int64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// HTTPClientConfig shapes the transport VUs reach the target through.
type HTTPClientConfig struct {
	// Timeout bounds a whole request, body included
	Timeout time.Duration

	// Connection pool limits, passed to http.Transport as is
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool

	// InsecureSkipVerify accepts self-signed target certificates
	InsecureSkipVerify bool

	// UseSharedClient gives every VU the same client; false gives each VU
	// its own connection pool
	UseSharedClient bool
}

// DefaultHTTPClientConfig keeps enough idle connections for a few hundred VUs.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithSeed makes every VU's random source deterministic.
func WithSeed(seed int64) SchedulerOption {
	return func(s *VUScheduler) { s.seed = seed }
}

// WithLogger sets the logger VUs and sessions log through.
func WithLogger(logger logrus.FieldLogger) SchedulerOption {
	return func(s *VUScheduler) { s.logger = logger }
}

// NewVUScheduler builds an empty pool around workload.
func NewVUScheduler(workload Workload, fixture *FixtureStore, collector *metrics.Collector,
	httpConfig HTTPClientConfig, opts ...SchedulerOption) *VUScheduler {
	s := &VUScheduler{
		workload:         workload,
		fixture:          fixture,
		collector:        collector,
		logger:           logrus.StandardLogger(),
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
		shutdownCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Setup always goes through the shared client.
	s.sharedClient = NewHTTPClient(httpConfig)

	return s
}

// NewHTTPClient creates an HTTP client with the given settings.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// SetupSession returns the session a workload's Setup issues requests
// through. Its outcomes are tagged as setup traffic.
func (s *VUScheduler) SetupSession() *Session {
	return NewSession(s.sharedClient, s.collector, s.logger.WithField("phase", "setup"), 0, 0, true)
}

// SpawnVU creates and registers a new Virtual User. The caller is
// responsible for running it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	client := s.sharedClient
	if !s.httpClientConfig.UseSharedClient {
		client = NewHTTPClient(s.httpClientConfig)
	}

	vu := NewVirtualUser(id, s.workload, s.fixture, client, s.collector, s.logger, s.seed)
	vu.onStart = func() { s.iterations.Add(1) }

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU looks a VU up by id; nil when unknown.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of VUs that have not been asked to stop.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if isLive(vu) {
			count++
		}
	}
	return count
}

// GetRunningVUCount returns the count of VUs whose goroutine has not exited,
// including those draining after a stop request.
func (s *VUScheduler) GetRunningVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return len(s.vus)
}

// Iterations returns the number of iterations started by all VUs.
func (s *VUScheduler) Iterations() int64 {
	return s.iterations.Load()
}

func isLive(vu *VirtualUser) bool {
	st := vu.GetState()
	return st == VUStateIdle || st == VUStateRunning
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU forgets a VU once its goroutine has exited.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// WaitForAllVUs blocks until every VU has exited or timeout elapses, and
// reports how many were still running at the deadline.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-vu.doneCh:
			default:
				notStopped++
			}
			continue
		}

		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}

	return notStopped
}

// Pacing returns how long a VU waits between iterations. A nil Pacing means
// no wait.
type Pacing func(vu *VirtualUser) time.Duration

// RunVU runs a VU until it is asked to stop, the scheduler shuts down or ctx
// is cancelled. Cancelling ctx abandons the iteration in flight.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, pacing Pacing) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer s.RemoveVU(vu.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-vu.Stopping():
			return
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			if ctx.Err() != nil || !isLive(vu) {
				return
			}
			vu.logger.WithError(err).Warn("iteration failed")
		}

		if pacing == nil {
			continue
		}
		if wait := pacing(vu); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.shutdownCh:
				timer.Stop()
				return
			case <-vu.Stopping():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// ScaleVUs adjusts the number of live VUs to target. New VUs are handed to
// onSpawn; excess VUs, newest first, are asked to stop after their current
// iteration.
//
// Returns the live VU count after adjustment.
func (s *VUScheduler) ScaleVUs(target int, onSpawn func(*VirtualUser)) int {
	current := s.GetActiveVUCount()

	if target > current {
		for i := current; i < target; i++ {
			vu := s.SpawnVU()
			if onSpawn != nil {
				onSpawn(vu)
			}
		}
	} else if target < current {
		s.vusMu.RLock()
		live := make([]*VirtualUser, 0, len(s.vus))
		for _, vu := range s.vus {
			if isLive(vu) {
				live = append(live, vu)
			}
		}
		s.vusMu.RUnlock()

		sort.Slice(live, func(i, j int) bool { return live[i].ID > live[j].ID })
		for i := 0; i < current-target && i < len(live); i++ {
			live[i].RequestStop()
		}
	}

	count := s.GetActiveVUCount()
	s.collector.SetActiveVUs(count)
	return count
}

// Shutdown stops all VUs and waits up to timeout for them to exit.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("VUs still running after shutdown timeout")
	}

	s.sharedClient.CloseIdleConnections()
}
