// Package metrics collects per-request outcomes from concurrent VUs and
// derives the statistics thresholds are evaluated against.
package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the thread-safe accumulator of request outcomes.
//
// Every metric has its own sink, and every sink is split into shards chosen
// by VU ID, so concurrent VUs rarely contend on the same lock. Shards are
// merged only when a statistic is read. Freeze stops all writes and merges
// once; statistics read after Freeze are authoritative.
//
// A Collector also keeps an approximate live view (HDR histograms, time
// buckets, phase and VU count) for progress display.
type Collector struct {
	numShards int
	sinks     sync.Map // name -> *sink

	checkMu    sync.Mutex
	checkOrder []string

	// gate orders Record against Freeze: writers hold the read side.
	gate      sync.RWMutex
	frozen    bool
	frozenAt  time.Time
	late      atomic.Int64
	finalized map[string]*frozenSeries

	startTime time.Time
	live      *liveView

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config CollectorConfig
}

// CollectorConfig contains configuration for the collector.
type CollectorConfig struct {
	// Shards is the number of shards per metric (default: 4x GOMAXPROCS, at least 8)
	Shards int

	// BucketInterval is the interval for live time buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring buffer size for live time buckets (default: 3600)
	MaxBuckets int

	// HistogramMax is the largest live latency in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the live histogram precision (default: 3)
	HistogramSigFigs int
}

// DefaultCollectorConfig returns the default configuration.
func DefaultCollectorConfig() CollectorConfig {
	shards := runtime.GOMAXPROCS(0) * 4
	if shards < 8 {
		shards = 8
	}
	return CollectorConfig{
		Shards:           shards,
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type sink struct {
	name   string
	kind   Kind
	shards []sinkShard
}

type sinkShard struct {
	mu      sync.Mutex
	values  []float64
	sum     float64
	nonZero int64
	total   int64
}

type frozenSeries struct {
	kind    Kind
	sorted  []float64
	sum     float64
	nonZero int64
	total   int64
}

// NewCollector creates a collector with the default configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultCollectorConfig())
}

// NewCollectorWithConfig creates a collector and starts its live emitter.
func NewCollectorWithConfig(config CollectorConfig) *Collector {
	defaults := DefaultCollectorConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = defaults.MaxBuckets
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		numShards:     config.Shards,
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}
	c.live = newLiveView(config, c.startTime)

	c.emitterWg.Add(1)
	go c.runEmitter(ctx)

	return c
}

func (c *Collector) sink(name string, kind Kind) *sink {
	if s, ok := c.sinks.Load(name); ok {
		return s.(*sink)
	}
	s, _ := c.sinks.LoadOrStore(name, &sink{
		name:   name,
		kind:   kind,
		shards: make([]sinkShard, c.numShards),
	})
	return s.(*sink)
}

func (c *Collector) shardIndex(vuID int) int {
	if vuID < 0 {
		vuID = -vuID
	}
	return vuID % c.numShards
}

func (s *sink) add(shard int, value float64) {
	sh := &s.shards[shard]
	sh.mu.Lock()
	switch s.kind {
	case KindTrend:
		sh.values = append(sh.values, value)
	case KindRate:
		sh.total++
		if value != 0 {
			sh.nonZero++
		}
	case KindCounter:
		sh.sum += value
	}
	sh.mu.Unlock()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Record appends one request outcome. It is safe for concurrent use by any
// number of VUs. After Freeze it returns ErrFrozen and the outcome is counted
// as late instead of being recorded.
func (c *Collector) Record(o Outcome) error {
	c.gate.RLock()
	defer c.gate.RUnlock()

	if c.frozen {
		c.late.Add(1)
		return ErrFrozen
	}

	shard := c.shardIndex(o.VUID)
	ms := float64(o.Duration) / float64(time.Millisecond)
	failed := o.Failed()

	if o.Setup {
		c.sink(SetupReqDuration, KindTrend).add(shard, ms)
		c.sink(SetupReqFailed, KindRate).add(shard, boolValue(failed))
	} else {
		c.sink(HTTPReqs, KindCounter).add(shard, 1)
		c.sink(HTTPReqFailed, KindRate).add(shard, boolValue(failed))
		if o.Abandoned {
			c.sink(HTTPReqAbandoned, KindCounter).add(shard, 1)
		} else {
			c.sink(HTTPReqDuration, KindTrend).add(shard, ms)
		}
		c.live.record(shard, o, failed)
	}

	for name, passed := range o.Checks {
		c.recordCheck(shard, name, passed)
	}

	return nil
}

func (c *Collector) recordCheck(shard int, name string, passed bool) {
	c.sink(Checks, KindRate).add(shard, boolValue(passed))

	metricName := CheckMetricName(name)
	if _, ok := c.sinks.Load(metricName); !ok {
		c.checkMu.Lock()
		if _, ok := c.sinks.Load(metricName); !ok {
			c.checkOrder = append(c.checkOrder, name)
			c.sink(metricName, KindRate)
		}
		c.checkMu.Unlock()
	}
	c.sink(metricName, KindRate).add(shard, boolValue(passed))
}

// RecordIteration records one completed VU iteration.
func (c *Collector) RecordIteration(vuID int, d time.Duration) error {
	c.gate.RLock()
	defer c.gate.RUnlock()

	if c.frozen {
		c.late.Add(1)
		return ErrFrozen
	}

	shard := c.shardIndex(vuID)
	c.sink(Iterations, KindCounter).add(shard, 1)
	c.sink(IterationDuration, KindTrend).add(shard, float64(d)/float64(time.Millisecond))
	return nil
}

// Freeze stops accepting writes and merges every series. It is idempotent.
func (c *Collector) Freeze() {
	c.stopEmitter()

	c.gate.Lock()
	defer c.gate.Unlock()

	if c.frozen {
		return
	}

	c.finalized = make(map[string]*frozenSeries)
	c.sinks.Range(func(key, value any) bool {
		c.finalized[key.(string)] = value.(*sink).merge()
		return true
	})
	c.frozen = true
	c.frozenAt = time.Now()
	c.live.setPhase(PhaseDone)
}

// Frozen reports whether Freeze has been called.
func (c *Collector) Frozen() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.frozen
}

// Late returns how many writes arrived after Freeze.
func (c *Collector) Late() int64 {
	return c.late.Load()
}

func (s *sink) merge() *frozenSeries {
	fs := &frozenSeries{kind: s.kind}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		fs.sorted = append(fs.sorted, sh.values...)
		fs.sum += sh.sum
		fs.nonZero += sh.nonZero
		fs.total += sh.total
		sh.mu.Unlock()
	}
	if s.kind == KindTrend {
		sort.Float64s(fs.sorted)
		fs.total = int64(len(fs.sorted))
	}
	return fs
}

// series returns the merged view of a metric. Before Freeze it merges a
// fresh copy, so intermediate values are not authoritative.
func (c *Collector) series(name string) (*frozenSeries, bool) {
	c.gate.RLock()
	if c.frozen {
		fs, ok := c.finalized[name]
		c.gate.RUnlock()
		return fs, ok
	}
	c.gate.RUnlock()

	s, ok := c.sinks.Load(name)
	if !ok {
		return nil, false
	}
	return s.(*sink).merge(), true
}

// Kind returns the kind of a metric that has been written at least once.
func (c *Collector) Kind(name string) (Kind, bool) {
	s, ok := c.sinks.Load(name)
	if !ok {
		return 0, false
	}
	return s.(*sink).kind, true
}

// Names returns all metric names seen so far, sorted.
func (c *Collector) Names() []string {
	var names []string
	c.sinks.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Trend returns the statistics of a trend series.
func (c *Collector) Trend(name string) (TrendStats, error) {
	fs, ok := c.series(name)
	if !ok || fs.kind != KindTrend || len(fs.sorted) == 0 {
		return TrendStats{}, ErrNoData
	}
	return trendStats(fs.sorted), nil
}

// Percentile returns the p-th percentile (0-100) of a trend series.
func (c *Collector) Percentile(name string, p float64) (float64, error) {
	fs, ok := c.series(name)
	if !ok || fs.kind != KindTrend || len(fs.sorted) == 0 {
		return 0, ErrNoData
	}
	return percentile(fs.sorted, p), nil
}

// Rate returns the share of non-zero samples of a rate series. With no
// samples the rate is 0, NoData is set and ErrNoData is returned.
func (c *Collector) Rate(name string) (RateStats, error) {
	fs, ok := c.series(name)
	if !ok || fs.kind != KindRate || fs.total == 0 {
		return RateStats{NoData: true}, ErrNoData
	}
	return RateStats{
		NonZero: fs.nonZero,
		Total:   fs.total,
		Rate:    float64(fs.nonZero) / float64(fs.total),
	}, nil
}

// Count returns the sum of a counter series and its per-second rate.
func (c *Collector) Count(name string) (CounterStats, error) {
	fs, ok := c.series(name)
	if !ok || fs.kind != KindCounter {
		return CounterStats{}, ErrNoData
	}

	elapsed := c.Elapsed()
	stats := CounterStats{Count: fs.sum}
	if elapsed > 0 {
		stats.Rate = fs.sum / elapsed.Seconds()
	}
	return stats, nil
}

// Elapsed returns the collector lifetime, up to Freeze once frozen.
func (c *Collector) Elapsed() time.Duration {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.frozen {
		return c.frozenAt.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Checks returns per-check pass/fail counts in first-seen order.
func (c *Collector) Checks() []CheckStats {
	c.checkMu.Lock()
	order := make([]string, len(c.checkOrder))
	copy(order, c.checkOrder)
	c.checkMu.Unlock()

	result := make([]CheckStats, 0, len(order))
	for _, name := range order {
		rs, err := c.Rate(CheckMetricName(name))
		if err != nil {
			continue
		}
		result = append(result, CheckStats{
			Name:   name,
			Passes: rs.NonZero,
			Fails:  rs.Total - rs.NonZero,
		})
	}
	return result
}

// Summary returns the statistics of every series, sorted by name.
func (c *Collector) Summary() []MetricSummary {
	names := c.Names()
	result := make([]MetricSummary, 0, len(names))

	for _, name := range names {
		kind, _ := c.Kind(name)
		ms := MetricSummary{Name: name, Kind: kind.String()}

		switch kind {
		case KindTrend:
			if ts, err := c.Trend(name); err == nil {
				ms.Trend = &ts
			}
		case KindRate:
			rs, _ := c.Rate(name)
			ms.Rate = &rs
		case KindCounter:
			if cs, err := c.Count(name); err == nil {
				ms.Counter = &cs
			}
		}
		result = append(result, ms)
	}
	return result
}

// SetPhase updates the current run phase.
func (c *Collector) SetPhase(phase Phase) {
	c.live.setPhase(phase)
}

// GetPhase returns the current run phase.
func (c *Collector) GetPhase() Phase {
	return c.live.getPhase()
}

// GetPhaseHistory returns all phase changes in order.
func (c *Collector) GetPhaseHistory() []PhaseChange {
	return c.live.phaseHistory()
}

// SetActiveVUs updates the active VU count.
func (c *Collector) SetActiveVUs(count int) {
	c.live.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the active VU count.
func (c *Collector) GetActiveVUs() int {
	return int(c.live.activeVUs.Load())
}

// Snapshot returns the live view.
func (c *Collector) Snapshot() *Snapshot {
	return c.live.snapshot()
}

// GetTimeSeries returns the live time buckets.
func (c *Collector) GetTimeSeries() []*TimeBucket {
	return c.live.buckets.GetBuckets()
}

// GetRequestStats returns live latency statistics per request name.
func (c *Collector) GetRequestStats() map[string]LatencyStats {
	return c.live.requestStats()
}

func (c *Collector) runEmitter(ctx context.Context) {
	defer c.emitterWg.Done()

	ticker := time.NewTicker(c.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.live.emitBucket()
		}
	}
}

// stopEmitter stops the live emitter and emits a final bucket.
func (c *Collector) stopEmitter() {
	c.stopOnce.Do(func() {
		c.emitterCancel()
		c.emitterWg.Wait()
		c.live.emitBucket()
	})
}
