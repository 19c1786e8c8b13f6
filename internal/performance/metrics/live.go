package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// liveView is the approximate, always-readable side of the collector. HDR
// histograms are sharded the same way as the sinks and merged on read.
type liveView struct {
	config    CollectorConfig
	startTime time.Time

	hists []lockedHist

	requestHists   map[string]*lockedHist
	requestHistsMu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	activeVUs       atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phases       []PhaseChange

	buckets *TimeBucketStore
}

type lockedHist struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newLiveView(config CollectorConfig, start time.Time) *liveView {
	lv := &liveView{
		config:       config,
		startTime:    start,
		hists:        make([]lockedHist, config.Shards),
		requestHists: make(map[string]*lockedHist),
		currentPhase: PhaseInit,
		buckets:      NewTimeBucketStore(config.MaxBuckets),
	}
	for i := range lv.hists {
		lv.hists[i].hist = lv.newHist()
	}
	return lv
}

func (lv *liveView) newHist() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, lv.config.HistogramMax, lv.config.HistogramSigFigs)
}

func (lv *liveView) clamp(micros int64) int64 {
	if micros < 1 {
		return 1
	}
	if micros > lv.config.HistogramMax {
		return lv.config.HistogramMax
	}
	return micros
}

func (lv *liveView) record(shard int, o Outcome, failed bool) {
	lv.totalRequests.Add(1)
	lv.totalBytes.Add(o.Bytes)
	if failed {
		lv.failedRequests.Add(1)
	} else {
		lv.successRequests.Add(1)
	}
	lv.buckets.RecordRequest(failed)

	if o.Abandoned {
		return
	}

	micros := lv.clamp(o.DurationMicros())

	h := &lv.hists[shard]
	h.mu.Lock()
	_ = h.hist.RecordValue(micros)
	h.mu.Unlock()

	if o.Name != "" {
		rh := lv.requestHist(o.Name)
		rh.mu.Lock()
		_ = rh.hist.RecordValue(micros)
		rh.mu.Unlock()
	}
}

func (lv *liveView) requestHist(name string) *lockedHist {
	lv.requestHistsMu.RLock()
	rh, ok := lv.requestHists[name]
	lv.requestHistsMu.RUnlock()
	if ok {
		return rh
	}

	lv.requestHistsMu.Lock()
	defer lv.requestHistsMu.Unlock()
	if rh, ok = lv.requestHists[name]; !ok {
		rh = &lockedHist{hist: lv.newHist()}
		lv.requestHists[name] = rh
	}
	return rh
}

// merged folds every shard histogram into a fresh one.
func (lv *liveView) merged() *hdrhistogram.Histogram {
	out := lv.newHist()
	for i := range lv.hists {
		h := &lv.hists[i]
		h.mu.Lock()
		out.Merge(h.hist)
		h.mu.Unlock()
	}
	return out
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

func (lv *liveView) requestStats() map[string]LatencyStats {
	lv.requestHistsMu.RLock()
	defer lv.requestHistsMu.RUnlock()

	result := make(map[string]LatencyStats, len(lv.requestHists))
	for name, rh := range lv.requestHists {
		rh.mu.Lock()
		result[name] = latencyStats(rh.hist)
		rh.mu.Unlock()
	}
	return result
}

func (lv *liveView) setPhase(phase Phase) {
	lv.phaseMu.Lock()
	defer lv.phaseMu.Unlock()

	if lv.currentPhase == phase {
		return
	}
	lv.currentPhase = phase
	lv.phases = append(lv.phases, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  lv.totalRequests.Load(),
	})
}

func (lv *liveView) getPhase() Phase {
	lv.phaseMu.RLock()
	defer lv.phaseMu.RUnlock()
	return lv.currentPhase
}

func (lv *liveView) phaseHistory() []PhaseChange {
	lv.phaseMu.RLock()
	defer lv.phaseMu.RUnlock()

	result := make([]PhaseChange, len(lv.phases))
	copy(result, lv.phases)
	return result
}

func (lv *liveView) emitBucket() {
	lat := latencyStats(lv.merged())
	lv.buckets.CreateBucket(
		lv.totalRequests.Load(),
		lv.failedRequests.Load(),
		lat,
		int(lv.activeVUs.Load()),
		lv.getPhase(),
	)
}

func (lv *liveView) snapshot() *Snapshot {
	elapsed := time.Since(lv.startTime)
	total := lv.totalRequests.Load()
	failed := lv.failedRequests.Load()

	// Overall average once done, the latest interval while running.
	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	if recent := lv.buckets.GetLatestBucket(); recent != nil && lv.getPhase() != PhaseDone {
		rps = recent.IntervalRPS
	}
	steadyRPS, _ := lv.buckets.SteadyStateRPS()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: lv.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      lv.totalBytes.Load(),
		Latency:         latencyStats(lv.merged()),
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveVUs:       int(lv.activeVUs.Load()),
		CurrentPhase:    lv.getPhase(),
		Elapsed:         elapsed,
		StartTime:       lv.startTime,
		Timestamp:       time.Now(),
	}
}
