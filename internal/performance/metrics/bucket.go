package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps one TimeBucket per emit interval in a ring buffer,
// discarding the oldest once full. Requests are counted lock-free into the
// current interval; CreateBucket closes the interval.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest counts one request into the current interval.
func (tbs *TimeBucketStore) RecordRequest(failed bool) {
	tbs.currentRequests.Add(1)
	if failed {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the current interval and appends its bucket.
func (tbs *TimeBucketStore) CreateBucket(
	totalRequests, totalFailures int64,
	latency LatencyStats,
	activeVUs int,
	phase Phase,
) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()
	intervalRequests := tbs.currentRequests.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	seconds := now.Sub(tbs.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1
	}

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totalRequests,
		TotalFailures:     totalFailures,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / seconds,
		IntervalErrorRate: errorRate,
		LatencyP50:        latency.P50,
		LatencyP95:        latency.P95,
		LatencyP99:        latency.P99,
		ActiveVUs:         activeVUs,
		Phase:             phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns all retained buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	idx := (tbs.head - 1 + tbs.maxBuckets) % tbs.maxBuckets
	return tbs.buckets[idx]
}

// GetBucketsForPhase returns the buckets emitted during phase.
func (tbs *TimeBucketStore) GetBucketsForPhase(phase Phase) []*TimeBucket {
	var result []*TimeBucket
	for _, b := range tbs.GetBuckets() {
		if b.Phase == phase {
			result = append(result, b)
		}
	}
	return result
}

// SteadyStateRPS averages the interval RPS over steady-phase buckets and
// reports how many buckets contributed.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	steady := tbs.GetBucketsForPhase(PhaseSteady)
	if len(steady) == 0 {
		return 0, 0
	}

	var sum float64
	for _, b := range steady {
		sum += b.IntervalRPS
	}
	return sum / float64(len(steady)), len(steady)
}
