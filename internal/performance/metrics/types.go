package metrics

import (
	"errors"
	"time"
)

// Built-in metric names. They follow k6 naming so thresholds written for a
// k6 script carry over unchanged.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	HTTPReqAbandoned  = "http_req_abandoned"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	SetupReqDuration  = "setup_req_duration"
	SetupReqFailed    = "setup_req_failed"
)

var (
	// ErrNoData is returned by accessors when a series has no samples.
	ErrNoData = errors.New("no data")

	// ErrFrozen is returned by Record once the collector has been frozen.
	ErrFrozen = errors.New("collector is frozen")
)

// CheckMetricName returns the submetric name a single named check is
// aggregated under, e.g. "checks{check:GET 200}".
func CheckMetricName(check string) string {
	return Checks + "{check:" + check + "}"
}

// Kind is the aggregation type of a metric series.
type Kind int

const (
	// KindCounter sums values.
	KindCounter Kind = iota
	// KindRate tracks the share of non-zero samples.
	KindRate
	// KindTrend keeps every sample for percentile statistics.
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// Phase represents a phase of the load run.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseSetup    Phase = "setup"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// Outcome is the record of one issued request. It is built once, handed to
// Record and never mutated afterwards.
type Outcome struct {
	VUID      int             `json:"vuId"`
	Iteration int64           `json:"iteration"`
	Name      string          `json:"name"`
	Method    string          `json:"method"`
	URL       string          `json:"url"`
	Setup     bool            `json:"setup,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Status    int             `json:"status"`
	Error     string          `json:"error,omitempty"`
	Abandoned bool            `json:"abandoned,omitempty"`
	Bytes     int64           `json:"bytes"`
	Checks    map[string]bool `json:"checks,omitempty"`
}

// DurationMicros returns the request duration in microseconds.
func (o Outcome) DurationMicros() int64 {
	return o.Duration.Microseconds()
}

// Failed reports whether the request counts towards http_req_failed: a
// transport error, an abandoned request, or a status outside 200-399.
func (o Outcome) Failed() bool {
	if o.Abandoned || o.Error != "" {
		return true
	}
	return o.Status < 200 || o.Status > 399
}

// TrendStats are the derived statistics of a trend series, in the unit the
// series was recorded in (milliseconds for the built-in duration trends).
type TrendStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Med   float64 `json:"med"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// RateStats are the derived statistics of a rate series.
type RateStats struct {
	NonZero int64   `json:"nonZero"`
	Total   int64   `json:"total"`
	Rate    float64 `json:"rate"`
	NoData  bool    `json:"noData,omitempty"`
}

// CounterStats are the derived statistics of a counter series.
type CounterStats struct {
	Count float64 `json:"count"`
	// Rate is Count per second of collector lifetime (up to freeze).
	Rate float64 `json:"rate"`
}

// CheckStats aggregates every evaluation of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// MetricSummary is the frozen view of one series for reports.
type MetricSummary struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Trend   *TrendStats   `json:"trend,omitempty"`
	Rate    *RateStats    `json:"rate,omitempty"`
	Counter *CounterStats `json:"counter,omitempty"`
}

// Snapshot is a point-in-time live view. It is approximate and only meant
// for progress display; thresholds use the frozen series.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics from the live histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// TimeBucket holds the live metrics of one emit interval.
type TimeBucket struct {
	Timestamp         time.Time     `json:"timestamp"`
	TotalRequests     int64         `json:"totalRequests"`
	TotalFailures     int64         `json:"totalFailures"`
	IntervalRequests  int64         `json:"intervalRequests"`
	IntervalRPS       float64       `json:"intervalRPS"`
	IntervalErrorRate float64       `json:"intervalErrorRate"`
	LatencyP50        time.Duration `json:"latencyP50"`
	LatencyP95        time.Duration `json:"latencyP95"`
	LatencyP99        time.Duration `json:"latencyP99"`
	ActiveVUs         int           `json:"activeVUs"`
	Phase             Phase         `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}
