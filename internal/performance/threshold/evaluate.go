package threshold

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// Reason explains a criterion result.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonFailed           Reason = "failed"
	ReasonInsufficientData Reason = "insufficient data"
	ReasonUnsupported      Reason = "unsupported"
)

// Source is the read side of a frozen metrics collector.
type Source interface {
	Kind(name string) (metrics.Kind, bool)
	Trend(name string) (metrics.TrendStats, error)
	Percentile(name string, p float64) (float64, error)
	Rate(name string) (metrics.RateStats, error)
	Count(name string) (metrics.CounterStats, error)
}

// Result is the evaluation of one criterion.
type Result struct {
	Metric     string   `json:"metric"`
	Expression string   `json:"expression"`
	Stat       string   `json:"stat"`
	Value      float64  `json:"value"`
	Bound      float64  `json:"bound"`
	Op         Operator `json:"op"`
	Passed     bool     `json:"passed"`
	Reason     Reason   `json:"reason"`
	Message    string   `json:"message"`
}

// Verdict is the outcome of evaluating every configured criterion.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Failed returns the results that did not pass.
func (v Verdict) Failed() []Result {
	var failed []Result
	for _, r := range v.Results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Evaluate computes every criterion against src. The run passes only if
// every criterion passes; a metric without samples fails with
// ReasonInsufficientData. Results are ordered by metric name, then by the
// configured order of criteria.
func Evaluate(src Source, criteria map[string][]Criterion) Verdict {
	names := make([]string, 0, len(criteria))
	for name := range criteria {
		names = append(names, name)
	}
	sort.Strings(names)

	v := Verdict{Passed: true}
	for _, name := range names {
		for _, c := range criteria[name] {
			r := evaluate(src, name, c)
			if !r.Passed {
				v.Passed = false
			}
			v.Results = append(v.Results, r)
		}
	}
	return v
}

func evaluate(src Source, metric string, c Criterion) Result {
	r := Result{
		Metric:     metric,
		Expression: c.Expression,
		Stat:       c.StatName(),
		Bound:      c.Bound,
		Op:         c.Op,
	}

	kind, ok := src.Kind(metric)
	if !ok {
		r.Reason = ReasonInsufficientData
		r.Message = fmt.Sprintf("no samples recorded for %s", metric)
		return r
	}

	value, err := statValue(src, metric, kind, c)
	switch {
	case errors.Is(err, metrics.ErrNoData):
		r.Reason = ReasonInsufficientData
		r.Message = fmt.Sprintf("no samples recorded for %s", metric)
		return r
	case err != nil:
		r.Reason = ReasonUnsupported
		r.Message = err.Error()
		return r
	}

	r.Value = value
	r.Passed = c.Op.Compare(value, c.Bound)
	if r.Passed {
		r.Reason = ReasonOK
	} else {
		r.Reason = ReasonFailed
	}
	r.Message = fmt.Sprintf("%s=%s, want %s %s", r.Stat, formatValue(kind, c, value), c.Op, formatValue(kind, c, c.Bound))
	return r
}

func statValue(src Source, metric string, kind metrics.Kind, c Criterion) (float64, error) {
	switch kind {
	case metrics.KindTrend:
		if c.Stat == StatPercentile {
			return src.Percentile(metric, c.Percentile)
		}
		ts, err := src.Trend(metric)
		if err != nil {
			return 0, err
		}
		switch c.Stat {
		case StatAvg:
			return ts.Avg, nil
		case StatMin:
			return ts.Min, nil
		case StatMax:
			return ts.Max, nil
		case StatMed:
			return ts.Med, nil
		case StatCount:
			return float64(ts.Count), nil
		}

	case metrics.KindRate:
		if c.Stat == StatRate {
			rs, err := src.Rate(metric)
			if err != nil {
				return 0, err
			}
			return rs.Rate, nil
		}

	case metrics.KindCounter:
		cs, err := src.Count(metric)
		if err != nil {
			return 0, err
		}
		switch c.Stat {
		case StatCount:
			return cs.Count, nil
		case StatRate:
			return cs.Rate, nil
		}
	}

	return 0, fmt.Errorf("%s is not supported on %s metric %s", c.StatName(), kind, metric)
}

func formatValue(kind metrics.Kind, c Criterion, v float64) string {
	switch {
	case kind == metrics.KindTrend && c.Stat != StatCount:
		return fmt.Sprintf("%.2fms", v)
	case c.Stat == StatCount:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}
