package metrics

import "math"

// percentile returns the p-th percentile (0-100) of an ascending slice using
// linear interpolation between the closest ranks, the rule k6 applies to
// trend thresholds.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func trendStats(sorted []float64) TrendStats {
	n := len(sorted)
	if n == 0 {
		return TrendStats{}
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return TrendStats{
		Count: int64(n),
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		Med:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}
