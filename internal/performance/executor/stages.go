package executor

import (
	"time"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// TotalDuration returns the sum of all stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += stage.Duration
	}
	return total
}

// TargetVUs returns the VU count the pool should have at elapsed.
//
// Within a stage the target moves linearly from the previous stage's target
// (0 for the first stage) to the stage's own target, rounded to the nearest
// integer. At elapsed <= 0 the target is 0, at exactly the end of the last
// stage it is that stage's target, and after the end it is 0.
func TargetVUs(stages []Stage, elapsed time.Duration) int {
	if elapsed <= 0 || len(stages) == 0 {
		return 0
	}

	total := TotalDuration(stages)
	if elapsed > total {
		return 0
	}
	if elapsed == total {
		return stages[len(stages)-1].Target
	}

	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return 0
}

// StageAt returns the index of the stage running at elapsed, or -1 when
// elapsed is outside the profile.
func StageAt(stages []Stage, elapsed time.Duration) int {
	if elapsed < 0 {
		return -1
	}

	var stageEnd time.Duration
	for i, stage := range stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return i
		}
	}
	return -1
}

// PhaseOf classifies a stage as ramp-up, steady or ramp-down by comparing
// its target with the one before it.
func PhaseOf(stages []Stage, idx int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseDraining
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
