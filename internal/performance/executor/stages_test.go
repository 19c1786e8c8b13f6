package executor

import (
	"testing"
	"time"

	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

var rpzStages = []Stage{
	{Duration: 5 * time.Second, Target: 100},
	{Duration: 50 * time.Second, Target: 100},
	{Duration: 5 * time.Second, Target: 0},
}

func TestTargetVUs(t *testing.T) {
	tests := []struct {
		name    string
		stages  []Stage
		elapsed time.Duration
		want    int
	}{
		{"no stages", nil, time.Second, 0},
		{"start", rpzStages, 0, 0},
		{"negative elapsed", rpzStages, -time.Second, 0},
		{"mid ramp-up", []Stage{{Duration: 5 * time.Second, Target: 100}}, 2500 * time.Millisecond, 50},
		{"end of single stage", []Stage{{Duration: 5 * time.Second, Target: 100}}, 5 * time.Second, 100},
		{"ramp-up quarter", rpzStages, 1250 * time.Millisecond, 25},
		{"rounds to nearest", rpzStages, 1255 * time.Millisecond, 25},
		{"rounds half up", []Stage{{Duration: 4 * time.Second, Target: 1}}, 2 * time.Second, 1},
		{"plateau start", rpzStages, 5 * time.Second, 100},
		{"plateau", rpzStages, 30 * time.Second, 100},
		{"ramp-down start", rpzStages, 55 * time.Second, 100},
		{"mid ramp-down", rpzStages, 57500 * time.Millisecond, 50},
		{"exact end", rpzStages, 60 * time.Second, 0},
		{"after end", rpzStages, 61 * time.Second, 0},
		{"after end with non-zero last target", []Stage{{Duration: time.Second, Target: 10}}, 2 * time.Second, 0},
		{"ramp between non-zero targets", []Stage{
			{Duration: time.Second, Target: 10},
			{Duration: 2 * time.Second, Target: 30},
		}, 2 * time.Second, 20},
		{"zero-duration stage jumps", []Stage{
			{Duration: 0, Target: 40},
			{Duration: time.Second, Target: 40},
		}, 500 * time.Millisecond, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetVUs(tt.stages, tt.elapsed); got != tt.want {
				t.Errorf("TargetVUs(%v) = %d, want %d", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestTargetVUs_Boundaries(t *testing.T) {
	profiles := [][]Stage{
		rpzStages,
		{{Duration: time.Second, Target: 7}},
		{{Duration: 3 * time.Second, Target: 0}, {Duration: time.Second, Target: 12}},
		{{Duration: 2 * time.Second, Target: 50}, {Duration: 0, Target: 5}},
	}

	for i, stages := range profiles {
		if got := TargetVUs(stages, 0); got != 0 {
			t.Errorf("profile %d: TargetVUs(0) = %d, want 0", i, got)
		}
		end := TotalDuration(stages)
		want := stages[len(stages)-1].Target
		if got := TargetVUs(stages, end); got != want {
			t.Errorf("profile %d: TargetVUs(end) = %d, want %d", i, got, want)
		}
	}
}

func TestTargetVUs_Monotonic(t *testing.T) {
	stages := []Stage{{Duration: 10 * time.Second, Target: 1000}}

	prev := 0
	for ms := 0; ms <= 10000; ms += 7 {
		got := TargetVUs(stages, time.Duration(ms)*time.Millisecond)
		if got < prev {
			t.Fatalf("TargetVUs decreased from %d to %d at %dms", prev, got, ms)
		}
		prev = got
	}
}

func TestStageAt(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{-time.Millisecond, -1},
		{0, 0},
		{4999 * time.Millisecond, 0},
		{5 * time.Second, 1},
		{54 * time.Second, 1},
		{55 * time.Second, 2},
		{60 * time.Second, -1},
	}

	for _, tt := range tests {
		if got := StageAt(rpzStages, tt.elapsed); got != tt.want {
			t.Errorf("StageAt(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestPhaseOf(t *testing.T) {
	tests := []struct {
		idx  int
		want metrics.Phase
	}{
		{0, metrics.PhaseRampUp},
		{1, metrics.PhaseSteady},
		{2, metrics.PhaseRampDown},
		{3, metrics.PhaseDraining},
	}

	for _, tt := range tests {
		if got := PhaseOf(rpzStages, tt.idx); got != tt.want {
			t.Errorf("PhaseOf(%d) = %v, want %v", tt.idx, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid", Config{Stages: rpzStages}, ""},
		{"no stages", Config{}, "stages"},
		{"negative duration", Config{Stages: []Stage{{Duration: -time.Second, Target: 1}}}, "stages[0].duration"},
		{"negative target", Config{Stages: []Stage{{Duration: time.Second}, {Duration: time.Second, Target: -1}}}, "stages[1].target"},
		{"unknown type", Config{Type: "constant-arrival-rate", Stages: rpzStages}, "type"},
		{"negative graceful stop", Config{Stages: rpzStages, GracefulStop: -time.Second}, "gracefulStop"},
		{"random pacing min > max", Config{Stages: rpzStages, Pacing: &PacingConfig{
			Type: PacingRandom, Min: time.Second, Max: time.Millisecond,
		}}, "pacing"},
		{"bad pacing type", Config{Stages: rpzStages, Pacing: &PacingConfig{Type: "sometimes"}}, "pacing.type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantErr {
				t.Errorf("Validate() field = %q, want %q", verr.Field, tt.wantErr)
			}
		})
	}
}

func TestConfig_TotalDuration(t *testing.T) {
	c := Config{Stages: rpzStages}
	if got := c.TotalDuration(); got != 60*time.Second {
		t.Errorf("TotalDuration() = %v, want 60s", got)
	}
}
