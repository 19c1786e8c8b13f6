// Package executor drives a pool of virtual users through a load profile.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// Type names an executor implementation.
type Type string

const (
	// TypeRampingVUs follows the stage profile, interpolating the VU target.
	TypeRampingVUs Type = "ramping-vus"
)

const (
	// DefaultGracefulStop is how long VUs may finish their iteration once
	// the last stage has ended before they are cancelled.
	DefaultGracefulStop = 30 * time.Second

	// DefaultTick is the reconciliation interval of the VU controller.
	DefaultTick = 100 * time.Millisecond
)

// Executor turns a load profile into running VUs.
type Executor interface {
	// Type reports which implementation this is.
	Type() Type

	// Init validates the configuration. Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until every VU has exited.
	Run(ctx context.Context, scheduler *performance.VUScheduler, collector *metrics.Collector) error

	// GetProgress is the fraction of the stage profile elapsed, in [0,1].
	GetProgress() float64

	// GetActiveVUs counts VUs that have not stopped.
	GetActiveVUs() int

	// GetStats snapshots timing, VU and stage counters.
	GetStats() *Stats

	// Stop ends the stages early and drains VUs.
	Stop(ctx context.Context) error
}

// Config is the executor's view of a run: stages plus stop and pacing rules.
type Config struct {
	// Name labels log lines
	Name string `json:"name" yaml:"name"`

	// Type defaults to ramping-vus when empty
	Type Type `json:"type" yaml:"type"`

	// Stages is the load profile
	Stages []Stage `json:"stages" yaml:"stages"`

	// GracefulStop is how long running iterations may take to finish after
	// the stages end or Stop is called (default: 30s)
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing inserts a wait after each iteration
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Tick is the VU reconciliation interval (default: 100ms)
	Tick time.Duration `json:"tick,omitempty" yaml:"tick,omitempty"`
}

// Stage is one segment of the load profile: over Duration the VU target
// moves linearly from the previous stage's target to Target.
type Stage struct {
	// Duration is how long the ramp towards Target takes
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name shows up in progress output when set
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig describes the wait a VU takes between iterations.
type PacingConfig struct {
	// Type selects none, constant or random
	Type PacingType `json:"type" yaml:"type"`

	// Duration is the fixed wait (constant)
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound a uniform wait (random)
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType selects a pacing strategy.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Stats is a point-in-time view of a running executor.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// Live VUs and what the profile asks for right now
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iterations started by all VUs
	Iterations int64 `json:"iterations"`

	// CurrentStage is 0-indexed
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// ForcedStops is the number of VUs cancelled after the graceful stop
	ForcedStops int `json:"forcedStops"`
}

// Validate rejects profiles the controller cannot run.
func (c *Config) Validate() error {
	if c.Type != "" && c.Type != TypeRampingVUs {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unsupported executor %q", c.Type)}
	}

	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}

	for i, stage := range c.Stages {
		if stage.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration cannot be negative"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target cannot be negative"}
		}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop cannot be negative"}
	}

	if c.Pacing != nil {
		switch c.Pacing.Type {
		case PacingNone, "":
		case PacingConstant:
			if c.Pacing.Duration < 0 {
				return &ValidationError{Field: "pacing.duration", Message: "duration cannot be negative"}
			}
		case PacingRandom:
			if c.Pacing.Min < 0 || c.Pacing.Max < 0 {
				return &ValidationError{Field: "pacing", Message: "min and max cannot be negative"}
			}
			if c.Pacing.Min > c.Pacing.Max {
				return &ValidationError{Field: "pacing", Message: "min must be less than or equal to max"}
			}
		default:
			return &ValidationError{Field: "pacing.type", Message: "invalid pacing type: " + string(c.Pacing.Type)}
		}
	}

	return nil
}

// TotalDuration returns the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	return TotalDuration(c.Stages)
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor config: %s: %s", e.Field, e.Message)
}
