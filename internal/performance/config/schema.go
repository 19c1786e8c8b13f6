// Package config provides the run file schema, defaults, environment overlay
// and validation for a load run.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: "rpz items"
//	target:
//	  hostname: localhost
//	  port: 8443
//	  insecureSkipVerify: true
//	vus: 100
//	stages:
//	  - duration: 5s
//	    target: 100
//	  - duration: 50s
//	    target: 100
//	  - duration: 5s
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  http_req_failed: ["rate<0.01"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Target is the service under load
	Target TargetConfig `json:"target" yaml:"target"`

	// VUs is the peak VU count used by the default stage profile
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// ItemsCount is the number of items created during setup
	ItemsCount int `json:"itemsCount,omitempty" yaml:"itemsCount,omitempty"`

	// Stages is the load profile. Defaults to ramp-up, steady, ramp-down
	// over 5s, 50s and 5s.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Thresholds map a metric name to its pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// GracefulStop is how long iterations may finish after the last stage
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// SetupTimeout bounds the setup phase
	SetupTimeout Duration `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Seed makes VU randomness reproducible when non-zero
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Workload tunes the rpz items workload
	Workload WorkloadConfig `json:"workload,omitempty" yaml:"workload,omitempty"`
}

// TargetConfig describes how to reach the service under load.
type TargetConfig struct {
	// Scheme is http or https (default: https)
	Scheme string `json:"scheme,omitempty" yaml:"scheme,omitempty"`

	// Hostname of the target (default: localhost)
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// Port of the target (default: 8443)
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification. Only for
	// self-signed certificates in local setups.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// Timeout is the per-request timeout (default: 30s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnsPerHost limits connections to the target
	MaxConnsPerHost int `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections to the target
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// BaseURL returns scheme://hostname:port.
func (t TargetConfig) BaseURL() string {
	return t.Scheme + "://" + net.JoinHostPort(t.Hostname, strconv.Itoa(t.Port))
}

// StageConfig defines a single stage of the load profile.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional label for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// WorkloadConfig tunes the rpz items workload.
type WorkloadConfig struct {
	// ValidateBody adds a check that the GET body is the requested item
	ValidateBody bool `json:"validateBody,omitempty" yaml:"validateBody,omitempty"`

	// SetupConcurrency is how many items are created in parallel (default: 1)
	SetupConcurrency int `json:"setupConcurrency,omitempty" yaml:"setupConcurrency,omitempty"`

	// SetupRate caps item creations per second during setup (0 = unlimited)
	SetupRate float64 `json:"setupRate,omitempty" yaml:"setupRate,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// A bare integer is read as seconds.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}

	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
