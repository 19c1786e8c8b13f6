package config

import (
	"fmt"
	"strings"

	"github.com/wesleyorama2/rpzload/internal/performance/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the resolved configuration. Call it after
// ApplyDefaults.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)

	if c.VUs <= 0 {
		errs.Add("vus", "vus must be greater than 0")
	}
	if c.ItemsCount <= 0 {
		errs.Add("itemsCount", "itemsCount must be greater than 0")
	}

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, stage := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "gracefulStop cannot be negative")
	}
	if c.SetupTimeout < 0 {
		errs.Add("setupTimeout", "setupTimeout cannot be negative")
	}

	if c.Pacing != nil {
		validatePacing(c.Pacing, errs)
	}

	for metric, exprs := range c.Thresholds {
		for i, expr := range exprs {
			if _, err := threshold.Parse(expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}

	if c.Workload.SetupConcurrency < 0 {
		errs.Add("workload.setupConcurrency", "setupConcurrency cannot be negative")
	}
	if c.Workload.SetupRate < 0 {
		errs.Add("workload.setupRate", "setupRate cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	switch t.Scheme {
	case "http", "https":
	default:
		errs.Add("target.scheme", fmt.Sprintf("scheme must be http or https, got %q", t.Scheme))
	}

	if t.Hostname == "" {
		errs.Add("target.hostname", "hostname is required")
	} else if strings.ContainsAny(t.Hostname, "/ ") {
		errs.Add("target.hostname", fmt.Sprintf("invalid hostname %q", t.Hostname))
	}

	if t.Port <= 0 || t.Port > 65535 {
		errs.Add("target.port", fmt.Sprintf("port must be between 1 and 65535, got %d", t.Port))
	}

	if t.Timeout < 0 {
		errs.Add("target.timeout", "timeout cannot be negative")
	}
}

func validatePacing(p *PacingConfig, errs *ValidationErrors) {
	switch p.Type {
	case "", "none":
	case "constant":
		if p.Duration < 0 {
			errs.Add("pacing.duration", "duration cannot be negative")
		}
	case "random":
		if p.Min < 0 || p.Max < 0 {
			errs.Add("pacing", "min and max cannot be negative")
		} else if p.Min > p.Max {
			errs.Add("pacing", "min must be less than or equal to max")
		}
	default:
		errs.Add("pacing.type", fmt.Sprintf("invalid pacing type: %s", p.Type))
	}
}
