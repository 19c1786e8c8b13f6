package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/executor"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// Defaults for a run that configures nothing.
const (
	DefaultScheme       = "https"
	DefaultHostname     = "localhost"
	DefaultPort         = 8443
	DefaultVUs          = 100
	DefaultItemsCount   = 1024
	DefaultTimeout      = 30 * time.Second
	DefaultSetupTimeout = 120 * time.Second
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses a compact stage list such as "5s:100,50s:100,5s:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: want duration:target, got %q", i, part)
		}

		d, err := ParseDurationString(dur)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, target)
		}

		stages = append(stages, StageConfig{Duration: Duration(d), Target: n})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// DefaultStages returns the ramp-up, steady and ramp-down profile for vus.
func DefaultStages(vus int) []StageConfig {
	return []StageConfig{
		{Duration: Duration(5 * time.Second), Target: vus, Name: "ramp-up"},
		{Duration: Duration(50 * time.Second), Target: vus, Name: "steady"},
		{Duration: Duration(5 * time.Second), Target: 0, Name: "ramp-down"},
	}
}

// DefaultThresholds returns the p95 duration and failure rate criteria.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		metrics.HTTPReqDuration: {"p(95)<500"},
		metrics.HTTPReqFailed:   {"rate<0.01"},
	}
}

// ApplyDefaults fills every unset field. It runs after the file,
// environment and flag overlays so the default stages follow the final
// VU count.
func ApplyDefaults(config *TestConfig) {
	if config.Target.Scheme == "" {
		config.Target.Scheme = DefaultScheme
	}
	if config.Target.Hostname == "" {
		config.Target.Hostname = DefaultHostname
	}
	if config.Target.Port == 0 {
		config.Target.Port = DefaultPort
	}
	if config.Target.Timeout == 0 {
		config.Target.Timeout = Duration(DefaultTimeout)
	}
	if config.Target.MaxIdleConnsPerHost == 0 {
		config.Target.MaxIdleConnsPerHost = 100
	}

	if config.VUs == 0 {
		config.VUs = maxTarget(config.Stages)
		if config.VUs == 0 {
			config.VUs = DefaultVUs
		}
	}
	if len(config.Stages) == 0 {
		config.Stages = DefaultStages(config.VUs)
	}
	if config.ItemsCount == 0 {
		config.ItemsCount = DefaultItemsCount
	}
	if config.Thresholds == nil {
		config.Thresholds = DefaultThresholds()
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = Duration(executor.DefaultGracefulStop)
	}
	if config.SetupTimeout == 0 {
		config.SetupTimeout = Duration(DefaultSetupTimeout)
	}
	if config.Workload.SetupConcurrency == 0 {
		config.Workload.SetupConcurrency = 1
	}
	if config.Name == "" {
		config.Name = "rpz items"
	}
}

func maxTarget(stages []StageConfig) int {
	m := 0
	for _, s := range stages {
		if s.Target > m {
			m = s.Target
		}
	}
	return m
}

// ToExecutorConfig converts the run configuration to an executor config.
func (c *TestConfig) ToExecutorConfig() *executor.Config {
	cfg := &executor.Config{
		Name:         c.Name,
		Type:         executor.TypeRampingVUs,
		GracefulStop: c.GracefulStop.Duration(),
	}

	for _, s := range c.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: s.Duration.Duration(),
			Target:   s.Target,
			Name:     s.Name,
		})
	}

	if c.Pacing != nil {
		cfg.Pacing = &executor.PacingConfig{
			Type:     executor.PacingType(c.Pacing.Type),
			Duration: c.Pacing.Duration.Duration(),
			Min:      c.Pacing.Min.Duration(),
			Max:      c.Pacing.Max.Duration(),
		}
	}

	return cfg
}

// HTTPClientConfig returns the VU HTTP client settings for the target.
func (c *TestConfig) HTTPClientConfig() performance.HTTPClientConfig {
	cfg := performance.DefaultHTTPClientConfig()
	cfg.Timeout = c.Target.Timeout.Duration()
	cfg.InsecureSkipVerify = c.Target.InsecureSkipVerify
	if c.Target.MaxConnsPerHost > 0 {
		cfg.MaxConnsPerHost = c.Target.MaxConnsPerHost
	}
	if c.Target.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.Target.MaxIdleConnsPerHost
	}
	return cfg
}
