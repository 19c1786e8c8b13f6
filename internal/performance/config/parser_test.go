package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesleyorama2/rpzload/internal/performance/executor"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "surrounding spaces", input: " 5s ", expected: 5 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "30abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "staging"
target:
  hostname: rpz.internal
  port: 9443
  insecureSkipVerify: true
  timeout: 10s
vus: 20
stages:
  - duration: 5s
    target: 20
  - duration: 1m
    target: 20
  - duration: 5
    target: 0
thresholds:
  http_req_duration: ["p(95)<300", "avg<100"]
  http_req_failed: ["rate<0.05"]
gracefulStop: 10s
seed: 42
pacing:
  type: random
  min: 10ms
  max: 50ms
workload:
  validateBody: true
  setupConcurrency: 8
`

	cfg, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "staging" {
		t.Errorf("Name = %q, want staging", cfg.Name)
	}
	if cfg.Target.Hostname != "rpz.internal" || cfg.Target.Port != 9443 {
		t.Errorf("Target = %+v", cfg.Target)
	}
	if !cfg.Target.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true")
	}
	if cfg.Target.Timeout.Duration() != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Target.Timeout)
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(cfg.Stages))
	}
	if cfg.Stages[1].Duration.Duration() != time.Minute {
		t.Errorf("Stages[1].Duration = %v, want 1m", cfg.Stages[1].Duration)
	}
	if cfg.Stages[2].Duration.Duration() != 5*time.Second {
		t.Errorf("Stages[2].Duration = %v, want 5s", cfg.Stages[2].Duration)
	}
	if got := cfg.Thresholds[metrics.HTTPReqDuration]; len(got) != 2 {
		t.Errorf("http_req_duration thresholds = %v", got)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Seed)
	}
	if cfg.Pacing == nil || cfg.Pacing.Max.Duration() != 50*time.Millisecond {
		t.Errorf("Pacing = %+v", cfg.Pacing)
	}
	if !cfg.Workload.ValidateBody || cfg.Workload.SetupConcurrency != 8 {
		t.Errorf("Workload = %+v", cfg.Workload)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
  "target": {"scheme": "http", "hostname": "127.0.0.1", "port": 8080},
  "stages": [{"duration": "1s", "target": 5}, {"duration": "2s", "target": 0}],
  "setupTimeout": "30s"
}`

	cfg, err := ParseConfig([]byte(jsonConfig), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Target.Scheme != "http" {
		t.Errorf("Scheme = %q, want http", cfg.Target.Scheme)
	}
	if cfg.Stages[0].Target != 5 || cfg.Stages[1].Duration.Duration() != 2*time.Second {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.SetupTimeout.Duration() != 30*time.Second {
		t.Errorf("SetupTimeout = %v, want 30s", cfg.SetupTimeout)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte(`{"vus": "many"}`), "bad.json"); err == nil {
		t.Error("ParseConfig() with bad JSON should fail")
	}
	if _, err := ParseConfig([]byte("stages:\n  - duration: soon\n"), "bad.yaml"); err == nil {
		t.Error("ParseConfig() with bad duration should fail")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yml")
	if err := os.WriteFile(path, []byte("vus: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.VUs != 7 {
		t.Errorf("VUs = %d, want 7", cfg.VUs)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig() on a missing file should fail")
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("5s:100, 50s:100,5s:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	want := []StageConfig{
		{Duration: Duration(5 * time.Second), Target: 100},
		{Duration: Duration(50 * time.Second), Target: 100},
		{Duration: Duration(5 * time.Second), Target: 0},
	}
	if len(stages) != len(want) {
		t.Fatalf("len = %d, want %d", len(stages), len(want))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %+v, want %+v", i, stages[i], want[i])
		}
	}

	for _, bad := range []string{"", "5s", "5s:x", "soon:1"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) should fail", bad)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{}
	ApplyDefaults(cfg)

	if cfg.Target.BaseURL() != "https://localhost:8443" {
		t.Errorf("BaseURL() = %q", cfg.Target.BaseURL())
	}
	if cfg.Target.InsecureSkipVerify {
		t.Error("InsecureSkipVerify must default to false")
	}
	if cfg.VUs != DefaultVUs || cfg.ItemsCount != DefaultItemsCount {
		t.Errorf("VUs = %d, ItemsCount = %d", cfg.VUs, cfg.ItemsCount)
	}
	if len(cfg.Stages) != 3 || cfg.Stages[1].Target != DefaultVUs || cfg.Stages[2].Target != 0 {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if len(cfg.Thresholds) != 2 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.GracefulStop.Duration() != executor.DefaultGracefulStop {
		t.Errorf("GracefulStop = %v", cfg.GracefulStop)
	}
	if cfg.Workload.SetupConcurrency != 1 {
		t.Errorf("SetupConcurrency = %d, want 1", cfg.Workload.SetupConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &TestConfig{
		Stages:     []StageConfig{{Duration: Duration(time.Second), Target: 12}},
		Thresholds: map[string][]string{},
	}
	ApplyDefaults(cfg)

	if cfg.VUs != 12 {
		t.Errorf("VUs = %d, want peak stage target 12", cfg.VUs)
	}
	if len(cfg.Stages) != 1 {
		t.Errorf("explicit stages replaced: %+v", cfg.Stages)
	}
	if len(cfg.Thresholds) != 0 {
		t.Errorf("explicit empty thresholds replaced: %v", cfg.Thresholds)
	}
}

func TestApplyDefaults_StagesFollowVUs(t *testing.T) {
	cfg := &TestConfig{}
	if err := ApplyEnv(cfg, mapEnv(map[string]string{EnvVUCount: "25"})); err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(cfg)

	if cfg.Stages[0].Target != 25 || cfg.Stages[1].Target != 25 {
		t.Errorf("Stages = %+v, want peak 25", cfg.Stages)
	}
}

func TestToExecutorConfig(t *testing.T) {
	cfg := &TestConfig{
		Pacing: &PacingConfig{Type: "constant", Duration: Duration(10 * time.Millisecond)},
	}
	ApplyDefaults(cfg)

	ec := cfg.ToExecutorConfig()
	if err := ec.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ec.TotalDuration() != 60*time.Second {
		t.Errorf("TotalDuration() = %v, want 60s", ec.TotalDuration())
	}
	if ec.Pacing.Type != executor.PacingConstant || ec.Pacing.Duration != 10*time.Millisecond {
		t.Errorf("Pacing = %+v", ec.Pacing)
	}
	if ec.GracefulStop != executor.DefaultGracefulStop {
		t.Errorf("GracefulStop = %v", ec.GracefulStop)
	}
}

func TestHTTPClientConfig(t *testing.T) {
	cfg := &TestConfig{Target: TargetConfig{InsecureSkipVerify: true, MaxConnsPerHost: 50}}
	ApplyDefaults(cfg)

	hc := cfg.HTTPClientConfig()
	if !hc.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not carried over")
	}
	if hc.Timeout != DefaultTimeout || hc.MaxConnsPerHost != 50 {
		t.Errorf("HTTPClientConfig = %+v", hc)
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil {
		t.Fatal(err)
	}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1m30s"` {
		t.Errorf("MarshalJSON() = %s", b)
	}
	if err := d.UnmarshalJSON([]byte(`null`)); err != nil || d != 0 {
		t.Errorf("null: d = %v, err = %v", d, err)
	}
}
