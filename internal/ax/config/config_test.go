package config_test

import (
	"testing"

	"github.com/axrun/ax/internal/ax/config"
)

func validYAML() []byte {
	return []byte(`
agent: default
profile: balanced
providers:
  llm: anthropic
  sandbox: docker
sandbox:
  timeout_sec: 30
  memory_mb: 512
scheduler:
  active_hours:
    start: "08:00"
    end: "22:00"
    timezone: UTC
  max_token_budget: 100000
  heartbeat_interval_min: 15
`)
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := config.Load(validYAML())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent != "default" {
		t.Errorf("Agent = %q", cfg.Agent)
	}
	if cfg.TaintThreshold() != 0.30 {
		t.Errorf("TaintThreshold = %v, want 0.30", cfg.TaintThreshold())
	}
}

func TestLoad_UnknownAgent(t *testing.T) {
	data := []byte(`
agent: not-a-real-agent
profile: balanced
sandbox:
  timeout_sec: 30
  memory_mb: 512
scheduler:
  max_token_budget: 1000
  heartbeat_interval_min: 5
`)
	if _, err := config.Load(data); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestLoad_UnknownTopLevelField(t *testing.T) {
	data := append(validYAML(), []byte("\nfrobnicate: true\n")...)
	if _, err := config.Load(data); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_BadProfile(t *testing.T) {
	data := []byte(`
agent: default
profile: reckless
sandbox:
  timeout_sec: 30
  memory_mb: 512
scheduler:
  max_token_budget: 1000
  heartbeat_interval_min: 5
`)
	if _, err := config.Load(data); err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestLoad_SandboxTimeoutOutOfRange(t *testing.T) {
	data := []byte(`
agent: default
profile: balanced
sandbox:
  timeout_sec: 99999
  memory_mb: 512
scheduler:
  max_token_budget: 1000
  heartbeat_interval_min: 5
`)
	if _, err := config.Load(data); err == nil {
		t.Fatal("expected error for out-of-range sandbox timeout")
	}
}

func TestLoad_BadActiveHoursFormat(t *testing.T) {
	data := []byte(`
agent: default
profile: balanced
sandbox:
  timeout_sec: 30
  memory_mb: 512
scheduler:
  active_hours:
    start: "8am"
  max_token_budget: 1000
  heartbeat_interval_min: 5
`)
	if _, err := config.Load(data); err == nil {
		t.Fatal("expected error for malformed active_hours.start")
	}
}

func TestTaintThreshold_Profiles(t *testing.T) {
	cases := []struct {
		profile config.Profile
		want    float64
	}{
		{config.ProfileParanoid, 0.10},
		{config.ProfileBalanced, 0.30},
		{config.ProfileYOLO, 0.60},
	}
	for _, c := range cases {
		cfg := &config.Config{Profile: c.profile}
		if got := cfg.TaintThreshold(); got != c.want {
			t.Errorf("profile %q: TaintThreshold() = %v, want %v", c.profile, got, c.want)
		}
	}
}
