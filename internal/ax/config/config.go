// Package config loads and validates the AX YAML configuration document.
// Load follows Ruriko's gosuto.Parse shape: unmarshal then validate,
// first error wins, unknown fields reject.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a named security posture.
type Profile string

const (
	ProfileParanoid Profile = "paranoid"
	ProfileBalanced Profile = "balanced"
	ProfileYOLO     Profile = "yolo"
)

// knownAgents is the closed set of agent kinds AX accepts in config. Adding
// one requires a code change, not a config change (SC-SEC-002).
var knownAgents = map[string]bool{
	"default":  true,
	"coder":    true,
	"research": true,
}

// knownProviderKinds mirrors the provider registry's closed kind set.
var knownProviderKinds = map[string]bool{
	"llm":     true,
	"sandbox": true,
	"channel": true,
	"search":  true,
}

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Config is the root of the validated AX configuration document.
type Config struct {
	Agent     string                       `yaml:"agent"`
	Profile   Profile                      `yaml:"profile"`
	Providers map[string]string            `yaml:"providers"`
	Channels  map[string]map[string]string `yaml:"channel_config,omitempty"`
	Sandbox   SandboxConfig                `yaml:"sandbox"`
	Scheduler SchedulerConfig              `yaml:"scheduler"`
	History   *HistoryConfig               `yaml:"history,omitempty"`
	MaxTokens int                          `yaml:"max_tokens,omitempty"`

	// unknown is not populated by Load; unrecognized fields are rejected
	// during decoding instead.
	unknown []string `yaml:"-"`
}

// SandboxConfig bounds sandbox resource limits.
type SandboxConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	MemoryMB   int `yaml:"memory_mb"`
}

// SchedulerConfig bounds the heartbeat/active-hours scheduler.
type SchedulerConfig struct {
	ActiveHours          ActiveHours `yaml:"active_hours"`
	MaxTokenBudget       int         `yaml:"max_token_budget"`
	HeartbeatIntervalMin int         `yaml:"heartbeat_interval_min"`
}

// ActiveHours bounds the scheduler's waking window.
type ActiveHours struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

// HistoryConfig bounds how much conversation history is retained/considered.
type HistoryConfig struct {
	MaxTurns          int `yaml:"max_turns"`
	ThreadContextTurns int `yaml:"thread_context_turns"`
}

// Load parses and validates a YAML document into a Config.
func Load(data []byte) (*Config, error) {
	// Strict decode: reject unknown top-level fields by decoding into a
	// generic map first and diffing keys against the known field set.
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := rejectUnknownFields(raw, knownTopLevelFields); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var knownTopLevelFields = map[string]bool{
	"agent": true, "profile": true, "providers": true,
	"channel_config": true, "sandbox": true, "scheduler": true,
	"history": true, "max_tokens": true,
}

func rejectUnknownFields(raw map[string]yaml.Node, known map[string]bool) error {
	for k := range raw {
		if !known[k] {
			return fmt.Errorf("config: unknown field %q", k)
		}
	}
	return nil
}

// Validate checks a Config for structural correctness.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: must not be nil")
	}
	if !knownAgents[cfg.Agent] {
		return fmt.Errorf("config: agent %q is not a known agent kind", cfg.Agent)
	}
	switch cfg.Profile {
	case ProfileParanoid, ProfileBalanced, ProfileYOLO:
	default:
		return fmt.Errorf("config: profile must be one of paranoid|balanced|yolo, got %q", cfg.Profile)
	}

	for kind, name := range cfg.Providers {
		if !knownProviderKinds[kind] {
			return fmt.Errorf("config: providers: unknown kind %q", kind)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: providers[%s]: name must not be empty", kind)
		}
	}

	if cfg.Sandbox.TimeoutSec < 1 || cfg.Sandbox.TimeoutSec > 3600 {
		return fmt.Errorf("config: sandbox.timeout_sec must be in [1, 3600], got %d", cfg.Sandbox.TimeoutSec)
	}
	if cfg.Sandbox.MemoryMB < 64 || cfg.Sandbox.MemoryMB > 8192 {
		return fmt.Errorf("config: sandbox.memory_mb must be in [64, 8192], got %d", cfg.Sandbox.MemoryMB)
	}

	if cfg.Scheduler.ActiveHours.Start != "" && !hhmm.MatchString(cfg.Scheduler.ActiveHours.Start) {
		return fmt.Errorf("config: scheduler.active_hours.start must match HH:MM, got %q", cfg.Scheduler.ActiveHours.Start)
	}
	if cfg.Scheduler.ActiveHours.End != "" && !hhmm.MatchString(cfg.Scheduler.ActiveHours.End) {
		return fmt.Errorf("config: scheduler.active_hours.end must match HH:MM, got %q", cfg.Scheduler.ActiveHours.End)
	}
	if cfg.Scheduler.MaxTokenBudget < 1 {
		return fmt.Errorf("config: scheduler.max_token_budget must be >= 1, got %d", cfg.Scheduler.MaxTokenBudget)
	}
	if cfg.Scheduler.HeartbeatIntervalMin < 1 {
		return fmt.Errorf("config: scheduler.heartbeat_interval_min must be >= 1, got %d", cfg.Scheduler.HeartbeatIntervalMin)
	}

	if cfg.History != nil {
		if cfg.History.MaxTurns < 0 || cfg.History.MaxTurns > 10000 {
			return fmt.Errorf("config: history.max_turns must be in [0, 10000], got %d", cfg.History.MaxTurns)
		}
		if cfg.History.ThreadContextTurns < 0 || cfg.History.ThreadContextTurns > 50 {
			return fmt.Errorf("config: history.thread_context_turns must be in [0, 50], got %d", cfg.History.ThreadContextTurns)
		}
	}

	if cfg.MaxTokens != 0 && (cfg.MaxTokens < 256 || cfg.MaxTokens > 200000) {
		return fmt.Errorf("config: max_tokens must be in [256, 200000], got %d", cfg.MaxTokens)
	}

	return nil
}

// TaintThreshold returns the taint-ratio threshold for this config's profile.
func (c *Config) TaintThreshold() float64 {
	switch c.Profile {
	case ProfileParanoid:
		return 0.10
	case ProfileYOLO:
		return 0.60
	default:
		return 0.30
	}
}
