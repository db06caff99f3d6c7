// Package config defines the single configuration record consumed by every
// component of the orchestration runtime. The record is populated once at
// construction (via Load or a literal Config value) and never mutated
// afterward, following the teacher's explicit-record convention over
// builder/fluent configuration (see DESIGN.md).
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names a Fallback Manager recovery strategy. See spec §4.1.
type Strategy string

const (
	// StrategyRetry retries the operation with exponential backoff.
	StrategyRetry Strategy = "retry"
	// StrategyAlternative tries each configured alternative in order.
	StrategyAlternative Strategy = "alternative"
	// StrategyDegraded invokes a degraded handler to synthesize a result.
	StrategyDegraded Strategy = "degraded"
	// StrategyFailFast returns the failure immediately with no recovery.
	StrategyFailFast Strategy = "fail_fast"
)

// Component names a Fallback Manager caller (spec §4.1).
type Component string

const (
	ComponentLLM        Component = "llm"
	ComponentMemory     Component = "memory"
	ComponentTools      Component = "tools"
	ComponentPlanning   Component = "planning"
	ComponentSubAgents  Component = "subAgents"
	ComponentOrchestrator Component = "orchestrator"
)

// RetryConfig controls the Fallback Manager's RETRY strategy (spec §4.1, §6.5).
type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelayMs"`
	MaxDelay   time.Duration `yaml:"maxDelayMs"`
	Backoff    float64       `yaml:"backoff"`
}

// BreakerConfig controls the per-component circuit breaker (spec §4.1, §6.5).
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	FailureWindow    time.Duration `yaml:"failureWindowMs"`
	Cooldown         time.Duration `yaml:"cooldownMs"`
}

// DeadlineConfig carries the propagated timeouts of spec §5/§6.5.
type DeadlineConfig struct {
	Request time.Duration `yaml:"request"`
	LLM     time.Duration `yaml:"llm"`
	Tool    time.Duration `yaml:"tool"`
}

// SubAgentDef describes an extra sub-agent definition supplied via
// configuration (spec §6.5 `subAgents`).
type SubAgentDef struct {
	Name          string   `yaml:"name"`
	SystemPrompt  string   `yaml:"systemPrompt"`
	ToolAllowList []string `yaml:"toolAllowList"`
	Priority      int      `yaml:"priority"`
}

// Config is the single configuration record recognised by the runtime
// (spec §6.5). Zero values are replaced with documented defaults by
// Load/Defaults; direct literal construction must call Defaults() or fill
// every field explicitly.
//
// Every time.Duration field, including those whose YAML key ends in "Ms",
// is decoded as a Go duration string such as "200ms" or "24h"; a bare
// integer for any of these keys is rejected as a decode error.
type Config struct {
	ShortTermRetention      time.Duration          `yaml:"shortTermRetentionMs"`
	MaxShortTermMemories    int                    `yaml:"maxShortTermMemories"`
	MaxLongTermMemories     int                    `yaml:"maxLongTermMemories"`
	ConsolidationThreshold  float64                `yaml:"consolidationThreshold"`
	PreferenceUpdateThresh  float64                `yaml:"preferenceUpdateThreshold"`
	ConflictSimilarity      float64                `yaml:"conflictSimilarityThreshold"`

	Retry    RetryConfig              `yaml:"retry"`
	Breaker  BreakerConfig            `yaml:"breaker"`
	Deadlines DeadlineConfig          `yaml:"deadlines"`

	EnableDegradedMode bool                      `yaml:"enableDegradedMode"`
	SubAgents          []SubAgentDef             `yaml:"subAgents"`
	Strategies         map[Component]Strategy    `yaml:"strategies"`
}

// Defaults returns the configuration used when no value is supplied,
// mirroring every default named in spec §6.5.
func Defaults() Config {
	return Config{
		ShortTermRetention:     24 * time.Hour,
		MaxShortTermMemories:   100,
		MaxLongTermMemories:    10000,
		ConsolidationThreshold: 0.8,
		PreferenceUpdateThresh: 0.0,
		ConflictSimilarity:     0.9,
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Backoff:    2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    time.Minute,
			Cooldown:         30 * time.Second,
		},
		Deadlines: DeadlineConfig{
			Request: 5 * time.Minute,
			LLM:     30 * time.Second,
			Tool:    30 * time.Second,
		},
		EnableDegradedMode: true,
		Strategies: map[Component]Strategy{
			ComponentLLM:          StrategyRetry,
			ComponentMemory:       StrategyRetry,
			ComponentTools:        StrategyFailFast,
			ComponentPlanning:     StrategyDegraded,
			ComponentSubAgents:    StrategyAlternative,
			ComponentOrchestrator: StrategyFailFast,
		},
	}
}

// Load parses YAML configuration from data, applying Defaults() to any
// fields the document leaves at their zero value.
func Load(data []byte) (Config, error) {
	cfg := Defaults()
	if len(data) == 0 {
		return cfg, nil
	}
	// Seed the bool and the nested records with their defaults: a false bool
	// cannot be told apart from an omitted key afterwards, and mergeDefaults
	// only replaces nested records wholesale.
	overlay := Config{
		Retry:              cfg.Retry,
		Breaker:            cfg.Breaker,
		Deadlines:          cfg.Deadlines,
		EnableDegradedMode: cfg.EnableDegradedMode,
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, err
	}
	mergeDefaults(&overlay, cfg)
	return overlay, nil
}

// mergeDefaults fills zero-valued fields of overlay with values from
// defaults, so a partial YAML document only overrides what it names.
func mergeDefaults(overlay *Config, defaults Config) {
	if overlay.ShortTermRetention == 0 {
		overlay.ShortTermRetention = defaults.ShortTermRetention
	}
	if overlay.MaxShortTermMemories == 0 {
		overlay.MaxShortTermMemories = defaults.MaxShortTermMemories
	}
	if overlay.MaxLongTermMemories == 0 {
		overlay.MaxLongTermMemories = defaults.MaxLongTermMemories
	}
	if overlay.ConsolidationThreshold == 0 {
		overlay.ConsolidationThreshold = defaults.ConsolidationThreshold
	}
	if overlay.ConflictSimilarity == 0 {
		overlay.ConflictSimilarity = defaults.ConflictSimilarity
	}
	if overlay.Retry.MaxRetries == 0 {
		overlay.Retry = defaults.Retry
	}
	if overlay.Breaker.FailureThreshold == 0 {
		overlay.Breaker = defaults.Breaker
	}
	if overlay.Deadlines.Request == 0 {
		overlay.Deadlines = defaults.Deadlines
	}
	if overlay.Strategies == nil {
		overlay.Strategies = defaults.Strategies
	}
}

// StrategyFor returns the configured strategy for component, falling back to
// StrategyFailFast when unconfigured.
func (c Config) StrategyFor(component Component) Strategy {
	if s, ok := c.Strategies[component]; ok {
		return s
	}
	return StrategyFailFast
}
