package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend tier names used as keys of RoutingConfig.Backends.
const (
	TierFast     = "fast"
	TierEconomy  = "economy"
	TierBalanced = "balanced"
	TierFrontier = "frontier"
)

// Cache backends.
const (
	CacheJSON   = "json"
	CacheSQLite = "sqlite"
)

// Search providers.
const (
	SearchDuckDuckGo = "duckduckgo"
	SearchTavily     = "tavily"
)

// DefaultCachePath is the durable cache file name inside the config directory.
const DefaultCachePath = "query_cache.json"

// RoutingConfig holds the pipeline configuration: which model serves each
// backend tier and each fixed stage, plus retry, cache and search settings.
type RoutingConfig struct {
	Backends    map[string]RouteTarget `yaml:"backends"`
	Decomposer  StageConfig            `yaml:"decomposer"`
	Classifier  StageConfig            `yaml:"classifier"`
	Query       StageConfig            `yaml:"query,omitempty"`
	Consensus   ConsensusConfig        `yaml:"consensus"`
	Retry       RetryConfig            `yaml:"retry,omitempty"`
	Cache       CacheConfig            `yaml:"cache,omitempty"`
	Search      SearchConfig           `yaml:"search,omitempty"`
	MaxParallel int                    `yaml:"max_parallel,omitempty"`
	RateLimits  map[string]RateLimit   `yaml:"rate_limits,omitempty"`
	Breaker     BreakerConfig          `yaml:"breaker,omitempty"`
	Pricing     PricingConfig          `yaml:"pricing,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

func (t RouteTarget) String() string {
	return t.Adapter + "/" + t.Model
}

// StageConfig configures a single-model stage.
type StageConfig struct {
	RouteTarget     `yaml:",inline"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	MaxTokens       int      `yaml:"max_tokens,omitempty"`
	MaxSubQuestions int      `yaml:"max_sub_questions,omitempty"`
}

// ConsensusConfig configures the final-answer panel and the arbiter.
type ConsensusConfig struct {
	Panel             []RouteTarget `yaml:"panel"`
	Arbiter           RouteTarget   `yaml:"arbiter"`
	FidelityThreshold float64       `yaml:"fidelity_threshold,omitempty"`
	MaxTokens         int           `yaml:"max_tokens,omitempty"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// CacheConfig selects the durable cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Provider   string `yaml:"provider,omitempty"`
	MaxResults int    `yaml:"max_results,omitempty"`
	MaxChars   int    `yaml:"max_chars,omitempty"`
}

// RateLimit is a per-adapter token bucket.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst,omitempty"`
}

// BreakerConfig configures per-adapter circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures int `yaml:"consecutive_failures,omitempty"`
	OpenTimeoutMs       int `yaml:"open_timeout_ms,omitempty"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{}
	applyRoutingDefaults(cfg)
	return cfg
}

// Validate checks values that defaults cannot repair.
func (c *RoutingConfig) Validate() error {
	if c.Consensus.FidelityThreshold < 0 || c.Consensus.FidelityThreshold > 1 {
		return fmt.Errorf("consensus.fidelity_threshold must be within [0,1], got %v", c.Consensus.FidelityThreshold)
	}
	switch c.Cache.Backend {
	case CacheJSON, CacheSQLite:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheJSON, CacheSQLite, c.Cache.Backend)
	}
	switch c.Search.Provider {
	case SearchDuckDuckGo, SearchTavily:
	default:
		return fmt.Errorf("search.provider must be %q or %q, got %q", SearchDuckDuckGo, SearchTavily, c.Search.Provider)
	}
	for tier, target := range c.Backends {
		if target.Adapter == "" || target.Model == "" {
			return fmt.Errorf("backend %q needs both adapter and model", tier)
		}
	}
	return nil
}

// Targets lists every route the pipeline may call, labelled by role.
func (c *RoutingConfig) Targets() map[string]RouteTarget {
	out := map[string]RouteTarget{
		"decomposer": c.Decomposer.RouteTarget,
		"classifier": c.Classifier.RouteTarget,
		"arbiter":    c.Consensus.Arbiter,
	}
	for tier, target := range c.Backends {
		out["backend."+tier] = target
	}
	for i, target := range c.Consensus.Panel {
		out[fmt.Sprintf("panel.%d", i+1)] = target
	}
	return out
}

var defaultBackends = map[string]RouteTarget{
	TierFast:     {Adapter: "anthropic", Model: "claude-3-haiku-20240307"},
	TierEconomy:  {Adapter: "openai", Model: "gpt-3.5-turbo"},
	TierBalanced: {Adapter: "openai", Model: "gpt-4o"},
	TierFrontier: {Adapter: "anthropic", Model: "claude-3-5-sonnet-20240620"},
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]RouteTarget, len(defaultBackends))
	}
	for tier, target := range defaultBackends {
		if _, ok := cfg.Backends[tier]; !ok {
			cfg.Backends[tier] = target
		}
	}

	defaultStage(&cfg.Decomposer, RouteTarget{Adapter: "openai", Model: "gpt-4o"}, 0.2)
	if cfg.Decomposer.MaxSubQuestions <= 0 || cfg.Decomposer.MaxSubQuestions > 10 {
		cfg.Decomposer.MaxSubQuestions = 10
	}
	defaultStage(&cfg.Classifier, RouteTarget{Adapter: "openai", Model: "gpt-4o"}, 0.3)
	if cfg.Query.MaxTokens == 0 {
		cfg.Query.MaxTokens = 2048
	}

	if len(cfg.Consensus.Panel) == 0 {
		cfg.Consensus.Panel = []RouteTarget{
			{Adapter: "openai", Model: "gpt-4o"},
			{Adapter: "anthropic", Model: "claude-3-5-sonnet-20240620"},
			{Adapter: "openai", Model: "gpt-3.5-turbo"},
		}
	}
	if cfg.Consensus.Arbiter.Adapter == "" {
		cfg.Consensus.Arbiter = RouteTarget{Adapter: "anthropic", Model: "claude-3-5-sonnet-20240620"}
	}
	if cfg.Consensus.FidelityThreshold == 0 {
		cfg.Consensus.FidelityThreshold = 0.8
	}
	if cfg.Consensus.MaxTokens == 0 {
		cfg.Consensus.MaxTokens = 2048
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 4000
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 10000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheJSON
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath
		if cfg.Cache.Backend == CacheSQLite {
			cfg.Cache.Path = "query_cache.db"
		}
	}

	if cfg.Search.Provider == "" {
		cfg.Search.Provider = SearchDuckDuckGo
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.Search.MaxChars == 0 {
		cfg.Search.MaxChars = 1000
	}

	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.OpenTimeoutMs == 0 {
		cfg.Breaker.OpenTimeoutMs = 30000
	}
}

func defaultStage(stage *StageConfig, target RouteTarget, temperature float64) {
	if stage.Adapter == "" {
		stage.RouteTarget = target
	}
	if stage.Temperature == nil {
		t := temperature
		stage.Temperature = &t
	}
	if stage.MaxTokens == 0 {
		stage.MaxTokens = 2048
	}
}
