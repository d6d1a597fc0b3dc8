package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelAliases maps short names to canonical model IDs and lists the models
// each provider serves.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	aliases := &ModelAliases{}
	if err := yaml.Unmarshal(data, aliases); err != nil {
		return nil, err
	}
	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}
	return aliases, nil
}

// LoadAliasesWithFallback prefers ~/.quorum/models.yaml, then fallbackPath,
// then the built-in defaults.
func LoadAliasesWithFallback(fallbackPath string) (*ModelAliases, error) {
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".quorum", "models.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return LoadAliases(userPath)
		}
	}
	if fallbackPath != "" {
		if _, err := os.Stat(fallbackPath); err == nil {
			return LoadAliases(fallbackPath)
		}
	}
	return DefaultAliases(), nil
}

// Resolve returns the canonical model name for an alias, or the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ResolveTarget resolves the model of a route target.
func (a *ModelAliases) ResolveTarget(t RouteTarget) RouteTarget {
	t.Model = a.Resolve(t.Model)
	return t
}

// ValidateModel checks that a provider serves the model.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || len(a.Providers) == 0 {
		return nil
	}
	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %q not in %s provider list", model, adapter)
}

// ListProviders returns provider names in sorted order.
func (a *ModelAliases) ListProviders() []string {
	if a == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// ProviderModels returns the models for a provider.
func (a *ModelAliases) ProviderModels(provider string) []string {
	if a == nil {
		return nil
	}
	return a.Providers[provider]
}

// ProviderForModel returns the provider serving a canonical model, or "".
func (a *ModelAliases) ProviderForModel(model string) string {
	if a == nil {
		return ""
	}
	for _, provider := range a.ListProviders() {
		for _, m := range a.Providers[provider] {
			if m == model {
				return provider
			}
		}
	}
	return ""
}

// SortedAliases returns alias names in sorted order.
func (a *ModelAliases) SortedAliases() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Aliases))
	for name := range a.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateRoutingConfig checks every route in cfg, returning one error per bad route
// in sorted role order.
func (a *ModelAliases) ValidateRoutingConfig(cfg *RoutingConfig) []error {
	if a == nil || cfg == nil {
		return nil
	}
	targets := cfg.Targets()
	roles := make([]string, 0, len(targets))
	for role := range targets {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var errs []error
	for _, role := range roles {
		target := a.ResolveTarget(targets[role])
		if err := a.ValidateModel(target.Adapter, target.Model); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}
	return errs
}

// DefaultAliases returns the built-in alias table.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"haiku":  "claude-3-haiku-20240307",
			"sonnet": "claude-3-5-sonnet-20240620",
			"gpt4o":  "gpt-4o",
			"gpt35":  "gpt-3.5-turbo",
			"gemini": "gemini-1.5-pro",
			"cheap":  "deepseek-chat",
			"reason": "deepseek-reasoner",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-3-haiku-20240307", "claude-3-5-sonnet-20240620", "claude-sonnet-4-20250514"},
			"openai":    {"gpt-3.5-turbo", "gpt-4o", "gpt-4o-mini"},
			"google":    {"gemini-1.5-pro", "gemini-2.0-flash"},
			"deepseek":  {"deepseek-chat", "deepseek-coder", "deepseek-reasoner"},
			"mock":      {"mock-1"},
		},
	}
}
