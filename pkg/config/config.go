package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	TavilyAPIKey    string
	RoutingConfig   *RoutingConfig
	ConfigDir       string
}

// Load reads API keys from the environment and the routing file from
// ~/.quorum/routing.yaml, falling back to built-in defaults.
// Keys are never read from files in the config directory.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := fromEnv(configDir)

	routingPath := filepath.Join(configDir, "routing.yaml")
	if _, err := os.Stat(routingPath); err == nil {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config: %w", err)
		}
		cfg.RoutingConfig = routing
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	return cfg, nil
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := fromEnv(configDir)

	routing, err := LoadRoutingConfig(routingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}
	cfg.RoutingConfig = routing

	return cfg, nil
}

func fromEnv(configDir string) *Config {
	return &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		TavilyAPIKey:    os.Getenv("TAVILY_API_KEY"),
		ConfigDir:       configDir,
	}
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// CachePath returns the durable cache location. Relative paths are
// resolved against the config directory.
func (c *Config) CachePath() string {
	path := DefaultCachePath
	if c.RoutingConfig != nil && c.RoutingConfig.Cache.Path != "" {
		path = c.RoutingConfig.Cache.Path
	}
	if filepath.IsAbs(path) || c.ConfigDir == "" {
		return path
	}
	return filepath.Join(c.ConfigDir, path)
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".quorum")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return configDir, nil
}
