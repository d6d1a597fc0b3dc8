package main

import (
	"strings"
	"testing"

	"github.com/zen-systems/quorum/pkg/config"
)

func TestReadQuery(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{"args joined", []string{"what", "is", "go?"}, "", "what is go?", false},
		{"stdin", nil, "  from stdin\n", "from stdin", false},
		{"args win over stdin", []string{"arg"}, "stdin", "arg", false},
		{"empty", nil, " \n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readQuery(tt.args, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateAdaptersMockCoversEveryRoute(t *testing.T) {
	cfg := &config.Config{RoutingConfig: config.DefaultRoutingConfig()}

	adapters, err := createAdapters(cfg, true)
	if err != nil {
		t.Fatalf("createAdapters() error = %v", err)
	}
	for role, target := range cfg.RoutingConfig.Targets() {
		if _, ok := adapters[target.Adapter]; !ok {
			t.Errorf("route %s: no adapter %q", role, target.Adapter)
		}
	}
}

func TestCreateAdaptersGuardsKeyedProviders(t *testing.T) {
	cfg := &config.Config{
		DeepSeekAPIKey: "sk-test",
		RoutingConfig:  config.DefaultRoutingConfig(),
	}

	adapters, err := createAdapters(cfg, false)
	if err != nil {
		t.Fatalf("createAdapters() error = %v", err)
	}
	a, ok := adapters["deepseek"]
	if !ok {
		t.Fatal("deepseek adapter missing")
	}
	if a.Name() != "deepseek" {
		t.Errorf("Name() = %q, want deepseek", a.Name())
	}
	if _, ok := adapters["anthropic"]; ok {
		t.Error("anthropic adapter created without a key")
	}
}

func TestCreateSearcher(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		want     string
		wantErr  bool
	}{
		{"default", "", "", "duckduckgo", false},
		{"tavily with key", config.SearchTavily, "tv-key", "tavily", false},
		{"tavily without key", config.SearchTavily, "", "duckduckgo", false},
		{"unknown", "bing", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routing := config.DefaultRoutingConfig()
			routing.Search.Provider = tt.provider
			cfg := &config.Config{TavilyAPIKey: tt.key, RoutingConfig: routing}

			s, err := createSearcher(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSearcher() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if s.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.want)
			}
		})
	}
}
