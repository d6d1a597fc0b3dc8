package usage

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

func TestEstimateCostFallsBackToDefault(t *testing.T) {
	pricing := config.PricingConfig{
		"openai": {
			"gpt-4o":  {PromptPer1K: 0.005, CompletionPer1K: 0.015},
			"default": {PromptPer1K: 0.001, CompletionPer1K: 0.002},
		},
	}

	cost, ok := EstimateCost(pricing, "openai", "gpt-4o", adapter.Usage{PromptTokens: 1000, CompletionTokens: 2000})
	require.True(t, ok)
	assert.InDelta(t, 0.035, cost.Amount, 1e-9)
	assert.True(t, cost.IsEstimate)

	cost, ok = EstimateCost(pricing, "openai", "gpt-3.5-turbo", adapter.Usage{PromptTokens: 1000})
	require.True(t, ok)
	assert.InDelta(t, 0.001, cost.Amount, 1e-9)

	_, ok = EstimateCost(pricing, "anthropic", "claude-3-haiku-20240307", adapter.Usage{PromptTokens: 1000})
	assert.False(t, ok)
}

func TestTrackerRecordsConcurrently(t *testing.T) {
	tracker := NewTracker(config.PricingConfig{
		"mock": {"default": {PromptPer1K: 1, CompletionPer1K: 1}},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record("mock", "mock-1", &adapter.Response{Usage: &adapter.Usage{PromptTokens: 100, CompletionTokens: 100}}, nil)
		}()
	}
	wg.Wait()
	tracker.Record("mock", "mock-1", nil, errors.New("boom"))

	report := tracker.Report()
	require.NotNil(t, report)
	assert.Len(t, report.Calls, 21)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 4000, report.TotalUsage.TotalTokens)
	assert.InDelta(t, 4.0, report.TotalAmount, 1e-9)
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tracker *Tracker
	tracker.Record("mock", "m", nil, nil)
	assert.Nil(t, tracker.Report())
}

func TestNormalizeFillsTotal(t *testing.T) {
	u := Normalize(&adapter.Usage{PromptTokens: 3, CompletionTokens: 4})
	assert.Equal(t, 7, u.TotalTokens)
	assert.Equal(t, adapter.Usage{}, Normalize(nil))
}
