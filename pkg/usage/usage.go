// Package usage keeps a ledger of provider calls made during a run.
package usage

import (
	"sync"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

// Report summarizes every recorded call.
type Report struct {
	Currency    string               `json:"currency"`
	TotalAmount float64              `json:"total_amount"`
	TotalUsage  adapter.Usage        `json:"total_usage"`
	Calls       []adapter.CallReport `json:"calls"`
	Failures    int                  `json:"failures"`
}

// Tracker records calls from concurrent goroutines.
type Tracker struct {
	mu          sync.Mutex
	pricing     config.PricingConfig
	currency    string
	totalUsage  adapter.Usage
	totalAmount float64
	calls       []adapter.CallReport
	failures    int
}

// NewTracker creates a tracker that prices calls with pricing. A nil
// pricing table records tokens only.
func NewTracker(pricing config.PricingConfig) *Tracker {
	return &Tracker{
		pricing:  pricing,
		currency: "USD",
	}
}

// Record adds one call. A nil tracker ignores it.
func (t *Tracker) Record(adapterName, model string, resp *adapter.Response, callErr error) {
	if t == nil {
		return
	}

	report := adapter.CallReport{Adapter: adapterName, Model: model}
	if callErr != nil {
		report.Error = callErr.Error()
	} else if resp != nil {
		report.Usage = Normalize(resp.Usage)
		if cost, ok := EstimateCost(t.pricing, adapterName, model, report.Usage); ok {
			report.Cost = cost
		} else {
			report.Cost = adapter.Cost{Currency: t.currency}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, report)
	if report.Error != "" {
		t.failures++
		return
	}
	t.totalAmount += report.Cost.Amount
	t.totalUsage = addUsage(t.totalUsage, report.Usage)
}

// Report returns a snapshot of the ledger.
func (t *Tracker) Report() *Report {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	calls := make([]adapter.CallReport, len(t.calls))
	copy(calls, t.calls)
	return &Report{
		Currency:    t.currency,
		TotalAmount: t.totalAmount,
		TotalUsage:  t.totalUsage,
		Calls:       calls,
		Failures:    t.failures,
	}
}

// Normalize fills TotalTokens when the provider left it empty.
func Normalize(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// EstimateCost prices usage from the adapter/model table, falling back to
// the adapter's "default" entry.
func EstimateCost(pricing config.PricingConfig, adapterName, model string, usage adapter.Usage) (adapter.Cost, bool) {
	entry, ok := pricingFor(pricing, adapterName, model)
	if !ok {
		return adapter.Cost{Currency: "USD"}, false
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}, true
}

func pricingFor(pricing config.PricingConfig, adapterName, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if adapterPricing, ok := pricing[adapterName]; ok {
		if entry, ok := adapterPricing[model]; ok {
			return entry, true
		}
		if entry, ok := adapterPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}

func addUsage(a adapter.Usage, b adapter.Usage) adapter.Usage {
	return adapter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
