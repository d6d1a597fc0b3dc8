package adapter

import (
	"context"
)

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Generate sends a request to the model and returns its text response.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Request is a single-turn chat request. System is optional.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 2048

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}
