package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	responses       map[string]string
	defaultResponse string
	handler         func(Request) (string, error)
	Usage           *Usage

	mu    sync.Mutex
	calls []Request
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses
// keyed by prompt.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// NewMockAdapterFunc creates a mock adapter whose replies are computed by fn.
func NewMockAdapterFunc(fn func(Request) (string, error)) *MockAdapter {
	return &MockAdapter{handler: fn, defaultResponse: "mock response:"}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls returns a copy of every request seen so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// Generate returns a deterministic response for the request.
func (a *MockAdapter) Generate(_ context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	a.mu.Unlock()

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	if a.handler != nil {
		content, err := a.handler(req)
		if err != nil {
			return nil, err
		}
		return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
	}
	if response, ok := a.responses[req.Prompt]; ok {
		return &Response{Content: response, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
	}
	content := fmt.Sprintf("%s\n%s", a.defaultResponse, req.Prompt)
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
}
