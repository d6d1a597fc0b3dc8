package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekAdapter implements the Adapter interface for DeepSeek models.
// DeepSeek uses an OpenAI-compatible API format.
type DeepSeekAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// DeepSeekOption configures a DeepSeekAdapter.
type DeepSeekOption func(*DeepSeekAdapter)

// WithDeepSeekBaseURL points the adapter at a different endpoint.
func WithDeepSeekBaseURL(baseURL string) DeepSeekOption {
	return func(a *DeepSeekAdapter) {
		a.baseURL = baseURL
	}
}

// WithDeepSeekHTTPClient replaces the HTTP client.
func WithDeepSeekHTTPClient(client *http.Client) DeepSeekOption {
	return func(a *DeepSeekAdapter) {
		a.httpClient = client
	}
}

// deepseekRequest represents the OpenAI-compatible request format.
type deepseekRequest struct {
	Model       string            `json:"model"`
	Messages    []deepseekMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// deepseekMessage represents a chat message.
type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// deepseekResponse represents the OpenAI-compatible response format.
type deepseekResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewDeepSeekAdapter creates a new DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string, opts ...DeepSeekOption) (*DeepSeekAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}

	a := &DeepSeekAdapter{
		apiKey:     apiKey,
		baseURL:    deepseekBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the adapter identifier.
func (a *DeepSeekAdapter) Name() string {
	return "deepseek"
}

// Models returns the list of supported DeepSeek models.
func (a *DeepSeekAdapter) Models() []string {
	return []string{
		"deepseek-chat",
		"deepseek-coder",
		"deepseek-reasoner",
	}
}

// Generate posts a chat completion and returns the first choice.
// An error object in the body is a failure even when the status is 200.
func (a *DeepSeekAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]deepseekMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, deepseekMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, deepseekMessage{Role: "user", Content: req.Prompt})

	reqBody := deepseekRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.maxTokens(),
		Temperature: req.Temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepseek API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var deepseekResp deepseekResponse
	if err := json.Unmarshal(body, &deepseekResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &AdapterError{
				Status: resp.StatusCode,
				Err:    fmt.Errorf("deepseek API returned status %d: %s", resp.StatusCode, string(body)),
			}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if deepseekResp.Error != nil {
		return nil, &AdapterError{
			Status: resp.StatusCode,
			Err: fmt.Errorf("deepseek API error: %s (type: %s, code: %s)",
				deepseekResp.Error.Message, deepseekResp.Error.Type, deepseekResp.Error.Code),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &AdapterError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("deepseek API returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if len(deepseekResp.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	usage := &Usage{
		PromptTokens:     deepseekResp.Usage.PromptTokens,
		CompletionTokens: deepseekResp.Usage.CompletionTokens,
		TotalTokens:      deepseekResp.Usage.TotalTokens,
	}
	return newResponse(a.Name(), req.Model, deepseekResp.Choices[0].Message.Content, usage), nil
}
