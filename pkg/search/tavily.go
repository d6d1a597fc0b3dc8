package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily searches through the Tavily API. Its AI summary is disabled; only
// raw results are used.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// TavilyOption configures a Tavily searcher.
type TavilyOption func(*Tavily)

// WithTavilyURL overrides the endpoint (used by tests).
func WithTavilyURL(baseURL string) TavilyOption {
	return func(t *Tavily) {
		t.baseURL = baseURL
	}
}

// WithTavilyHTTPClient sets the HTTP client.
func WithTavilyHTTPClient(client *http.Client) TavilyOption {
	return func(t *Tavily) {
		t.httpClient = client
	}
}

// NewTavily creates a Tavily searcher.
func NewTavily(apiKey string, opts ...TavilyOption) (*Tavily, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tavily API key is required")
	}
	t := &Tavily{
		apiKey:  apiKey,
		baseURL: tavilyURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the provider identifier.
func (t *Tavily) Name() string {
	return "tavily"
}

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts query to the API.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	body, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: false,
		MaxResults:    maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: status %d", resp.StatusCode)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{Title: r.Title, Link: r.URL, Snippet: r.Content})
	}
	return results, nil
}
