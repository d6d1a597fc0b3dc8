package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	duckDuckGoURL       = "https://html.duckduckgo.com/html/"
	duckDuckGoUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes        = 5 * 1024 * 1024
)

var (
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)

	tagRegex        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// DuckDuckGo scrapes the HTML endpoint. It needs no key.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// DuckDuckGoOption configures a DuckDuckGo searcher.
type DuckDuckGoOption func(*DuckDuckGo)

// WithDuckDuckGoURL overrides the endpoint (used by tests).
func WithDuckDuckGoURL(baseURL string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.baseURL = baseURL
	}
}

// WithDuckDuckGoHTTPClient sets the HTTP client.
func WithDuckDuckGoHTTPClient(client *http.Client) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		d.httpClient = client
	}
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL: duckDuckGoURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the provider identifier.
func (d *DuckDuckGo) Name() string {
	return "duckduckgo"
}

// Search fetches the result page for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", duckDuckGoUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results := parseDuckDuckGo(string(body))
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// parseDuckDuckGo pairs result links with snippets by position.
func parseDuckDuckGo(page string) []Result {
	titles := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippets := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	var results []Result
	for i, match := range titles {
		link := unwrapRedirect(strings.ReplaceAll(match[1], "&amp;", "&"))
		title := cleanHTML(match[2])
		if link == "" || title == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, Result{Title: title, Link: link, Snippet: snippet})
	}
	return results
}

// unwrapRedirect returns the target of a /l/?uddg= redirect link, or the
// link itself when it is already absolute.
func unwrapRedirect(link string) string {
	if strings.Contains(link, "uddg=") {
		if strings.HasPrefix(link, "//") {
			link = "https:" + link
		}
		parsed, err := url.Parse(link)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return ""
}

func cleanHTML(s string) string {
	s = tagRegex.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
