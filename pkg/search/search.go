// Package search fetches and summarizes web results for sub-questions that
// need current information.
package search

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/quorum/pkg/cache"
)

const (
	// DefaultMaxResults is how many results a search asks for.
	DefaultMaxResults = 5
	// DefaultMaxChars bounds a summary.
	DefaultMaxChars = 1000

	summaryHeader = "Web search results:\n\n"
	cacheOp       = "web_search"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher queries a web search provider.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Summarize renders results under a header, adding whole entries until the
// next one would push the text past maxChars.
func Summarize(results []Result, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var sb strings.Builder
	sb.WriteString(summaryHeader)
	count := utf8.RuneCountInString(summaryHeader)

	for _, r := range results {
		entry := fmt.Sprintf("- %s\n  %s\n  %s\n\n", r.Title, r.Link, r.Snippet)
		n := utf8.RuneCountInString(entry)
		if count+n > maxChars {
			break
		}
		sb.WriteString(entry)
		count += n
	}
	return strings.TrimSpace(sb.String())
}

type searchArgs struct {
	Provider   string `json:"provider"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// Tool runs searches through the cache layers. Results are memoized for the
// process and, when a store is given, persisted across runs.
type Tool struct {
	searcher   Searcher
	maxResults int
	maxChars   int
	memory     *cache.Memory
	handler    cache.Handler
	logger     func(format string, args ...any)
}

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithLimits sets the result count and summary size.
func WithLimits(maxResults, maxChars int) ToolOption {
	return func(t *Tool) {
		if maxResults > 0 {
			t.maxResults = maxResults
		}
		if maxChars > 0 {
			t.maxChars = maxChars
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger func(format string, args ...any)) ToolOption {
	return func(t *Tool) {
		t.logger = logger
	}
}

// NewTool wraps searcher. store may be nil to keep results in memory only.
func NewTool(searcher Searcher, store cache.Store, opts ...ToolOption) *Tool {
	t := &Tool{
		searcher:   searcher,
		maxResults: DefaultMaxResults,
		maxChars:   DefaultMaxChars,
		logger:     log.Printf,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.memory = cache.NewMemory(cacheOp, t.logger)
	t.handler = cache.Chain(
		cache.Func(t.search),
		cache.Persistent(store, t.logger),
		t.memory.Layer(),
	)
	return t
}

// Search returns results for query.
func (t *Tool) Search(ctx context.Context, query string) ([]Result, error) {
	return cache.Invoke[searchArgs, []Result](ctx, t.handler, cacheOp, searchArgs{
		Provider:   t.searcher.Name(),
		Query:      query,
		MaxResults: t.maxResults,
	})
}

// Summary searches and summarizes in one step.
func (t *Tool) Summary(ctx context.Context, query string) (string, error) {
	results, err := t.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return Summarize(results, t.maxChars), nil
}

func (t *Tool) search(ctx context.Context, args searchArgs) ([]Result, error) {
	results, err := t.searcher.Search(ctx, args.Query, args.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", t.searcher.Name(), err)
	}
	if len(results) > args.MaxResults {
		results = results[:args.MaxResults]
	}
	return results, nil
}
