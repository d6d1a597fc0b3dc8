// Package executor answers sub-questions on the backend the selector picks.
//
// Each answer runs through persistent(memory(retry(dispatch))), so a cached
// answer is returned before any retry and failures are never stored.
package executor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/cache"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/decompose"
	"github.com/zen-systems/quorum/pkg/retry"
	"github.com/zen-systems/quorum/pkg/router"
)

// Op names the cached operation.
const Op = "query_model_with_context"

// SearchUnavailable replaces search results when the search tool fails.
const SearchUnavailable = "Web Search Results: Unable to perform web search due to an error."

const systemPrompt = `You answer one part of a larger question.
The full query is given for context; answer only the specific question, thoroughly and accurately.
When the question asks for code, include complete, runnable code.
If web search results are provided, prefer them for anything time-sensitive.`

// Router resolves tiers and sends requests.
type Router interface {
	Target(b router.Backend) config.RouteTarget
	Send(ctx context.Context, target config.RouteTarget, req adapter.Request) (*adapter.Response, error)
}

// Searcher returns summarized web results for a query.
type Searcher interface {
	Summary(ctx context.Context, query string) (string, error)
}

// SubAnswer is the answer to one sub-question.
type SubAnswer struct {
	Index          int                   `json:"index"`
	SubQuestion    decompose.SubQuestion `json:"sub_question"`
	Classification router.Classification `json:"classification"`
	Backend        router.Backend        `json:"backend"`
	Rule           int                   `json:"rule"`
	Model          string                `json:"model"`
	Text           string                `json:"text"`
	Failed         bool                  `json:"failed"`
}

// Format renders the block handed to the consensus stage.
func (a SubAnswer) Format(i int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sub-question %d: %s\n", i, a.SubQuestion.Text)
	fmt.Fprintf(&sb, "Difficulty: %d\n", a.SubQuestion.Difficulty)
	fmt.Fprintf(&sb, "Question Type: %s\n", a.Classification.Category)
	fmt.Fprintf(&sb, "Expertise: %s\n", a.Classification.Expertise)
	fmt.Fprintf(&sb, "Coding-related: %s\n", strconv.FormatBool(a.Classification.Coding))
	fmt.Fprintf(&sb, "Model used: %s\n", a.Model)
	fmt.Fprintf(&sb, "Answer: %s\n", a.Text)
	return sb.String()
}

// FormatAll renders every answer, numbered from 1.
func FormatAll(answers []SubAnswer) []string {
	out := make([]string, len(answers))
	for i, a := range answers {
		out[i] = a.Format(i + 1)
	}
	return out
}

// Placeholder is the answer text used when a backend never answered.
func Placeholder(model string) string {
	return "Error: Failed to query " + model
}

// queryArgs is the full cache key tuple. Field order is part of the key.
type queryArgs struct {
	FullQuery      string           `json:"full_query"`
	SubQuestion    string           `json:"sub_question"`
	Difficulty     int              `json:"difficulty"`
	Category       router.Category  `json:"category"`
	Expertise      router.Expertise `json:"expertise"`
	Coding         bool             `json:"coding"`
	NeedsWebSearch bool             `json:"needs_web_search"`
}

type queryResult struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// Executor answers sub-questions.
type Executor struct {
	router      Router
	search      Searcher
	stage       config.StageConfig
	policy      retry.Policy
	store       cache.Store
	memory      *cache.Memory
	handler     cache.Handler
	maxParallel int
	logger      func(format string, args ...any)
}

// Option configures an Executor.
type Option func(*Executor)

// WithSearch enables web search for sub-questions that ask for it.
func WithSearch(s Searcher) Option {
	return func(e *Executor) {
		e.search = s
	}
}

// WithStore persists answers in store.
func WithStore(store cache.Store) Option {
	return func(e *Executor) {
		e.store = store
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithStage sets token and temperature limits for answer requests.
func WithStage(stage config.StageConfig) Option {
	return func(e *Executor) {
		e.stage = stage
	}
}

// WithMaxParallel bounds concurrent answers. Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Executor) {
		e.maxParallel = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger func(format string, args ...any)) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an executor sending through r.
func New(r Router, opts ...Option) *Executor {
	e := &Executor{
		router: r,
		policy: retry.DefaultPolicy(),
		logger: log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.memory = cache.NewMemory(Op, e.logger)
	e.handler = cache.Chain(
		cache.Func(e.dispatch),
		cache.Persistent(e.store, e.logger),
		e.memory.Layer(),
		retry.Layer(e.policy, e.logger),
	)
	return e
}

// Memory exposes the in-process cache of answers.
func (e *Executor) Memory() *cache.Memory {
	return e.memory
}

// Answer answers sq in the context of fullQuery. It never fails: when every
// attempt errors the answer text is a placeholder and Failed is set.
func (e *Executor) Answer(ctx context.Context, fullQuery string, sq decompose.SubQuestion, cls router.Classification) SubAnswer {
	backend, rule := router.Explain(sq.Difficulty, cls.Category, cls.Expertise, cls.Coding)
	target := e.router.Target(backend)
	answer := SubAnswer{
		SubQuestion:    sq,
		Classification: cls,
		Backend:        backend,
		Rule:           rule,
		Model:          target.Model,
	}

	res, err := cache.Invoke[queryArgs, queryResult](ctx, e.handler, Op, queryArgs{
		FullQuery:      fullQuery,
		SubQuestion:    sq.Text,
		Difficulty:     sq.Difficulty,
		Category:       cls.Category,
		Expertise:      cls.Expertise,
		Coding:         cls.Coding,
		NeedsWebSearch: sq.NeedsWebSearch,
	})
	if err != nil {
		e.logger("[executor] %q on %s: %v", sq.Text, target, err)
		answer.Text = Placeholder(target.Model)
		answer.Failed = true
		return answer
	}

	answer.Text = res.Text
	if res.Model != "" {
		answer.Model = res.Model
	}
	return answer
}

// AnswerAll answers every sub-question concurrently. Answer i belongs to
// sqs[i] and carries the 1-based index i+1.
func (e *Executor) AnswerAll(ctx context.Context, fullQuery string, sqs []decompose.SubQuestion, classes []router.Classification) []SubAnswer {
	out := make([]SubAnswer, len(sqs))
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, sq := range sqs {
		cls := router.DefaultClassification
		if i < len(classes) {
			cls = classes[i]
		}
		g.Go(func() error {
			a := e.Answer(ctx, fullQuery, sq, cls)
			a.Index = i + 1
			out[i] = a
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Executor) dispatch(ctx context.Context, args queryArgs) (queryResult, error) {
	backend := router.SelectBackend(args.Difficulty, args.Category, args.Expertise, args.Coding)
	target := e.router.Target(backend)

	prompt := BuildPrompt(args.FullQuery, args.SubQuestion)
	if args.NeedsWebSearch {
		prompt += "\n\n" + e.searchContext(ctx, args.SubQuestion)
	}

	resp, err := e.router.Send(ctx, target, adapter.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   e.stage.MaxTokens,
		Temperature: e.stage.Temperature,
	})
	if err != nil {
		return queryResult{}, err
	}
	return queryResult{Text: resp.Content, Backend: backend.String(), Model: target.Model}, nil
}

func (e *Executor) searchContext(ctx context.Context, query string) string {
	if e.search == nil {
		return SearchUnavailable
	}
	summary, err := e.search.Summary(ctx, query)
	if err != nil {
		e.logger("[executor] web search for %q: %v", query, err)
		return SearchUnavailable
	}
	return "Web Search Results:\n" + summary
}

// BuildPrompt frames a sub-question inside the full query.
func BuildPrompt(fullQuery, subQuestion string) string {
	return fmt.Sprintf("Full Query Context: %s\n\nSpecific Question to Answer: %s", fullQuery, subQuestion)
}
