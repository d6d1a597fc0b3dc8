// Package decompose splits a query into difficulty-rated sub-questions.
package decompose

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/retry"
)

const (
	// MaxSubQuestions caps how many sub-questions one query yields.
	MaxSubQuestions = 10
	// FallbackDifficulty rates the whole query when nothing parses.
	FallbackDifficulty = 50

	minDifficulty = 1
	maxDifficulty = 100
)

// SubQuestion is one self-contained piece of the user query.
type SubQuestion struct {
	Text           string `json:"text"`
	Difficulty     int    `json:"difficulty"`
	NeedsWebSearch bool   `json:"needs_web_search"`
}

// Sender delivers a request to a configured route.
type Sender interface {
	Send(ctx context.Context, target config.RouteTarget, req adapter.Request) (*adapter.Response, error)
}

const systemPrompt = `You break a user's query into the smallest set of self-contained sub-questions that together answer it.
Rate each sub-question's difficulty from 1 (trivial lookup) to 100 (expert research),
and say whether answering it needs current information from the web.
Write one sub-question per line in exactly this form and write nothing else:
Question: <sub-question> | Difficulty: <1-100> | Needs Web Search: <true or false>`

// Decomposer asks a model for sub-questions.
type Decomposer struct {
	sender Sender
	stage  config.StageConfig
	policy retry.Policy
	logger func(format string, args ...any)
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithPolicy sets the retry policy for the decomposition request.
func WithPolicy(p retry.Policy) Option {
	return func(d *Decomposer) {
		d.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger func(format string, args ...any)) Option {
	return func(d *Decomposer) {
		d.logger = logger
	}
}

// New creates a decomposer that calls stage's route.
func New(sender Sender, stage config.StageConfig, opts ...Option) *Decomposer {
	d := &Decomposer{
		sender: sender,
		stage:  stage,
		policy: retry.DefaultPolicy(),
		logger: log.Printf,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose returns the sub-questions for query. If the reply contains no
// usable line, the whole query comes back as a single sub-question. An
// error means the request failed after every retry.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]SubQuestion, error) {
	var content string
	err := retry.Do(ctx, d.policy, d.logger, func(ctx context.Context) error {
		resp, err := d.sender.Send(ctx, d.stage.RouteTarget, adapter.Request{
			System:      systemPrompt,
			Prompt:      query,
			MaxTokens:   d.stage.MaxTokens,
			Temperature: d.stage.Temperature,
		})
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decompose query: %w", err)
	}

	limit := d.stage.MaxSubQuestions
	if limit <= 0 || limit > MaxSubQuestions {
		limit = MaxSubQuestions
	}
	sqs := ParseSubQuestions(content, limit)
	if len(sqs) == 0 {
		d.logger("[decompose] no sub-questions parsed, using the query as is")
		return []SubQuestion{{Text: query, Difficulty: FallbackDifficulty}}, nil
	}
	return sqs, nil
}

// ParseSubQuestions reads lines of the form
// "Question: q | Difficulty: n | Needs Web Search: Yes". Lines that do not
// fit are skipped. Difficulty is clamped to 1..100 and at most limit
// sub-questions are returned.
func ParseSubQuestions(text string, limit int) []SubQuestion {
	if limit <= 0 {
		limit = MaxSubQuestions
	}
	var out []SubQuestion
	for _, line := range strings.Split(text, "\n") {
		sq, ok := parseLine(line)
		if !ok {
			continue
		}
		out = append(out, sq)
		if len(out) == limit {
			break
		}
	}
	return out
}

func parseLine(line string) (SubQuestion, bool) {
	parts := strings.Split(strings.TrimSpace(line), " | ")
	if len(parts) != 3 {
		return SubQuestion{}, false
	}

	question, ok := field(parts[0], "Question:")
	if !ok || question == "" {
		return SubQuestion{}, false
	}
	rawDifficulty, ok := field(parts[1], "Difficulty:")
	if !ok {
		return SubQuestion{}, false
	}
	difficulty, err := strconv.Atoi(rawDifficulty)
	if err != nil {
		return SubQuestion{}, false
	}
	search, ok := field(parts[2], "Needs Web Search:")
	if !ok {
		return SubQuestion{}, false
	}

	return SubQuestion{
		Text:           question,
		Difficulty:     clamp(difficulty),
		NeedsWebSearch: needsSearch(search),
	}, true
}

func needsSearch(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

func field(part, label string) (string, bool) {
	part = strings.TrimSpace(part)
	if !strings.HasPrefix(part, label) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(part, label)), true
}

func clamp(d int) int {
	if d < minDifficulty {
		return minDifficulty
	}
	if d > maxDifficulty {
		return maxDifficulty
	}
	return d
}
