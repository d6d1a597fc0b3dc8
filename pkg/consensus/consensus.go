// Package consensus turns sub-answers into one final answer: a panel of
// models each writes a candidate, an arbiter picks or merges one, and a
// length check may send the pick back for a completeness pass.
package consensus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

// DefaultFidelityThreshold is the decision/candidate length ratio below
// which the decision is verified.
const DefaultFidelityThreshold = 0.8

// DecisionFailed is the decision text when the arbiter never answered.
const DecisionFailed = "Error: Failed to make final decision"

const (
	finalCheckSystemPrompt = `You write the final answer to a user's query from answers to its sub-questions.
Merge them into one coherent, complete response. Keep every code block intact and do not drop details.`

	decisionSystemPrompt = `You judge several candidate answers to the same query.
Pick the best one and return it verbatim, or write a better answer that combines their strengths.
Return only the answer itself, with all code from the chosen material included in full.`

	verificationSystemPrompt = `You check a chosen answer against the candidates it was chosen from.
If the chosen answer left out information or code that the candidates contain, put it back.
Every code block from the chosen answer must appear in full in your output. Return only the corrected answer.`
)

// Sender delivers a request to a configured route.
type Sender interface {
	Send(ctx context.Context, target config.RouteTarget, req adapter.Request) (*adapter.Response, error)
}

// Candidate is one panel member's final answer.
type Candidate struct {
	Model  string `json:"model"`
	Text   string `json:"text"`
	Failed bool   `json:"failed"`
}

// Decision is the arbitrated answer.
type Decision struct {
	Text       string      `json:"text"`
	Arbiter    string      `json:"arbiter"`
	Guarded    bool        `json:"guarded"`
	Verified   bool        `json:"verified"`
	Failed     bool        `json:"failed"`
	Candidates []Candidate `json:"candidates"`
}

// CandidateFailed is the candidate text when a panel member never answered.
func CandidateFailed(model string) string {
	return "Error: Failed to perform final check with " + model
}

// Engine runs the panel and the arbiter.
type Engine struct {
	sender Sender
	cfg    config.ConsensusConfig
	tracer trace.Tracer
	logger func(format string, args ...any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger func(format string, args ...any)) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine. An empty threshold uses DefaultFidelityThreshold.
func New(sender Sender, cfg config.ConsensusConfig, opts ...Option) *Engine {
	if cfg.FidelityThreshold == 0 {
		cfg.FidelityThreshold = DefaultFidelityThreshold
	}
	e := &Engine{
		sender: sender,
		cfg:    cfg,
		tracer: otel.Tracer("quorum/consensus"),
		logger: log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run produces the final decision for query from formatted sub-answers.
func (e *Engine) Run(ctx context.Context, query string, subAnswers []string) Decision {
	candidates := e.Candidates(ctx, query, subAnswers)
	return e.Arbitrate(ctx, query, candidates)
}

// Candidates asks every panel member for a final answer concurrently.
// Candidate i comes from panel member i.
func (e *Engine) Candidates(ctx context.Context, query string, subAnswers []string) []Candidate {
	ctx, span := e.tracer.Start(ctx, "consensus.candidates")
	defer span.End()
	span.SetAttributes(attribute.Int("panel.size", len(e.cfg.Panel)))

	prompt := fmt.Sprintf("Original Query: %s\n\nResponses to sub-questions:\n%s\n\nPlease provide a final, comprehensive answer to the original query based on these responses.",
		query, strings.Join(subAnswers, "\n"))

	out := make([]Candidate, len(e.cfg.Panel))
	var g errgroup.Group
	for i, target := range e.cfg.Panel {
		g.Go(func() error {
			out[i] = e.candidate(ctx, target, prompt)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) candidate(ctx context.Context, target config.RouteTarget, prompt string) Candidate {
	e.logger("[consensus] final check with %s", target.Model)
	resp, err := e.sender.Send(ctx, target, adapter.Request{
		System:    finalCheckSystemPrompt,
		Prompt:    prompt,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		e.logger("[consensus] final check with %s failed: %v", target.Model, err)
		trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(attribute.String("model", target.Model)))
		return Candidate{Model: target.Model, Text: CandidateFailed(target.Model), Failed: true}
	}
	return Candidate{Model: target.Model, Text: resp.Content}
}

// Arbitrate asks the arbiter to choose among candidates, then verifies the
// choice once if it looks truncated.
func (e *Engine) Arbitrate(ctx context.Context, query string, candidates []Candidate) Decision {
	ctx, span := e.tracer.Start(ctx, "consensus.arbitrate")
	defer span.End()

	decision := Decision{Arbiter: e.cfg.Arbiter.Model, Candidates: candidates}
	numbered := numberCandidates(candidates)

	e.logger("[consensus] arbitrating %d candidates with %s", len(candidates), e.cfg.Arbiter.Model)
	resp, err := e.sender.Send(ctx, e.cfg.Arbiter, adapter.Request{
		System:    decisionSystemPrompt,
		Prompt:    fmt.Sprintf("Original Query: %s\n\nFinal Responses:\n%s\n\nPlease analyze these responses and select the best one, or synthesize a new response if necessary.", query, numbered),
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		e.logger("[consensus] decision failed: %v", err)
		span.RecordError(err)
		decision.Text = DecisionFailed
		decision.Failed = true
		return decision
	}
	decision.Text = resp.Content

	if !NeedsVerification(decision.Text, candidates, e.cfg.FidelityThreshold) {
		return decision
	}
	decision.Guarded = true
	span.SetAttributes(
		attribute.Int("decision.runes", utf8.RuneCountInString(decision.Text)),
		attribute.Int("candidate.max_runes", maxRunes(candidates)),
	)
	e.logger("[consensus] decision looks abbreviated, verifying")

	verified, err := e.verify(ctx, numbered, decision.Text)
	if err != nil {
		e.logger("[consensus] verification failed, keeping decision: %v", err)
		return decision
	}
	decision.Text = verified
	decision.Verified = true
	return decision
}

func (e *Engine) verify(ctx context.Context, numbered, chosen string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "consensus.verify")
	defer span.End()

	resp, err := e.sender.Send(ctx, e.cfg.Arbiter, adapter.Request{
		System: verificationSystemPrompt,
		Prompt: fmt.Sprintf("Original responses:\n%s\n\nChosen response:\n%s\n\nCheck that the chosen response contains all the necessary information from the original responses, code above all. If anything is missing, return a corrected version that includes it.",
			numbered, chosen),
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return resp.Content, nil
}

// NeedsVerification reports whether decision is shorter than threshold
// times the longest candidate, counting runes.
func NeedsVerification(decision string, candidates []Candidate, threshold float64) bool {
	longest := maxRunes(candidates)
	if longest == 0 {
		return false
	}
	return float64(utf8.RuneCountInString(decision)) < threshold*float64(longest)
}

func maxRunes(candidates []Candidate) int {
	longest := 0
	for _, c := range candidates {
		if n := utf8.RuneCountInString(c.Text); n > longest {
			longest = n
		}
	}
	return longest
}

func numberCandidates(candidates []Candidate) string {
	blocks := make([]string, len(candidates))
	for i, c := range candidates {
		blocks[i] = fmt.Sprintf("Response %d:\n%s", i+1, c.Text)
	}
	return strings.Join(blocks, "\n\n")
}
