package router

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/decompose"
)

// Sender delivers a request to a configured route.
type Sender interface {
	Send(ctx context.Context, target config.RouteTarget, req adapter.Request) (*adapter.Response, error)
}

const classifierSystemPrompt = `You label questions so a router can pick a model for them.
Answer with exactly three lines and nothing else:
TYPE: <the single best of FACTUAL, ANALYTICAL, CREATIVE, TECHNICAL>
LEVEL: <the single best of GENERAL, SPECIALIZED, EXPERT>
CODING=TRUE if a good answer needs code to be written, read or explained, otherwise CODING=FALSE
Write only the chosen words; do not repeat the option lists.`

// Classifier labels sub-questions using a fixed model.
type Classifier struct {
	sender      Sender
	stage       config.StageConfig
	maxParallel int
	logger      func(format string, args ...any)
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithMaxParallel bounds concurrent classification requests. Zero means unbounded.
func WithMaxParallel(n int) ClassifierOption {
	return func(c *Classifier) {
		c.maxParallel = n
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(logger func(format string, args ...any)) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier creates a classifier that calls stage's route.
func NewClassifier(sender Sender, stage config.StageConfig, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		sender: sender,
		stage:  stage,
		logger: log.Printf,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the classifier model about one sub-question. Any failure
// yields DefaultClassification together with the error.
func (c *Classifier) Classify(ctx context.Context, sq decompose.SubQuestion) (Classification, error) {
	resp, err := c.sender.Send(ctx, c.stage.RouteTarget, adapter.Request{
		System:      classifierSystemPrompt,
		Prompt:      buildClassifierPrompt(sq),
		MaxTokens:   c.stage.MaxTokens,
		Temperature: c.stage.Temperature,
	})
	if err != nil {
		return DefaultClassification, fmt.Errorf("classify %q: %w", sq.Text, err)
	}
	return ParseClassification(resp.Content), nil
}

// ClassifyAll classifies every sub-question concurrently. Result i belongs
// to sqs[i] whatever order the requests finish in.
func (c *Classifier) ClassifyAll(ctx context.Context, sqs []decompose.SubQuestion) []Classification {
	out := make([]Classification, len(sqs))
	var g errgroup.Group
	if c.maxParallel > 0 {
		g.SetLimit(c.maxParallel)
	}
	for i, sq := range sqs {
		g.Go(func() error {
			cls, err := c.Classify(ctx, sq)
			if err != nil {
				c.logger("[router] classifier failed, using defaults: %v", err)
			}
			out[i] = cls
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ParseClassification scans model output for markers. Category checks
// FACTUAL, then CREATIVE, then TECHNICAL, defaulting to ANALYTICAL.
// Expertise checks EXPERT, then SPECIALIZED, defaulting to GENERAL.
// CODING=TRUE sets the coding flag.
func ParseClassification(text string) Classification {
	cls := DefaultClassification
	// The EXPERTISE label would otherwise match the EXPERT marker.
	text = strings.ReplaceAll(text, "EXPERTISE", "")

	switch {
	case strings.Contains(text, "FACTUAL"):
		cls.Category = Factual
	case strings.Contains(text, "CREATIVE"):
		cls.Category = Creative
	case strings.Contains(text, "TECHNICAL"):
		cls.Category = Technical
	}

	switch {
	case strings.Contains(text, "EXPERT"):
		cls.Expertise = Expert
	case strings.Contains(text, "SPECIALIZED"):
		cls.Expertise = Specialized
	}

	cls.Coding = strings.Contains(text, "CODING=TRUE")
	return cls
}

func buildClassifierPrompt(sq decompose.SubQuestion) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Question (difficulty: %d/100):\n", sq.Difficulty))
	sb.WriteString(sq.Text)
	sb.WriteString("\n\nGive its TYPE, LEVEL and CODING flag.")
	return sb.String()
}
