// Package orchestrator runs the query pipeline: decompose, classify, select,
// answer, format and reach consensus. Each stage waits for the previous
// stage's whole fan-out.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zen-systems/quorum/pkg/cache"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/consensus"
	"github.com/zen-systems/quorum/pkg/decompose"
	"github.com/zen-systems/quorum/pkg/executor"
	"github.com/zen-systems/quorum/pkg/retry"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/usage"
)

// Stage names, in run order.
const (
	StageDecompose = "decompose"
	StageClassify  = "classify"
	StageSelect    = "select"
	StageAnswer    = "answer"
	StageFormat    = "format"
	StageConsensus = "consensus"
)

// StageLog records one stage of a run.
type StageLog struct {
	Stage     string
	StartTime time.Time
	Duration  time.Duration
	Items     int
	Notes     []string
}

// Selection is the routing decision for one sub-question.
type Selection struct {
	Index   int
	Backend router.Backend
	Rule    int
	Target  config.RouteTarget
}

// Result is everything a run produced.
type Result struct {
	RunID           string
	Query           string
	StartedAt       time.Time
	Duration        time.Duration
	SubQuestions    []decompose.SubQuestion
	Classifications []router.Classification
	Selections      []Selection
	Answers         []executor.SubAnswer
	Blocks          []string
	Decision        consensus.Decision
	Threshold       float64
	Stages          []StageLog
	Usage           *usage.Report
}

// Orchestrator owns the pipeline components.
type Orchestrator struct {
	router     *router.Router
	decomposer *decompose.Decomposer
	classifier *router.Classifier
	executor   *executor.Executor
	consensus  *consensus.Engine
	usage      *usage.Tracker
	tracer     trace.Tracer
	logger     func(format string, args ...any)
}

type options struct {
	store  cache.Store
	search executor.Searcher
	policy *retry.Policy
	logger func(format string, args ...any)
}

// Option configures an Orchestrator.
type Option func(*options)

// WithStore persists sub-answers in store.
func WithStore(store cache.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithSearch enables web search.
func WithSearch(s executor.Searcher) Option {
	return func(o *options) {
		o.search = s
	}
}

// WithPolicy overrides the retry policy built from routing config.
func WithPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithLogger sets the logger for every component.
func WithLogger(logger func(format string, args ...any)) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New wires the pipeline around r using r's routing config.
func New(r *router.Router, opts ...Option) *Orchestrator {
	o := options{logger: log.Printf}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := r.Config()
	policy := retry.FromConfig(cfg.Retry)
	if o.policy != nil {
		policy = *o.policy
	}

	execOpts := []executor.Option{
		executor.WithStore(o.store),
		executor.WithPolicy(policy),
		executor.WithStage(cfg.Query),
		executor.WithMaxParallel(cfg.MaxParallel),
		executor.WithLogger(o.logger),
	}
	if o.search != nil {
		execOpts = append(execOpts, executor.WithSearch(o.search))
	}

	return &Orchestrator{
		router: r,
		decomposer: decompose.New(r, cfg.Decomposer,
			decompose.WithPolicy(policy),
			decompose.WithLogger(o.logger)),
		classifier: router.NewClassifier(r, cfg.Classifier,
			router.WithMaxParallel(cfg.MaxParallel),
			router.WithClassifierLogger(o.logger)),
		executor:  executor.New(r, execOpts...),
		consensus: consensus.New(r, cfg.Consensus, consensus.WithLogger(o.logger)),
		usage:     r.Usage(),
		tracer:    otel.Tracer("quorum/orchestrator"),
		logger:    o.logger,
	}
}

// Executor returns the sub-question executor.
func (o *Orchestrator) Executor() *executor.Executor {
	return o.executor
}

// Run answers query. Only an empty query or a failed decomposition return
// an error; every later failure degrades to a placeholder in the result.
func (o *Orchestrator) Run(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	res := &Result{
		RunID:     uuid.NewString(),
		Query:     query,
		StartedAt: time.Now(),
		Threshold: o.router.Config().Consensus.FidelityThreshold,
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", res.RunID))
	o.logger("[quorum] run %s started", res.RunID)

	err := o.stage(ctx, res, StageDecompose, func(ctx context.Context) (int, []string, error) {
		sqs, err := o.decomposer.Decompose(ctx, query)
		if err != nil {
			return 0, nil, err
		}
		res.SubQuestions = sqs
		return len(sqs), nil, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_ = o.stage(ctx, res, StageClassify, func(ctx context.Context) (int, []string, error) {
		res.Classifications = o.classifier.ClassifyAll(ctx, res.SubQuestions)
		return len(res.Classifications), nil, nil
	})

	_ = o.stage(ctx, res, StageSelect, func(ctx context.Context) (int, []string, error) {
		res.Selections = make([]Selection, len(res.SubQuestions))
		notes := make([]string, len(res.SubQuestions))
		for i, sq := range res.SubQuestions {
			cls := res.Classifications[i]
			backend, rule := router.Explain(sq.Difficulty, cls.Category, cls.Expertise, cls.Coding)
			sel := Selection{Index: i + 1, Backend: backend, Rule: rule, Target: o.router.Target(backend)}
			res.Selections[i] = sel
			notes[i] = fmt.Sprintf("sub-question %d: %s via rule %d (%s)", sel.Index, backend, rule, sel.Target)
			o.logger("[quorum] sub-question %d -> %s (%s) difficulty=%d type=%s expertise=%s coding=%t",
				sel.Index, backend, sel.Target.Model, sq.Difficulty, cls.Category, cls.Expertise, cls.Coding)
		}
		return len(res.Selections), notes, nil
	})

	_ = o.stage(ctx, res, StageAnswer, func(ctx context.Context) (int, []string, error) {
		res.Answers = o.executor.AnswerAll(ctx, query, res.SubQuestions, res.Classifications)
		var notes []string
		for _, a := range res.Answers {
			if a.Failed {
				notes = append(notes, fmt.Sprintf("sub-question %d failed on %s", a.Index, a.Model))
			}
		}
		return len(res.Answers), notes, nil
	})

	_ = o.stage(ctx, res, StageFormat, func(ctx context.Context) (int, []string, error) {
		res.Blocks = executor.FormatAll(res.Answers)
		return len(res.Blocks), nil, nil
	})

	_ = o.stage(ctx, res, StageConsensus, func(ctx context.Context) (int, []string, error) {
		res.Decision = o.consensus.Run(ctx, query, res.Blocks)
		var notes []string
		if res.Decision.Guarded {
			notes = append(notes, fmt.Sprintf("fidelity guard triggered, verified=%t", res.Decision.Verified))
		}
		if res.Decision.Failed {
			notes = append(notes, "arbiter failed")
		}
		return len(res.Decision.Candidates), notes, nil
	})

	res.Duration = time.Since(res.StartedAt)
	res.Usage = o.usage.Report()
	o.logger("[quorum] run %s finished in %s", res.RunID, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) stage(ctx context.Context, res *Result, name string, fn func(ctx context.Context) (int, []string, error)) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+name)
	defer span.End()

	entry := StageLog{Stage: name, StartTime: time.Now()}
	items, notes, err := fn(ctx)
	entry.Duration = time.Since(entry.StartTime)
	entry.Items = items
	entry.Notes = notes
	res.Stages = append(res.Stages, entry)

	span.SetAttributes(attribute.Int("items", items))
	if err != nil {
		span.RecordError(err)
		o.logger("[quorum] stage %s failed: %v", name, err)
		return err
	}
	return nil
}
