package orchestrator

import (
	"fmt"
	"unicode/utf8"

	"github.com/zen-systems/quorum/pkg/evidence"
)

// WriteEvidence stores the run report under w.
func (r *Result) WriteEvidence(w *evidence.Writer) error {
	stages := make([]evidence.StageRecord, len(r.Stages))
	for i, s := range r.Stages {
		stages[i] = evidence.StageRecord{
			Name:           s.Stage,
			StartedAt:      s.StartTime.UTC(),
			DurationMillis: s.Duration.Milliseconds(),
			Items:          s.Items,
			Notes:          s.Notes,
		}
	}
	if err := w.WriteRun(evidence.RunRecord{
		ID:             r.RunID,
		Timestamp:      r.StartedAt.UTC(),
		Query:          r.Query,
		SubQuestions:   len(r.SubQuestions),
		Stages:         stages,
		DurationMillis: r.Duration.Milliseconds(),
		Usage:          r.Usage,
	}); err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	for _, a := range r.Answers {
		if err := w.WriteAnswer(evidence.AnswerRecord{
			Index:          a.Index,
			SubQuestion:    a.SubQuestion.Text,
			Difficulty:     a.SubQuestion.Difficulty,
			NeedsWebSearch: a.SubQuestion.NeedsWebSearch,
			Category:       a.Classification.Category.String(),
			Expertise:      a.Classification.Expertise.String(),
			Coding:         a.Classification.Coding,
			Backend:        a.Backend.String(),
			Rule:           a.Rule,
			Model:          a.Model,
			Answer:         a.Text,
			Failed:         a.Failed,
		}); err != nil {
			return fmt.Errorf("write answer %d: %w", a.Index, err)
		}
	}

	candidates := make([]evidence.CandidateRecord, len(r.Decision.Candidates))
	for i, c := range r.Decision.Candidates {
		candidates[i] = evidence.CandidateRecord{
			Model:  c.Model,
			Text:   c.Text,
			Runes:  utf8.RuneCountInString(c.Text),
			Failed: c.Failed,
		}
	}
	if err := w.WriteConsensus(evidence.ConsensusRecord{
		Arbiter:           r.Decision.Arbiter,
		FidelityThreshold: r.Threshold,
		Candidates:        candidates,
		Decision:          r.Decision.Text,
		Guarded:           r.Decision.Guarded,
		Verified:          r.Decision.Verified,
		Failed:            r.Decision.Failed,
	}); err != nil {
		return fmt.Errorf("write consensus: %w", err)
	}
	return nil
}
