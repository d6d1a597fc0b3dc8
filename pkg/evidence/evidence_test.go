package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/usage"
)

func TestEvidenceWriter(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, "run-123")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	run := RunRecord{
		ID:           "run-123",
		Timestamp:    time.Now().UTC(),
		Query:        "Explain quicksort",
		SubQuestions: 1,
		Stages:       []StageRecord{{Name: "decompose", Items: 1}},
		Usage:        &usage.Report{Currency: "USD", TotalUsage: adapter.Usage{TotalTokens: 42}},
	}
	if err := writer.WriteRun(run); err != nil {
		t.Fatalf("write run: %v", err)
	}

	answer := AnswerRecord{
		Index:       1,
		SubQuestion: "How does quicksort work?",
		Backend:     "frontier",
		Rule:        1,
		Model:       "claude-3-5-sonnet-20240620",
		Answer:      "It partitions.",
	}
	if err := writer.WriteAnswer(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	if err := writer.WriteConsensus(ConsensusRecord{Arbiter: "claude-3-5-sonnet-20240620", Decision: "final"}); err != nil {
		t.Fatalf("write consensus: %v", err)
	}

	for _, rel := range []string{"run.json", filepath.Join("answers", "1.json"), "consensus.json"} {
		if _, err := os.Stat(filepath.Join(writer.RunDir(), rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	var decoded RunRecord
	data, err := os.ReadFile(filepath.Join(writer.RunDir(), "run.json"))
	if err != nil {
		t.Fatalf("read run.json: %v", err)
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode run.json: %v", err)
	}
	if decoded.QueryHash != Hash("Explain quicksort") {
		t.Errorf("query hash not filled: %q", decoded.QueryHash)
	}
	if decoded.Usage == nil || decoded.Usage.TotalUsage.TotalTokens != 42 {
		t.Errorf("usage not persisted: %+v", decoded.Usage)
	}

	var decodedAnswer AnswerRecord
	data, err = os.ReadFile(filepath.Join(writer.RunDir(), "answers", "1.json"))
	if err != nil {
		t.Fatalf("read answer: %v", err)
	}
	if err := json.Unmarshal(data, &decodedAnswer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if decodedAnswer.AnswerHash != Hash("It partitions.") {
		t.Errorf("answer hash not filled: %q", decodedAnswer.AnswerHash)
	}

	if runtime.GOOS != "windows" {
		assertPerm(t, writer.RunDir(), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "answers"), 0700)
		assertPerm(t, filepath.Join(writer.RunDir(), "run.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "answers", "1.json"), 0600)
		assertPerm(t, filepath.Join(writer.RunDir(), "consensus.json"), 0600)
	}
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter("", "run"); err == nil {
		t.Error("expected error for empty base dir")
	}
	if _, err := NewWriter(t.TempDir(), ""); err == nil {
		t.Error("expected error for empty run ID")
	}
}

func TestWriteAnswerRejectsZeroIndex(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), "run1")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writer.WriteAnswer(AnswerRecord{}); err == nil {
		t.Fatal("expected error for index 0")
	}
}

func TestHashIsStable(t *testing.T) {
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := Hash("hello"); got != want {
		t.Fatalf("Hash = %s, want %s", got, want)
	}
}

func assertPerm(t *testing.T, path string, expected os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Mode().Perm() != expected {
		t.Fatalf("expected %s mode %o, got %o", path, expected, info.Mode().Perm())
	}
}
