// Package evidence writes a report of each run to disk.
//
// Layout under <base>/<run id>/:
//
//	run.json            query, timings, usage totals
//	answers/<n>.json    one record per sub-answer
//	consensus.json      candidates and the final decision
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/quorum/pkg/usage"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Query          string            `json:"query"`
	QueryHash      string            `json:"query_hash"`
	SubQuestions   int               `json:"sub_questions"`
	Stages         []StageRecord     `json:"stages"`
	DurationMillis int64             `json:"duration_ms"`
	Usage          *usage.Report     `json:"usage,omitempty"`
	ToolVersions   map[string]string `json:"tool_versions,omitempty"`
}

// StageRecord captures timing for one pipeline stage.
type StageRecord struct {
	Name           string    `json:"name"`
	StartedAt      time.Time `json:"started_at"`
	DurationMillis int64     `json:"duration_ms"`
	Items          int       `json:"items"`
	Notes          []string  `json:"notes,omitempty"`
}

// AnswerRecord captures one sub-answer and how it was routed.
type AnswerRecord struct {
	Index          int    `json:"index"`
	SubQuestion    string `json:"sub_question"`
	Difficulty     int    `json:"difficulty"`
	NeedsWebSearch bool   `json:"needs_web_search"`
	Category       string `json:"category"`
	Expertise      string `json:"expertise"`
	Coding         bool   `json:"coding"`
	Backend        string `json:"backend"`
	Rule           int    `json:"rule"`
	Model          string `json:"model"`
	Answer         string `json:"answer"`
	AnswerHash     string `json:"answer_hash"`
	Failed         bool   `json:"failed"`
}

// CandidateRecord captures one panel answer.
type CandidateRecord struct {
	Model  string `json:"model"`
	Text   string `json:"text"`
	Runes  int    `json:"runes"`
	Failed bool   `json:"failed"`
}

// ConsensusRecord captures arbitration.
type ConsensusRecord struct {
	Arbiter           string            `json:"arbiter"`
	FidelityThreshold float64           `json:"fidelity_threshold"`
	Candidates        []CandidateRecord `json:"candidates"`
	Decision          string            `json:"decision"`
	DecisionHash      string            `json:"decision_hash"`
	Guarded           bool              `json:"guarded"`
	Verified          bool              `json:"verified"`
	Failed            bool              `json:"failed"`
}

// Writer writes run reports to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(filepath.Join(runDir, "answers"), 0700); err != nil {
		return nil, err
	}
	// MkdirAll leaves existing directories alone and is subject to umask.
	for _, dir := range []string{runDir, filepath.Join(runDir, "answers")} {
		if err := os.Chmod(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	if record.QueryHash == "" {
		record.QueryHash = Hash(record.Query)
	}
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteAnswer writes answers/<index>.json.
func (w *Writer) WriteAnswer(record AnswerRecord) error {
	if record.Index <= 0 {
		return fmt.Errorf("answer index must be positive, got %d", record.Index)
	}
	if record.AnswerHash == "" {
		record.AnswerHash = Hash(record.Answer)
	}
	path := filepath.Join(w.runDir, "answers", fmt.Sprintf("%d.json", record.Index))
	return writeJSON(path, record)
}

// WriteConsensus writes consensus.json.
func (w *Writer) WriteConsensus(record ConsensusRecord) error {
	if record.DecisionHash == "" {
		record.DecisionHash = Hash(record.Decision)
	}
	return writeJSON(filepath.Join(w.runDir, "consensus.json"), record)
}

// Hash returns the hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}
