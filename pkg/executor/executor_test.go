package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/cache"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/decompose"
	"github.com/zen-systems/quorum/pkg/retry"
	"github.com/zen-systems/quorum/pkg/router"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newRouter(mock *adapter.MockAdapter) *router.Router {
	return router.NewRouter(map[string]adapter.Adapter{
		"openai":    mock,
		"anthropic": mock,
	}, config.DefaultRoutingConfig(), router.WithLogger(func(string, ...any) {}))
}

type stubSearch struct {
	summary string
	err     error
}

func (s stubSearch) Summary(context.Context, string) (string, error) {
	return s.summary, s.err
}

var codingClass = router.Classification{Category: router.Technical, Expertise: router.Specialized, Coding: true}

func TestAnswerRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &adapter.AdapterError{Status: 529, Err: errors.New("overloaded")}
		}
		return "quicksort partitions around a pivot", nil
	})
	rec := &sleepRecorder{}
	e := New(newRouter(mock), WithPolicy(retry.DefaultPolicy().WithSleep(rec.sleep)), WithLogger(t.Logf))

	got := e.Answer(context.Background(), "Explain quicksort", decompose.SubQuestion{Text: "How does quicksort work?", Difficulty: 65}, codingClass)

	assert.False(t, got.Failed)
	assert.Equal(t, "quicksort partitions around a pivot", got.Text)
	assert.Equal(t, router.Frontier, got.Backend)
	assert.Equal(t, 1, got.Rule)
	assert.Equal(t, "claude-3-5-sonnet-20240620", got.Model)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, rec.delays)
}

func TestAnswerPlaceholderAfterThreeFailures(t *testing.T) {
	var calls atomic.Int32
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		calls.Add(1)
		return "", &adapter.AdapterError{Status: 500}
	})
	rec := &sleepRecorder{}
	e := New(newRouter(mock), WithPolicy(retry.DefaultPolicy().WithSleep(rec.sleep)), WithLogger(t.Logf))
	sq := decompose.SubQuestion{Text: "What is 2+2?", Difficulty: 5}
	cls := router.Classification{Category: router.Factual, Expertise: router.General}

	got := e.Answer(context.Background(), "math", sq, cls)
	assert.True(t, got.Failed)
	assert.Equal(t, "Error: Failed to query claude-3-haiku-20240307", got.Text)
	assert.Equal(t, int32(3), calls.Load())

	// Failures are not cached, so the next call tries again.
	e.Answer(context.Background(), "math", sq, cls)
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, 0, e.Memory().Len())
}

func TestAnswerPermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		calls.Add(1)
		return "", &adapter.AdapterError{Status: 401}
	})
	e := New(newRouter(mock), WithPolicy(retry.DefaultPolicy().WithSleep((&sleepRecorder{}).sleep)), WithLogger(t.Logf))

	got := e.Answer(context.Background(), "q", decompose.SubQuestion{Text: "q", Difficulty: 40}, router.DefaultClassification)
	assert.True(t, got.Failed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnswerIsCached(t *testing.T) {
	var calls atomic.Int32
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		calls.Add(1)
		return "answer for " + req.Model, nil
	})
	store, err := cache.OpenJSONFile(filepath.Join(t.TempDir(), "query_cache.json"))
	require.NoError(t, err)

	sq := decompose.SubQuestion{Text: "Compare B-trees and LSM trees", Difficulty: 45}
	cls := router.Classification{Category: router.Analytical, Expertise: router.Specialized}

	e := New(newRouter(mock), WithStore(store), WithLogger(t.Logf))
	first := e.Answer(context.Background(), "storage engines", sq, cls)
	second := e.Answer(context.Background(), "storage engines", sq, cls)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// Different context is a different key.
	e.Answer(context.Background(), "databases", sq, cls)
	assert.Equal(t, int32(2), calls.Load())

	// A new process reading the same store does not call the backend.
	reopened, err := cache.OpenJSONFile(store.Path())
	require.NoError(t, err)
	fresh := New(newRouter(mock), WithStore(reopened), WithLogger(t.Logf))
	third := fresh.Answer(context.Background(), "storage engines", sq, cls)
	assert.Equal(t, first.Text, third.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnswerConcurrentIdenticalCallsComputeOnce(t *testing.T) {
	var calls atomic.Int32
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "once", nil
	})
	e := New(newRouter(mock), WithLogger(t.Logf))
	sq := decompose.SubQuestion{Text: "same", Difficulty: 20}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Answer(context.Background(), "q", sq, router.DefaultClassification)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnswerWebSearch(t *testing.T) {
	tests := []struct {
		name   string
		search Searcher
		want   string
	}{
		{"success", stubSearch{summary: "Web search results:\n\n- Go 1.24\n  https://go.dev\n  released"}, "Web Search Results:\nWeb search results:"},
		{"failure", stubSearch{err: errors.New("blocked")}, SearchUnavailable},
		{"no searcher", nil, SearchUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) { return "ok", nil })
			opts := []Option{WithLogger(t.Logf)}
			if tt.search != nil {
				opts = append(opts, WithSearch(tt.search))
			}
			e := New(newRouter(mock), opts...)

			got := e.Answer(context.Background(), "What's new in Go?", decompose.SubQuestion{Text: "Latest Go release?", Difficulty: 10, NeedsWebSearch: true}, router.DefaultClassification)
			require.False(t, got.Failed)

			calls := mock.Calls()
			require.Len(t, calls, 1)
			assert.True(t, strings.HasPrefix(calls[0].Prompt, "Full Query Context: What's new in Go?\n\nSpecific Question to Answer: Latest Go release?\n\n"))
			assert.Contains(t, calls[0].Prompt, tt.want)
		})
	}
}

func TestAnswerAllPreservesOrder(t *testing.T) {
	mock := adapter.NewMockAdapterFunc(func(req adapter.Request) (string, error) {
		if strings.Contains(req.Prompt, "slow") {
			time.Sleep(30 * time.Millisecond)
		}
		return "answer from " + req.Model, nil
	})
	e := New(newRouter(mock), WithMaxParallel(2), WithLogger(t.Logf))

	sqs := []decompose.SubQuestion{
		{Text: "slow one", Difficulty: 10},
		{Text: "implement quicksort in Python", Difficulty: 30},
		{Text: "hard one", Difficulty: 90},
	}
	classes := []router.Classification{
		{Category: router.Factual, Expertise: router.General},
		codingClass,
	}

	got := e.AnswerAll(context.Background(), "q", sqs, classes)
	require.Len(t, got, 3)
	for i, a := range got {
		assert.Equal(t, i+1, a.Index)
		assert.Equal(t, sqs[i], a.SubQuestion)
	}
	assert.Equal(t, "answer from claude-3-haiku-20240307", got[0].Text)
	assert.Equal(t, router.Frontier, got[1].Backend)
	assert.Equal(t, router.DefaultClassification, got[2].Classification)
	assert.Equal(t, router.Frontier, got[2].Backend)
}

func TestFormat(t *testing.T) {
	a := SubAnswer{
		SubQuestion:    decompose.SubQuestion{Text: "Implement quicksort", Difficulty: 35},
		Classification: codingClass,
		Model:          "claude-3-5-sonnet-20240620",
		Text:           "def quicksort(xs): ...",
	}
	want := "Sub-question 2: Implement quicksort\n" +
		"Difficulty: 35\n" +
		"Question Type: TECHNICAL\n" +
		"Expertise: SPECIALIZED\n" +
		"Coding-related: true\n" +
		"Model used: claude-3-5-sonnet-20240620\n" +
		"Answer: def quicksort(xs): ...\n"
	assert.Equal(t, want, a.Format(2))
	assert.Equal(t, []string{strings.Replace(want, "Sub-question 2", "Sub-question 1", 1)}, FormatAll([]SubAnswer{a}))
}
