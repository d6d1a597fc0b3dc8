package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryArgs struct {
	Query      string `json:"query"`
	Difficulty int    `json:"difficulty"`
	Search     bool   `json:"search"`
}

func quiet(string, ...any) {}

func TestKeyIsStable(t *testing.T) {
	a := queryArgs{Query: "what is x", Difficulty: 42, Search: true}
	b := queryArgs{Query: "what is x", Difficulty: 42, Search: true}

	assert.Equal(t, Key("op", a), Key("op", b))
	assert.Equal(t, `op:{"query":"what is x","difficulty":42,"search":true}`, Key("op", a))
	assert.NotEqual(t, Key("op", a), Key("other", a))
	assert.NotEqual(t, Key("op", a), Key("op", queryArgs{Query: "what is x", Difficulty: 43, Search: true}))

	m1 := map[string]int{"b": 2, "a": 1}
	m2 := map[string]int{"a": 1, "b": 2}
	assert.Equal(t, Key("op", m1), Key("op", m2))
}

func TestSerializableCoercesUnsupportedValues(t *testing.T) {
	type pending struct {
		Name   string
		Done   chan struct{}
		OnDone func()
		Score  float64
		Ratio  complex128
		hidden int
	}
	v := pending{Name: "job", Done: make(chan struct{}), OnDone: func() {}, Score: math.NaN(), Ratio: complex(1, 2), hidden: 3}

	_, err := json.Marshal(v)
	require.Error(t, err, "sanity: raw value should not marshal")

	raw, err := Encode(v)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "job", decoded["Name"])
	assert.Equal(t, ChanMarker, decoded["Done"])
	assert.Equal(t, FuncMarker, decoded["OnDone"])
	assert.Equal(t, "NaN", decoded["Score"])
	assert.Equal(t, "(1+2i)", decoded["Ratio"])
	assert.NotContains(t, decoded, "hidden")

	assert.NotPanics(t, func() { Key("op", []any{func() {}, make(chan int)}) })
	assert.Equal(t, `op:["function","channel"]`, Key("op", []any{func() {}, make(chan int)}))
}

func TestSerializableKeepsMarshalers(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out := Serializable(struct {
		At time.Time `json:"at"`
		Fn func()    `json:"fn,omitempty"`
	}{At: ts})

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2024-01-02T03:04:05Z"}`, string(raw))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Layer {
		return func(next Handler) Handler {
			return func(ctx context.Context, call Call) (json.RawMessage, error) {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}
	terminal := func(ctx context.Context, call Call) (json.RawMessage, error) {
		order = append(order, "terminal")
		return json.RawMessage(`1`), nil
	}

	h := Chain(terminal, mark("outer"), nil, mark("inner"))
	_, err := h(context.Background(), NewCall("op", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "terminal"}, order)
}

func TestInvokeComputesOnce(t *testing.T) {
	var calls int32
	compute := Func(func(ctx context.Context, args queryArgs) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "answer to " + args.Query, nil
	})
	store, err := OpenJSONFile(t.TempDir() + "/cache.json")
	require.NoError(t, err)
	h := Chain(compute, Persistent(store, quiet), NewMemory("query", quiet).Layer())

	args := queryArgs{Query: "q", Difficulty: 10}
	first, err := Invoke[queryArgs, string](context.Background(), h, "query", args)
	require.NoError(t, err)
	second, err := Invoke[queryArgs, string](context.Background(), h, "query", args)
	require.NoError(t, err)

	assert.Equal(t, "answer to q", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	raw1, err := h(context.Background(), NewCall("query", args))
	require.NoError(t, err)
	raw2, err := h(context.Background(), NewCall("query", args))
	require.NoError(t, err)
	assert.Equal(t, []byte(raw1), []byte(raw2))
}

func TestMemoryComputesOnceUnderConcurrency(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	terminal := func(ctx context.Context, call Call) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return json.RawMessage(`"v"`), nil
	}
	mem := NewMemory("op", quiet)
	h := Chain(terminal, mem.Layer())

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h(context.Background(), NewCall("op", "same"))
			if err == nil {
				results[i] = string(out)
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, `"v"`, r)
	}
	assert.Equal(t, 1, mem.Len())
}

func TestErrorsAreNeverCached(t *testing.T) {
	var calls int
	terminal := func(ctx context.Context, call Call) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("provider down")
		}
		return json.RawMessage(`"recovered"`), nil
	}
	store, err := OpenJSONFile(t.TempDir() + "/cache.json")
	require.NoError(t, err)
	mem := NewMemory("op", quiet)
	h := Chain(terminal, Persistent(store, quiet), mem.Layer())

	_, err = h(context.Background(), NewCall("op", 1))
	require.Error(t, err)
	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, mem.Len())

	out, err := h(context.Background(), NewCall("op", 1))
	require.NoError(t, err)
	assert.Equal(t, `"recovered"`, string(out))
	assert.Equal(t, 2, calls)
}

func TestPersistentHitSkipsInnerLayers(t *testing.T) {
	store, err := OpenJSONFile(t.TempDir() + "/cache.json")
	require.NoError(t, err)
	call := NewCall("op", "k")
	require.NoError(t, store.Put(call.Key(), json.RawMessage(`"stored"`)))

	inner := func(ctx context.Context, call Call) (json.RawMessage, error) {
		t.Fatal("inner handler must not run on a persistent hit")
		return nil, nil
	}
	h := Chain(inner, Persistent(store, quiet), NewMemory("op", quiet).Layer())

	out, err := h(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, `"stored"`, string(out))
}

func TestSeparateMemoriesDoNotShareEntries(t *testing.T) {
	var calls int
	terminal := func(ctx context.Context, call Call) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`true`), nil
	}
	a := Chain(terminal, NewMemory("a", quiet).Layer())
	b := Chain(terminal, NewMemory("b", quiet).Layer())

	_, err := a(context.Background(), NewCall("op", 1))
	require.NoError(t, err)
	_, err = b(context.Background(), NewCall("op", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMemoryClearIsNoOp(t *testing.T) {
	var logged string
	mem := NewMemory("query", func(format string, args ...any) { logged = format })
	h := Chain(func(ctx context.Context, call Call) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	}, mem.Layer())
	_, err := h(context.Background(), NewCall("op", 1))
	require.NoError(t, err)

	mem.Clear()
	assert.Equal(t, 1, mem.Len())
	assert.NotEmpty(t, logged)
}

func TestFuncRejectsWrongArgType(t *testing.T) {
	h := Func(func(ctx context.Context, args queryArgs) (string, error) { return "", nil })
	_, err := h(context.Background(), NewCall("op", "not a struct"))
	require.Error(t, err)
}
