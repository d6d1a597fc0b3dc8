package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

func TestGuardedOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	inner := NewMockAdapterFunc(func(Request) (string, error) {
		calls++
		return "", &AdapterError{Status: 503}
	})
	g := NewGuarded(inner, GuardConfig{BreakerFailures: 2}, func(string, ...any) {})

	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("State = %s, want open", g.State())
	}

	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("inner calls = %d, want 2", calls)
	}
	if !IsTransient(err) {
		t.Error("open breaker should be transient")
	}
}

func TestGuardedIgnoresPermanentErrors(t *testing.T) {
	inner := NewMockAdapterFunc(func(Request) (string, error) {
		return "", &AdapterError{Status: 400}
	})
	g := NewGuarded(inner, GuardConfig{BreakerFailures: 1}, func(string, ...any) {})

	for i := 0; i < 3; i++ {
		_, _ = g.Generate(context.Background(), Request{Prompt: "x"})
	}
	if g.State() != gobreaker.StateClosed {
		t.Errorf("State = %s, want closed", g.State())
	}
}

func TestGuardedPassesThrough(t *testing.T) {
	inner := NewMockAdapterFunc(func(req Request) (string, error) {
		return "echo " + req.Prompt, nil
	})
	g := NewGuarded(inner, GuardConfig{RequestsPerSecond: 100, Burst: 10}, nil)

	resp, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "echo hi" {
		t.Errorf("Content = %q", resp.Content)
	}
	if g.Name() != "mock" {
		t.Errorf("Name = %q", g.Name())
	}
}

func TestGuardedLimiterHonorsContext(t *testing.T) {
	inner := NewMockAdapter()
	g := NewGuarded(inner, GuardConfig{RequestsPerSecond: 0.001, Burst: 1}, nil)

	if _, err := g.Generate(context.Background(), Request{Prompt: "first"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, Request{Prompt: "second"}); err == nil {
		t.Fatal("expected limiter wait to fail on canceled context")
	}
}
