package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", &AdapterError{Status: 429}, true},
		{"request timeout", &AdapterError{Status: 408}, true},
		{"server error", &AdapterError{Status: 503}, true},
		{"bad request", &AdapterError{Status: 400}, false},
		{"temporary flag", &AdapterError{Status: 400, Temporary: true}, true},
		{"wrapped 502", fmt.Errorf("call: %w", &AdapterError{Status: 502}), true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, true},
		{"unauthorized", &AdapterError{Status: 401}, true},
		{"not found", &AdapterError{Status: 404}, true},
		{"rate limited", &AdapterError{Status: 429}, false},
		{"request timeout", &AdapterError{Status: 408}, false},
		{"server error", &AdapterError{Status: 500}, false},
		{"unknown status", &AdapterError{}, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", fmt.Errorf("route fast: %w", ErrUnavailable), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapProviderErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapProviderError("openai", cause)

	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected AdapterError, got %T", err)
	}
	if adapterErr.Status != 0 {
		t.Errorf("Status = %d, want 0", adapterErr.Status)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
}
