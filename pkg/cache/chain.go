// Package cache memoizes idempotent calls behind composable layers.
//
// A call flows through layers applied outermost first, for example
//
//	h := cache.Chain(dispatch, cache.Persistent(store, nil), mem.Layer(), retry.Layer(policy, nil))
//
// which checks the durable store, then process memory, then retries the
// terminal handler. No layer ever stores an error.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call identifies one invocation of a named operation.
type Call struct {
	Op   string
	Args any
	key  string
}

// NewCall builds a call and derives its key once.
func NewCall(op string, args any) Call {
	return Call{Op: op, Args: args, key: Key(op, args)}
}

// Key returns the stable cache key of the call.
func (c Call) Key() string {
	if c.key != "" {
		return c.key
	}
	return Key(c.Op, c.Args)
}

// Handler computes the JSON-encoded result of a call.
type Handler func(ctx context.Context, call Call) (json.RawMessage, error)

// Layer decorates a handler.
type Layer func(next Handler) Handler

// Chain wraps h so that layers[0] runs first.
func Chain(h Handler, layers ...Layer) Handler {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil {
			h = layers[i](h)
		}
	}
	return h
}

// Func adapts a typed function into a terminal handler. Results are encoded
// with Encode so values JSON cannot represent never fail the call.
func Func[A, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return func(ctx context.Context, call Call) (json.RawMessage, error) {
		args, ok := call.Args.(A)
		if !ok {
			var want A
			return nil, fmt.Errorf("cache: %s expects args of type %T, got %T", call.Op, want, call.Args)
		}
		out, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return Encode(out)
	}
}

// Invoke runs op(args) through h and decodes the result.
func Invoke[A, R any](ctx context.Context, h Handler, op string, args A) (R, error) {
	var out R
	raw, err := h(ctx, NewCall(op, args))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cache: decode %s result: %w", op, err)
	}
	return out, nil
}
