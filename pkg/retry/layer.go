package retry

import (
	"context"
	"encoding/json"

	"github.com/zen-systems/quorum/pkg/cache"
)

// Layer retries the wrapped handler under p. Placed inside the cache layers,
// a cached result is returned before any retry happens.
func Layer(p Policy, logf func(format string, args ...any)) cache.Layer {
	logf = logger(logf)
	return func(next cache.Handler) cache.Handler {
		return func(ctx context.Context, call cache.Call) (json.RawMessage, error) {
			var out json.RawMessage
			err := Do(ctx, p, func(format string, args ...any) {
				logf(format+" [%s]", append(args, call.Op)...)
			}, func(ctx context.Context) error {
				v, err := next(ctx, call)
				if err != nil {
					return err
				}
				out = v
				return nil
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	}
}
