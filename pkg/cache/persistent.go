package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/zen-systems/quorum/pkg/config"
)

// Store is a durable key/value mapping. Put must be durable when it returns.
type Store interface {
	Get(key string) (json.RawMessage, bool, error)
	Put(key string, value json.RawMessage) error
	Delete(key string) error
	Clear() error
	Len() (int, error)
	Close() error
}

// Persistent returns a layer that answers from store when it can and writes
// every successful inner result back before returning it. A failed write is
// logged and the result is still returned. A nil store yields a nil layer,
// which Chain skips.
func Persistent(store Store, logf func(format string, args ...any)) Layer {
	if store == nil {
		return nil
	}
	if logf == nil {
		logf = log.Printf
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) (json.RawMessage, error) {
			key := call.Key()
			v, ok, err := store.Get(key)
			if err != nil {
				logf("[cache] read %s: %v", call.Op, err)
			} else if ok {
				logf("[cache] hit %s", call.Op)
				return v, nil
			}

			out, err := next(ctx, call)
			if err != nil {
				return nil, err
			}
			if err := store.Put(key, out); err != nil {
				logf("[cache] persist %s: %v", call.Op, err)
			}
			return out, nil
		}
	}
}

// Open opens the durable store selected by backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", config.CacheJSON:
		return OpenJSONFile(path)
	case config.CacheSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
