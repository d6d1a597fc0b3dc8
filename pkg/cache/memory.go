package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memory is a process-lifetime cache owned by a single operation.
// Concurrent misses on the same key compute once.
type Memory struct {
	name    string
	logf    func(format string, args ...any)
	mu      sync.RWMutex
	entries map[string]json.RawMessage
	group   singleflight.Group
}

// NewMemory creates an empty memory cache. name only labels log lines.
func NewMemory(name string, logf func(format string, args ...any)) *Memory {
	if logf == nil {
		logf = log.Printf
	}
	return &Memory{
		name:    name,
		logf:    logf,
		entries: make(map[string]json.RawMessage),
	}
}

// Layer returns the memoizing layer backed by m.
func (m *Memory) Layer() Layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) (json.RawMessage, error) {
			key := call.Key()
			if v, ok := m.get(key); ok {
				return v, nil
			}

			v, err, _ := m.group.Do(key, func() (any, error) {
				if v, ok := m.get(key); ok {
					return v, nil
				}
				out, err := next(ctx, call)
				if err != nil {
					return nil, err
				}
				m.put(key, out)
				return out, nil
			})
			if err != nil {
				return nil, err
			}
			return v.(json.RawMessage), nil
		}
	}
}

// Len returns the number of memoized entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear does not evict anything. Entries live until the process exits.
func (m *Memory) Clear() {
	m.logf("[cache] memory cache %q cannot be cleared at runtime; restart the process to drop it", m.name)
}

func (m *Memory) get(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) put(key string, value json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}
