package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONFileStore keeps the whole mapping in memory and rewrites the file on
// every change. A missing file is an empty mapping.
type JSONFileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

// OpenJSONFile loads path once.
func OpenJSONFile(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{
		path:    path,
		entries: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parse cache file %s: %w", path, err)
	}
	if s.entries == nil {
		s.entries = make(map[string]json.RawMessage)
	}
	return s, nil
}

// Path returns the backing file.
func (s *JSONFileStore) Path() string {
	return s.path
}

func (s *JSONFileStore) Get(key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *JSONFileStore) Put(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return s.flushLocked()
}

func (s *JSONFileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.flushLocked()
}

// Clear empties the mapping and flushes immediately.
func (s *JSONFileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]json.RawMessage)
	return s.flushLocked()
}

func (s *JSONFileStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *JSONFileStore) Close() error {
	return nil
}

func (s *JSONFileStore) flushLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
