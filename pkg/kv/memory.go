package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store backend used by tests and single-shot
// CLI commands.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Get retrieves the entry for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, notFound(key)
	}
	out := *e
	out.Value = append([]byte(nil), e.Value...)
	return &out, nil
}

// Put writes value under key, enforcing the CAS contract, and returns the new
// version.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.entries[key]; ok {
		current = e.Version
	}
	if err := checkCAS(key, current, expectedVersion); err != nil {
		return 0, err
	}

	newVersion := current + 1
	s.entries[key] = &Entry{
		Value:     append([]byte(nil), value...),
		Version:   newVersion,
		UpdatedAt: time.Now(),
	}
	return newVersion, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *MemoryStore) Delete(ctx context.Context, key string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if expectedVersion != AnyVersion {
		if err := checkCAS(key, e.Version, expectedVersion); err != nil {
			return err
		}
	}
	delete(s.entries, key)
	return nil
}

// List returns all keys with the given prefix, in lexical order.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
