package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

type memoryObject struct {
	data      []byte
	updatedAt time.Time
}

// MemoryStore is the in-process blob backend used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Put stores a copy of data under key.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{
		data:      append([]byte(nil), data...),
		updatedAt: time.Now(),
	}
	return nil
}

// Get returns a copy of the object bytes.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, objectNotFound(key)
	}
	return append([]byte(nil), obj.data...), nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List returns objects under prefix, sorted by key.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var objects []Object
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, Object{
			Key:       key,
			Size:      int64(len(obj.data)),
			UpdatedAt: obj.updatedAt,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Presign is unsupported; there is no address an external client could reach.
func (s *MemoryStore) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", errdefs.New(errdefs.KindInvalidInput, "presign unsupported for in-memory store")
}
