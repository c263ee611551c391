package driver

import (
	"sort"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// Registry maps driver ids to registered drivers. Endpoints select their
// driver through the verb field.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver under its id.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := d.ID()
	if id == "" {
		return errdefs.New(errdefs.KindInvalidInput, "driver id is required")
	}
	if _, exists := r.drivers[id]; exists {
		return errdefs.New(errdefs.KindAlreadyExists, "driver already registered: %s", id)
	}
	r.drivers[id] = d
	return nil
}

// Get returns the driver registered under id.
func (r *Registry) Get(id string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "driver not found: %s", id)
	}
	return d, nil
}

// IDs returns the registered driver ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
