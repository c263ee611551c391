package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// DefaultSinkID is the sink units get when they do not name one.
const DefaultSinkID = "graph"

// BatchResult counts what one WriteBatch call did.
type BatchResult struct {
	Upserts int `json:"upserts,omitempty"`
	Edges   int `json:"edges,omitempty"`
}

// Sink receives the batches of one ingestion run. Instances are
// transactional and single-use: Begin, any number of WriteBatch calls in
// driver order, then exactly one of Commit or Abort.
type Sink interface {
	ID() string
	Begin(ctx context.Context) error
	WriteBatch(ctx context.Context, batch *types.Batch) (*BatchResult, error)
	Commit(ctx context.Context, stats map[string]float64) error
	Abort(ctx context.Context, cause error) error
}

// Factory opens a fresh sink for one run of the given unit.
type Factory func(endpoint *types.Endpoint, cfg *types.UnitConfig) (Sink, error)

// Registry maps sink ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under id.
func (r *Registry) Register(id string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return errdefs.New(errdefs.KindInvalidInput, "sink id is required")
	}
	if _, exists := r.factories[id]; exists {
		return errdefs.New(errdefs.KindAlreadyExists, "sink already registered: %s", id)
	}
	r.factories[id] = f
	return nil
}

// Open builds a fresh sink for one run.
func (r *Registry) Open(id string, endpoint *types.Endpoint, cfg *types.UnitConfig) (Sink, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "sink not found: %s", id)
	}
	return f(endpoint, cfg)
}

// IDs returns the registered sink ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
