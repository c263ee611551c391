package store

import (
	"sort"

	"github.com/tapestryhq/tapestry/pkg/types"
)

// NodeFilter narrows node listings. TenantID is mandatory and matched before
// any other field.
type NodeFilter struct {
	TenantID    string
	ProjectID   string
	EntityTypes []string
	Scope       *types.Scope
	Phase       string
	Limit       int
	Offset      int
}

// EdgeFilter narrows edge listings. TenantID is mandatory and matched before
// any other field.
type EdgeFilter struct {
	TenantID     string
	ProjectID    string
	EdgeType     string
	SourceNodeID string
	TargetNodeID string
	Limit        int
	Offset       int
}

// ObservationFilter narrows observation listings.
type ObservationFilter struct {
	TenantID   string
	Status     types.ObservationStatus
	SourceType string
	SourceID   string
	EntityType types.EntityType
	Normalized string
	Limit      int
}

// Store is the durable metadata store behind the engine and the graph layer:
// endpoints, unit configuration and status, runs, graph nodes and edges with
// their logical-key indexes, embeddings, and entity observations.
type Store interface {
	// Endpoints
	CreateEndpoint(ep *types.Endpoint) error
	GetEndpoint(id string) (*types.Endpoint, error)
	GetEndpointBySourceID(sourceID string) (*types.Endpoint, error)
	ListEndpoints(includeDeleted bool) ([]*types.Endpoint, error)
	UpdateEndpoint(ep *types.Endpoint) error
	DeleteEndpoint(id string) error

	// Unit configuration
	PutUnitConfig(cfg *types.UnitConfig) error
	GetUnitConfig(endpointID, unitID string) (*types.UnitConfig, error)
	ListUnitConfigs(endpointID string) ([]*types.UnitConfig, error)
	DeleteUnitConfig(endpointID, unitID string) error

	// Unit status
	PutUnitStatus(status *types.UnitStatus) error
	GetUnitStatus(endpointID, unitID string) (*types.UnitStatus, error)
	ListUnitStatuses(endpointID string) ([]*types.UnitStatus, error)

	// Runs
	CreateRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	UpdateRun(run *types.Run) error
	ListRuns(endpointID, unitID string, limit int) ([]*types.Run, error)
	GetActiveRun(endpointID, unitID string) (*types.Run, error)

	// Graph nodes
	PutNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	GetNodeByLogicalKey(logicalKey string) (*types.Node, error)
	ListNodes(filter NodeFilter) ([]*types.Node, error)
	CountNodes(tenantID string) (int, error)
	// NodeTenants lists the distinct tenant ids owning at least one node.
	NodeTenants() ([]string, error)
	DeleteNode(id string) error

	// Graph edges
	PutEdge(edge *types.Edge) error
	GetEdge(id string) (*types.Edge, error)
	GetEdgeByLogicalKey(logicalKey string) (*types.Edge, error)
	ListEdges(filter EdgeFilter) ([]*types.Edge, error)
	CountEdges(tenantID string) (int, error)
	DeleteEdge(id string) error

	// Embeddings, keyed by entity id and vector hash
	PutEmbedding(emb *types.Embedding) error
	GetEmbedding(entityID, hash string) (*types.Embedding, error)
	ListEmbeddings(modelID string) ([]*types.Embedding, error)
	ListEmbeddingsForEntity(entityID string) ([]*types.Embedding, error)
	DeleteEmbeddings(entityID string) error

	// Observations
	PutObservation(obs *types.Observation) error
	GetObservation(id string) (*types.Observation, error)
	ListObservations(filter ObservationFilter) ([]*types.Observation, error)

	// Entity index: normalized entity -> canonical node id, per tenant
	SetEntityIndex(tenantID string, entityType types.EntityType, normalized, canonicalID string) error
	GetEntityIndex(tenantID string, entityType types.EntityType, normalized string) (string, error)
	DeleteEntityIndex(tenantID string, entityType types.EntityType, normalized string) error

	// Utility
	Close() error
}

// unitKey builds the composite key for unit-scoped records.
func unitKey(endpointID, unitID string) string {
	return endpointID + "/" + unitID
}

// embeddingKey builds the composite key for an embedding record. The hash
// makes puts of an unchanged vector idempotent.
func embeddingKey(entityID, hash string) string {
	return entityID + "/" + hash
}

// entityIndexKey builds the tenant-prefixed index key for a normalized
// entity. The tenant comes first so one tenant's entries can never shadow
// another's.
func entityIndexKey(tenantID string, entityType types.EntityType, normalized string) string {
	return tenantID + "|" + string(entityType) + "|" + normalized
}

// matchNode applies the filter, tenant first.
func matchNode(node *types.Node, f NodeFilter) bool {
	if node.TenantID != f.TenantID {
		return false
	}
	if f.ProjectID != "" && node.ProjectID != f.ProjectID {
		return false
	}
	if len(f.EntityTypes) > 0 {
		found := false
		for _, t := range f.EntityTypes {
			if node.EntityType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Phase != "" && node.Phase != f.Phase {
		return false
	}
	if f.Scope != nil && !matchScope(node.Scope, *f.Scope) {
		return false
	}
	return true
}

// matchEdge applies the filter, tenant first.
func matchEdge(edge *types.Edge, f EdgeFilter) bool {
	if edge.TenantID != f.TenantID {
		return false
	}
	if f.ProjectID != "" && edge.ProjectID != f.ProjectID {
		return false
	}
	if f.EdgeType != "" && edge.EdgeType != f.EdgeType {
		return false
	}
	if f.SourceNodeID != "" && edge.SourceNodeID != f.SourceNodeID {
		return false
	}
	if f.TargetNodeID != "" && edge.TargetNodeID != f.TargetNodeID {
		return false
	}
	return true
}

// matchScope reports whether a record scope falls inside the requested
// scope. Empty fields in the request do not narrow.
func matchScope(have, want types.Scope) bool {
	if want.OrgID != "" && have.OrgID != want.OrgID {
		return false
	}
	if want.DomainID != "" && have.DomainID != want.DomainID {
		return false
	}
	if want.ProjectID != "" && have.ProjectID != want.ProjectID {
		return false
	}
	if want.TeamID != "" && have.TeamID != want.TeamID {
		return false
	}
	return true
}

func matchObservation(obs *types.Observation, f ObservationFilter) bool {
	if obs.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && obs.Status != f.Status {
		return false
	}
	if f.SourceType != "" && obs.SourceType != f.SourceType {
		return false
	}
	if f.SourceID != "" && obs.SourceID != f.SourceID {
		return false
	}
	if f.EntityType != "" && obs.Entity.Type != f.EntityType {
		return false
	}
	if f.Normalized != "" && obs.Entity.Normalized != f.Normalized {
		return false
	}
	return true
}

// sortNodes orders newest-first with a stable id tiebreak.
func sortNodes(nodes []*types.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].UpdatedAt.Equal(nodes[j].UpdatedAt) {
			return nodes[i].UpdatedAt.After(nodes[j].UpdatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortEdges(edges []*types.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].UpdatedAt.Equal(edges[j].UpdatedAt) {
			return edges[i].UpdatedAt.After(edges[j].UpdatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}

func sortObservations(obs []*types.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].ObservedAt.Equal(obs[j].ObservedAt) {
			return obs[i].ObservedAt.After(obs[j].ObservedAt)
		}
		return obs[i].ID < obs[j].ID
	})
}

func sortRuns(runs []*types.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

// pageNodes applies offset and limit to an already sorted slice.
func pageNodes(nodes []*types.Node, offset, limit int) []*types.Node {
	if offset >= len(nodes) {
		return nil
	}
	nodes = nodes[offset:]
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}

// pageEdges applies offset and limit to an already sorted slice.
func pageEdges(edges []*types.Edge, offset, limit int) []*types.Edge {
	if offset >= len(edges) {
		return nil
	}
	edges = edges[offset:]
	if limit > 0 && limit < len(edges) {
		edges = edges[:limit]
	}
	return edges
}
