package graph

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// lockStripes bounds the per-key write locks. Writers to the same logical
// key always land on the same stripe, so they serialize.
const lockStripes = 256

// Graph is the tenant-scoped identity layer over the metadata store. It
// computes logical keys, enforces scope on every read and write, merges
// upserts, and maintains the embedding index.
type Graph struct {
	meta   store.Store
	broker *events.Broker
	locks  [lockStripes]sync.Mutex
}

// New creates a graph layer over the given store. broker may be nil; events
// are then dropped.
func New(meta store.Store, broker *events.Broker) *Graph {
	return &Graph{meta: meta, broker: broker}
}

func (g *Graph) lockFor(logicalKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(logicalKey))
	return &g.locks[h.Sum32()%lockStripes]
}

func (g *Graph) publish(event *events.Event) {
	if g.broker != nil {
		g.broker.Publish(event)
	}
}

// NodeInput is the caller-facing shape of a node upsert. TenantID defaults
// to Scope.OrgID when empty.
type NodeInput struct {
	ID               string         `json:"id,omitempty"`
	TenantID         string         `json:"tenantId,omitempty"`
	ProjectID        string         `json:"projectId,omitempty"`
	EntityType       string         `json:"entityType"`
	DisplayName      string         `json:"displayName,omitempty"`
	CanonicalPath    string         `json:"canonicalPath,omitempty"`
	SourceSystem     string         `json:"sourceSystem,omitempty"`
	SpecRef          string         `json:"specRef,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	Scope            types.Scope    `json:"scope"`
	OriginEndpointID string         `json:"originEndpointId,omitempty"`
	OriginVendor     string         `json:"originVendor,omitempty"`
	ExternalID       map[string]any `json:"externalId,omitempty"`
	FallbackID       string         `json:"fallbackId,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	Provenance       map[string]any `json:"provenance,omitempty"`
}

// EdgeInput is the caller-facing shape of an edge upsert. Endpoints may be
// referenced by node id or by logical key.
type EdgeInput struct {
	ID               string         `json:"id,omitempty"`
	TenantID         string         `json:"tenantId,omitempty"`
	ProjectID        string         `json:"projectId,omitempty"`
	EdgeType         string         `json:"edgeType"`
	SourceNodeID     string         `json:"sourceNodeId,omitempty"`
	TargetNodeID     string         `json:"targetNodeId,omitempty"`
	SourceLogicalKey string         `json:"sourceLogicalKey,omitempty"`
	TargetLogicalKey string         `json:"targetLogicalKey,omitempty"`
	Scope            types.Scope    `json:"scope"`
	Confidence       float64        `json:"confidence,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	OriginEndpointID string         `json:"originEndpointId,omitempty"`
	OriginVendor     string         `json:"originVendor,omitempty"`
}

func (in *NodeInput) validate() error {
	if in.Scope.OrgID == "" {
		return errdefs.New(errdefs.KindInvalidInput, "scope.orgId is required")
	}
	if in.TenantID == "" {
		in.TenantID = in.Scope.OrgID
	}
	if in.TenantID != in.Scope.OrgID {
		return errdefs.New(errdefs.KindTenantMismatch, "scope.orgId does not match tenant")
	}
	if in.EntityType == "" {
		return errdefs.New(errdefs.KindInvalidInput, "entityType is required")
	}
	return nil
}

// UpsertNode locates an existing node by id, then by logical key, and merges
// the input into it; a miss creates the node at version 1. Caller-provided
// fields win the merge; origin and provenance entries survive unless
// overridden. Concurrent upserts on the same logical key serialize.
func (g *Graph) UpsertNode(ctx context.Context, in NodeInput) (*types.Node, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	logicalKey := NodeKey(in.EntityType, in.Scope, in.OriginEndpointID, in.OriginVendor,
		in.CanonicalPath, in.FallbackID, in.ExternalID)

	lock := g.lockFor(logicalKey)
	lock.Lock()
	defer lock.Unlock()

	existing, err := g.locateNode(in.ID, in.TenantID, logicalKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outcome := "updated"
	var node *types.Node
	if existing != nil {
		node = existing
		node.Version++
		node.UpdatedAt = now
		if in.DisplayName != "" {
			node.DisplayName = in.DisplayName
		}
		if in.CanonicalPath != "" {
			node.CanonicalPath = in.CanonicalPath
		}
		if in.SourceSystem != "" {
			node.SourceSystem = in.SourceSystem
		}
		if in.SpecRef != "" {
			node.SpecRef = in.SpecRef
		}
		if in.ProjectID != "" {
			node.ProjectID = in.ProjectID
		}
		if in.Phase != "" {
			node.Phase = in.Phase
		}
		if in.OriginEndpointID != "" {
			node.OriginEndpointID = in.OriginEndpointID
		}
		if in.OriginVendor != "" {
			node.OriginVendor = in.OriginVendor
		}
		if len(in.ExternalID) > 0 {
			node.ExternalID = types.CloneAnyMap(in.ExternalID)
		}
		if len(in.Properties) > 0 && node.Properties == nil {
			node.Properties = make(map[string]any, len(in.Properties))
		}
		for k, v := range in.Properties {
			node.Properties[k] = v
		}
		if len(in.Provenance) > 0 && node.Provenance == nil {
			node.Provenance = make(map[string]any, len(in.Provenance))
		}
		for k, v := range in.Provenance {
			node.Provenance[k] = v
		}
	} else {
		outcome = "created"
		node = &types.Node{
			ID:               in.ID,
			TenantID:         in.TenantID,
			ProjectID:        in.ProjectID,
			EntityType:       in.EntityType,
			DisplayName:      in.DisplayName,
			CanonicalPath:    in.CanonicalPath,
			SourceSystem:     in.SourceSystem,
			SpecRef:          in.SpecRef,
			Properties:       types.CloneAnyMap(in.Properties),
			Version:          1,
			Scope:            in.Scope,
			OriginEndpointID: in.OriginEndpointID,
			OriginVendor:     in.OriginVendor,
			LogicalKey:       logicalKey,
			ExternalID:       types.CloneAnyMap(in.ExternalID),
			Phase:            in.Phase,
			Provenance:       types.CloneAnyMap(in.Provenance),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if node.ID == "" {
			node.ID = uuid.New().String()
		}
	}

	if err := g.meta.PutNode(node); err != nil {
		return nil, err
	}

	metrics.NodeUpserts.WithLabelValues(outcome).Inc()
	g.publish(&events.Event{
		Type:     events.EventNodeUpserted,
		TenantID: node.TenantID,
		EntityID: node.ID,
		Metadata: map[string]string{"entityType": node.EntityType, "outcome": outcome},
	})
	return node, nil
}

// locateNode resolves the upsert target. A node owned by another tenant is
// reported exactly like a missing one.
func (g *Graph) locateNode(id, tenantID, logicalKey string) (*types.Node, error) {
	if id != "" {
		node, err := g.meta.GetNode(id)
		switch {
		case err == nil:
			if node.TenantID != tenantID {
				return nil, errdefs.New(errdefs.KindNotFound, "node not found: %s", id)
			}
			return node, nil
		case !errdefs.Is(err, errdefs.KindNotFound):
			return nil, err
		}
	}
	node, err := g.meta.GetNodeByLogicalKey(logicalKey)
	switch {
	case err == nil:
		return node, nil
	case errdefs.Is(err, errdefs.KindNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// GetNode returns the node when it belongs to the tenant. Nodes of other
// tenants are reported exactly like missing ones.
func (g *Graph) GetNode(ctx context.Context, tenantID, id string) (*types.Node, error) {
	node, err := g.meta.GetNode(id)
	if err != nil {
		return nil, err
	}
	if node.TenantID != tenantID {
		return nil, errdefs.New(errdefs.KindNotFound, "node not found: %s", id)
	}
	return node, nil
}

// GetNodeByLogicalKey is GetNode addressed by logical key.
func (g *Graph) GetNodeByLogicalKey(ctx context.Context, tenantID, logicalKey string) (*types.Node, error) {
	node, err := g.meta.GetNodeByLogicalKey(logicalKey)
	if err != nil {
		return nil, err
	}
	if node.TenantID != tenantID {
		return nil, errdefs.New(errdefs.KindNotFound, "node not found: %s", logicalKey)
	}
	return node, nil
}

// ListNodes returns tenant-scoped nodes, newest first.
func (g *Graph) ListNodes(ctx context.Context, filter store.NodeFilter) ([]*types.Node, error) {
	if filter.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	return g.meta.ListNodes(filter)
}

// ListEdges returns tenant-scoped edges, newest first.
func (g *Graph) ListEdges(ctx context.Context, filter store.EdgeFilter) ([]*types.Edge, error) {
	if filter.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	return g.meta.ListEdges(filter)
}

// CountNodes returns the tenant's node count.
func (g *Graph) CountNodes(ctx context.Context, tenantID string) (int, error) {
	return g.meta.CountNodes(tenantID)
}

// CountEdges returns the tenant's edge count.
func (g *Graph) CountEdges(ctx context.Context, tenantID string) (int, error) {
	return g.meta.CountEdges(tenantID)
}

// UpsertEdge resolves both endpoints, requires them to live in the caller's
// org, and creates or replaces the edge record. Replacement keeps createdAt.
func (g *Graph) UpsertEdge(ctx context.Context, in EdgeInput) (*types.Edge, error) {
	if in.Scope.OrgID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "scope.orgId is required")
	}
	if in.TenantID == "" {
		in.TenantID = in.Scope.OrgID
	}
	if in.TenantID != in.Scope.OrgID {
		return nil, errdefs.New(errdefs.KindTenantMismatch, "scope.orgId does not match tenant")
	}
	if in.EdgeType == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "edgeType is required")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "confidence must be within [0,1]: %v", in.Confidence)
	}

	source, err := g.resolveEndpointNode(in.SourceNodeID, in.SourceLogicalKey)
	if err != nil {
		return nil, err
	}
	target, err := g.resolveEndpointNode(in.TargetNodeID, in.TargetLogicalKey)
	if err != nil {
		return nil, err
	}
	if source.Scope.OrgID != in.Scope.OrgID || target.Scope.OrgID != in.Scope.OrgID {
		metrics.CrossScopeRejections.Inc()
		return nil, errdefs.ErrCrossScopeEdge
	}

	logicalKey := EdgeKey(in.EdgeType, in.Scope, in.OriginEndpointID, in.OriginVendor,
		source.LogicalKey, target.LogicalKey)

	lock := g.lockFor(logicalKey)
	lock.Lock()
	defer lock.Unlock()

	existing, err := g.locateEdge(in.ID, in.TenantID, logicalKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outcome := "updated"
	edge := &types.Edge{
		ID:               in.ID,
		TenantID:         in.TenantID,
		ProjectID:        in.ProjectID,
		EdgeType:         in.EdgeType,
		SourceNodeID:     source.ID,
		TargetNodeID:     target.ID,
		SourceLogicalKey: source.LogicalKey,
		TargetLogicalKey: target.LogicalKey,
		Scope:            in.Scope,
		Confidence:       in.Confidence,
		Metadata:         types.CloneAnyMap(in.Metadata),
		LogicalKey:       logicalKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing != nil {
		edge.ID = existing.ID
		edge.CreatedAt = existing.CreatedAt
	} else {
		outcome = "created"
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}
	}

	if err := g.meta.PutEdge(edge); err != nil {
		return nil, err
	}

	metrics.EdgeUpserts.WithLabelValues(outcome).Inc()
	g.publish(&events.Event{
		Type:     events.EventEdgeUpserted,
		TenantID: edge.TenantID,
		EntityID: edge.ID,
		Metadata: map[string]string{"edgeType": edge.EdgeType, "outcome": outcome},
	})
	return edge, nil
}

func (g *Graph) resolveEndpointNode(id, logicalKey string) (*types.Node, error) {
	switch {
	case id != "":
		return g.meta.GetNode(id)
	case logicalKey != "":
		return g.meta.GetNodeByLogicalKey(logicalKey)
	default:
		return nil, errdefs.New(errdefs.KindInvalidInput, "edge endpoint requires a node id or logical key")
	}
}

func (g *Graph) locateEdge(id, tenantID, logicalKey string) (*types.Edge, error) {
	if id != "" {
		edge, err := g.meta.GetEdge(id)
		switch {
		case err == nil:
			if edge.TenantID != tenantID {
				return nil, errdefs.New(errdefs.KindNotFound, "edge not found: %s", id)
			}
			return edge, nil
		case !errdefs.Is(err, errdefs.KindNotFound):
			return nil, err
		}
	}
	edge, err := g.meta.GetEdgeByLogicalKey(logicalKey)
	switch {
	case err == nil:
		return edge, nil
	case errdefs.Is(err, errdefs.KindNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// DeleteNode removes a tenant's node. Foreign nodes are reported exactly
// like missing ones.
func (g *Graph) DeleteNode(ctx context.Context, tenantID, id string) error {
	if _, err := g.GetNode(ctx, tenantID, id); err != nil {
		return err
	}
	return g.meta.DeleteNode(id)
}
