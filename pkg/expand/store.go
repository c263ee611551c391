package expand

import (
	"context"

	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// GraphStore adapts the identity layer to the expander's Store contract.
type GraphStore struct {
	g *graph.Graph
}

func NewGraphStore(g *graph.Graph) *GraphStore {
	return &GraphStore{g: g}
}

func (s *GraphStore) GetNode(ctx context.Context, tenantID, id string) (*types.Node, error) {
	return s.g.GetNode(ctx, tenantID, id)
}

// Neighbors lists the edges touching nodeID in the requested direction.
// With multiple edge types the per-type listings are concatenated in the
// caller's type order; limit applies per listing, matching the per-node
// neighbor budget.
func (s *GraphStore) Neighbors(ctx context.Context, tenantID, nodeID string, edgeTypes []string, dir Direction, limit int) ([]*types.Edge, error) {
	kinds := edgeTypes
	if len(kinds) == 0 {
		kinds = []string{""}
	}

	var out []*types.Edge
	seen := make(map[string]bool)
	appendEdges := func(edges []*types.Edge) {
		for _, edge := range edges {
			if !seen[edge.ID] {
				seen[edge.ID] = true
				out = append(out, edge)
			}
		}
	}

	for _, edgeType := range kinds {
		if dir == DirectionOut || dir == DirectionBoth {
			edges, err := s.g.ListEdges(ctx, store.EdgeFilter{
				TenantID:     tenantID,
				EdgeType:     edgeType,
				SourceNodeID: nodeID,
				Limit:        limit,
			})
			if err != nil {
				return nil, err
			}
			appendEdges(edges)
		}
		if dir == DirectionIn || dir == DirectionBoth {
			edges, err := s.g.ListEdges(ctx, store.EdgeFilter{
				TenantID:     tenantID,
				EdgeType:     edgeType,
				TargetNodeID: nodeID,
				Limit:        limit,
			})
			if err != nil {
				return nil, err
			}
			appendEdges(edges)
		}
	}
	return out, nil
}

var _ Store = (*GraphStore)(nil)
