package expand

import (
	"context"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// Direction selects which edges BFS follows from a node.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Store is the neighborhood the expander traverses. GetNode must report
// foreign nodes exactly like missing ones.
type Store interface {
	GetNode(ctx context.Context, tenantID, id string) (*types.Node, error)
	Neighbors(ctx context.Context, tenantID, nodeID string, edgeTypes []string, dir Direction, limit int) ([]*types.Edge, error)
}

// Request bounds one expansion.
type Request struct {
	TenantID       string    `json:"tenantId"`
	SeedIDs        []string  `json:"seedIds"`
	MaxHops        int       `json:"maxHops"`
	MaxNodesPerHop int       `json:"maxNodesPerHop"`
	MaxTotalNodes  int       `json:"maxTotalNodes"`
	EdgeTypes      []string  `json:"edgeTypes,omitempty"`
	Direction      Direction `json:"direction,omitempty"`
	// PerNodeLimit caps the neighbors fetched per dequeued node. Zero
	// means MaxNodesPerHop.
	PerNodeLimit int `json:"perNodeLimit,omitempty"`
}

// Result is one expansion. Nodes come back in BFS order: hop-major,
// store-return order within a hop. MaxHops is the largest hop of any
// included node.
type Result struct {
	Nodes   []*types.Node  `json:"nodes"`
	Edges   []*types.Edge  `json:"edges"`
	Hops    map[string]int `json:"hops"`
	MaxHops int            `json:"maxHops"`
}

// NodeFilter and EdgeFilter prune a finished expansion.
type (
	NodeFilter func(*types.Node) bool
	EdgeFilter func(*types.Edge) bool
)

// Expander runs bounded BFS against a Store.
type Expander struct {
	store Store
}

func New(store Store) *Expander {
	return &Expander{store: store}
}

type queueEntry struct {
	nodeID string
	hop    int
}

// Expand runs the BFS. Empty seeds return an empty result, not an error.
func (e *Expander) Expand(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "expansion requires a tenantId")
	}
	if req.MaxHops < 0 || req.MaxNodesPerHop < 0 || req.MaxTotalNodes < 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "expansion budgets must not be negative")
	}
	if req.Direction == "" {
		req.Direction = DirectionBoth
	}
	perNode := req.PerNodeLimit
	if perNode <= 0 {
		perNode = req.MaxNodesPerHop
	}

	result := &Result{Hops: make(map[string]int)}
	visited := make(map[string]bool)
	perHop := make(map[int]int)
	var queue []queueEntry

	admit := func(node *types.Node, hop int) {
		visited[node.ID] = true
		result.Nodes = append(result.Nodes, node)
		result.Hops[node.ID] = hop
		if hop > result.MaxHops {
			result.MaxHops = hop
		}
	}

	// Seeds enter only when the store resolves them; a missing or foreign
	// seed is dropped so expanded edges cannot reference it.
	for _, seedID := range req.SeedIDs {
		if seedID == "" || visited[seedID] {
			continue
		}
		if req.MaxTotalNodes > 0 && len(result.Nodes) >= req.MaxTotalNodes {
			break
		}
		node, err := e.store.GetNode(ctx, req.TenantID, seedID)
		if err != nil {
			// Unresolvable seeds are dropped, whatever the cause; a seed
			// the caller got from a stale search result must not fail the
			// whole expansion.
			continue
		}
		admit(node, 0)
		queue = append(queue, queueEntry{nodeID: node.ID, hop: 0})
	}

	edgeSeen := make(map[string]bool)
	var pendingEdges []*types.Edge

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := queue[0]
		queue = queue[1:]
		if entry.hop >= req.MaxHops {
			continue
		}

		edges, err := e.store.Neighbors(ctx, req.TenantID, entry.nodeID, req.EdgeTypes, req.Direction, perNode)
		if err != nil {
			return nil, err
		}
		nextHop := entry.hop + 1
		for _, edge := range edges {
			if !edgeSeen[edge.ID] {
				edgeSeen[edge.ID] = true
				pendingEdges = append(pendingEdges, edge)
			}

			otherID := edge.TargetNodeID
			if otherID == entry.nodeID {
				otherID = edge.SourceNodeID
			}
			if otherID == "" || visited[otherID] {
				continue
			}
			if req.MaxTotalNodes > 0 && len(result.Nodes) >= req.MaxTotalNodes {
				continue
			}
			if req.MaxNodesPerHop > 0 && perHop[nextHop] >= req.MaxNodesPerHop {
				continue
			}
			node, err := e.store.GetNode(ctx, req.TenantID, otherID)
			if err != nil {
				if errdefs.Is(err, errdefs.KindNotFound) {
					continue
				}
				return nil, err
			}
			perHop[nextHop]++
			admit(node, nextHop)
			queue = append(queue, queueEntry{nodeID: node.ID, hop: nextHop})
		}
	}

	// An edge joins the result only when both endpoints were admitted.
	for _, edge := range pendingEdges {
		if visited[edge.SourceNodeID] && visited[edge.TargetNodeID] {
			result.Edges = append(result.Edges, edge)
		}
	}

	metrics.ExpansionNodes.Observe(float64(len(result.Nodes)))
	return result, nil
}

// ExpandFiltered runs Expand, then prunes the result: nodes failing the
// node filter go, edges failing the edge filter or losing an endpoint go,
// and MaxHops is recomputed from what remains.
func (e *Expander) ExpandFiltered(ctx context.Context, req Request, nodeFilter NodeFilter, edgeFilter EdgeFilter) (*Result, error) {
	result, err := e.Expand(ctx, req)
	if err != nil {
		return nil, err
	}
	if nodeFilter == nil && edgeFilter == nil {
		return result, nil
	}

	kept := make(map[string]bool, len(result.Nodes))
	nodes := result.Nodes[:0]
	for _, node := range result.Nodes {
		if nodeFilter != nil && !nodeFilter(node) {
			delete(result.Hops, node.ID)
			continue
		}
		kept[node.ID] = true
		nodes = append(nodes, node)
	}
	result.Nodes = nodes

	edges := result.Edges[:0]
	for _, edge := range result.Edges {
		if edgeFilter != nil && !edgeFilter(edge) {
			continue
		}
		if !kept[edge.SourceNodeID] || !kept[edge.TargetNodeID] {
			continue
		}
		edges = append(edges, edge)
	}
	result.Edges = edges

	result.MaxHops = 0
	for _, hop := range result.Hops {
		if hop > result.MaxHops {
			result.MaxHops = hop
		}
	}
	return result, nil
}
