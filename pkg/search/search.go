package search

import (
	"context"
	"sort"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// rrfK is the standard reciprocal-rank-fusion rank offset.
const rrfK = 60

// Request narrows and tunes one hybrid search. The tenant filter applies to
// both legs before fusion. Vector search runs only when Embedding is set.
type Request struct {
	TenantID    string    `json:"tenantId"`
	Query       string    `json:"query"`
	Embedding   []float32 `json:"embedding,omitempty"`
	ModelID     string    `json:"modelId,omitempty"`
	TopK        int       `json:"topK,omitempty"`
	MinScore    float64   `json:"minScore,omitempty"`
	// VectorWeight and KeywordWeight default to 0.5 each when both are zero.
	VectorWeight  float64  `json:"vectorWeight,omitempty"`
	KeywordWeight float64  `json:"keywordWeight,omitempty"`
	ProjectID     string   `json:"projectId,omitempty"`
	ProfileIDs    []string `json:"profileIds,omitempty"`
	EntityKinds   []string `json:"entityKinds,omitempty"`
}

// Result is one fused hit.
type Result struct {
	Node        *types.Node `json:"node"`
	Score       float64     `json:"score"`
	VectorRank  int         `json:"vectorRank,omitempty"`  // 0 when absent from the vector leg
	KeywordRank int         `json:"keywordRank,omitempty"` // 0 when absent from the keyword leg
}

// Searcher fuses the keyword index with the graph's embedding index.
type Searcher struct {
	graph *graph.Graph
	index *Index
}

func NewSearcher(g *graph.Graph, index *Index) *Searcher {
	return &Searcher{graph: g, index: index}
}

// candidateLimit is how deep each leg ranks before fusion. Fusing from a
// deeper pool than topK lets a hit strong on one leg surface.
func candidateLimit(topK int) int {
	return topK * 4
}

// Search runs both legs and fuses them with weighted RRF.
func (s *Searcher) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "search requires a tenantId")
	}
	if req.Query == "" && len(req.Embedding) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "search requires a query or an embedding")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.VectorWeight == 0 && req.KeywordWeight == 0 {
		req.VectorWeight = 0.5
		req.KeywordWeight = 0.5
	}

	mode := "keyword"
	if len(req.Embedding) > 0 {
		mode = "hybrid"
	}
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDurationVec(metrics.SearchDuration, mode) }()

	filter := docFilter{
		projectID:   req.ProjectID,
		entityKinds: req.EntityKinds,
		profileIDs:  req.ProfileIDs,
	}
	limit := candidateLimit(req.TopK)

	fused := make(map[string]*Result)
	nodeOf := func(nodeID string) *types.Node {
		node, err := s.graph.GetNode(ctx, req.TenantID, nodeID)
		if err != nil {
			return nil
		}
		return node
	}

	if len(req.Embedding) > 0 && req.VectorWeight > 0 {
		matches, err := s.graph.SearchEmbeddings(ctx, req.Embedding, limit, req.ModelID)
		if err != nil {
			return nil, err
		}
		rank := 0
		for _, m := range matches {
			node := nodeOf(m.Embedding.EntityID)
			if node == nil || !matchNodeFilter(node, filter) {
				continue
			}
			rank++
			r := fused[node.ID]
			if r == nil {
				r = &Result{Node: node}
				fused[node.ID] = r
			}
			r.VectorRank = rank
			r.Score += req.VectorWeight / float64(rrfK+rank)
		}
	}

	if req.Query != "" && req.KeywordWeight > 0 {
		for i, hit := range s.index.Search(req.TenantID, req.Query, filter, limit) {
			node := nodeOf(hit.NodeID)
			if node == nil {
				continue
			}
			r := fused[node.ID]
			if r == nil {
				r = &Result{Node: node}
				fused[node.ID] = r
			}
			r.KeywordRank = i + 1
			r.Score += req.KeywordWeight / float64(rrfK+i+1)
		}
	}

	// Raw RRF sums top out around 1/(k+1); normalize so the best hit
	// scores 1.0 and MinScore works on a stable 0-1 scale.
	var best float64
	for _, r := range fused {
		if r.Score > best {
			best = r.Score
		}
	}
	out := make([]Result, 0, len(fused))
	for _, r := range fused {
		if best > 0 {
			r.Score /= best
		}
		if r.Score < req.MinScore {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	if len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

// matchNodeFilter mirrors the keyword leg's candidate filter for nodes
// arriving through the vector leg.
func matchNodeFilter(node *types.Node, f docFilter) bool {
	profileID, _ := node.Properties["profileId"].(string)
	return f.match(&document{
		projectID:  node.ProjectID,
		entityType: node.EntityType,
		profileID:  profileID,
	})
}
