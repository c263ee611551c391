package rag

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/search"
)

// ContextConfig holds the numeric knobs of context building.
type ContextConfig struct {
	TopK             int     `json:"topK"`
	ScoreThreshold   float64 `json:"scoreThreshold"`
	MaxHops          int     `json:"maxHops"`
	MaxNodesPerHop   int     `json:"maxNodesPerHop"`
	MaxTotalNodes    int     `json:"maxTotalNodes"`
	MaxCommunities   int     `json:"maxCommunities"`
	MaxContentLength int     `json:"maxContentLength"`
}

// DefaultContextBuilderConfig fills zero or negative numeric request
// fields. Booleans are never coerced: a caller wanting communities or
// content must say so.
var DefaultContextBuilderConfig = ContextConfig{
	TopK:             10,
	ScoreThreshold:   0.5,
	MaxHops:          3,
	MaxNodesPerHop:   20,
	MaxTotalNodes:    100,
	MaxCommunities:   5,
	MaxContentLength: 500,
}

// ContextRequest asks for one RAG context.
type ContextRequest struct {
	TenantID           string    `json:"tenantId"`
	ProjectID          string    `json:"projectId,omitempty"`
	Query              string    `json:"query"`
	Embedding          []float32 `json:"embedding,omitempty"`
	EntityKinds        []string  `json:"entityKinds,omitempty"`
	TopK               int       `json:"topK,omitempty"`
	ScoreThreshold     float64   `json:"scoreThreshold,omitempty"`
	MaxHops            int       `json:"maxHops,omitempty"`
	MaxNodesPerHop     int       `json:"maxNodesPerHop,omitempty"`
	MaxTotalNodes      int       `json:"maxTotalNodes,omitempty"`
	EdgeTypes          []string  `json:"edgeTypes,omitempty"`
	IncludeCommunities bool      `json:"includeCommunities,omitempty"`
	MaxCommunities     int       `json:"maxCommunities,omitempty"`
	IncludeContent     bool      `json:"includeContent,omitempty"`
	MaxContentLength   int       `json:"maxContentLength,omitempty"`
}

// withDefaults replaces zero and negative numeric fields from the default
// config. ScoreThreshold defaults only when zero or negative; an explicit
// small positive threshold stands.
func (r ContextRequest) withDefaults() ContextRequest {
	def := DefaultContextBuilderConfig
	if r.TopK <= 0 {
		r.TopK = def.TopK
	}
	if r.ScoreThreshold <= 0 {
		r.ScoreThreshold = def.ScoreThreshold
	}
	if r.MaxHops <= 0 {
		r.MaxHops = def.MaxHops
	}
	if r.MaxNodesPerHop <= 0 {
		r.MaxNodesPerHop = def.MaxNodesPerHop
	}
	if r.MaxTotalNodes <= 0 {
		r.MaxTotalNodes = def.MaxTotalNodes
	}
	if r.MaxCommunities <= 0 {
		r.MaxCommunities = def.MaxCommunities
	}
	if r.MaxContentLength <= 0 {
		r.MaxContentLength = def.MaxContentLength
	}
	return r
}

// Seed is one hybrid-search hit anchoring the context.
type Seed struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	EntityType string  `json:"entityType"`
	Score      float64 `json:"score"`
	Content    string  `json:"content,omitempty"`
}

// Context is the composite retrieval result: seeds, expanded graph and
// community membership.
type Context struct {
	TenantID    string                `json:"tenantId"`
	Query       string                `json:"query"`
	Seeds       []Seed                `json:"seeds"`
	Graph       *expand.Result        `json:"graph,omitempty"`
	Communities []community.Community `json:"communities,omitempty"`
	BuiltAt     time.Time             `json:"builtAt"`
}

// BuilderOptions wires a Builder. Searcher is required; every other
// collaborator is optional and its phase is skipped when absent.
type BuilderOptions struct {
	Searcher    *search.Searcher
	Expander    *expand.Expander
	Communities community.Provider
	Embedder    llm.Embedder
	CacheSize   int
}

// Builder assembles RAG contexts.
type Builder struct {
	searcher    *search.Searcher
	expander    *expand.Expander
	communities community.Provider
	embedder    llm.Embedder
	cache       *contextCache
}

func NewBuilder(opts BuilderOptions) (*Builder, error) {
	if opts.Searcher == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "context builder requires a searcher")
	}
	return &Builder{
		searcher:    opts.Searcher,
		expander:    opts.Expander,
		communities: opts.Communities,
		embedder:    opts.Embedder,
		cache:       newContextCache(opts.CacheSize),
	}, nil
}

// Build runs the three phases. Phase failures degrade the context; only
// invalid requests fail.
func (b *Builder) Build(ctx context.Context, req ContextRequest) (*Context, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "context request requires a tenantId")
	}
	if req.Query == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "context request requires a query")
	}
	req = req.withDefaults()

	key := cacheKey(req)
	if cached, ok := b.cache.get(key); ok {
		return cached, nil
	}

	timer := metrics.NewTimer()
	defer func() { timer.ObserveDuration(metrics.ContextBuildDuration) }()
	logger := log.WithTenant(req.TenantID)

	out := &Context{
		TenantID: req.TenantID,
		Query:    req.Query,
		Seeds:    []Seed{},
		BuiltAt:  time.Now().UTC(),
	}

	// Seed phase. A search failure must not fail the whole request.
	embedding := req.Embedding
	if len(embedding) == 0 && b.embedder != nil {
		vec, err := b.embedder.Embed(ctx, req.Query)
		if err != nil {
			logger.Warn().Err(err).Msg("Query embedding failed, searching keyword-only")
		} else {
			embedding = vec
		}
	}
	var modelID string
	if b.embedder != nil {
		modelID = b.embedder.ModelID()
	}
	hits, err := b.searcher.Search(ctx, search.Request{
		TenantID:    req.TenantID,
		Query:       req.Query,
		Embedding:   embedding,
		ModelID:     modelID,
		TopK:        req.TopK,
		MinScore:    req.ScoreThreshold,
		ProjectID:   req.ProjectID,
		EntityKinds: req.EntityKinds,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Seed search failed, continuing with empty seeds")
		hits = nil
	}
	for _, hit := range hits {
		seed := Seed{
			ID:         hit.Node.ID,
			Name:       hit.Node.DisplayName,
			EntityType: hit.Node.EntityType,
			Score:      hit.Score,
		}
		if req.IncludeContent {
			seed.Content = truncate(search.NodeText(hit.Node), req.MaxContentLength)
		}
		out.Seeds = append(out.Seeds, seed)
	}

	// Expansion phase.
	if len(out.Seeds) > 0 && b.expander != nil {
		seedIDs := make([]string, len(out.Seeds))
		for i, s := range out.Seeds {
			seedIDs[i] = s.ID
		}
		expansion, err := b.expander.Expand(ctx, expand.Request{
			TenantID:       req.TenantID,
			SeedIDs:        seedIDs,
			MaxHops:        req.MaxHops,
			MaxNodesPerHop: req.MaxNodesPerHop,
			MaxTotalNodes:  req.MaxTotalNodes,
			EdgeTypes:      req.EdgeTypes,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Graph expansion failed, continuing without graph")
		} else {
			out.Graph = expansion
		}
	}

	// Community phase.
	if req.IncludeCommunities && b.communities != nil {
		ids := make([]string, 0, len(out.Seeds))
		for _, s := range out.Seeds {
			ids = append(ids, s.ID)
		}
		if out.Graph != nil {
			for _, n := range out.Graph.Nodes {
				ids = append(ids, n.ID)
			}
		}
		if len(ids) > 0 {
			communities, err := b.communities.EntityCommunities(ctx, req.TenantID, ids, req.MaxCommunities)
			if err != nil {
				logger.Warn().Err(err).Msg("Community lookup failed, continuing without communities")
			} else {
				out.Communities = communities
			}
		}
	}

	b.cache.put(key, out)
	return out, nil
}

// CacheLen reports the number of cached contexts.
func (b *Builder) CacheLen() int {
	return b.cache.len()
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// nodeName looks up a display name inside an expansion result.
func nodeName(graph *expand.Result, id string) string {
	if graph == nil {
		return id
	}
	for _, n := range graph.Nodes {
		if n.ID == id {
			if n.DisplayName != "" {
				return n.DisplayName
			}
			return id
		}
	}
	return id
}
