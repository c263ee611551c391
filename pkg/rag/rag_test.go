package rag

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

type fixture struct {
	graph    *graph.Graph
	index    *search.Index
	searcher *search.Searcher
	builder  *Builder
	service  *Service
}

// newFixture wires the full retrieval stack over a memory store: a payment
// service linked to a billing database, and an unrelated lunch menu.
func newFixture(t *testing.T) (*fixture, map[string]*types.Node) {
	t.Helper()
	meta := store.NewMemoryStore()
	g := graph.New(meta, nil)
	ix := search.NewIndex()
	ctx := context.Background()

	nodes := make(map[string]*types.Node)
	for _, doc := range []struct{ name, content string }{
		{"Payment Service", "Handles payment processing and refunds."},
		{"Billing Database", "Stores invoices and ledger entries."},
		{"Lunch Menu", "Soup and sandwiches."},
	} {
		node, err := g.UpsertNode(ctx, graph.NodeInput{
			EntityType:  "service",
			DisplayName: doc.name,
			Scope:       types.Scope{OrgID: "org-1"},
			FallbackID:  doc.name,
			Properties:  map[string]any{"content": doc.content},
		})
		require.NoError(t, err)
		ix.Put(node)
		nodes[doc.name] = node
	}
	_, err := g.UpsertEdge(ctx, graph.EdgeInput{
		EdgeType:     "depends_on",
		SourceNodeID: nodes["Payment Service"].ID,
		TargetNodeID: nodes["Billing Database"].ID,
		Scope:        types.Scope{OrgID: "org-1"},
	})
	require.NoError(t, err)

	searcher := search.NewSearcher(g, ix)
	builder, err := NewBuilder(BuilderOptions{
		Searcher:    searcher,
		Expander:    expand.New(expand.NewGraphStore(g)),
		Communities: community.NewDSUProvider(meta, time.Minute),
		Embedder:    &llm.MockEmbedder{},
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceOptions{
		Builder:     builder,
		Expander:    expand.New(expand.NewGraphStore(g)),
		Communities: community.NewDSUProvider(meta, time.Minute),
	})
	require.NoError(t, err)

	return &fixture{graph: g, index: ix, searcher: searcher, builder: builder, service: svc}, nodes
}

func TestBuildFullContext(t *testing.T) {
	f, nodes := newFixture(t)

	built, err := f.builder.Build(context.Background(), ContextRequest{
		TenantID:           "org-1",
		Query:              "payment processing",
		IncludeCommunities: true,
		IncludeContent:     true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, built.Seeds)
	assert.Equal(t, "Payment Service", built.Seeds[0].Name)
	assert.Contains(t, built.Seeds[0].Content, "payment processing")

	// Expansion pulls in the billing database through depends_on.
	require.NotNil(t, built.Graph)
	assert.Equal(t, 1, built.Graph.Hops[nodes["Billing Database"].ID])
	require.Len(t, built.Graph.Edges, 1)

	require.NotEmpty(t, built.Communities)
	assert.Contains(t, built.Communities[0].Members, nodes["Payment Service"].ID)
}

func TestBuildValidation(t *testing.T) {
	f, _ := newFixture(t)

	_, err := f.builder.Build(context.Background(), ContextRequest{Query: "x"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	_, err = f.builder.Build(context.Background(), ContextRequest{TenantID: "org-1"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestBuildCachesByDefaultedRequest(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()

	first, err := f.builder.Build(ctx, ContextRequest{
		TenantID: "org-1",
		Query:    "payment processing",
	})
	require.NoError(t, err)

	// Spelling out the defaults must hit the same cache entry.
	def := DefaultContextBuilderConfig
	second, err := f.builder.Build(ctx, ContextRequest{
		TenantID:         "org-1",
		Query:            "payment processing",
		TopK:             def.TopK,
		ScoreThreshold:   def.ScoreThreshold,
		MaxHops:          def.MaxHops,
		MaxNodesPerHop:   def.MaxNodesPerHop,
		MaxTotalNodes:    def.MaxTotalNodes,
		MaxCommunities:   def.MaxCommunities,
		MaxContentLength: def.MaxContentLength,
	})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.builder.CacheLen())

	// A different knob is a different entry.
	_, err = f.builder.Build(ctx, ContextRequest{
		TenantID: "org-1",
		Query:    "payment processing",
		TopK:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.builder.CacheLen())
}

func TestContextCacheEvictsInInsertionOrder(t *testing.T) {
	c := newContextCache(2)
	c.put("k1", &Context{Query: "one"})
	c.put("k2", &Context{Query: "two"})

	// Updating an existing key must not rotate its eviction slot.
	c.put("k1", &Context{Query: "one again"})
	c.put("k3", &Context{Query: "three"})

	_, ok := c.get("k1")
	assert.False(t, ok, "k1 kept its original slot and should be evicted")
	got, ok := c.get("k2")
	require.True(t, ok)
	assert.Equal(t, "two", got.Query)
	_, ok = c.get("k3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcd", 2))

	// Cutting inside a multibyte rune backs up to the rune start.
	s := "café menu"
	cut := truncate(s, 4)
	assert.Equal(t, "caf", cut)
	assert.True(t, utf8.ValidString(cut))
	assert.True(t, utf8.ValidString(truncate("日本語", 4)))
}

// neighborsFail resolves nodes but errors on traversal, which fails the
// expansion phase without touching the seed phase.
type neighborsFail struct {
	g *graph.Graph
}

func (s *neighborsFail) GetNode(ctx context.Context, tenantID, nodeID string) (*types.Node, error) {
	return s.g.GetNode(ctx, tenantID, nodeID)
}

func (s *neighborsFail) Neighbors(ctx context.Context, tenantID, nodeID string, edgeTypes []string, dir expand.Direction, limit int) ([]*types.Edge, error) {
	return nil, errors.New("traversal backend down")
}

type failingCommunities struct{}

func (failingCommunities) EntityCommunities(ctx context.Context, tenantID string, entityIDs []string, max int) ([]community.Community, error) {
	return nil, errors.New("community backend down")
}

func TestBuildDegradesWhenPhasesFail(t *testing.T) {
	f, _ := newFixture(t)

	builder, err := NewBuilder(BuilderOptions{
		Searcher:    f.searcher,
		Expander:    expand.New(&neighborsFail{g: f.graph}),
		Communities: failingCommunities{},
	})
	require.NoError(t, err)

	built, err := builder.Build(context.Background(), ContextRequest{
		TenantID:           "org-1",
		Query:              "payment processing",
		IncludeCommunities: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, built.Seeds)
	assert.Nil(t, built.Graph)
	assert.Empty(t, built.Communities)
}

func TestExpandGraphDefaultsAndValidation(t *testing.T) {
	f, nodes := newFixture(t)
	ctx := context.Background()

	_, err := f.service.ExpandGraph(ctx, ExpandRequest{TenantID: "org-1"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	_, err = f.service.ExpandGraph(ctx, ExpandRequest{SeedIDs: []string{"x"}})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	result, err := f.service.ExpandGraph(ctx, ExpandRequest{
		TenantID: "org-1",
		SeedIDs:  []string{nodes["Payment Service"].ID},
	})
	require.NoError(t, err)
	assert.Len(t, result.Nodes, 2)
	assert.Len(t, result.Edges, 1)
}

func TestGenerateAnswerRequiresMatchingTenant(t *testing.T) {
	f, _ := newFixture(t)

	_, err := f.service.GenerateAnswer(context.Background(), AnswerRequest{
		TenantID: "org-1",
		Query:    "who owns billing?",
		Context:  &Context{TenantID: "org-2", Query: "who owns billing?"},
	})
	assert.True(t, errdefs.Is(err, errdefs.KindTenantMismatch))
}

func TestGenerateAnswerMockCitesExactSpans(t *testing.T) {
	f, _ := newFixture(t)

	answer, err := f.service.GenerateAnswer(context.Background(), AnswerRequest{
		TenantID: "org-1",
		Query:    "what handles payments?",
		Context: &Context{
			TenantID: "org-1",
			Query:    "what handles payments?",
			Seeds: []Seed{
				{ID: "n-1", Name: "Alpha", EntityType: "service", Score: 0.9},
				{ID: "n-2", Name: "Beta", EntityType: "service", Score: 0.8},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock", answer.Model)
	require.Len(t, answer.Citations, 2)
	for _, c := range answer.Citations {
		assert.Equal(t, c.Name, answer.Text[c.StartOffset:c.EndOffset])
	}
}

func TestGenerateAnswerWithProvider(t *testing.T) {
	f, _ := newFixture(t)
	provider := &llm.MockProvider{Replies: []string{"Alpha handles payments."}}

	svc, err := NewService(ServiceOptions{Builder: f.builder, Provider: provider})
	require.NoError(t, err)

	built := &Context{
		TenantID: "org-1",
		Query:    "what handles payments?",
		Seeds:    []Seed{{ID: "n-1", Name: "Alpha", EntityType: "service", Score: 0.9}},
	}
	answer, err := svc.GenerateAnswer(context.Background(), AnswerRequest{
		TenantID: "org-1",
		Context:  built,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alpha handles payments.", answer.Text)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, -1, answer.Citations[0].StartOffset)

	// The prompt carries the question and the grounding entity.
	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "what handles payments?")
	assert.Contains(t, calls[0].Prompt, "Alpha")

	// Provider failures surface as internal errors.
	failing, err := NewService(ServiceOptions{
		Builder:  f.builder,
		Provider: &llm.MockProvider{Fail: errors.New("upstream 500")},
	})
	require.NoError(t, err)
	_, err = failing.GenerateAnswer(context.Background(), AnswerRequest{
		TenantID: "org-1",
		Context:  built,
	})
	assert.True(t, errdefs.Is(err, errdefs.KindInternal))
}
