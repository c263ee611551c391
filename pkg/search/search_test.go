package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func newTestSearcher(t *testing.T) (*Searcher, *graph.Graph, *Index) {
	t.Helper()
	meta := store.NewMemoryStore()
	g := graph.New(meta, nil)
	ix := NewIndex()
	return NewSearcher(g, ix), g, ix
}

func addNode(t *testing.T, g *graph.Graph, ix *Index, tenant, name, content string) *types.Node {
	t.Helper()
	node, err := g.UpsertNode(context.Background(), graph.NodeInput{
		EntityType:  "document",
		DisplayName: name,
		Scope:       types.Scope{OrgID: tenant},
		FallbackID:  name,
		Properties:  map[string]any{"content": content},
	})
	require.NoError(t, err)
	ix.Put(node)
	return node
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"payment", "service", "v2"}, tokenize("Payment-Service  v2!"))
	assert.Empty(t, tokenize("a . !"))
}

func TestKeywordSearchRanksByRelevance(t *testing.T) {
	s, g, ix := newTestSearcher(t)

	addNode(t, g, ix, "org-1", "Payment Service",
		"The payment service handles payment processing and refunds.")
	addNode(t, g, ix, "org-1", "Deploy Guide",
		"How to deploy services. Mentions payment once.")
	addNode(t, g, ix, "org-1", "Lunch Menu", "Soup and sandwiches.")

	results, err := s.Search(context.Background(), Request{
		TenantID: "org-1",
		Query:    "payment processing",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Payment Service", results[0].Node.DisplayName)
	assert.Greater(t, results[0].Score, results[1].Score)
	// Keyword-only requests never report a vector rank.
	assert.Zero(t, results[0].VectorRank)
}

func TestSearchIsTenantScoped(t *testing.T) {
	s, g, ix := newTestSearcher(t)
	addNode(t, g, ix, "org-a", "Payment Service", "payment processing")
	addNode(t, g, ix, "org-b", "Payment Portal", "payment processing")

	results, err := s.Search(context.Background(), Request{TenantID: "org-a", Query: "payment"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "org-a", results[0].Node.TenantID)
}

func TestHybridFusionOrdering(t *testing.T) {
	// Alpha ranks 1 on the vector leg and 5 on the keyword leg; Beta ranks
	// 3 and 2. With equal weights Beta's fused RRF score wins:
	// 0.5/63 + 0.5/62 > 0.5/61 + 0.5/65.
	scoreAlpha := 0.5/61.0 + 0.5/65.0
	scoreBeta := 0.5/63.0 + 0.5/62.0
	require.Greater(t, scoreBeta, scoreAlpha)

	s, g, ix := newTestSearcher(t)
	ctx := context.Background()

	// Keyword leg via term frequency: Gamma rank 1, Beta rank 2, the two
	// fillers ranks 3 and 4, Alpha rank 5.
	nodeAlpha := addNode(t, g, ix, "org-1", "Alpha", "fusion")
	nodeBeta := addNode(t, g, ix, "org-1", "Beta", "fusion fusion fusion fusion")
	addNode(t, g, ix, "org-1", "Gamma", "fusion fusion fusion fusion fusion fusion")
	for i := 0; i < 2; i++ {
		addNode(t, g, ix, "org-1", fmt.Sprintf("Filler %d", i),
			"fusion fusion fusion "+fmt.Sprintf("filler%d", i))
	}
	// Not a keyword candidate; only there to occupy vector rank 2.
	offtopic := addNode(t, g, ix, "org-1", "Offtopic", "nothing here")

	hits := ix.Search("org-1", "fusion", docFilter{}, 10)
	require.Len(t, hits, 5)
	assert.Equal(t, nodeBeta.ID, hits[1].NodeID)
	assert.Equal(t, nodeAlpha.ID, hits[4].NodeID)

	// Vector leg: Alpha matches the query exactly, Beta lands at rank 3
	// behind the off-topic node.
	_, err := g.PutEmbedding(ctx, nodeAlpha.ID, []float32{1, 0, 0}, "m1")
	require.NoError(t, err)
	_, err = g.PutEmbedding(ctx, offtopic.ID, []float32{0.8, 0.6, 0}, "m1")
	require.NoError(t, err)
	_, err = g.PutEmbedding(ctx, nodeBeta.ID, []float32{0.6, 0.8, 0}, "m1")
	require.NoError(t, err)

	results, err := s.Search(ctx, Request{
		TenantID:  "org-1",
		Query:     "fusion",
		Embedding: []float32{1, 0, 0},
		ModelID:   "m1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, nodeBeta.ID, results[0].Node.ID)
	assert.Equal(t, 3, results[0].VectorRank)
	assert.Equal(t, 2, results[0].KeywordRank)
	assert.Equal(t, nodeAlpha.ID, results[1].Node.ID)
}

func TestSearchFilters(t *testing.T) {
	s, g, ix := newTestSearcher(t)
	ctx := context.Background()

	doc, err := g.UpsertNode(ctx, graph.NodeInput{
		EntityType:  "document",
		DisplayName: "Payment Runbook",
		Scope:       types.Scope{OrgID: "org-1"},
		FallbackID:  "runbook",
		ProjectID:   "proj-1",
		Properties:  map[string]any{"profileId": "ops"},
	})
	require.NoError(t, err)
	ix.Put(doc)

	person, err := g.UpsertNode(ctx, graph.NodeInput{
		EntityType:  "person",
		DisplayName: "Payment Team Lead",
		Scope:       types.Scope{OrgID: "org-1"},
		FallbackID:  "lead",
	})
	require.NoError(t, err)
	ix.Put(person)

	results, err := s.Search(ctx, Request{
		TenantID:    "org-1",
		Query:       "payment",
		EntityKinds: []string{"document"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doc.ID, results[0].Node.ID)

	results, err = s.Search(ctx, Request{
		TenantID:   "org-1",
		Query:      "payment",
		ProfileIDs: []string{"other-profile"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, Request{
		TenantID:  "org-1",
		Query:     "payment",
		ProjectID: "proj-1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doc.ID, results[0].Node.ID)
}

func TestSearchMinScoreAndTopK(t *testing.T) {
	s, g, ix := newTestSearcher(t)
	for i := 0; i < 8; i++ {
		addNode(t, g, ix, "org-1", fmt.Sprintf("Doc %d", i), "shared term here")
	}

	results, err := s.Search(context.Background(), Request{
		TenantID: "org-1",
		Query:    "shared term",
		TopK:     3,
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Fused scores normalize to the best hit: eight docs at keyword
	// ranks 1..8 score 61/(60+rank), so 0.95 keeps exactly ranks 1-4.
	results, err = s.Search(context.Background(), Request{
		TenantID: "org-1",
		Query:    "shared term",
		MinScore: 0.95,
	})
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchValidation(t *testing.T) {
	s, _, _ := newTestSearcher(t)

	_, err := s.Search(context.Background(), Request{Query: "x"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	_, err = s.Search(context.Background(), Request{TenantID: "org-1"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestIndexRemoveAndReindex(t *testing.T) {
	_, g, ix := newTestSearcher(t)
	node := addNode(t, g, ix, "org-1", "Ephemeral", "short lived document")
	require.Equal(t, 1, ix.Size("org-1"))

	ix.Remove(node.ID)
	assert.Equal(t, 0, ix.Size("org-1"))
	assert.Empty(t, ix.Search("org-1", "ephemeral", docFilter{}, 10))

	require.NoError(t, ix.Reindex(context.Background(), "org-1", []*types.Node{node}))
	assert.Equal(t, 1, ix.Size("org-1"))
}

func TestIndexerFollowsLiveUpserts(t *testing.T) {
	meta := store.NewMemoryStore()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	g := graph.New(meta, broker)

	ix := NewIndex()
	indexer := NewIndexer(ix, g, broker)
	indexer.Start()
	defer indexer.Stop()

	// Nodes upserted while the process runs must become searchable
	// without a reindex pass.
	_, err := g.UpsertNode(context.Background(), graph.NodeInput{
		EntityType:  "service",
		DisplayName: "Ledger Service",
		Scope:       types.Scope{OrgID: "org-1"},
		FallbackID:  "ledger",
		Properties:  map[string]any{"description": "posts journal entries"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(ix.Search("org-1", "ledger", docFilter{}, 10)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
