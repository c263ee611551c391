package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/engine"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/kv"
	"github.com/tapestryhq/tapestry/pkg/observer"
	"github.com/tapestryhq/tapestry/pkg/rag"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

type apiRig struct {
	ts    *httptest.Server
	graph *graph.Graph
	index *search.Index
	meta  *store.MemoryStore
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	meta := store.NewMemoryStore()
	g := graph.New(meta, nil)
	ix := search.NewIndex()

	drivers := driver.NewRegistry()
	require.NoError(t, drivers.Register(&driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues", Kind: "issues", Name: "Issues", DefaultMode: types.RunModeIncremental}},
	}))
	sinks := sink.NewRegistry()
	require.NoError(t, sinks.Register(sink.DefaultSinkID, sink.NewGraphFactory(g)))

	eng, err := engine.New(engine.Options{
		Meta:    meta,
		KV:      kv.NewMemoryStore(),
		Staging: blob.NewMemoryStore(),
		Drivers: drivers,
		Sinks:   sinks,
	})
	require.NoError(t, err)

	searcher := search.NewSearcher(g, ix)
	builder, err := rag.NewBuilder(rag.BuilderOptions{
		Searcher:    searcher,
		Expander:    expand.New(expand.NewGraphStore(g)),
		Communities: community.NewDSUProvider(meta, time.Minute),
	})
	require.NoError(t, err)
	svc, err := rag.NewService(rag.ServiceOptions{
		Builder:  builder,
		Expander: expand.New(expand.NewGraphStore(g)),
	})
	require.NoError(t, err)

	obs, err := observer.New(observer.Options{Meta: meta, Graph: g, Matcher: observer.NewIndexMatcher(meta)})
	require.NoError(t, err)

	srv, err := NewServer(Options{
		Engine:   eng,
		Meta:     meta,
		Graph:    g,
		Searcher: searcher,
		RAG:      svc,
		Observer: obs,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler(nil, 10*time.Second))
	t.Cleanup(ts.Close)
	return &apiRig{ts: ts, graph: g, index: ix, meta: meta}
}

func (r *apiRig) do(t *testing.T, method, path, tenant string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.ts.URL+path, &buf)
	require.NoError(t, err)
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = r.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestTenantHeaderIsRequired(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodGet, "/api/v1/endpoints", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "INVALID_INPUT", body.Kind)
	assert.NotEmpty(t, body.RequestID)
}

func TestEndpointLifecycle(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodPost, "/api/v1/endpoints", "org-1", map[string]any{
		"name": "tracker",
		"verb": "mock",
		"url":  "https://tracker.example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ep := decode[types.Endpoint](t, resp)
	assert.Equal(t, "org-1", ep.TenantID)
	require.NotEmpty(t, ep.ID)

	resp = r.do(t, http.MethodPost, fmt.Sprintf("/api/v1/endpoints/%s/discover", ep.ID), "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	discovered := decode[struct {
		Units []types.UnitDescriptor `json:"units"`
	}](t, resp)
	require.Len(t, discovered.Units, 1)

	resp = r.do(t, http.MethodPut, fmt.Sprintf("/api/v1/endpoints/%s/units/issues/config", ep.ID), "org-1", map[string]any{
		"enabled":      true,
		"runMode":      "INCREMENTAL",
		"mode":         "raw",
		"sinkId":       "graph",
		"scheduleKind": "MANUAL",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = r.do(t, http.MethodPost, fmt.Sprintf("/api/v1/endpoints/%s/units/issues/start", ep.ID), "org-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	action := decode[types.ActionResult](t, resp)
	assert.True(t, action.OK)
	assert.NotEmpty(t, action.RunID)

	// Foreign tenants see neither the endpoint nor its units.
	resp = r.do(t, http.MethodGet, "/api/v1/endpoints/"+ep.ID, "org-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	listed := decode[struct {
		Endpoints []types.Endpoint `json:"endpoints"`
	}](t, r.do(t, http.MethodGet, "/api/v1/endpoints", "org-2", nil))
	assert.Empty(t, listed.Endpoints)
}

func TestGraphRoutes(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodPost, "/api/v1/graph/nodes", "org-1", map[string]any{
		"entityType":  "service",
		"displayName": "Payment Service",
		"fallbackId":  "payment-service",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node := decode[types.Node](t, resp)
	assert.Equal(t, "org-1", node.TenantID)

	listed := decode[struct {
		Nodes []types.Node `json:"nodes"`
	}](t, r.do(t, http.MethodGet, "/api/v1/graph/nodes", "org-1", nil))
	require.Len(t, listed.Nodes, 1)

	// Listings are tenant scoped.
	foreign := decode[struct {
		Nodes []types.Node `json:"nodes"`
	}](t, r.do(t, http.MethodGet, "/api/v1/graph/nodes", "org-2", nil))
	assert.Empty(t, foreign.Nodes)
}

func TestSearchAndRagRoutes(t *testing.T) {
	r := newAPIRig(t)
	ctx := context.Background()

	node, err := r.graph.UpsertNode(ctx, graph.NodeInput{
		EntityType:  "service",
		DisplayName: "Payment Service",
		Scope:       types.Scope{OrgID: "org-1"},
		FallbackID:  "payment-service",
		Properties:  map[string]any{"content": "Handles payment processing."},
	})
	require.NoError(t, err)
	r.index.Put(node)

	results := decode[struct {
		Results []search.Result `json:"results"`
	}](t, r.do(t, http.MethodPost, "/api/v1/search", "org-1", map[string]any{
		"query": "payment",
	}))
	require.Len(t, results.Results, 1)

	resp := r.do(t, http.MethodPost, "/api/v1/rag/context", "org-1", map[string]any{
		"query": "payment",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	built := decode[rag.ContextResponse](t, resp)
	require.NotNil(t, built.Context)
	require.NotEmpty(t, built.Context.Seeds)
	assert.Equal(t, node.ID, built.Context.Seeds[0].ID)

	answer := decode[rag.Answer](t, r.do(t, http.MethodPost, "/api/v1/rag/answer", "org-1", map[string]any{
		"query": "what handles payments?",
	}))
	assert.NotEmpty(t, answer.Text)
	assert.Equal(t, "mock", answer.Model)

	resp = r.do(t, http.MethodPost, "/api/v1/rag/expand", "org-1", map[string]any{
		"seedIds": []string{node.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestObservationRoutes(t *testing.T) {
	r := newAPIRig(t)
	// An unknown entity creates a canonical node and auto-matches.
	obs, err := observerFor(t, r).Record(context.Background(), &types.Observation{
		TenantID:   "org-1",
		SourceType: "jira",
		SourceID:   "PROJ-1",
		Entity: types.ExtractedEntity{
			Type:       types.EntityPerson,
			Text:       "Ada Lovelace",
			Normalized: "ada lovelace",
		},
	})
	require.NoError(t, err)

	listed := decode[struct {
		Observations []types.Observation `json:"observations"`
	}](t, r.do(t, http.MethodGet, "/api/v1/observations", "org-1", nil))
	require.Len(t, listed.Observations, 1)
	assert.Equal(t, obs.ID, listed.Observations[0].ID)

	// Foreign tenant gets a clean not-found, nothing else.
	resp := r.do(t, http.MethodGet, "/api/v1/observations/"+obs.ID, "org-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// observerFor rebuilds an observer over the rig's stores so tests can seed
// observations without going through HTTP.
func observerFor(t *testing.T, r *apiRig) *observer.Observer {
	t.Helper()
	obs, err := observer.New(observer.Options{Meta: r.meta, Graph: r.graph, Matcher: observer.NewIndexMatcher(r.meta)})
	require.NoError(t, err)
	return obs
}
