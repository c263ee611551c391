package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func testBackends(t *testing.T) map[string]Store {
	t.Helper()

	boltStore, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { boltStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   boltStore,
	}
}

func TestEndpointLifecycle(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ep := &types.Endpoint{
				ID:       "ep-1",
				SourceID: "github-acme",
				TenantID: "acme",
				Name:     "GitHub (acme)",
				Verb:     "github",
				URL:      "https://api.github.com",
				Config:   map[string]string{"org": "acme"},
			}
			require.NoError(t, s.CreateEndpoint(ep))

			err := s.CreateEndpoint(ep)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindAlreadyExists))

			got, err := s.GetEndpoint("ep-1")
			require.NoError(t, err)
			assert.Equal(t, "github-acme", got.SourceID)
			assert.Equal(t, "acme", got.Config["org"])

			bySource, err := s.GetEndpointBySourceID("github-acme")
			require.NoError(t, err)
			assert.Equal(t, "ep-1", bySource.ID)

			got.Name = "GitHub (acme, prod)"
			require.NoError(t, s.UpdateEndpoint(got))
			got, err = s.GetEndpoint("ep-1")
			require.NoError(t, err)
			assert.Equal(t, "GitHub (acme, prod)", got.Name)

			// soft delete hides from default listings
			now := time.Now()
			got.DeletedAt = &now
			got.DeleteReason = "decommissioned"
			require.NoError(t, s.UpdateEndpoint(got))

			visible, err := s.ListEndpoints(false)
			require.NoError(t, err)
			assert.Empty(t, visible)

			all, err := s.ListEndpoints(true)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.True(t, all[0].Deleted())
		})
	}
}

func TestEndpointNotFound(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetEndpoint("missing")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			err = s.UpdateEndpoint(&types.Endpoint{ID: "missing"})
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}

func TestUnitConfigAndStatus(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			cfg := &types.UnitConfig{
				EndpointID:      "ep-1",
				UnitID:          "pull-requests",
				Enabled:         true,
				RunMode:         types.RunModeIncremental,
				Mode:            types.SinkModeRaw,
				SinkID:          "graph",
				ScheduleKind:    types.ScheduleInterval,
				IntervalMinutes: 30,
				Policy:          map[string]any{"cursorField": "updated_at"},
			}
			require.NoError(t, s.PutUnitConfig(cfg))

			got, err := s.GetUnitConfig("ep-1", "pull-requests")
			require.NoError(t, err)
			assert.Equal(t, "updated_at", got.CursorField())
			assert.Equal(t, 30, got.IntervalMinutes)

			_, err = s.GetUnitConfig("ep-1", "issues")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			require.NoError(t, s.PutUnitConfig(&types.UnitConfig{
				EndpointID: "ep-2", UnitID: "repos", Enabled: true,
			}))

			configs, err := s.ListUnitConfigs("ep-1")
			require.NoError(t, err)
			assert.Len(t, configs, 1)

			all, err := s.ListUnitConfigs("")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			status := &types.UnitStatus{
				EndpointID: "ep-1",
				UnitID:     "pull-requests",
				State:      types.RunStateSucceeded,
				LastRunID:  "run-1",
				Stats:      map[string]float64{"records": 42},
			}
			require.NoError(t, s.PutUnitStatus(status))

			gotStatus, err := s.GetUnitStatus("ep-1", "pull-requests")
			require.NoError(t, err)
			assert.Equal(t, types.RunStateSucceeded, gotStatus.State)
			assert.Equal(t, float64(42), gotStatus.Stats["records"])

			require.NoError(t, s.DeleteUnitConfig("ep-1", "pull-requests"))
			_, err = s.GetUnitConfig("ep-1", "pull-requests")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}

func TestRunsNewestFirst(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				ended := base.Add(time.Duration(i)*time.Hour + 10*time.Minute)
				require.NoError(t, s.CreateRun(&types.Run{
					ID:         []string{"run-a", "run-b", "run-c"}[i],
					EndpointID: "ep-1",
					UnitID:     "pull-requests",
					Mode:       types.RunModeFull,
					State:      types.RunStateSucceeded,
					StartedAt:  base.Add(time.Duration(i) * time.Hour),
					EndedAt:    &ended,
				}))
			}

			runs, err := s.ListRuns("ep-1", "pull-requests", 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-c", runs[0].ID)
			assert.Equal(t, "run-a", runs[2].ID)

			limited, err := s.ListRuns("ep-1", "pull-requests", 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			// duplicate run ids are rejected
			err = s.CreateRun(&types.Run{ID: "run-a"})
			assert.True(t, errdefs.Is(err, errdefs.KindAlreadyExists))
		})
	}
}

func TestGetActiveRun(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetActiveRun("ep-1", "u-1")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			require.NoError(t, s.CreateRun(&types.Run{
				ID: "run-1", EndpointID: "ep-1", UnitID: "u-1",
				State: types.RunStateRunning, StartedAt: time.Now(),
			}))

			active, err := s.GetActiveRun("ep-1", "u-1")
			require.NoError(t, err)
			assert.Equal(t, "run-1", active.ID)

			active.State = types.RunStateFailed
			require.NoError(t, s.UpdateRun(active))

			_, err = s.GetActiveRun("ep-1", "u-1")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}

func TestNodeLogicalKeyIndex(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			node := &types.Node{
				ID:          "n-1",
				TenantID:    "acme",
				EntityType:  "service",
				DisplayName: "billing-api",
				LogicalKey:  "abc123",
				Scope:       types.Scope{OrgID: "acme"},
				Version:     1,
				UpdatedAt:   time.Now(),
			}
			require.NoError(t, s.PutNode(node))

			byKey, err := s.GetNodeByLogicalKey("abc123")
			require.NoError(t, err)
			assert.Equal(t, "n-1", byKey.ID)

			_, err = s.GetNodeByLogicalKey("zzz")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			require.NoError(t, s.DeleteNode("n-1"))
			_, err = s.GetNodeByLogicalKey("abc123")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}

func TestListNodesFiltersTenantFirst(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
			seed := []*types.Node{
				{ID: "n-1", TenantID: "acme", EntityType: "service",
					Scope: types.Scope{OrgID: "acme", ProjectID: "p-1"}, UpdatedAt: base.Add(time.Hour)},
				{ID: "n-2", TenantID: "acme", EntityType: "person",
					Scope: types.Scope{OrgID: "acme", ProjectID: "p-2"}, UpdatedAt: base.Add(2 * time.Hour)},
				{ID: "n-3", TenantID: "globex", EntityType: "service",
					Scope: types.Scope{OrgID: "globex"}, UpdatedAt: base.Add(3 * time.Hour)},
			}
			for _, n := range seed {
				require.NoError(t, s.PutNode(n))
			}

			nodes, err := s.ListNodes(NodeFilter{TenantID: "acme"})
			require.NoError(t, err)
			require.Len(t, nodes, 2)
			// newest first
			assert.Equal(t, "n-2", nodes[0].ID)

			nodes, err = s.ListNodes(NodeFilter{TenantID: "acme", EntityTypes: []string{"service"}})
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, "n-1", nodes[0].ID)

			nodes, err = s.ListNodes(NodeFilter{
				TenantID: "acme",
				Scope:    &types.Scope{OrgID: "acme", ProjectID: "p-2"},
			})
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, "n-2", nodes[0].ID)

			// a tenant mismatch hides everything, whatever else matches
			nodes, err = s.ListNodes(NodeFilter{TenantID: "other", EntityTypes: []string{"service"}})
			require.NoError(t, err)
			assert.Empty(t, nodes)

			count, err := s.CountNodes("acme")
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestListNodesPagination(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, s.PutNode(&types.Node{
					ID:        []string{"n-a", "n-b", "n-c", "n-d", "n-e"}[i],
					TenantID:  "acme",
					UpdatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			pageOne, err := s.ListNodes(NodeFilter{TenantID: "acme", Limit: 2})
			require.NoError(t, err)
			require.Len(t, pageOne, 2)
			assert.Equal(t, "n-e", pageOne[0].ID)

			pageTwo, err := s.ListNodes(NodeFilter{TenantID: "acme", Limit: 2, Offset: 2})
			require.NoError(t, err)
			require.Len(t, pageTwo, 2)
			assert.Equal(t, "n-c", pageTwo[0].ID)

			empty, err := s.ListNodes(NodeFilter{TenantID: "acme", Offset: 10})
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestEdgeOperations(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			edge := &types.Edge{
				ID:           "e-1",
				TenantID:     "acme",
				EdgeType:     "depends_on",
				SourceNodeID: "n-1",
				TargetNodeID: "n-2",
				LogicalKey:   "edgekey1",
				UpdatedAt:    time.Now(),
			}
			require.NoError(t, s.PutEdge(edge))

			byKey, err := s.GetEdgeByLogicalKey("edgekey1")
			require.NoError(t, err)
			assert.Equal(t, "e-1", byKey.ID)

			edges, err := s.ListEdges(EdgeFilter{TenantID: "acme", SourceNodeID: "n-1"})
			require.NoError(t, err)
			assert.Len(t, edges, 1)

			edges, err = s.ListEdges(EdgeFilter{TenantID: "acme", EdgeType: "owns"})
			require.NoError(t, err)
			assert.Empty(t, edges)

			count, err := s.CountEdges("acme")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			require.NoError(t, s.DeleteEdge("e-1"))
			_, err = s.GetEdgeByLogicalKey("edgekey1")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}

func TestEmbeddingOperations(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutEmbedding(&types.Embedding{
				EntityID: "n-1", ModelID: "mock-embed-v1",
				Vector: []float32{0.1, 0.2, 0.3}, Hash: "h1",
			}))
			require.NoError(t, s.PutEmbedding(&types.Embedding{
				EntityID: "n-1", ModelID: "mock-embed-v2",
				Vector: []float32{0.4}, Hash: "h2",
			}))
			require.NoError(t, s.PutEmbedding(&types.Embedding{
				EntityID: "n-2", ModelID: "mock-embed-v1",
				Vector: []float32{0.5}, Hash: "h3",
			}))

			emb, err := s.GetEmbedding("n-1", "h1")
			require.NoError(t, err)
			assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb.Vector)

			byModel, err := s.ListEmbeddings("mock-embed-v1")
			require.NoError(t, err)
			assert.Len(t, byModel, 2)

			forEntity, err := s.ListEmbeddingsForEntity("n-1")
			require.NoError(t, err)
			assert.Len(t, forEntity, 2)

			// re-putting the same vector is idempotent
			require.NoError(t, s.PutEmbedding(&types.Embedding{
				EntityID: "n-1", ModelID: "mock-embed-v1",
				Vector: []float32{0.1, 0.2, 0.3}, Hash: "h1",
			}))
			forEntity, err = s.ListEmbeddingsForEntity("n-1")
			require.NoError(t, err)
			assert.Len(t, forEntity, 2)

			require.NoError(t, s.DeleteEmbeddings("n-1"))
			_, err = s.GetEmbedding("n-1", "h1")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
			_, err = s.GetEmbedding("n-2", "h3")
			assert.NoError(t, err)
		})
	}
}

func TestObservationFilters(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
			seed := []*types.Observation{
				{ID: "o-1", TenantID: "acme", SourceType: "slack", Status: types.ObservationPending,
					Entity:     types.ExtractedEntity{Type: types.EntityPerson, Normalized: "jane doe"},
					ObservedAt: base.Add(time.Hour)},
				{ID: "o-2", TenantID: "acme", SourceType: "github", Status: types.ObservationMatched,
					Entity:     types.ExtractedEntity{Type: types.EntityPerson, Normalized: "jane doe"},
					ObservedAt: base.Add(2 * time.Hour)},
				{ID: "o-3", TenantID: "globex", SourceType: "slack", Status: types.ObservationPending,
					Entity:     types.ExtractedEntity{Type: types.EntityTechnology, Normalized: "billing"},
					ObservedAt: base.Add(3 * time.Hour)},
			}
			for _, o := range seed {
				require.NoError(t, s.PutObservation(o))
			}

			pending, err := s.ListObservations(ObservationFilter{TenantID: "acme", Status: types.ObservationPending})
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "o-1", pending[0].ID)

			byEntity, err := s.ListObservations(ObservationFilter{TenantID: "acme", Normalized: "jane doe"})
			require.NoError(t, err)
			require.Len(t, byEntity, 2)
			// newest first
			assert.Equal(t, "o-2", byEntity[0].ID)

			other, err := s.ListObservations(ObservationFilter{TenantID: "globex"})
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestEntityIndexTenantIsolation(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetEntityIndex("acme", types.EntityPerson, "jane doe", "n-1"))

			id, err := s.GetEntityIndex("acme", types.EntityPerson, "jane doe")
			require.NoError(t, err)
			assert.Equal(t, "n-1", id)

			// same normalized text under another tenant is invisible
			_, err = s.GetEntityIndex("globex", types.EntityPerson, "jane doe")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			// same tenant, different type is a different entry
			_, err = s.GetEntityIndex("acme", types.EntityDocument, "jane doe")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

			require.NoError(t, s.DeleteEntityIndex("acme", types.EntityPerson, "jane doe"))
			_, err = s.GetEntityIndex("acme", types.EntityPerson, "jane doe")
			assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
		})
	}
}
