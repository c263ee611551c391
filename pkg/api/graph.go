package api

import (
	"net/http"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/store"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.NodeFilter{
		TenantID:  tenantFrom(r),
		ProjectID: q.Get("projectId"),
		Phase:     q.Get("phase"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}
	if kinds := q.Get("entityTypes"); kinds != "" {
		filter.EntityTypes = strings.Split(kinds, ",")
	}
	nodes, err := s.graph.ListNodes(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleUpsertNode(w http.ResponseWriter, r *http.Request) {
	var in graph.NodeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.TenantID = tenantFrom(r)
	in.Scope.OrgID = tenantFrom(r)
	node, err := s.graph.UpsertNode(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EdgeFilter{
		TenantID:     tenantFrom(r),
		ProjectID:    q.Get("projectId"),
		EdgeType:     q.Get("edgeType"),
		SourceNodeID: q.Get("sourceNodeId"),
		TargetNodeID: q.Get("targetNodeId"),
		Limit:        queryInt(r, "limit"),
		Offset:       queryInt(r, "offset"),
	}
	edges, err := s.graph.ListEdges(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

func (s *Server) handleUpsertEdge(w http.ResponseWriter, r *http.Request) {
	var in graph.EdgeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.TenantID = tenantFrom(r)
	in.Scope.OrgID = tenantFrom(r)
	edge, err := s.graph.UpsertEdge(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r)
	results, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
