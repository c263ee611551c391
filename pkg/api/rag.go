package api

import (
	"net/http"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/rag"
)

func (s *Server) handleBuildContext(w http.ResponseWriter, r *http.Request) {
	var req rag.ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r)
	resp, err := s.rag.BuildContext(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req rag.ExpandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r)
	result, err := s.rag.ExpandGraph(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req rag.AnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r)
	// No prebuilt context means build one from the query first.
	if req.Context == nil {
		if req.Query == "" {
			writeError(w, r, errdefs.New(errdefs.KindInvalidInput, "answer requires a query or a context"))
			return
		}
		built, err := s.rag.BuildContext(r.Context(), rag.ContextRequest{
			TenantID:           req.TenantID,
			Query:              req.Query,
			IncludeCommunities: true,
			IncludeContent:     true,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Context = built.Context
	}
	answer, err := s.rag.GenerateAnswer(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleCommunities(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("entityIds"), ",")
	clean := ids[:0]
	for _, id := range ids {
		if id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		writeError(w, r, errdefs.New(errdefs.KindInvalidInput, "entityIds is required"))
		return
	}
	communities, err := s.rag.GetEntityCommunities(r.Context(), tenantFrom(r), clean, queryInt(r, "max"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"communities": communities})
}
