package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/ner"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ner.ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r)
	entities, err := s.extractor.Extract(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Text == "" {
		writeError(w, r, errdefs.New(errdefs.KindInvalidInput, "text is required"))
		return
	}
	classification, err := s.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classification)
}

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ObservationFilter{
		TenantID:   tenantFrom(r),
		Status:     types.ObservationStatus(q.Get("status")),
		SourceType: q.Get("sourceType"),
		EntityType: types.EntityType(q.Get("entityType")),
		Normalized: q.Get("normalized"),
		Limit:      queryInt(r, "limit"),
	}
	observations, err := s.observer.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": observations})
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := s.observer.Get(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleApproveObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CanonicalID string `json:"canonicalId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	obs, err := s.observer.Approve(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), req.CanonicalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleRejectObservation(w http.ResponseWriter, r *http.Request) {
	obs, err := s.observer.Reject(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleEntityView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	normalized := q.Get("normalized")
	if normalized == "" {
		writeError(w, r, errdefs.New(errdefs.KindInvalidInput, "normalized is required"))
		return
	}
	view, err := s.observer.BuildView(r.Context(), tenantFrom(r), normalized, types.EntityType(q.Get("type")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
