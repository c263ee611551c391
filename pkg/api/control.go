package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// ownedEndpoint resolves an endpoint id for the calling tenant. A foreign
// endpoint is indistinguishable from a missing one.
func (s *Server) ownedEndpoint(r *http.Request, id string) (*types.Endpoint, error) {
	ep, err := s.meta.GetEndpoint(id)
	if err != nil {
		return nil, err
	}
	if ep.TenantID != tenantFrom(r) {
		return nil, errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", id)
	}
	return ep, nil
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	all, err := s.meta.ListEndpoints(false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tenant := tenantFrom(r)
	project := r.URL.Query().Get("project")
	needle := strings.ToLower(r.URL.Query().Get("search"))
	first := queryInt(r, "first")

	out := make([]*types.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.TenantID != tenant {
			continue
		}
		if project != "" && ep.ProjectID != project {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(ep.Name), needle) &&
			!strings.Contains(strings.ToLower(ep.SourceID), needle) {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if first > 0 && len(out) > first {
		out = out[:first]
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": out})
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var ep types.Endpoint
	if err := decodeJSON(r, &ep); err != nil {
		writeError(w, r, err)
		return
	}
	ep.TenantID = tenantFrom(r)
	created, err := s.engine.CreateEndpoint(r.Context(), &ep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.DeleteEndpoint(r.Context(), ep.ID, r.URL.Query().Get("reason")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResult{OK: true})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	units, err := s.engine.Discover(r.Context(), ep.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.engine.Status(r.Context(), ep.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": rows})
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var cfg types.UnitConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	cfg.EndpointID = ep.ID
	cfg.UnitID = chi.URLParam(r, "unitId")
	if err := s.engine.Configure(r.Context(), &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResult{OK: true})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.engine.StartRun(r.Context(), ep.ID, chi.URLParam(r, "unitId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.ActionResult{
		OK:    true,
		RunID: run.ID,
		State: run.State,
	})
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.engine.PauseRun(r.Context(), ep.ID, chi.URLParam(r, "unitId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResult{
		OK:    true,
		RunID: run.ID,
		State: run.State,
	})
}

func (s *Server) handleResetCheckpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.engine.ResetCheckpoint(r.Context(), ep.ID, chi.URLParam(r, "unitId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResult{OK: true, Message: "checkpoint reset"})
}

func (s *Server) handleLag(w http.ResponseWriter, r *http.Request) {
	ep, err := s.ownedEndpoint(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	lag, err := s.engine.EstimateLag(r.Context(), ep.ID, chi.URLParam(r, "unitId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lag": lag})
}
