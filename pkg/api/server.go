package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/engine"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/ner"
	"github.com/tapestryhq/tapestry/pkg/observer"
	"github.com/tapestryhq/tapestry/pkg/rag"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/store"
)

// Options carries the server's collaborators. Engine, Meta and Graph are
// required; the rest disable their routes when nil.
type Options struct {
	Engine      *engine.Engine
	Meta        store.Store
	Graph       *graph.Graph
	Searcher    *search.Searcher
	RAG         *rag.Service
	Communities community.Provider
	Observer    *observer.Observer
	Extractor   *ner.Extractor
	Classifier  *ner.Classifier

	Listen         string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// Server is the tapestry HTTP server.
type Server struct {
	engine      *engine.Engine
	meta        store.Store
	graph       *graph.Graph
	searcher    *search.Searcher
	rag         *rag.Service
	communities community.Provider
	observer    *observer.Observer
	extractor   *ner.Extractor
	classifier  *ner.Classifier

	httpServer *http.Server
	draining   atomic.Bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Meta == nil || opts.Graph == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "server requires an engine, a metadata store and a graph")
	}
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:7420"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		engine:      opts.Engine,
		meta:        opts.Meta,
		graph:       opts.Graph,
		searcher:    opts.Searcher,
		rag:         opts.RAG,
		communities: opts.Communities,
		observer:    opts.Observer,
		extractor:   opts.Extractor,
		classifier:  opts.Classifier,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Listen,
		Handler:      s.Handler(opts.CORSOrigins, opts.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler builds the chi router. Exposed for httptest.
func (s *Server) Handler(corsOrigins []string, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observeRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Tenant-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/livez", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireTenant)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Post("/", s.handleCreateEndpoint)
			r.Get("/{id}", s.handleGetEndpoint)
			r.Delete("/{id}", s.handleDeleteEndpoint)
			r.Post("/{id}/discover", s.handleDiscover)
			r.Get("/{id}/units", s.handleListUnits)
			r.Put("/{id}/units/{unitId}/config", s.handleConfigure)
			r.Post("/{id}/units/{unitId}/start", s.handleStartRun)
			r.Post("/{id}/units/{unitId}/pause", s.handlePauseRun)
			r.Post("/{id}/units/{unitId}/reset-checkpoint", s.handleResetCheckpoint)
			r.Get("/{id}/units/{unitId}/lag", s.handleLag)
		})

		r.Route("/graph", func(r chi.Router) {
			r.Get("/nodes", s.handleListNodes)
			r.Post("/nodes", s.handleUpsertNode)
			r.Get("/edges", s.handleListEdges)
			r.Post("/edges", s.handleUpsertEdge)
		})

		if s.searcher != nil {
			r.Post("/search", s.handleSearch)
		}
		if s.rag != nil {
			r.Route("/rag", func(r chi.Router) {
				r.Post("/context", s.handleBuildContext)
				r.Post("/expand", s.handleExpand)
				r.Post("/answer", s.handleAnswer)
				r.Get("/communities", s.handleCommunities)
			})
		}
		if s.extractor != nil {
			r.Post("/ner/extract", s.handleExtract)
		}
		if s.classifier != nil {
			r.Post("/ner/classify", s.handleClassify)
		}
		if s.observer != nil {
			r.Route("/observations", func(r chi.Router) {
				r.Get("/", s.handleListObservations)
				r.Get("/{id}", s.handleGetObservation)
				r.Post("/{id}/approve", s.handleApproveObservation)
				r.Post("/{id}/reject", s.handleRejectObservation)
			})
			r.Get("/entities/view", s.handleEntityView)
		}
	})

	return r
}

// Start blocks serving HTTP until Shutdown or a listen error.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown flips readiness and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Health())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "draining",
		})
		return
	}
	checks := map[string]string{"meta": "ok"}
	status := http.StatusOK
	state := "ready"
	if _, err := s.meta.ListEndpoints(false); err != nil {
		checks["meta"] = err.Error()
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
