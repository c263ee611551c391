package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_runs_total",
			Help: "Total number of ingestion runs by terminal state",
		},
		[]string{"state"},
	)

	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapestry_runs_in_flight",
			Help: "Number of ingestion runs currently executing",
		},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapestry_run_duration_seconds",
			Help:    "Wall time of one ingestion run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	BatchesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_batches_applied_total",
			Help: "Total number of batches handed to sinks by sink id",
		},
		[]string{"sink"},
	)

	RecordsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapestry_records_ingested_total",
			Help: "Total number of normalized records pulled from drivers",
		},
	)

	StagedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapestry_staged_bytes_total",
			Help: "Total bytes written to staging blobs",
		},
	)

	CheckpointConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapestry_checkpoint_conflicts_total",
			Help: "Total number of checkpoint CAS conflicts",
		},
	)

	// Graph metrics
	NodeUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_graph_node_upserts_total",
			Help: "Total number of node upserts by outcome (created, updated)",
		},
		[]string{"outcome"},
	)

	EdgeUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_graph_edge_upserts_total",
			Help: "Total number of edge upserts by outcome (created, updated)",
		},
		[]string{"outcome"},
	)

	CrossScopeRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapestry_graph_cross_scope_rejections_total",
			Help: "Total number of edges rejected for spanning tenants",
		},
	)

	// Retrieval metrics
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapestry_search_duration_seconds",
			Help:    "Hybrid search duration in seconds by mode (hybrid, keyword)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	ContextBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapestry_context_build_duration_seconds",
			Help:    "Context builder end-to-end duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContextCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_context_cache_total",
			Help: "Context cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	ExpansionNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapestry_expansion_nodes",
			Help:    "Number of nodes returned by one graph expansion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// LLM metrics
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_llm_calls_total",
			Help: "Total number of LLM calls by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	// Inventory gauges sampled by the Collector
	EndpointsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapestry_endpoints_total",
			Help: "Number of active (not soft-deleted) endpoints",
		},
	)

	UnitsEnabledTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapestry_units_enabled_total",
			Help: "Number of unit configurations with enabled=true",
		},
	)

	ObservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapestry_observations_total",
			Help: "Number of entity observations by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapestry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunsInFlight)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(BatchesApplied)
	prometheus.MustRegister(RecordsIngested)
	prometheus.MustRegister(StagedBytes)
	prometheus.MustRegister(CheckpointConflicts)
	prometheus.MustRegister(NodeUpserts)
	prometheus.MustRegister(EdgeUpserts)
	prometheus.MustRegister(CrossScopeRejections)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(ContextBuildDuration)
	prometheus.MustRegister(ContextCacheHits)
	prometheus.MustRegister(ExpansionNodes)
	prometheus.MustRegister(LLMCalls)
	prometheus.MustRegister(EndpointsTotal)
	prometheus.MustRegister(UnitsEnabledTotal)
	prometheus.MustRegister(ObservationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
